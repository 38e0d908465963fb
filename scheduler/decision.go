package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/internal/util"
	"github.com/hupe1980/agenttown/task"
)

// Action is what an agent decided to do in a tick.
type Action string

const (
	ActionAdjustTasks  Action = "adjust_tasks"
	ActionContinueTask Action = "continue_task"
	ActionIdle         Action = "idle"
	// ActionContinueTalk and ActionEndTalk are decided while engaged.
	ActionContinueTalk Action = "continue_conversation"
	ActionEndTalk      Action = "end_conversation"
)

// Decision is the parsed result of one tick.
type Decision struct {
	Action Action `json:"action"`
	// Mode is the preferred task category. It fills in uncategorised new
	// tasks and picks which pending task runs this tick.
	Mode   string      `json:"mode,omitempty"`
	Tasks  []task.Spec `json:"tasks,omitempty"`
	Reason string      `json:"reason,omitempty"`

	// Provider answered the decision request; empty for fallbacks without a call.
	Provider string `json:"provider,omitempty"`
	// Fallback marks decisions made without a usable model reply.
	Fallback bool `json:"fallback,omitempty"`
	// Cause is why the fallback was taken.
	Cause error `json:"-"`
	// Outcome is set when the decision executed a task.
	Outcome *task.Outcome `json:"outcome,omitempty"`
	// Added holds the tasks queued by this decision.
	Added []core.Task `json:"added,omitempty"`
}

// Summary is a one-line description for memories and events.
func (d Decision) Summary() string {
	var b strings.Builder
	switch d.Action {
	case ActionAdjustTasks:
		fmt.Fprintf(&b, "Decided to adjust my plans (%d new tasks)", len(d.Added))
	case ActionContinueTask:
		b.WriteString("Decided to carry on with my tasks")
	case ActionContinueTalk:
		b.WriteString("Decided to keep talking")
	case ActionEndTalk:
		b.WriteString("Decided to end the conversation")
	default:
		b.WriteString("Decided to rest")
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, ": %s", d.Reason)
	}
	b.WriteString(".")
	return b.String()
}

// decisionReply is the reply shape requested from the model.
type decisionReply struct {
	Action string      `json:"action" description:"adjust_tasks to add new tasks, continue_task to work on the current plan"`
	Mode   string      `json:"mode" description:"move, converse or reflect; the kind of activity you lean towards"`
	Tasks  []task.Spec `json:"tasks" description:"new tasks when action is adjust_tasks, each with description, category, target and priority"`
	Reason string      `json:"reason" description:"one short sentence"`
}

// talkReply is the reply shape for the continue-or-end question.
type talkReply struct {
	Action string `json:"action" description:"continue or end"`
	Reason string `json:"reason" description:"one short sentence"`
}

var errUnknownAction = errors.New("unknown action")

// ParseDecision reads a decision from a model reply. Unknown actions and
// replies without JSON are parse errors.
func ParseDecision(text string) (Decision, error) {
	raw, ok := util.ExtractJSON(text)
	if !ok {
		return Decision{}, inference.NewParseError("", errors.New("no JSON in decision reply"))
	}
	var r decisionReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Decision{}, inference.NewParseError("", err)
	}

	d := Decision{Tasks: r.Tasks, Reason: strings.TrimSpace(r.Reason)}
	switch strings.ToLower(strings.TrimSpace(r.Action)) {
	case "adjust_tasks", "adjust":
		d.Action = ActionAdjustTasks
	case "continue_task", "continue":
		d.Action = ActionContinueTask
	default:
		return Decision{}, inference.NewParseError("", fmt.Errorf("%w %q", errUnknownAction, r.Action))
	}
	if mode := core.TaskCategory(strings.ToLower(strings.TrimSpace(r.Mode))); mode.Valid() {
		d.Mode = string(mode)
	}
	return d, nil
}

// parseTalk returns true when the reply asks to end the conversation.
func parseTalk(text string) (end bool, reason string, err error) {
	raw, ok := util.ExtractJSON(text)
	if !ok {
		return false, "", inference.NewParseError("", errors.New("no JSON in conversation reply"))
	}
	var r talkReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return false, "", inference.NewParseError("", err)
	}
	switch strings.ToLower(strings.TrimSpace(r.Action)) {
	case "end", "end_conversation":
		return true, strings.TrimSpace(r.Reason), nil
	case "continue", "continue_conversation":
		return false, strings.TrimSpace(r.Reason), nil
	default:
		return false, "", inference.NewParseError("", fmt.Errorf("%w %q", errUnknownAction, r.Action))
	}
}
