package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/internal/util"
	"github.com/hupe1980/agenttown/logging"
)

// Navigator moves an agent through the world. It is provided by the host.
type Navigator interface {
	Navigate(ctx context.Context, agentID, target string) error
}

// Conversations is the handshake side of the conversation manager.
type Conversations interface {
	TryStart(ctx context.Context, a, b *core.Agent) (sessionID string, ok bool)
}

// Status is the result category of an execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRequeued  Status = "requeued"
	StatusNoTask    Status = "no_task"
)

// Outcome describes what ExecuteNext did.
type Outcome struct {
	Task      core.Task
	Status    Status
	Memory    *core.MemoryEntry
	SessionID string
	// Cause explains a failure or requeue.
	Cause error
}

// Options configures an Executor.
type Options struct {
	// MaxPathRetries bounds navigation attempts of a move task.
	MaxPathRetries int
	// RetryDelay separates navigation attempts.
	RetryDelay time.Duration
	// MaxRequeues bounds how often a converse task is deferred before it fails.
	MaxRequeues int
	// ReflectProvider and ReflectModel select the backend for reflections.
	ReflectProvider string
	ReflectModel    string
	// ReflectMemories is how many ranked memories feed a reflection.
	ReflectMemories int
	Logger          logging.Logger
	Publisher       core.Publisher
	Now             func() time.Time
}

// Executor runs tasks on behalf of agents.
type Executor struct {
	memory        core.MemoryStore
	directory     core.Directory
	navigator     Navigator
	conversations Conversations
	gateway       inference.Inferer
	opts          Options
}

// NewExecutor wires an Executor. navigator, conversations and gateway may be
// nil, in which case tasks of the matching category fail.
func NewExecutor(memory core.MemoryStore, directory core.Directory, navigator Navigator, conversations Conversations, gateway inference.Inferer, optFns ...func(o *Options)) *Executor {
	opts := Options{
		MaxPathRetries:  3,
		RetryDelay:      100 * time.Millisecond,
		MaxRequeues:     5,
		ReflectMemories: 10,
		Logger:          logging.NoOpLogger{},
		Publisher:       core.NopPublisher{},
		Now:             func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxPathRetries < 1 {
		opts.MaxPathRetries = 1
	}
	return &Executor{
		memory:        memory,
		directory:     directory,
		navigator:     navigator,
		conversations: conversations,
		gateway:       gateway,
		opts:          opts,
	}
}

type taskLogger interface {
	LogTaskOutcome(category, status string, dur time.Duration, err error)
}

// ExecuteNext runs the agent's next task. The returned error is non-nil only
// for failed tasks and wraps core.ErrTaskExecution.
func (e *Executor) ExecuteNext(ctx context.Context, agent *core.Agent) (Outcome, error) {
	return e.ExecuteNextOf(ctx, agent, "")
}

// ExecuteNextOf runs the best pending task of category, or the best task
// overall when none matches. An empty category means any.
func (e *Executor) ExecuteNextOf(ctx context.Context, agent *core.Agent, category core.TaskCategory) (Outcome, error) {
	var (
		t  core.Task
		ok bool
	)
	if category != "" {
		t, ok = agent.Tasks.PopMatching(func(c core.Task) bool { return c.Category == category })
	}
	if !ok {
		t, ok = agent.Tasks.Pop()
	}
	if !ok {
		return Outcome{Status: StatusNoTask}, nil
	}
	t.Attempts++

	start := time.Now()
	var out Outcome
	switch t.Category {
	case core.TaskMove:
		out = e.move(ctx, agent, t)
	case core.TaskConverse:
		out = e.converse(ctx, agent, t)
	case core.TaskReflect:
		out = e.reflect(ctx, agent, t)
	default:
		out = e.fail(agent, t, fmt.Errorf("unknown category %q", t.Category), fmt.Sprintf("Gave up on %q, it made no sense.", t.Description))
	}

	if tl, ok := e.opts.Logger.(taskLogger); ok {
		tl.LogTaskOutcome(string(t.Category), string(out.Status), time.Since(start), out.Cause)
	} else {
		e.opts.Logger.Debug("task executed", "agent_id", agent.ID, "task_id", t.ID, "category", t.Category, "status", out.Status)
	}

	if out.Status == StatusFailed {
		return out, fmt.Errorf("task %s: %w: %w", t.ID, core.ErrTaskExecution, out.Cause)
	}
	return out, nil
}

func (e *Executor) move(ctx context.Context, agent *core.Agent, t core.Task) Outcome {
	if e.navigator == nil {
		return e.fail(agent, t, errors.New("no navigator"), fmt.Sprintf("Could not go to %s.", t.Target))
	}
	if _, err := agent.Transition(core.EventBeginMove); err != nil {
		return e.requeue(agent, t, err)
	}

	var err error
	attempts := 0
	for attempts < e.opts.MaxPathRetries {
		attempts++
		if err = e.navigator.Navigate(ctx, agent.ID, t.Target); err == nil {
			break
		}
		e.opts.Logger.Debug("navigation failed", "agent_id", agent.ID, "target", t.Target, "attempt", attempts, "error", err)
		if ctx.Err() != nil || attempts == e.opts.MaxPathRetries {
			break
		}
		if werr := sleep(ctx, e.opts.RetryDelay); werr != nil {
			err = werr
			break
		}
	}
	// A conversation may have pulled the agent into Talking meanwhile.
	if agent.State() == core.StateMoving {
		_, _ = agent.Transition(core.EventArrive)
	}

	if err != nil {
		return e.fail(agent, t, fmt.Errorf("navigate to %q after %d attempts: %w", t.Target, attempts, err),
			fmt.Sprintf("Tried to reach %s but could not find a way (%d attempts).", t.Target, attempts))
	}
	return e.complete(agent, t, core.MemoryEntry{
		Content:    fmt.Sprintf("Went to %s: %s", t.Target, t.Description),
		Type:       core.MemoryTask,
		Importance: 3,
		Location:   t.Target,
	})
}

func (e *Executor) converse(ctx context.Context, agent *core.Agent, t core.Task) Outcome {
	if e.conversations == nil || e.directory == nil {
		return e.fail(agent, t, errors.New("conversations unavailable"), fmt.Sprintf("Could not talk to %s.", t.Target))
	}
	partner, ok := e.directory.Agent(t.Target)
	if !ok {
		return e.fail(agent, t, fmt.Errorf("partner %q: %w", t.Target, core.ErrUnknownAgent),
			fmt.Sprintf("Wanted to talk to %s, but nobody by that name is around.", t.Target))
	}

	sessionID, ok := e.conversations.TryStart(ctx, agent, partner)
	if !ok {
		cause := fmt.Errorf("%s or %s busy: %w", agent.ID, partner.ID, core.ErrConversationConflict)
		if e.opts.MaxRequeues > 0 && t.Attempts > e.opts.MaxRequeues {
			return e.fail(agent, t, cause, fmt.Sprintf("Never found a moment to talk with %s.", partner.Name))
		}
		return e.requeue(agent, t, cause)
	}

	out := e.complete(agent, t, core.MemoryEntry{
		Content:       fmt.Sprintf("Started a conversation with %s: %s", partner.Name, t.Description),
		Type:          core.MemoryTask,
		Importance:    4,
		RelatedAgents: []string{partner.ID},
		Tags:          []string{"session:" + sessionID},
	})
	out.SessionID = sessionID
	return out
}

type reflection struct {
	Reflection string `json:"reflection" description:"one or two sentences in first person"`
	Importance int    `json:"importance" description:"1 (trivial) to 10 (life changing)"`
}

var reflectTemplate = util.MustTemplate("reflect", `You are {{.Name}}. {{.Personality}}

Your most important memories:
{{.Memories}}

Reflect on: {{.Task}}
Reply with a JSON object with these fields:
{{.Fields}}`)

func (e *Executor) reflect(ctx context.Context, agent *core.Agent, t core.Task) Outcome {
	if e.gateway == nil {
		return e.fail(agent, t, errors.New("no inference gateway"), fmt.Sprintf("Could not gather my thoughts about %q.", t.Description))
	}
	prompt, err := util.Execute(reflectTemplate, map[string]any{
		"Name":        agent.Name,
		"Personality": agent.Personality.Summary(),
		"Memories":    core.FormatMemories(e.memory.RankedRetrieve(agent.ID, e.opts.ReflectMemories)),
		"Task":        t.Description,
		"Fields":      util.DescribeFields(reflection{}),
	})
	if err != nil {
		return e.fail(agent, t, err, fmt.Sprintf("Could not gather my thoughts about %q.", t.Description))
	}

	resp, err := e.gateway.InferWithFallback(ctx, inference.Request{ProviderID: e.opts.ReflectProvider, Model: e.opts.ReflectModel, Prompt: prompt})
	if err != nil {
		return e.fail(agent, t, err, fmt.Sprintf("Could not gather my thoughts about %q.", t.Description))
	}

	r := parseReflection(resp.ParsedText)
	if r.Reflection == "" {
		r.Reflection = fmt.Sprintf("Thought about %s.", t.Description)
	}
	return e.complete(agent, t, core.MemoryEntry{
		Content:    r.Reflection,
		Type:       core.MemoryPersonal,
		Importance: r.Importance,
		Tags:       []string{"reflection"},
	})
}

func parseReflection(text string) reflection {
	r := reflection{Importance: 5}
	if raw, ok := util.ExtractJSON(text); ok {
		var parsed reflection
		if json.Unmarshal([]byte(raw), &parsed) == nil && strings.TrimSpace(parsed.Reflection) != "" {
			r.Reflection = strings.TrimSpace(parsed.Reflection)
			if parsed.Importance != 0 {
				r.Importance = parsed.Importance
			}
		}
	}
	if r.Reflection == "" {
		r.Reflection = strings.TrimSpace(text)
	}
	r.Importance = clampImportance(r.Importance)
	return r
}

func clampImportance(v int) int {
	if v < core.MinImportance {
		return core.MinImportance
	}
	if v > core.MaxImportance {
		return core.MaxImportance
	}
	return v
}

func (e *Executor) complete(agent *core.Agent, t core.Task, m core.MemoryEntry) Outcome {
	done := agent.Tasks.Finish(t, false, e.opts.Now())
	out := Outcome{Task: done, Status: StatusCompleted}
	out.Memory = e.remember(agent, m)
	e.opts.Publisher.Publish(core.NewEvent(core.EventTaskCompleted, agent.ID, t.Description).
		WithData("task_id", t.ID).WithData("category", string(t.Category)))
	return out
}

func (e *Executor) fail(agent *core.Agent, t core.Task, cause error, content string) Outcome {
	done := agent.Tasks.Finish(t, true, e.opts.Now())
	out := Outcome{Task: done, Status: StatusFailed, Cause: cause}
	out.Memory = e.remember(agent, core.MemoryEntry{Content: content, Type: core.MemoryTask, Importance: 4, Tags: []string{"failed"}})
	e.opts.Publisher.Publish(core.NewEvent(core.EventTaskFailed, agent.ID, cause.Error()).
		WithData("task_id", t.ID).WithData("category", string(t.Category)))
	return out
}

func (e *Executor) requeue(agent *core.Agent, t core.Task, cause error) Outcome {
	agent.Tasks.Requeue(t)
	e.opts.Publisher.Publish(core.NewEvent(core.EventTaskRequeued, agent.ID, cause.Error()).WithData("task_id", t.ID))
	return Outcome{Task: t, Status: StatusRequeued, Cause: cause}
}

func (e *Executor) remember(agent *core.Agent, m core.MemoryEntry) *core.MemoryEntry {
	if e.memory == nil {
		return nil
	}
	stored, err := e.memory.Append(agent.ID, m)
	if err != nil {
		e.opts.Logger.Error("failed to store task memory", "agent_id", agent.ID, "error", err)
		return nil
	}
	return &stored
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
