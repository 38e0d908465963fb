package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/agenttown/conversation"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/internal/util"
)

type lineReply struct {
	Line string `json:"line" description:"what you say next, one or two sentences"`
	End  bool   `json:"end" description:"true if this line ends the conversation"`
}

var lineTemplate = util.MustTemplate("line", `You are {{.Name}}. {{.Personality}}
You are talking with {{.Partner}}. You regard them as {{.Relation}}.

What you remember about {{.Partner}}:
{{.Memories}}

The conversation so far:
{{.Transcript}}

Say your next line. Reply with a JSON object with these fields:
{{.Fields}}`)

// NextLine produces the speaker's next conversation line. Memories that name
// the listener are preferred in the prompt.
func (s *Scheduler) NextLine(ctx context.Context, speaker, listener *core.Agent, transcript []conversation.Line) (conversation.Turn, error) {
	if s.deps.Gateway == nil {
		return conversation.Turn{}, errors.New("no inference gateway")
	}
	about := s.deps.Memory.RankedRetrieveFunc(speaker.ID, s.opts.MaxPromptMemories, func(e core.MemoryEntry) bool {
		return slices.Contains(e.RelatedAgents, listener.ID)
	})
	relation := string(core.RelationStranger)
	if r, ok := speaker.Relation(listener.ID); ok {
		relation = fmt.Sprintf("%s (strength %.2f)", r.Type, r.Strength)
	}

	prompt, err := util.Execute(lineTemplate, map[string]any{
		"Name":        speaker.Name,
		"Personality": speaker.Personality.Summary(),
		"Partner":     listener.Name,
		"Relation":    relation,
		"Memories":    core.FormatMemories(about),
		"Transcript":  s.formatTranscript(transcript),
		"Fields":      util.DescribeFields(lineReply{}),
	})
	if err != nil {
		return conversation.Turn{}, err
	}
	resp, err := s.infer(ctx, prompt)
	if err != nil {
		return conversation.Turn{}, err
	}
	return parseLine(resp.ParsedText), nil
}

// parseLine accepts a JSON line reply and falls back to the raw text.
func parseLine(text string) conversation.Turn {
	if raw, ok := util.ExtractJSON(text); ok {
		var r lineReply
		if json.Unmarshal([]byte(raw), &r) == nil && strings.TrimSpace(r.Line) != "" {
			return conversation.Turn{Text: strings.TrimSpace(r.Line), End: r.End}
		}
	}
	return conversation.Turn{Text: strings.TrimSpace(text)}
}
