// Package perception assembles what an agent can see at the start of a tick.
// The world itself is external; the Builder only reads it and degrades to a
// minimal snapshot when it cannot.
package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/logging"
)

// WorldSource is the read-only view of the world provided by the host.
type WorldSource interface {
	Snapshot(ctx context.Context, agentID string) (core.Perception, error)
}

// Options configures a Builder.
type Options struct {
	Logger logging.Logger
	Now    func() time.Time
}

// Builder produces perceptions for the scheduler.
type Builder struct {
	world WorldSource
	opts  Options
}

// NewBuilder creates a Builder over world.
func NewBuilder(world WorldSource, optFns ...func(o *Options)) *Builder {
	opts := Options{Logger: logging.NoOpLogger{}, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{world: world, opts: opts}
}

// Build returns the agent's perception. A failing or missing world yields a
// minimal perception; the returned error then wraps
// core.ErrPerceptionUnavailable and is informational only.
func (b *Builder) Build(ctx context.Context, agentID string) (core.Perception, error) {
	now := b.opts.Now()
	if b.world == nil {
		return core.MinimalPerception(agentID, now), fmt.Errorf("agent %s: no world: %w", agentID, core.ErrPerceptionUnavailable)
	}
	p, err := b.world.Snapshot(ctx, agentID)
	if err != nil {
		b.opts.Logger.Warn("perception unavailable, using minimal snapshot", "agent_id", agentID, "error", err)
		return core.MinimalPerception(agentID, now), fmt.Errorf("agent %s: %w: %w", agentID, core.ErrPerceptionUnavailable, err)
	}
	p.AgentID = agentID
	if p.Location == "" {
		p.Location = core.UnknownLocation
	}
	if p.TimeOfDay == "" {
		p.TimeOfDay = core.TimeOfDay(now)
	}
	if p.TakenAt.IsZero() {
		p.TakenAt = now
	}
	return p, nil
}

// Format renders a perception as a prompt block.
func Format(p core.Perception, names func(id string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n", p.Location)
	fmt.Fprintf(&b, "Time of day: %s\n", p.TimeOfDay)
	fmt.Fprintf(&b, "Objects in view: %s\n", listOrNone(p.VisibleObjects))
	agents := make([]string, 0, len(p.VisibleAgents))
	for _, id := range p.VisibleAgents {
		if names != nil {
			if n := names(id); n != "" && n != id {
				agents = append(agents, fmt.Sprintf("%s (id %s)", n, id))
				continue
			}
		}
		agents = append(agents, id)
	}
	fmt.Fprintf(&b, "People in view: %s", listOrNone(agents))
	if p.Minimal {
		b.WriteString("\n(Your surroundings are unclear right now.)")
	}
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
