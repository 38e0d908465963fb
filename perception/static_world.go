package perception

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agenttown/core"
)

// Location is a named place with the objects found there.
type Location struct {
	Name    string   `mapstructure:"name" toml:"name"`
	Objects []string `mapstructure:"objects" toml:"objects"`
}

// StaticWorld is a small in-process world: agents stand at named locations
// and see every object and agent at the same place. It serves examples, the
// CLI and tests as both WorldSource and navigator.
type StaticWorld struct {
	mu        sync.RWMutex
	locations map[string]Location
	positions map[string]string
	clock     func() time.Time
}

// NewStaticWorld creates a world with the given locations.
func NewStaticWorld(locations []Location, clock func() time.Time) *StaticWorld {
	if clock == nil {
		clock = time.Now
	}
	w := &StaticWorld{locations: map[string]Location{}, positions: map[string]string{}, clock: clock}
	for _, l := range locations {
		w.locations[l.Name] = l
	}
	return w
}

// Place puts an agent at a location.
func (w *StaticWorld) Place(agentID, location string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.locations[location]; !ok {
		return fmt.Errorf("unknown location %q", location)
	}
	w.positions[agentID] = location
	return nil
}

// Position returns where an agent stands.
func (w *StaticWorld) Position(agentID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	loc, ok := w.positions[agentID]
	return loc, ok
}

// Locations lists the location names in sorted order.
func (w *StaticWorld) Locations() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.locations))
	for n := range w.locations {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Snapshot implements WorldSource.
func (w *StaticWorld) Snapshot(_ context.Context, agentID string) (core.Perception, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	loc, ok := w.positions[agentID]
	if !ok {
		return core.Perception{}, fmt.Errorf("agent %s is not placed in the world", agentID)
	}
	var others []string
	for id, l := range w.positions {
		if id != agentID && l == loc {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	now := w.clock()
	return core.Perception{
		AgentID:        agentID,
		Location:       loc,
		VisibleObjects: append([]string{}, w.locations[loc].Objects...),
		VisibleAgents:  append([]string{}, others...),
		TimeOfDay:      core.TimeOfDay(now),
		TakenAt:        now,
	}, nil
}

// Navigate moves an agent to target. Unknown targets fail.
func (w *StaticWorld) Navigate(ctx context.Context, agentID, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.Place(agentID, target)
}
