package core

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// NewID returns a random identifier used for agents, memories, tasks, sessions
// and events.
func NewID() string { return uuid.NewString() }

// Agent is one simulated inhabitant. Identity and personality are immutable;
// everything else is guarded by the agent's mutex and exposed through copies.
type Agent struct {
	ID          string
	Name        string
	Personality Personality
	Tasks       *TaskQueue

	mu        sync.RWMutex
	state     State
	status    map[string]float64
	relations map[string]Relation
	engaged   bool
	sessionID string
}

// NewAgent creates an idle agent with neutral status attributes.
func NewAgent(id, name string, p Personality) *Agent {
	if id == "" {
		id = NewID()
	}
	return &Agent{
		ID:          id,
		Name:        name,
		Personality: p,
		Tasks:       NewTaskQueue(),
		state:       StateIdle,
		status:      map[string]float64{"mood": 0.5, "energy": 1, "health": 1},
		relations:   map[string]Relation{},
	}
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Transition applies a state event using the transition table.
func (a *Agent) Transition(e StateEvent) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transitionLocked(e)
}

func (a *Agent) transitionLocked(e StateEvent) (State, error) {
	next, ok := NextState(a.state, e)
	if !ok {
		return a.state, fmt.Errorf("agent %s: %s from %s: %w", a.ID, e, a.state, ErrInvalidTransition)
	}
	a.state = next
	return next, nil
}

// Status returns a copy of the status attributes.
func (a *Agent) Status() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.status)
}

// SetStatus sets one status attribute.
func (a *Agent) SetStatus(key string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status[key] = value
}

// Relations returns a copy of the relation map keyed by the other agent id.
func (a *Agent) Relations() map[string]Relation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.relations)
}

// Relation returns the relation towards another agent.
func (a *Agent) Relation(otherID string) (Relation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.relations[otherID]
	return r, ok
}

// UpdateRelation replaces the relation towards otherID with fn(current).
func (a *Agent) UpdateRelation(otherID string, fn func(Relation) Relation) Relation {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.relations[otherID]
	if r.Type == "" {
		r.Type = RelationStranger
	}
	r = fn(r)
	a.relations[otherID] = r
	return r
}

// SetRelations replaces all relations, used when restoring a record.
func (a *Agent) SetRelations(rel map[string]Relation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.relations = maps.Clone(rel)
	if a.relations == nil {
		a.relations = map[string]Relation{}
	}
}

// Engagement reports the conversation session the agent is bound to.
func (a *Agent) Engagement() (sessionID string, engaged bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID, a.engaged
}

// EngagePair atomically binds two distinct, unengaged agents to a session and
// moves both to Talking. Both locks are taken in id order so concurrent
// handshakes over overlapping pairs cannot deadlock. It returns false and
// changes nothing if either agent is already engaged or cannot talk.
func EngagePair(a, b *Agent, sessionID string) bool {
	if a == nil || b == nil || a == b || a.ID == b.ID {
		return false
	}
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if first.engaged || second.engaged {
		return false
	}
	if _, ok := NextState(first.state, EventBeginTalk); !ok {
		return false
	}
	if _, ok := NextState(second.state, EventBeginTalk); !ok {
		return false
	}
	for _, ag := range []*Agent{first, second} {
		ag.engaged = true
		ag.sessionID = sessionID
		ag.state = StateTalking
	}
	return true
}

// Disengage releases the agent from sessionID and returns it to Idle. It
// returns false when the agent is not bound to that session, which makes
// repeated calls harmless.
func (a *Agent) Disengage(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.engaged || a.sessionID != sessionID {
		return false
	}
	a.engaged = false
	a.sessionID = ""
	if _, err := a.transitionLocked(EventEndTalk); err != nil {
		a.state = StateIdle
	}
	return true
}

// Directory resolves agents by id.
type Directory interface {
	Agent(id string) (*Agent, bool)
	Agents() []*Agent
}

// Registry is the in-process Directory.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

var _ Directory = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: map[string]*Agent{}}
}

// Register adds an agent.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.ID]; exists {
		return fmt.Errorf("agent %s: %w", a.ID, ErrDuplicateAgent)
	}
	r.agents[a.ID] = a
	return nil
}

// Remove deletes an agent from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Agent returns the agent with the given id.
func (r *Registry) Agent(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Agents returns all agents ordered by id.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
