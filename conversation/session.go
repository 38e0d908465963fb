package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttown/core"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateProposed State = iota
	StateActive
	StateEnding
	StateClosed
)

// String returns the lower case state name.
func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var sessionTransitions = map[State][]State{
	StateProposed: {StateActive, StateEnding},
	StateActive:   {StateEnding},
	StateEnding:   {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Line is one utterance of the transcript.
type Line struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	State        string    `json:"state"`
	Transcript   []Line    `json:"transcript"`
	StartedAt    time.Time `json:"started_at"`
	LastTurnAt   time.Time `json:"last_turn_at"`
	EndReason    string    `json:"end_reason,omitempty"`
}

type session struct {
	id     string
	agents [2]*core.Agent
	turns  *core.CallLimiter
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	transcript []Line
	startedAt  time.Time
	lastTurnAt time.Time
	endReason  string
}

func newSession(id string, a, b *core.Agent, maxTurns int, now time.Time) *session {
	return &session{
		id:         id,
		agents:     [2]*core.Agent{a, b},
		turns:      core.NewCallLimiter(maxTurns),
		done:       make(chan struct{}),
		state:      StateProposed,
		startedAt:  now,
		lastTurnAt: now,
	}
}

func (s *session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *session) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) append(speaker, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Line{Speaker: speaker, Text: text, At: at})
	s.lastTurnAt = at
}

func (s *session) lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.transcript...)
}

func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastTurnAt)
}

func (s *session) other(agentID string) *core.Agent {
	if s.agents[0].ID == agentID {
		return s.agents[1]
	}
	return s.agents[0]
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		Participants: [2]string{s.agents[0].ID, s.agents[1].ID},
		State:        s.state.String(),
		Transcript:   append([]Line(nil), s.transcript...),
		StartedAt:    s.startedAt,
		LastTurnAt:   s.lastTurnAt,
		EndReason:    s.endReason,
	}
}
