package core

import "fmt"

// State is the externally visible activity of an agent. Exactly one state
// holds at any time.
type State int

const (
	// StateIdle means the agent is not moving and not talking.
	StateIdle State = iota
	// StateMoving means the agent follows a navigation request.
	StateMoving
	// StateTalking means the agent participates in a conversation session.
	StateTalking
)

// String returns the lower case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateTalking:
		return "talking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateEvent triggers a transition of the agent state machine.
type StateEvent int

const (
	// EventBeginMove starts a navigation.
	EventBeginMove StateEvent = iota
	// EventArrive ends a navigation.
	EventArrive
	// EventBeginTalk enters a conversation.
	EventBeginTalk
	// EventEndTalk leaves a conversation.
	EventEndTalk
	// EventReset forces the agent back to idle.
	EventReset
)

// String returns the event name.
func (e StateEvent) String() string {
	switch e {
	case EventBeginMove:
		return "begin_move"
	case EventArrive:
		return "arrive"
	case EventBeginTalk:
		return "begin_talk"
	case EventEndTalk:
		return "end_talk"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions is the complete table; missing pairs are invalid.
var transitions = map[State]map[StateEvent]State{
	StateIdle: {
		EventBeginMove: StateMoving,
		EventBeginTalk: StateTalking,
		EventReset:     StateIdle,
	},
	StateMoving: {
		EventArrive:    StateIdle,
		EventBeginTalk: StateTalking,
		EventReset:     StateIdle,
	},
	StateTalking: {
		EventEndTalk: StateIdle,
		EventReset:   StateIdle,
	},
}

// NextState looks up the transition table. The boolean is false when the
// event is not allowed in state s.
func NextState(s State, e StateEvent) (State, bool) {
	next, ok := transitions[s][e]
	return next, ok
}
