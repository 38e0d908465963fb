package core

import "errors"

var (
	// ErrInvalidEntry is returned when a memory entry fails validation.
	ErrInvalidEntry = errors.New("invalid memory entry")

	// ErrInvalidTransition is returned when a state event is not allowed from
	// the agent's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPerceptionUnavailable signals that the world could not produce a
	// snapshot for an agent.
	ErrPerceptionUnavailable = errors.New("perception unavailable")

	// ErrConversationConflict signals that a conversation partner is already
	// engaged.
	ErrConversationConflict = errors.New("conversation conflict")

	// ErrTaskExecution signals that a task could not be carried out.
	ErrTaskExecution = errors.New("task execution failure")

	// ErrUnknownAgent is returned when an agent id is not registered.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent is returned when an agent id is registered twice.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrRecordNotFound is returned by record stores for unknown agents.
	ErrRecordNotFound = errors.New("record not found")
)
