package core

import "time"

// UnknownLocation is reported by minimal perceptions.
const UnknownLocation = "unknown"

// Perception is a read-only snapshot of what an agent can see.
type Perception struct {
	AgentID        string    `json:"agent_id"`
	Location       string    `json:"location"`
	VisibleObjects []string  `json:"visible_objects"`
	VisibleAgents  []string  `json:"visible_agents"`
	TimeOfDay      string    `json:"time_of_day"`
	Minimal        bool      `json:"minimal,omitempty"`
	TakenAt        time.Time `json:"taken_at"`
}

// MinimalPerception is the fallback snapshot used when the world cannot be
// queried.
func MinimalPerception(agentID string, now time.Time) Perception {
	return Perception{
		AgentID:        agentID,
		Location:       UnknownLocation,
		VisibleObjects: []string{},
		VisibleAgents:  []string{},
		TimeOfDay:      TimeOfDay(now),
		Minimal:        true,
		TakenAt:        now,
	}
}

// TimeOfDay buckets a clock time into a coarse label.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}
