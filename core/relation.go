package core

import "time"

// RelationType classifies how an agent regards another agent.
type RelationType string

const (
	RelationStranger     RelationType = "stranger"
	RelationAcquaintance RelationType = "acquaintance"
	RelationFriend       RelationType = "friend"
	RelationCloseFriend  RelationType = "close_friend"
)

// Relation is one directed edge of the social graph.
type Relation struct {
	Type            RelationType `json:"type" toml:"type"`
	Strength        float64      `json:"strength" toml:"strength"`
	LastInteraction time.Time    `json:"last_interaction" toml:"last_interaction"`
}

// Strengthen returns the relation after one more interaction at t. Strength
// is clamped to [0,1] and the type follows the strength.
func (r Relation) Strengthen(delta float64, t time.Time) Relation {
	r.Strength += delta
	if r.Strength > 1 {
		r.Strength = 1
	}
	if r.Strength < 0 {
		r.Strength = 0
	}
	r.LastInteraction = t
	switch {
	case r.Strength >= 0.8:
		r.Type = RelationCloseFriend
	case r.Strength >= 0.5:
		r.Type = RelationFriend
	case r.Strength > 0:
		r.Type = RelationAcquaintance
	default:
		r.Type = RelationStranger
	}
	return r
}
