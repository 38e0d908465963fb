package core

import (
	"fmt"
	"sort"
	"strings"
)

// Personality is the static profile an agent is created from. The weights are
// in [0,1] and bias decisions and task generation.
type Personality struct {
	Name          string   `json:"name" toml:"name"`
	Description   string   `json:"description" toml:"description"`
	Traits        []string `json:"traits,omitempty" toml:"traits"`
	Backstory     string   `json:"backstory,omitempty" toml:"backstory"`
	RiskTolerance float64  `json:"risk_tolerance" toml:"risk_tolerance"`
	Sociability   float64  `json:"sociability" toml:"sociability"`
	Curiosity     float64  `json:"curiosity" toml:"curiosity"`
	// TaskSeeds are used when task generation cannot reach a provider.
	TaskSeeds []string `json:"task_seeds,omitempty" toml:"task_seeds"`
}

// Summary renders a one paragraph description for prompts.
func (p Personality) Summary() string {
	var b strings.Builder
	b.WriteString(p.Description)
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, " Traits: %s.", strings.Join(p.Traits, ", "))
	}
	fmt.Fprintf(&b, " Risk tolerance %.1f, sociability %.1f, curiosity %.1f.", p.RiskTolerance, p.Sociability, p.Curiosity)
	if p.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(p.Backstory)
	}
	return strings.TrimSpace(b.String())
}

var personalityTemplates = map[string]Personality{
	"cautious": {
		Name:          "cautious",
		Description:   "Careful and methodical, prefers familiar places and people.",
		Traits:        []string{"patient", "observant", "reserved"},
		RiskTolerance: 0.2,
		Sociability:   0.4,
		Curiosity:     0.3,
		TaskSeeds:     []string{"Tidy up the home", "Check on a close friend", "Reflect on the day"},
	},
	"outgoing": {
		Name:          "outgoing",
		Description:   "Warm and talkative, seeks company and news.",
		Traits:        []string{"friendly", "impulsive", "expressive"},
		RiskTolerance: 0.6,
		Sociability:   0.9,
		Curiosity:     0.6,
		TaskSeeds:     []string{"Visit the town square", "Start a chat with a neighbour", "Share recent news"},
	},
	"curious": {
		Name:          "curious",
		Description:   "Inquisitive explorer who likes to learn how things work.",
		Traits:        []string{"inventive", "restless", "analytical"},
		RiskTolerance: 0.7,
		Sociability:   0.5,
		Curiosity:     0.95,
		TaskSeeds:     []string{"Explore an unfamiliar place", "Study an interesting object", "Write down a new idea"},
	},
	"stubborn": {
		Name:          "stubborn",
		Description:   "Determined and opinionated, sticks to a plan once made.",
		Traits:        []string{"persistent", "blunt", "competitive"},
		RiskTolerance: 0.5,
		Sociability:   0.3,
		Curiosity:     0.2,
		TaskSeeds:     []string{"Finish the current project", "Go to the workshop", "Argue a point with a rival"},
	},
}

// PersonalityTemplate returns a copy of a built-in personality by name.
func PersonalityTemplate(name string) (Personality, bool) {
	p, ok := personalityTemplates[strings.ToLower(name)]
	if !ok {
		return Personality{}, false
	}
	p.Traits = append([]string(nil), p.Traits...)
	p.TaskSeeds = append([]string(nil), p.TaskSeeds...)
	return p, true
}

// PersonalityTemplates lists the built-in template names in sorted order.
func PersonalityTemplates() []string {
	names := make([]string, 0, len(personalityTemplates))
	for n := range personalityTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
