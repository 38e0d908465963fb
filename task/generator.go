package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/internal/util"
	"github.com/hupe1980/agenttown/logging"
)

// Spec is a proposed task as produced by a model or a decision.
type Spec struct {
	Description string `json:"description" description:"short imperative sentence"`
	Category    string `json:"category" description:"move, converse or reflect"`
	Target      string `json:"target,omitempty" description:"location for move, person name or id for converse"`
	Priority    int    `json:"priority" description:"1 (low) to 10 (urgent)"`
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Provider string
	Model    string
	// MaxTasks bounds how many tasks one generation may add.
	MaxTasks int
	// Locations lists valid move targets; nil accepts any target.
	Locations func() []string
	Logger    logging.Logger
}

// Generator proposes new tasks for idle agents.
type Generator struct {
	gateway   inference.Inferer
	directory core.Directory
	opts      GeneratorOptions
}

// NewGenerator creates a Generator. gateway may be nil, in which case only
// personality seeds are used.
func NewGenerator(gateway inference.Inferer, directory core.Directory, optFns ...func(o *GeneratorOptions)) *Generator {
	opts := GeneratorOptions{MaxTasks: 3, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{gateway: gateway, directory: directory, opts: opts}
}

var generateTemplate = util.MustTemplate("generate", `You are {{.Name}}. {{.Personality}}

Things you already plan to do:
{{.Pending}}

Places you can go: {{.Locations}}
People you know: {{.People}}

Propose up to {{.Max}} new things to do next. Reply with a JSON array of objects with these fields:
{{.Fields}}`)

// Generate appends new tasks to the agent's queue and returns them. Existing
// tasks are never replaced. When the model cannot be used the personality
// seeds are queued and the returned error explains why.
func (g *Generator) Generate(ctx context.Context, agent *core.Agent) ([]core.Task, error) {
	specs, err := g.propose(ctx, agent)
	var tasks []core.Task
	if err == nil {
		tasks = g.resolve(agent, specs)
		if len(tasks) == 0 {
			err = errors.New("no usable tasks proposed")
		}
	}
	if err != nil {
		g.opts.Logger.Debug("task generation fell back to seeds", "agent_id", agent.ID, "error", err)
		tasks = seedTasks(agent.Personality, g.opts.MaxTasks)
	}
	return agent.Tasks.Push(tasks...), err
}

func (g *Generator) propose(ctx context.Context, agent *core.Agent) ([]Spec, error) {
	if g.gateway == nil {
		return nil, errors.New("no inference gateway")
	}
	pending := agent.Tasks.Pending()
	lines := make([]string, 0, len(pending))
	for _, t := range pending {
		lines = append(lines, fmt.Sprintf("- %s (%s, priority %d)", t.Description, t.Category, t.Priority))
	}
	if len(lines) == 0 {
		lines = append(lines, "- nothing")
	}

	locations := "anywhere"
	if g.opts.Locations != nil {
		locations = strings.Join(g.opts.Locations(), ", ")
	}

	prompt, err := util.Execute(generateTemplate, map[string]any{
		"Name":        agent.Name,
		"Personality": agent.Personality.Summary(),
		"Pending":     strings.Join(lines, "\n"),
		"Locations":   locations,
		"People":      strings.Join(g.people(agent), ", "),
		"Max":         g.opts.MaxTasks,
		"Fields":      util.DescribeFields(Spec{}),
	})
	if err != nil {
		return nil, err
	}
	resp, err := g.gateway.InferWithFallback(ctx, inference.Request{ProviderID: g.opts.Provider, Model: g.opts.Model, Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return ParseSpecs(resp.ParsedText)
}

// ParseSpecs reads a JSON array (or an object with a "tasks" array) of task
// specs from a model reply.
func ParseSpecs(text string) ([]Spec, error) {
	raw, ok := util.ExtractJSON(text)
	if !ok {
		return nil, inference.NewParseError("", errors.New("no JSON in task reply"))
	}
	var specs []Spec
	if strings.HasPrefix(raw, "{") {
		var wrapper struct {
			Tasks []Spec `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, inference.NewParseError("", err)
		}
		specs = wrapper.Tasks
	} else if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, inference.NewParseError("", err)
	}
	return specs, nil
}

func (g *Generator) people(agent *core.Agent) []string {
	if g.directory == nil {
		return []string{"nobody"}
	}
	var out []string
	for _, a := range g.directory.Agents() {
		if a.ID != agent.ID {
			out = append(out, fmt.Sprintf("%s (id %s)", a.Name, a.ID))
		}
	}
	if len(out) == 0 {
		return []string{"nobody"}
	}
	return out
}

func (g *Generator) resolve(agent *core.Agent, specs []Spec) []core.Task {
	var out []core.Task
	for _, s := range specs {
		if g.opts.MaxTasks > 0 && len(out) >= g.opts.MaxTasks {
			break
		}
		t, ok := ToTask(s, agent.ID, g.directory, g.locations())
		if !ok {
			g.opts.Logger.Debug("dropping invalid task proposal", "agent_id", agent.ID, "description", s.Description)
			continue
		}
		out = append(out, t)
	}
	return out
}

func (g *Generator) locations() []string {
	if g.opts.Locations == nil {
		return nil
	}
	return g.opts.Locations()
}

// ToTask validates a Spec for agentID. Converse targets may be given by name
// or id and are resolved to an id; move targets must be in locations when
// locations is non-nil.
func ToTask(s Spec, agentID string, directory core.Directory, locations []string) (core.Task, bool) {
	cat := core.TaskCategory(strings.ToLower(strings.TrimSpace(s.Category)))
	desc := strings.TrimSpace(s.Description)
	if !cat.Valid() || desc == "" {
		return core.Task{}, false
	}
	t := core.Task{Description: desc, Category: cat, Target: strings.TrimSpace(s.Target), Priority: clampImportance(s.Priority)}

	switch cat {
	case core.TaskMove:
		if t.Target == "" {
			return core.Task{}, false
		}
		if locations != nil && !containsFold(locations, t.Target) {
			return core.Task{}, false
		}
	case core.TaskConverse:
		id, ok := resolveAgent(directory, t.Target)
		if !ok || id == agentID {
			return core.Task{}, false
		}
		t.Target = id
	}
	return t, true
}

func resolveAgent(directory core.Directory, ref string) (string, bool) {
	if directory == nil || ref == "" {
		return "", false
	}
	if a, ok := directory.Agent(ref); ok {
		return a.ID, true
	}
	for _, a := range directory.Agents() {
		if strings.EqualFold(a.Name, ref) {
			return a.ID, true
		}
	}
	return "", false
}

func containsFold(items []string, s string) bool {
	for _, it := range items {
		if strings.EqualFold(it, s) {
			return true
		}
	}
	return false
}

func seedTasks(p core.Personality, max int) []core.Task {
	seeds := p.TaskSeeds
	if len(seeds) == 0 {
		seeds = []string{"Reflect on recent events"}
	}
	if max > 0 && len(seeds) > max {
		seeds = seeds[:max]
	}
	out := make([]core.Task, 0, len(seeds))
	for i, s := range seeds {
		out = append(out, core.Task{Description: s, Category: core.TaskReflect, Priority: len(seeds) - i})
	}
	return out
}
