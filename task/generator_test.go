package task

import (
	"context"
	"testing"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeneratorFixture(t *testing.T) (*inference.MockProvider, *core.Registry, *core.Agent, *Generator) {
	t.Helper()
	model := inference.NewMockProvider("mock")
	gw, err := inference.New([]inference.Provider{model}, func(o *inference.Options) { o.DefaultProvider = "mock" })
	require.NoError(t, err)

	dir := core.NewRegistry()
	p, _ := core.PersonalityTemplate("outgoing")
	ada := core.NewAgent("ada", "Ada", p)
	require.NoError(t, dir.Register(ada))
	require.NoError(t, dir.Register(core.NewAgent("bo", "Bo", core.Personality{})))

	g := NewGenerator(gw, dir, func(o *GeneratorOptions) {
		o.Locations = func() []string { return []string{"cafe", "park"} }
	})
	return model, dir, ada, g
}

func TestGenerate_AppendsValidProposals(t *testing.T) {
	model, _, ada, g := newGeneratorFixture(t)
	model.AddResponse("Propose up to", `Here you go:
[
 {"description":"Grab a coffee","category":"move","target":"Cafe","priority":6},
 {"description":"Chat with Bo","category":"converse","target":"Bo","priority":8},
 {"description":"Fly to the moon","category":"move","target":"moon","priority":9},
 {"description":"Dance","category":"juggle","priority":3}
]`)
	existing := ada.Tasks.Push(core.Task{Description: "already planned", Category: core.TaskReflect, Priority: 1})

	tasks, err := g.Generate(context.Background(), ada)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "bo", tasks[1].Target)

	pending := ada.Tasks.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "Chat with Bo", pending[0].Description)
	assert.Equal(t, existing[0].ID, pending[2].ID)
}

func TestGenerate_FallsBackToSeeds(t *testing.T) {
	model, _, ada, g := newGeneratorFixture(t)
	model.AddResponse("Propose up to", "I'd rather not.")

	tasks, err := g.Generate(context.Background(), ada)
	require.ErrorIs(t, err, inference.ErrParse)
	require.Len(t, tasks, 3)
	assert.Equal(t, ada.Personality.TaskSeeds[0], tasks[0].Description)
	assert.Equal(t, core.TaskReflect, tasks[0].Category)
	assert.Equal(t, 3, ada.Tasks.Len())
}

func TestParseSpecs_WrappedObject(t *testing.T) {
	specs, err := ParseSpecs(`{"tasks":[{"description":"x","category":"reflect","priority":2}]}`)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "reflect", specs[0].Category)
}

func TestToTask_RejectsSelfConversation(t *testing.T) {
	dir := core.NewRegistry()
	require.NoError(t, dir.Register(core.NewAgent("ada", "Ada", core.Personality{})))
	_, ok := ToTask(Spec{Description: "talk to myself", Category: "converse", Target: "Ada"}, "ada", dir, nil)
	assert.False(t, ok)

	task, ok := ToTask(Spec{Description: "walk", Category: "MOVE", Target: "anywhere", Priority: 0}, "ada", dir, nil)
	require.True(t, ok)
	assert.Equal(t, 1, task.Priority)
}
