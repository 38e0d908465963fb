package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttown/conversation"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/memory"
	"github.com/hupe1980/agenttown/task"
)

const decisionMarker = "Decide what to do next"

type okNavigator struct{}

func (okNavigator) Navigate(context.Context, string, string) error { return nil }

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Publish(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []core.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	mem    *memory.InMemoryStore
	dir    *core.Registry
	ada    *core.Agent
	bo     *core.Agent
	model  *inference.MockProvider
	gw     *inference.Gateway
	events *recorder
	sched  *Scheduler
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	f := &fixture{
		mem:    memory.NewInMemoryStore(),
		dir:    core.NewRegistry(),
		ada:    core.NewAgent("ada", "Ada", mustTemplate(t, "curious")),
		bo:     core.NewAgent("bo", "Bo", core.Personality{}),
		model:  inference.NewMockProvider("mock"),
		events: &recorder{},
	}
	require.NoError(t, f.dir.Register(f.ada))
	require.NoError(t, f.dir.Register(f.bo))

	gw, err := inference.New([]inference.Provider{f.model}, func(o *inference.Options) {
		o.DefaultProvider = "mock"
		o.Timeout = time.Second
		o.MaxRetries = 0
	})
	require.NoError(t, err)
	f.gw = gw

	exec := task.NewExecutor(f.mem, f.dir, okNavigator{}, nil, gw, func(o *task.Options) { o.RetryDelay = 0 })
	gen := task.NewGenerator(nil, f.dir)
	sched, err := New(Deps{
		Directory: f.dir,
		Memory:    f.mem,
		Gateway:   gw,
		Executor:  exec,
		Generator: gen,
	}, append([]func(o *Options){func(o *Options) { o.Publisher = f.events }}, optFns...)...)
	require.NoError(t, err)
	f.sched = sched
	return f
}

func mustTemplate(t *testing.T, name string) core.Personality {
	t.Helper()
	p, ok := core.PersonalityTemplate(name)
	if !ok {
		t.Fatalf("unknown personality template %q", name)
	}
	return p
}

func decisionMemories(store *memory.InMemoryStore, agentID string) []core.MemoryEntry {
	return store.RankedRetrieveFunc(agentID, 0, func(e core.MemoryEntry) bool { return e.Type == core.MemoryEvent })
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Directory: core.NewRegistry(), Memory: memory.NewInMemoryStore()}, func(o *Options) {
		o.JitterMin = time.Second
		o.JitterMax = time.Millisecond
	})
	assert.Error(t, err)
}

func TestOffset_DeterministicAndBounded(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Seed = 42
		o.JitterMin = 100 * time.Millisecond
		o.JitterMax = 300 * time.Millisecond
	})
	for _, id := range []string{"ada", "bo", "cy", "dee"} {
		d := f.sched.Offset(id)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 300*time.Millisecond)
		assert.Equal(t, d, f.sched.Offset(id))
	}
}

func TestRunTick_AdjustTasks(t *testing.T) {
	f := newFixture(t)
	f.model.AddResponse(decisionMarker, `Sure! {"action":"adjust_tasks","mode":"move","tasks":[{"description":"Visit the park","target":"park","priority":7}],"reason":"nice weather"}`)
	f.ada.Tasks.Push(core.Task{Description: "Think", Category: core.TaskReflect, Priority: 2})

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.Equal(t, ActionAdjustTasks, d.Action)
	assert.False(t, d.Fallback)
	assert.Equal(t, "mock", d.Provider)
	require.Len(t, d.Added, 1)
	assert.Equal(t, core.TaskMove, d.Added[0].Category)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, "Visit the park", d.Outcome.Task.Description)
	assert.Equal(t, task.StatusCompleted, d.Outcome.Status)

	pending := f.ada.Tasks.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "Think", pending[0].Description)

	mem := decisionMemories(f.mem, "ada")
	require.Len(t, mem, 1)
	assert.Equal(t, 2, mem[0].Importance)
	assert.Contains(t, mem[0].Tags, "provider:mock")
	assert.Contains(t, mem[0].Content, "nice weather")
	assert.Contains(t, f.events.kinds(), core.EventDecision)
}

func TestRunTick_UsesBackupProvider(t *testing.T) {
	f := newFixture(t)
	primary := inference.NewMockProvider("primary")
	primary.Enqueue("", inference.NewTransportError("primary", 503, errors.New("unavailable")))
	backup := inference.NewMockProvider("backup")
	backup.AddResponse(decisionMarker, `{"action":"adjust_tasks","mode":"move","tasks":[{"description":"Walk to the pier","target":"pier","priority":3}],"reason":"quiet day"}`)

	gw, err := inference.New([]inference.Provider{primary, backup}, func(o *inference.Options) {
		o.DefaultProvider = "primary"
		o.Fallbacks = []string{"backup"}
		o.Timeout = time.Second
		o.MaxRetries = 0
	})
	require.NoError(t, err)
	sched, err := New(Deps{
		Directory: f.dir,
		Memory:    f.mem,
		Gateway:   gw,
		Executor:  task.NewExecutor(f.mem, f.dir, okNavigator{}, nil, gw, func(o *task.Options) { o.RetryDelay = 0 }),
		Generator: task.NewGenerator(nil, f.dir),
	})
	require.NoError(t, err)

	d, err := sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.False(t, d.Fallback)
	assert.Equal(t, ActionAdjustTasks, d.Action)
	assert.Equal(t, "backup", d.Provider)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, backup.Calls())
	assert.Equal(t, 1, gw.Stats()["primary"].Failures)
}

func TestRunTick_ContinueHonoursMode(t *testing.T) {
	f := newFixture(t)
	f.model.AddResponse(decisionMarker, `{"action":"continue_task","mode":"reflect","reason":"need a quiet moment"}`)
	f.model.AddResponse("Reflect on", `{"reflection":"The square was busy.","importance":3}`)
	f.ada.Tasks.Push(
		core.Task{Description: "Walk to the harbour", Category: core.TaskMove, Target: "harbour", Priority: 8},
		core.Task{Description: "Think about the market", Category: core.TaskReflect, Priority: 2},
	)

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.Equal(t, ActionContinueTask, d.Action)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, "Think about the market", d.Outcome.Task.Description)
	pending := f.ada.Tasks.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "Walk to the harbour", pending[0].Description)
}

func TestRunTick_DeadlineFallsBackToContinue(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DecisionTimeout = 20 * time.Millisecond })
	f.model.SetBlocking(true)
	f.ada.Tasks.Push(core.Task{Description: "Walk", Category: core.TaskMove, Target: "park", Priority: 5})

	start := time.Now()
	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, d.Fallback)
	assert.Equal(t, ActionContinueTask, d.Action)
	assert.True(t, errors.Is(d.Cause, inference.ErrTimeout), "cause: %v", d.Cause)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, "Walk", d.Outcome.Task.Description)

	mem := decisionMemories(f.mem, "ada")
	require.Len(t, mem, 1)
	assert.Contains(t, mem[0].Tags, "fallback")
}

func TestRunTick_FallbackIdleWithEmptyQueue(t *testing.T) {
	f := newFixture(t)
	f.model.AddResponse(decisionMarker, "I am not sure what to say.")

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.True(t, d.Fallback)
	assert.Equal(t, ActionIdle, d.Action)
	assert.True(t, errors.Is(d.Cause, inference.ErrParse))
	assert.Nil(t, d.Outcome)
	assert.Zero(t, f.ada.Tasks.Len())
	assert.Len(t, decisionMemories(f.mem, "ada"), 1)
}

func TestRunTick_ContinueGeneratesWhenEmpty(t *testing.T) {
	f := newFixture(t)
	f.model.AddResponse(decisionMarker, `{"action":"continue_task","reason":"keep going"}`)

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)

	assert.Equal(t, ActionContinueTask, d.Action)
	assert.NotEmpty(t, d.Added)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, core.TaskReflect, d.Outcome.Task.Category)
}

func TestRunTick_InProgress(t *testing.T) {
	f := newFixture(t)
	g := f.sched.guard("ada")
	g.Store(true)

	_, err := f.sched.RunTick(context.Background(), f.ada)
	assert.ErrorIs(t, err, ErrTickInProgress)

	f.sched.fire(context.Background(), f.ada)
	assert.Contains(t, f.events.kinds(), core.EventTickSuppressed)

	g.Store(false)
	_, err = f.sched.RunTick(context.Background(), f.ada)
	assert.NoError(t, err)
}

func TestRunTick_ConcurrentCallsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	f.model.SetDelay(30 * time.Millisecond)
	f.model.AddResponse(decisionMarker, `{"action":"continue_task"}`)

	var wg sync.WaitGroup
	var mu sync.Mutex
	busy := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.sched.RunTick(context.Background(), f.ada); errors.Is(err, ErrTickInProgress) {
				mu.Lock()
				busy++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, busy, 1)
	assert.Len(t, decisionMemories(f.mem, "ada"), 4-busy)
}

func TestRunTick_MemoryCap(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MemoryCap = 3 })
	f.model.AddResponse(decisionMarker, `{"action":"continue_task"}`)

	for i := 0; i < 6; i++ {
		_, err := f.sched.RunTick(context.Background(), f.ada)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, f.mem.Count("ada"), 3)
}

func TestRunTick_EngagedAgentEndsConversation(t *testing.T) {
	f := newFixture(t)
	mgr := conversation.NewManager(f.mem, nil, func(o *conversation.Options) { o.TurnInterval = time.Hour })
	defer mgr.Close()
	f.sched.deps.Conversations = mgr
	f.model.AddResponse("Should the conversation go on?", `{"action":"end","reason":"getting late"}`)

	sid, ok := mgr.TryStart(context.Background(), f.ada, f.bo)
	require.True(t, ok)

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)
	assert.Equal(t, ActionEndTalk, d.Action)
	assert.Equal(t, "getting late", d.Reason)

	snap, ok := mgr.Session(sid)
	require.True(t, ok)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, "ended_by_ada", snap.EndReason)
	assert.Equal(t, core.StateIdle, f.ada.State())
}

func TestRunTick_EngagedAgentContinuesOnFailure(t *testing.T) {
	f := newFixture(t)
	mgr := conversation.NewManager(f.mem, nil, func(o *conversation.Options) { o.TurnInterval = time.Hour })
	defer mgr.Close()
	f.sched.deps.Conversations = mgr
	f.model.Enqueue("", inference.NewTransportError("mock", 500, errors.New("boom")))

	sid, ok := mgr.TryStart(context.Background(), f.ada, f.bo)
	require.True(t, ok)

	d, err := f.sched.RunTick(context.Background(), f.ada)
	require.NoError(t, err)
	assert.Equal(t, ActionContinueTalk, d.Action)
	assert.True(t, d.Fallback)

	snap, _ := mgr.Session(sid)
	assert.Equal(t, "active", snap.State)
}

func TestNextLine(t *testing.T) {
	f := newFixture(t)
	_, err := f.mem.Append("ada", core.MemoryEntry{Content: "Bo owes me a book", Importance: 6, RelatedAgents: []string{"bo"}})
	require.NoError(t, err)
	_, err = f.mem.Append("ada", core.MemoryEntry{Content: "The sky was blue", Importance: 9})
	require.NoError(t, err)
	f.model.AddResponse("Say your next line", `{"line":"Where is my book?","end":true}`)

	turn, err := f.sched.NextLine(context.Background(), f.ada, f.bo, []conversation.Line{{Speaker: "bo", Text: "Hi Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "Where is my book?", turn.Text)
	assert.True(t, turn.End)

	prompts := f.model.Prompts()
	require.NotEmpty(t, prompts)
	last := prompts[len(prompts)-1]
	assert.Contains(t, last, "Bo owes me a book")
	assert.NotContains(t, last, "The sky was blue")
	assert.Contains(t, last, "Bo: Hi Ada")
}

func TestParseLine_RawText(t *testing.T) {
	turn := parseLine("  Just plain words.  ")
	assert.Equal(t, "Just plain words.", turn.Text)
	assert.False(t, turn.End)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.TickPeriod = 10 * time.Millisecond
		o.JitterMax = 5 * time.Millisecond
	})
	f.model.AddResponse(decisionMarker, `{"action":"continue_task"}`)

	require.NoError(t, f.sched.Start(context.Background()))
	assert.Error(t, f.sched.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(decisionMemories(f.mem, "ada")) >= 2 && len(decisionMemories(f.mem, "bo")) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	f.sched.Stop()
	n := f.mem.Count("ada")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, f.mem.Count("ada"))
}
