package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/hupe1980/agenttown/conversation"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	"github.com/hupe1980/agenttown/internal/util"
	"github.com/hupe1980/agenttown/logging"
	"github.com/hupe1980/agenttown/perception"
	"github.com/hupe1980/agenttown/task"
)

// ErrTickInProgress is returned by RunTick while the agent is still deciding.
var ErrTickInProgress = errors.New("tick already in progress")

// Perceiver builds the perception of an agent.
type Perceiver interface {
	Build(ctx context.Context, agentID string) (core.Perception, error)
}

// TaskRunner executes the next queued task of an agent, preferring category
// when it is set.
type TaskRunner interface {
	ExecuteNextOf(ctx context.Context, agent *core.Agent, category core.TaskCategory) (task.Outcome, error)
}

// TaskGenerator fills an empty task queue.
type TaskGenerator interface {
	Generate(ctx context.Context, agent *core.Agent) ([]core.Task, error)
}

// Conversations is the part of the conversation manager used while an agent
// is engaged.
type Conversations interface {
	Session(id string) (conversation.Snapshot, bool)
	End(sessionID, reason string) bool
}

// Deps are the collaborators of a Scheduler. Directory and Memory are
// required; the rest may be nil.
type Deps struct {
	Directory     core.Directory
	Memory        core.MemoryStore
	Perception    Perceiver
	Gateway       inference.Inferer
	Executor      TaskRunner
	Generator     TaskGenerator
	Conversations Conversations
	// Locations lists valid move targets for adjusted tasks.
	Locations func() []string
}

// Options configures a Scheduler.
type Options struct {
	TickPeriod time.Duration
	// JitterMin and JitterMax bound the initial offset of each agent loop.
	JitterMin time.Duration
	JitterMax time.Duration
	// Seed makes the offsets reproducible across runs.
	Seed uint64
	// MaxPromptMemories is how many ranked memories a prompt includes.
	MaxPromptMemories int
	// MemoryCap is applied with Evict after every tick; 0 disables it.
	MemoryCap int
	// DecisionTimeout bounds one decision request on top of the gateway's
	// own deadline.
	DecisionTimeout time.Duration
	Provider        string
	Model           string
	// TaskRetention is how long finished tasks are kept.
	TaskRetention time.Duration
	Logger        logging.Logger
	Publisher     core.Publisher
	Now           func() time.Time
}

// Scheduler runs one decide-act loop per agent.
type Scheduler struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	guards  map[string]*atomic.Bool
	loops   map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ conversation.LineGenerator = (*Scheduler)(nil)

// New creates a Scheduler.
func New(deps Deps, optFns ...func(o *Options)) (*Scheduler, error) {
	opts := Options{
		TickPeriod:        10 * time.Second,
		JitterMin:         0,
		JitterMax:         2 * time.Second,
		MaxPromptMemories: 10,
		MemoryCap:         200,
		DecisionTimeout:   30 * time.Second,
		TaskRetention:     time.Hour,
		Logger:            logging.NoOpLogger{},
		Publisher:         core.NopPublisher{},
		Now:               func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if deps.Directory == nil || deps.Memory == nil {
		return nil, errors.New("scheduler: directory and memory are required")
	}
	if opts.TickPeriod <= 0 {
		return nil, fmt.Errorf("scheduler: tick period must be positive, got %s", opts.TickPeriod)
	}
	if opts.JitterMax < opts.JitterMin {
		return nil, fmt.Errorf("scheduler: jitter max %s below min %s", opts.JitterMax, opts.JitterMin)
	}
	return &Scheduler{
		deps:   deps,
		opts:   opts,
		guards: map[string]*atomic.Bool{},
		loops:  map[string]bool{},
	}, nil
}

// Offset returns the deterministic initial delay of an agent's loop, in
// [JitterMin, JitterMax).
func (s *Scheduler) Offset(agentID string) time.Duration {
	span := s.opts.JitterMax - s.opts.JitterMin
	if span <= 0 {
		return s.opts.JitterMin
	}
	h := xxhash.NewS64(s.opts.Seed)
	_, _ = h.Write([]byte(agentID))
	return s.opts.JitterMin + time.Duration(h.Sum64()%uint64(span))
}

func (s *Scheduler) guard(agentID string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[agentID]
	if !ok {
		g = &atomic.Bool{}
		s.guards[agentID] = g
	}
	return g
}

// Start spawns a loop for every agent in the directory. Agents added later
// are picked up with Watch.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	for _, a := range s.deps.Directory.Agents() {
		s.Watch(a)
	}
	s.opts.Logger.Info("scheduler started", "agents", len(s.deps.Directory.Agents()), "tick_period", s.opts.TickPeriod)
	return nil
}

// Watch starts the loop of agent if the scheduler is running and the agent
// has no loop yet.
func (s *Scheduler) Watch(agent *core.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.loops[agent.ID] {
		return
	}
	s.loops[agent.ID] = true
	s.wg.Add(1)
	go s.loop(s.ctx, agent)
}

// Stop cancels all loops and waits for outstanding ticks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.loops = map[string]bool{}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.opts.Logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, agent *core.Agent) {
	defer s.wg.Done()

	offset := time.NewTimer(s.Offset(agent.ID))
	select {
	case <-ctx.Done():
		offset.Stop()
		return
	case <-offset.C:
	}

	ticker := time.NewTicker(s.opts.TickPeriod)
	defer ticker.Stop()
	for {
		if _, ok := s.deps.Directory.Agent(agent.ID); !ok {
			s.opts.Logger.Debug("agent removed, loop exits", "agent_id", agent.ID)
			return
		}
		s.fire(ctx, agent)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fire starts a tick in the background unless one is outstanding.
func (s *Scheduler) fire(ctx context.Context, agent *core.Agent) {
	g := s.guard(agent.ID)
	if !g.CompareAndSwap(false, true) {
		s.opts.Logger.Debug("tick suppressed, previous decision outstanding", "agent_id", agent.ID)
		s.opts.Publisher.Publish(core.NewEvent(core.EventTickSuppressed, agent.ID, "previous decision still outstanding"))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer g.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.opts.Logger.Error("tick panicked", "agent_id", agent.ID, "panic", r)
			}
		}()
		if _, err := s.tick(ctx, agent); err != nil {
			s.opts.Logger.Warn("tick finished with error", "agent_id", agent.ID, "error", err)
		}
	}()
}

// RunTick runs one tick for agent synchronously. It returns
// ErrTickInProgress when a tick for the agent is outstanding. The error of a
// failed task is returned alongside the decision.
func (s *Scheduler) RunTick(ctx context.Context, agent *core.Agent) (Decision, error) {
	g := s.guard(agent.ID)
	if !g.CompareAndSwap(false, true) {
		return Decision{}, fmt.Errorf("agent %s: %w", agent.ID, ErrTickInProgress)
	}
	defer g.Store(false)
	return s.tick(ctx, agent)
}

type tickLogger interface {
	LogTick(agentID, action string, dur time.Duration, fallback bool, err error)
}

func (s *Scheduler) tick(ctx context.Context, agent *core.Agent) (Decision, error) {
	tc := core.NewTickContext(ctx, agent, s.opts.Logger)

	var (
		d   Decision
		err error
	)
	if sid, engaged := agent.Engagement(); engaged && s.deps.Conversations != nil {
		d = s.talkTick(tc, sid)
	} else {
		d, err = s.decideTick(tc)
	}

	s.record(tc, d)
	if tl, ok := s.opts.Logger.(tickLogger); ok {
		tl.LogTick(agent.ID, string(d.Action), tc.Elapsed(), d.Fallback, err)
	} else {
		tc.LogDebug("tick done", "action", d.Action, "fallback", d.Fallback, "duration", tc.Elapsed())
	}
	return d, err
}

func (s *Scheduler) decideTick(tc *core.TickContext) (Decision, error) {
	agent := tc.Agent
	if s.deps.Perception != nil {
		p, err := s.deps.Perception.Build(tc.Context, agent.ID)
		if err != nil {
			tc.LogDebug("using minimal perception", "error", err)
		}
		tc.Perception = p
	} else {
		tc.Perception = core.MinimalPerception(agent.ID, s.opts.Now())
	}

	d := s.decide(tc)
	return d, s.dispatch(tc, &d)
}

var decisionTemplate = util.MustTemplate("decision", `You are {{.Name}}. {{.Personality}}

Your status: {{.Status}}

{{.Perception}}

Your most important memories:
{{.Memories}}

Your current tasks:
{{.Tasks}}

Decide what to do next. Reply with a JSON object with these fields:
{{.Fields}}`)

func (s *Scheduler) decisionPrompt(tc *core.TickContext) (string, error) {
	agent := tc.Agent
	return util.Execute(decisionTemplate, map[string]any{
		"Name":        agent.Name,
		"Personality": agent.Personality.Summary(),
		"Status":      formatStatus(agent.Status()),
		"Perception":  perception.Format(tc.Perception, s.nameOf),
		"Memories":    core.FormatMemories(s.deps.Memory.RankedRetrieve(agent.ID, s.opts.MaxPromptMemories)),
		"Tasks":       formatTasks(agent.Tasks.Pending()),
		"Fields":      util.DescribeFields(decisionReply{}),
	})
}

func (s *Scheduler) decide(tc *core.TickContext) Decision {
	if s.deps.Gateway == nil {
		return s.fallback(tc.Agent, errors.New("no inference gateway"))
	}
	prompt, err := s.decisionPrompt(tc)
	if err != nil {
		return s.fallback(tc.Agent, err)
	}
	resp, err := s.infer(tc.Context, prompt)
	if err != nil {
		return s.fallback(tc.Agent, err)
	}
	d, err := ParseDecision(resp.ParsedText)
	if err != nil {
		d = s.fallback(tc.Agent, err)
	}
	d.Provider = resp.ProviderID
	return d
}

func (s *Scheduler) infer(ctx context.Context, prompt string) (inference.Response, error) {
	if s.opts.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DecisionTimeout)
		defer cancel()
	}
	return s.deps.Gateway.InferWithFallback(ctx, inference.Request{ProviderID: s.opts.Provider, Model: s.opts.Model, Prompt: prompt})
}

// fallback continues the current plan, or idles when there is none.
func (s *Scheduler) fallback(agent *core.Agent, cause error) Decision {
	d := Decision{Action: ActionContinueTask, Fallback: true, Cause: cause, Reason: "no usable decision"}
	if agent.Tasks.Len() == 0 {
		d.Action = ActionIdle
	}
	s.opts.Logger.Debug("decision fell back", "agent_id", agent.ID, "action", d.Action, "error", cause)
	return d
}

func (s *Scheduler) dispatch(tc *core.TickContext, d *Decision) error {
	agent := tc.Agent
	switch d.Action {
	case ActionIdle:
		return nil
	case ActionAdjustTasks:
		d.Added = s.adjust(agent, d)
	case ActionContinueTask:
		if agent.Tasks.Len() == 0 && s.deps.Generator != nil {
			added, err := s.deps.Generator.Generate(tc.Context, agent)
			if err != nil {
				tc.LogDebug("task generation degraded", "error", err)
			}
			d.Added = added
		}
	}

	if s.deps.Executor == nil || agent.Tasks.Len() == 0 {
		return nil
	}
	out, err := s.deps.Executor.ExecuteNextOf(tc.Context, agent, core.TaskCategory(d.Mode))
	d.Outcome = &out
	return err
}

// adjust appends the decision's tasks. Incomplete tasks are never replaced.
func (s *Scheduler) adjust(agent *core.Agent, d *Decision) []core.Task {
	var locations []string
	if s.deps.Locations != nil {
		locations = s.deps.Locations()
	}
	var tasks []core.Task
	for _, spec := range d.Tasks {
		if strings.TrimSpace(spec.Category) == "" {
			spec.Category = d.Mode
		}
		t, ok := task.ToTask(spec, agent.ID, s.deps.Directory, locations)
		if !ok {
			s.opts.Logger.Debug("dropping invalid task from decision", "agent_id", agent.ID, "description", spec.Description)
			continue
		}
		tasks = append(tasks, t)
	}
	return agent.Tasks.Push(tasks...)
}

var talkTemplate = util.MustTemplate("talk", `You are {{.Name}}. {{.Personality}}
You are talking with {{.Partner}}.

The conversation so far:
{{.Transcript}}

Should the conversation go on? Reply with a JSON object with these fields:
{{.Fields}}`)

func (s *Scheduler) talkTick(tc *core.TickContext, sessionID string) Decision {
	agent := tc.Agent
	snap, ok := s.deps.Conversations.Session(sessionID)
	if !ok || snap.State != conversation.StateActive.String() {
		return Decision{Action: ActionContinueTalk, Reason: "conversation is wrapping up"}
	}
	partner := snap.Participants[0]
	if partner == agent.ID {
		partner = snap.Participants[1]
	}

	cont := Decision{Action: ActionContinueTalk, Fallback: true}
	if s.deps.Gateway == nil {
		cont.Cause = errors.New("no inference gateway")
		return cont
	}
	prompt, err := util.Execute(talkTemplate, map[string]any{
		"Name":        agent.Name,
		"Personality": agent.Personality.Summary(),
		"Partner":     s.nameOf(partner),
		"Transcript":  s.formatTranscript(snap.Transcript),
		"Fields":      util.DescribeFields(talkReply{}),
	})
	if err != nil {
		cont.Cause = err
		return cont
	}
	resp, err := s.infer(tc.Context, prompt)
	if err != nil {
		cont.Cause = err
		return cont
	}
	end, reason, err := parseTalk(resp.ParsedText)
	if err != nil {
		cont.Cause = err
		cont.Provider = resp.ProviderID
		return cont
	}
	d := Decision{Action: ActionContinueTalk, Reason: reason, Provider: resp.ProviderID}
	if end {
		d.Action = ActionEndTalk
		s.deps.Conversations.End(sessionID, "ended_by_"+agent.ID)
	}
	return d
}

// record stores the decision memory, applies the memory cap, prunes finished
// tasks and publishes the decision.
func (s *Scheduler) record(tc *core.TickContext, d Decision) {
	agent := tc.Agent
	now := s.opts.Now()

	tags := []string{"decision", "action:" + string(d.Action)}
	if d.Provider != "" {
		tags = append(tags, "provider:"+d.Provider)
	}
	if d.Fallback {
		tags = append(tags, "fallback")
	}
	location := tc.Perception.Location
	if _, err := s.deps.Memory.Append(agent.ID, core.MemoryEntry{
		Content:    d.Summary(),
		Type:       core.MemoryEvent,
		Importance: 2,
		Timestamp:  now,
		Tags:       tags,
		Location:   location,
	}); err != nil {
		tc.LogError("failed to store decision memory", "error", err)
	}
	if s.opts.MemoryCap > 0 {
		if n := s.deps.Memory.Evict(agent.ID, s.opts.MemoryCap); n > 0 {
			tc.LogDebug("evicted memories", "count", n)
		}
	}
	if s.opts.TaskRetention > 0 {
		agent.Tasks.Prune(now.Add(-s.opts.TaskRetention))
	}

	ev := core.NewEvent(core.EventDecision, agent.ID, d.Summary()).
		WithData("action", string(d.Action)).
		WithData("fallback", d.Fallback)
	if d.Cause != nil {
		ev = ev.WithData("cause", d.Cause.Error())
	}
	if d.Outcome != nil && d.Outcome.Task.ID != "" {
		ev = ev.WithData("task_id", d.Outcome.Task.ID).WithData("task_status", string(d.Outcome.Status))
	}
	s.opts.Publisher.Publish(ev)
}

func (s *Scheduler) nameOf(id string) string {
	if a, ok := s.deps.Directory.Agent(id); ok {
		return a.Name
	}
	return id
}

func (s *Scheduler) formatTranscript(lines []conversation.Line) string {
	if len(lines) == 0 {
		return "(nothing said yet)"
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = fmt.Sprintf("%s: %s", s.nameOf(l.Speaker), l.Text)
	}
	return strings.Join(out, "\n")
}

func formatStatus(status map[string]float64) string {
	if len(status) == 0 {
		return "unknown"
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %.2f", k, status[k])
	}
	return strings.Join(parts, ", ")
}

func formatTasks(tasks []core.Task) string {
	if len(tasks) == 0 {
		return "- nothing planned"
	}
	lines := make([]string, len(tasks))
	for i, t := range tasks {
		lines[i] = fmt.Sprintf("- [%s] %s (priority %d)", t.Category, t.Description, t.Priority)
	}
	return strings.Join(lines, "\n")
}
