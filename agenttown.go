// Package agenttown wires the components of an agent town into one value.
// Most applications:
//  1. load a config.Config (or start from config.Default()),
//  2. create a Town with New,
//  3. add agents, optionally Restore persisted state, and Start it.
//
// Stop cancels every loop, saves records when a store is configured and
// releases external resources.
package agenttown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttown/config"
	"github.com/hupe1980/agenttown/conversation"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/inference"
	_ "github.com/hupe1980/agenttown/inference/providers" // registers SDK provider kinds
	"github.com/hupe1980/agenttown/lease"
	"github.com/hupe1980/agenttown/logging"
	"github.com/hupe1980/agenttown/memory"
	"github.com/hupe1980/agenttown/perception"
	"github.com/hupe1980/agenttown/scheduler"
	"github.com/hupe1980/agenttown/server"
	"github.com/hupe1980/agenttown/store/mysql"
	"github.com/hupe1980/agenttown/store/sqlite"
	tomlstore "github.com/hupe1980/agenttown/store/toml"
	"github.com/hupe1980/agenttown/task"
)

// Options overrides parts of the configuration-driven setup.
type Options struct {
	// Providers are added to the providers built from configuration.
	Providers []inference.Provider
	// Store replaces the configured record store.
	Store core.RecordStore
	// Lease replaces the configured conversation lease.
	Lease conversation.Lease
	// Publishers receive every simulation event in addition to the hub.
	Publishers []core.Publisher
	Logger     logging.Logger
	Now        func() time.Time
}

// Town is a running simulation.
type Town struct {
	cfg  *config.Config
	opts Options

	registry      *core.Registry
	memory        *memory.InMemoryStore
	world         *perception.StaticWorld
	gateway       *inference.Gateway
	conversations *conversation.Manager
	scheduler     *scheduler.Scheduler
	hub           *server.Hub
	server        *server.Server
	store         core.RecordStore
	lease         *lease.RedisLease

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type fanout []core.Publisher

func (f fanout) Publish(e core.Event) {
	for _, p := range f {
		p.Publish(e)
	}
}

// New builds a town from cfg. The configured agents are registered and
// placed; nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Town, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &Town{cfg: cfg, opts: opts, registry: core.NewRegistry()}
	built := false
	defer func() {
		if !built {
			t.release()
		}
	}()
	t.hub = server.NewHub(func(o *server.HubOptions) { o.Logger = opts.Logger })
	publisher := append(fanout{t.hub}, opts.Publishers...)

	providers, err := inference.Build(cfg.InferenceProviders())
	if err != nil {
		return nil, err
	}
	providers = append(providers, opts.Providers...)
	if len(providers) == 0 {
		return nil, errors.New("no inference providers configured")
	}
	defaultProvider := cfg.Gateway.DefaultProvider
	if defaultProvider == "" {
		defaultProvider = providers[0].ID()
	}
	t.gateway, err = inference.New(providers, func(o *inference.Options) {
		o.DefaultProvider = defaultProvider
		o.Fallbacks = cfg.Gateway.Fallbacks
		o.Timeout = cfg.Gateway.Timeout
		o.Timeouts = cfg.ProviderTimeouts()
		o.MaxRetries = cfg.Gateway.MaxRetries
		o.Backoff = cfg.Gateway.Backoff
		o.MaxBackoff = cfg.Gateway.MaxBackoff
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	if cfg.Simulation.Provider != "" {
		if err := t.gateway.Validate(cfg.Simulation.Provider); err != nil {
			return nil, err
		}
	}

	locations := make([]perception.Location, 0, len(cfg.World.Locations))
	for _, l := range cfg.World.Locations {
		locations = append(locations, perception.Location{Name: l.Name, Objects: l.Objects})
	}
	if len(locations) == 0 {
		locations = append(locations, perception.Location{Name: "Town Square"})
	}
	t.world = perception.NewStaticWorld(locations, opts.Now)

	t.memory = memory.NewInMemoryStore(func(o *memory.Options) { o.Now = opts.Now })

	convLease := opts.Lease
	if convLease == nil && cfg.Lease.RedisAddr != "" {
		t.lease, err = lease.Dial(ctx, cfg.Lease.RedisAddr, func(o *lease.Options) {
			if cfg.Lease.TTL > 0 {
				o.TTL = cfg.Lease.TTL
			}
		})
		if err != nil {
			return nil, err
		}
		convLease = t.lease
	}

	cc := cfg.Conversation
	t.conversations = conversation.NewManager(t.memory, nil, func(o *conversation.Options) {
		o.IdleTimeout = cc.IdleTimeout
		o.MaxTurns = cc.MaxTurns
		o.TurnInterval = cc.TurnInterval
		if cc.MaxLineLength > 0 {
			o.MaxLineLength = cc.MaxLineLength
		}
		if cc.RelationDelta > 0 {
			o.RelationDelta = cc.RelationDelta
		}
		o.Lease = convLease
		o.Logger = opts.Logger
		o.Publisher = publisher
		o.Now = opts.Now
	})

	sc := cfg.Simulation
	executor := task.NewExecutor(t.memory, t.registry, t.world, t.conversations, t.gateway, func(o *task.Options) {
		o.ReflectProvider = sc.Provider
		o.ReflectModel = sc.Model
		o.Logger = opts.Logger
		o.Publisher = publisher
		o.Now = opts.Now
	})
	generator := task.NewGenerator(t.gateway, t.registry, func(o *task.GeneratorOptions) {
		o.Provider = sc.Provider
		o.Model = sc.Model
		o.Locations = t.world.Locations
		o.Logger = opts.Logger
	})
	builder := perception.NewBuilder(t.world, func(o *perception.Options) {
		o.Logger = opts.Logger
		o.Now = opts.Now
	})
	t.scheduler, err = scheduler.New(scheduler.Deps{
		Directory:     t.registry,
		Memory:        t.memory,
		Perception:    builder,
		Gateway:       t.gateway,
		Executor:      executor,
		Generator:     generator,
		Conversations: t.conversations,
		Locations:     t.world.Locations,
	}, func(o *scheduler.Options) {
		o.TickPeriod = sc.TickPeriod
		o.JitterMin = sc.JitterMin
		o.JitterMax = sc.JitterMax
		o.Seed = sc.Seed
		o.MaxPromptMemories = sc.MaxPromptMemories
		o.MemoryCap = sc.MemoryCap
		o.DecisionTimeout = sc.DecisionTimeout
		o.TaskRetention = sc.TaskRetention
		o.Provider = sc.Provider
		o.Model = sc.Model
		o.Logger = opts.Logger
		o.Publisher = publisher
		o.Now = opts.Now
	})
	if err != nil {
		return nil, err
	}
	t.conversations.SetLineGenerator(t.scheduler)

	t.store = opts.Store
	if t.store == nil {
		t.store, err = OpenStore(cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	t.server = server.New(server.Deps{
		Directory:     t.registry,
		Memory:        t.memory,
		Conversations: t.conversations,
		Stats:         t.gateway,
		Locator:       t.world,
		Hub:           t.hub,
	}, func(o *server.Options) { o.Logger = opts.Logger })

	for _, ac := range cfg.Agents {
		a := core.NewAgent(ac.ID, ac.Name, ac.Resolve())
		if err := t.AddAgent(a, ac.Location); err != nil {
			return nil, err
		}
	}
	built = true
	return t, nil
}

func (t *Town) release() {
	if t.conversations != nil {
		t.conversations.Close()
	}
	if t.store != nil && t.opts.Store == nil {
		_ = t.store.Close()
	}
	if t.lease != nil {
		_ = t.lease.Close()
	}
}

// OpenStore opens the record store selected by cfg. The "none" driver
// returns a nil store.
func OpenStore(cfg config.StoreConfig) (core.RecordStore, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "toml":
		s, err := tomlstore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		s, err := mysql.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// AddAgent registers a and places it at location, or at the first location
// of the world when location is empty. A running town starts its loop.
func (t *Town) AddAgent(a *core.Agent, location string) error {
	if location == "" {
		location = t.world.Locations()[0]
	}
	if err := t.registry.Register(a); err != nil {
		return err
	}
	if err := t.world.Place(a.ID, location); err != nil {
		t.registry.Remove(a.ID)
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	t.scheduler.Watch(a)
	t.opts.Logger.Info("agent added", "agent_id", a.ID, "name", a.Name, "location", location)
	return nil
}

// Start runs the scheduler, the idle-session janitor, the autosave loop and,
// when a listen address is configured, the inspection API.
func (t *Town) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("town already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := t.scheduler.Start(ctx); err != nil {
		cancel()
		return err
	}
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.conversations.Run(ctx)
	}()

	if t.store != nil && t.cfg.Store.Autosave > 0 {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.autosave(ctx, t.cfg.Store.Autosave)
		}()
	}

	if addr := t.cfg.Server.Listen; addr != "" {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.server.ListenAndServe(ctx, addr); err != nil {
				t.opts.Logger.Error("inspection api stopped", "error", err)
			}
		}()
	}
	t.opts.Logger.Info("town started", "agents", len(t.registry.Agents()))
	return nil
}

func (t *Town) autosave(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Save(ctx); err != nil {
				t.opts.Logger.Warn("autosave failed", "error", err)
			}
		}
	}
}

// Stop halts all loops and waits for them. Records are saved when a store
// is configured. External resources are released; the town cannot be
// restarted afterwards.
func (t *Town) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	t.scheduler.Stop()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	t.conversations.Close()

	var errs []error
	if t.store != nil {
		if wasRunning {
			if err := t.Save(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := t.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if t.lease != nil {
		if err := t.lease.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lease: %w", err))
		}
	}
	t.opts.Logger.Info("town stopped")
	return errors.Join(errs...)
}

// Save persists a record of every agent. Without a store it does nothing.
func (t *Town) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	now := t.opts.Now()
	var errs []error
	for _, a := range t.registry.Agents() {
		rec := core.SnapshotRecord(a, t.memory.All(a.ID), now)
		if err := t.store.Save(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Restore loads the persisted record of every registered agent and returns
// how many were found. Agents without a record keep their current state.
func (t *Town) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	n := 0
	for _, a := range t.registry.Agents() {
		rec, err := t.store.Load(ctx, a.ID)
		if errors.Is(err, core.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("restore %s: %w", a.ID, err)
		}
		if err := t.memory.Restore(a.ID, rec.Memories); err != nil {
			return n, err
		}
		a.Tasks.Restore(rec.Tasks)
		a.SetRelations(rec.Relations)
		n++
	}
	t.opts.Logger.Info("records restored", "agents", n)
	return n, nil
}

// Registry returns the agent directory.
func (t *Town) Registry() *core.Registry { return t.registry }

// Memory returns the memory store.
func (t *Town) Memory() *memory.InMemoryStore { return t.memory }

// World returns the static world agents live in.
func (t *Town) World() *perception.StaticWorld { return t.world }

// Gateway returns the inference gateway.
func (t *Town) Gateway() *inference.Gateway { return t.gateway }

// Conversations returns the conversation manager.
func (t *Town) Conversations() *conversation.Manager { return t.conversations }

// Scheduler returns the decision scheduler.
func (t *Town) Scheduler() *scheduler.Scheduler { return t.scheduler }

// Hub returns the event hub.
func (t *Town) Hub() *server.Hub { return t.hub }

// Server returns the inspection API.
func (t *Town) Server() *server.Server { return t.server }
