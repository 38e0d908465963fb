package conversation

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/logging"
)

// Turn is what a speaker contributes in one turn.
type Turn struct {
	Text string
	End  bool
}

// LineGenerator produces the next line of a conversation for speaker.
type LineGenerator interface {
	NextLine(ctx context.Context, speaker, listener *core.Agent, transcript []Line) (Turn, error)
}

// Lease extends exclusivity across processes. Acquire must claim all agent
// ids or none.
type Lease interface {
	Acquire(ctx context.Context, sessionID string, agentIDs ...string) (bool, error)
	Release(ctx context.Context, sessionID string, agentIDs ...string) error
}

// Options configures a Manager.
type Options struct {
	IdleTimeout   time.Duration
	MaxTurns      int
	TurnInterval  time.Duration
	// MaxLineLength caps a line in runes; longer lines end in "...".
	MaxLineLength int
	// RelationDelta is added to both relations when a session closes.
	RelationDelta float64
	// History is how many closed sessions stay inspectable.
	History   int
	Lease     Lease
	Logger    logging.Logger
	Publisher core.Publisher
	Now       func() time.Time
}

// Manager owns all conversation sessions.
type Manager struct {
	memory core.MemoryStore
	opts   Options
	policy *bluemonday.Policy

	lineMu sync.RWMutex
	lines  LineGenerator

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active map[string]*session
	closed []*session
}

// NewManager creates a manager. The line generator may be set later with
// SetLineGenerator; sessions started without one only end by timeout or End.
func NewManager(memory core.MemoryStore, lines LineGenerator, optFns ...func(o *Options)) *Manager {
	opts := Options{
		IdleTimeout:   60 * time.Second,
		MaxTurns:      12,
		TurnInterval:  500 * time.Millisecond,
		MaxLineLength: 500,
		RelationDelta: 0.1,
		History:       100,
		Logger:        logging.NoOpLogger{},
		Publisher:     core.NopPublisher{},
		Now:           func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		memory: memory,
		opts:   opts,
		policy: bluemonday.StrictPolicy(),
		lines:  lines,
		ctx:    ctx,
		stop:   stop,
		active: map[string]*session{},
	}
}

// SetLineGenerator installs the line generator used by new turns.
func (m *Manager) SetLineGenerator(lg LineGenerator) {
	m.lineMu.Lock()
	defer m.lineMu.Unlock()
	m.lines = lg
}

func (m *Manager) lineGenerator() LineGenerator {
	m.lineMu.RLock()
	defer m.lineMu.RUnlock()
	return m.lines
}

// TryStart atomically engages a and b and opens a session. It returns false
// without side effects when a and b are the same agent, either is already
// engaged, or the lease is refused.
func (m *Manager) TryStart(ctx context.Context, a, b *core.Agent) (string, bool) {
	if m.ctx.Err() != nil {
		return "", false
	}
	id := core.NewID()
	if !core.EngagePair(a, b, id) {
		return "", false
	}
	if m.opts.Lease != nil {
		ok, err := m.opts.Lease.Acquire(ctx, id, a.ID, b.ID)
		if err != nil || !ok {
			a.Disengage(id)
			b.Disengage(id)
			if err != nil {
				m.opts.Logger.Warn("conversation lease failed", "session_id", id, "error", err)
			}
			return "", false
		}
	}

	s := newSession(id, a, b, m.opts.MaxTurns, m.opts.Now())
	s.transition(StateActive)
	turnCtx, cancel := context.WithCancel(m.ctx)
	s.cancel = cancel

	m.mu.Lock()
	m.active[id] = s
	m.mu.Unlock()

	m.opts.Logger.Info("conversation started", "session_id", id, "a", a.ID, "b", b.ID)
	m.opts.Publisher.Publish(core.NewEvent(core.EventConversationStarted, a.ID, fmt.Sprintf("%s started talking with %s", a.Name, b.Name)).
		WithSession(id).WithData("partner", b.ID))

	m.wg.Add(1)
	go m.run(turnCtx, s)
	return id, true
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer m.wg.Done()
	defer close(s.done)

	speaker, listener := s.agents[0], s.agents[1]
	wait := time.Duration(0)
	for {
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		wait = m.opts.TurnInterval

		if ctx.Err() != nil {
			m.End(s.id, "shutdown")
			return
		}
		if s.current() != StateActive {
			return
		}
		if m.opts.IdleTimeout > 0 && s.idleSince(m.opts.Now()) > m.opts.IdleTimeout {
			m.End(s.id, "idle_timeout")
			return
		}
		if s.turns.Remaining() == 0 {
			m.End(s.id, "max_turns")
			return
		}

		lg := m.lineGenerator()
		if lg == nil {
			continue
		}
		turn, err := lg.NextLine(ctx, speaker, listener, s.lines())
		if err != nil {
			m.opts.Logger.Debug("no line this turn", "session_id", s.id, "speaker", speaker.ID, "error", err)
			continue
		}
		ender := speaker
		if text := m.sanitize(turn.Text); text != "" {
			_ = s.turns.Increment()
			s.append(speaker.ID, text, m.opts.Now())
			m.opts.Publisher.Publish(core.NewEvent(core.EventConversationLine, speaker.ID, text).WithSession(s.id))
			speaker, listener = listener, speaker
		}
		if turn.End {
			m.End(s.id, "ended_by_"+ender.ID)
			return
		}
	}
}

func (m *Manager) sanitize(text string) string {
	clean := html.UnescapeString(m.policy.Sanitize(text))
	clean = strings.Join(strings.Fields(clean), " ")
	if n := m.opts.MaxLineLength; n > 0 && utf8.RuneCountInString(clean) > n {
		clean = strings.TrimSpace(string([]rune(clean)[:n])) + "..."
	}
	return clean
}

// End closes a session. Only the first call for a session has any effect
// and returns true; unknown and already ending sessions are no-ops.
func (m *Manager) End(sessionID, reason string) bool {
	m.mu.RLock()
	s, ok := m.active[sessionID]
	m.mu.RUnlock()
	if !ok || !s.transition(StateEnding) {
		return false
	}
	s.mu.Lock()
	s.endReason = reason
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}

	now := m.opts.Now()
	transcript := s.lines()
	for _, a := range s.agents {
		a.Disengage(s.id)
	}
	if m.opts.Lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.opts.Lease.Release(ctx, s.id, s.agents[0].ID, s.agents[1].ID); err != nil {
			m.opts.Logger.Warn("conversation lease release failed", "session_id", s.id, "error", err)
		}
		cancel()
	}
	for _, a := range s.agents {
		other := s.other(a.ID)
		m.remember(a, other, s.id, reason, transcript, now)
		a.UpdateRelation(other.ID, func(r core.Relation) core.Relation {
			return r.Strengthen(m.opts.RelationDelta, now)
		})
	}
	s.transition(StateClosed)

	m.mu.Lock()
	delete(m.active, s.id)
	m.closed = append(m.closed, s)
	if m.opts.History >= 0 && len(m.closed) > m.opts.History {
		m.closed = m.closed[len(m.closed)-m.opts.History:]
	}
	m.mu.Unlock()

	m.opts.Logger.Info("conversation ended", "session_id", s.id, "reason", reason, "turns", len(transcript))
	m.opts.Publisher.Publish(core.NewEvent(core.EventConversationEnded, s.agents[0].ID, reason).
		WithSession(s.id).WithData("turns", len(transcript)))
	return true
}

func (m *Manager) remember(a, other *core.Agent, sessionID, reason string, transcript []Line, now time.Time) {
	if m.memory == nil {
		return
	}
	content := fmt.Sprintf("Talked with %s (%d lines).", other.Name, len(transcript))
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Speaker == other.ID {
			content += fmt.Sprintf(" %s said: %q", other.Name, transcript[i].Text)
			break
		}
	}
	importance := 3 + len(transcript)/3
	if importance > 8 {
		importance = 8
	}
	_, err := m.memory.Append(a.ID, core.MemoryEntry{
		Content:       content,
		Type:          core.MemoryInteraction,
		Importance:    importance,
		Timestamp:     now,
		RelatedAgents: []string{other.ID},
		Tags:          []string{"session:" + sessionID, "reason:" + reason},
	})
	if err != nil {
		m.opts.Logger.Error("failed to store interaction memory", "agent_id", a.ID, "error", err)
	}
}

// ExpireIdle ends every active session idle for longer than the idle timeout
// and returns how many were ended.
func (m *Manager) ExpireIdle(now time.Time) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	m.mu.RLock()
	var stale []string
	for id, s := range m.active {
		if s.idleSince(now) > m.opts.IdleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.End(id, "idle_timeout") {
			n++
		}
	}
	return n
}

// Run sweeps idle sessions until ctx ends, then closes the manager.
func (m *Manager) Run(ctx context.Context) {
	interval := m.opts.IdleTimeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ExpireIdle(m.opts.Now())
		}
	}
}

// Close ends all sessions and waits for their turn goroutines.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

// Session returns a snapshot of an active or recently closed session.
func (m *Manager) Session(id string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.active[id]; ok {
		return s.snapshot(), true
	}
	for i := len(m.closed) - 1; i >= 0; i-- {
		if m.closed[i].id == id {
			return m.closed[i].snapshot(), true
		}
	}
	return Snapshot{}, false
}

// Active returns snapshots of all open sessions ordered by start time.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Recent returns snapshots of closed sessions, oldest first.
func (m *Manager) Recent() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.closed))
	for _, s := range m.closed {
		out = append(out, s.snapshot())
	}
	return out
}

// SessionFor returns the open session the agent takes part in.
func (m *Manager) SessionFor(agentID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.active {
		if s.agents[0].ID == agentID || s.agents[1].ID == agentID {
			return s.snapshot(), true
		}
	}
	return Snapshot{}, false
}

// Wait blocks until the session's turn goroutine has exited.
func (m *Manager) Wait(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	s, ok := m.active[sessionID]
	if !ok {
		for _, c := range m.closed {
			if c.id == sessionID {
				s, ok = c, true
			}
		}
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
