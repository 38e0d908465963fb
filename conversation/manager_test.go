package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/memory"
)

type scriptedLines struct {
	mu    sync.Mutex
	turns []Turn
	calls []string
}

func (s *scriptedLines) NextLine(_ context.Context, speaker, _ *core.Agent, _ []Line) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, speaker.ID)
	if len(s.turns) == 0 {
		return Turn{}, errors.New("script exhausted")
	}
	t := s.turns[0]
	s.turns = s.turns[1:]
	return t, nil
}

type stubLease struct {
	grant    bool
	released atomic.Int32
}

func (l *stubLease) Acquire(context.Context, string, ...string) (bool, error) { return l.grant, nil }

func (l *stubLease) Release(context.Context, string, ...string) error {
	l.released.Add(1)
	return nil
}

func newPair() (*core.Agent, *core.Agent) {
	return core.NewAgent("alice", "Alice", core.Personality{}), core.NewAgent("bob", "Bob", core.Personality{})
}

func interactions(store *memory.InMemoryStore, agentID string) []core.MemoryEntry {
	return store.RankedRetrieveFunc(agentID, 0, func(e core.MemoryEntry) bool {
		return e.Type == core.MemoryInteraction
	})
}

func TestTryStart_ConcurrentExactlyOne(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewManager(store, nil, func(o *Options) { o.TurnInterval = time.Hour })
	defer m.Close()
	a, b := newPair()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			if _, ok := m.TryStart(context.Background(), x, y); ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, m.Active(), 1)
	assert.Equal(t, core.StateTalking, a.State())
	assert.Equal(t, core.StateTalking, b.State())
}

func TestTryStart_RejectsSelfAndEngaged(t *testing.T) {
	m := NewManager(nil, nil, func(o *Options) { o.TurnInterval = time.Hour })
	defer m.Close()
	a, b := newPair()
	c := core.NewAgent("carol", "Carol", core.Personality{})

	_, ok := m.TryStart(context.Background(), a, a)
	assert.False(t, ok)

	_, ok = m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	_, ok = m.TryStart(context.Background(), c, a)
	assert.False(t, ok)
	assert.Equal(t, core.StateIdle, c.State())
}

func TestEnd_Idempotent(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewManager(store, nil, func(o *Options) { o.TurnInterval = time.Hour })
	defer m.Close()
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	var ended atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.End(id, "manual") {
				ended.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ended.Load())
	assert.False(t, m.End(id, "again"))
	assert.Len(t, interactions(store, "alice"), 1)
	assert.Len(t, interactions(store, "bob"), 1)
	assert.Equal(t, core.StateIdle, a.State())
	assert.Equal(t, core.StateIdle, b.State())

	snap, ok := m.Session(id)
	require.True(t, ok)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, "manual", snap.EndReason)

	rel, ok := a.Relation("bob")
	require.True(t, ok)
	assert.InDelta(t, 0.1, rel.Strength, 1e-9)
}

func TestEnd_UnknownSession(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Close()
	assert.False(t, m.End("missing", "manual"))
}

func TestRun_AlternatesAndEndsOnRequest(t *testing.T) {
	store := memory.NewInMemoryStore()
	lines := &scriptedLines{turns: []Turn{
		{Text: "Hi Bob."},
		{Text: "Hello <b>Alice</b>!"},
		{Text: "Bye for now.", End: true},
	}}
	m := NewManager(store, lines, func(o *Options) { o.TurnInterval = time.Millisecond })
	defer m.Close()
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, id))

	snap, ok := m.Session(id)
	require.True(t, ok)
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, "alice", snap.Transcript[0].Speaker)
	assert.Equal(t, "bob", snap.Transcript[1].Speaker)
	assert.Equal(t, "Hello Alice!", snap.Transcript[1].Text)
	assert.Equal(t, "alice", snap.Transcript[2].Speaker)
	assert.Equal(t, "ended_by_alice", snap.EndReason)
	assert.Equal(t, []string{"alice", "bob", "alice"}, lines.calls)

	mem := interactions(store, "alice")
	require.Len(t, mem, 1)
	assert.Contains(t, mem[0].Content, "Hello Alice!")
	assert.Equal(t, []string{"bob"}, mem[0].RelatedAgents)
}

func TestRun_MaxTurns(t *testing.T) {
	lines := &scriptedLines{}
	for i := 0; i < 10; i++ {
		lines.turns = append(lines.turns, Turn{Text: "more"})
	}
	m := NewManager(nil, lines, func(o *Options) {
		o.TurnInterval = time.Millisecond
		o.MaxTurns = 4
	})
	defer m.Close()
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, id))

	snap, _ := m.Session(id)
	assert.Len(t, snap.Transcript, 4)
	assert.Equal(t, "max_turns", snap.EndReason)
}

func TestExpireIdle(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := memory.NewInMemoryStore()
	m := NewManager(store, nil, func(o *Options) {
		o.TurnInterval = time.Hour
		o.IdleTimeout = time.Minute
		o.Now = clock
	})
	defer m.Close()
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	assert.Equal(t, 0, m.ExpireIdle(now.Add(30*time.Second)))
	assert.Equal(t, 1, m.ExpireIdle(now.Add(2*time.Minute)))
	assert.Equal(t, 0, m.ExpireIdle(now.Add(3*time.Minute)))

	snap, ok := m.Session(id)
	require.True(t, ok)
	assert.Equal(t, "idle_timeout", snap.EndReason)
	assert.Len(t, interactions(store, "alice"), 1)
	assert.Equal(t, core.StateIdle, a.State())
}

func TestTryStart_LeaseRefused(t *testing.T) {
	lease := &stubLease{grant: false}
	m := NewManager(nil, nil, func(o *Options) {
		o.TurnInterval = time.Hour
		o.Lease = lease
	})
	defer m.Close()
	a, b := newPair()

	_, ok := m.TryStart(context.Background(), a, b)
	assert.False(t, ok)
	assert.Equal(t, core.StateIdle, a.State())
	assert.Equal(t, core.StateIdle, b.State())
	assert.Empty(t, m.Active())
}

func TestEnd_ReleasesLease(t *testing.T) {
	lease := &stubLease{grant: true}
	m := NewManager(nil, nil, func(o *Options) {
		o.TurnInterval = time.Hour
		o.Lease = lease
	})
	defer m.Close()
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)
	require.True(t, m.End(id, "manual"))
	assert.Equal(t, int32(1), lease.released.Load())
}

func TestSanitize(t *testing.T) {
	m := NewManager(nil, nil, func(o *Options) { o.MaxLineLength = 10 })
	defer m.Close()

	assert.Equal(t, "hi there", m.sanitize("  <script>x</script>hi   <i>there</i> "))
	assert.Equal(t, "Tom & Jerr...", m.sanitize("Tom &amp; Jerry"))
	assert.Equal(t, "Tom & Jim", m.sanitize("Tom &amp; Jim"))
	assert.Equal(t, "abcdefghij...", m.sanitize("abcdefghijklmnop"))
	assert.Equal(t, "", m.sanitize("<br/>"))

	long := m.sanitize(strings.Repeat("é", 12))
	assert.Equal(t, strings.Repeat("é", 10)+"...", long)
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, "日本語のテキスト", m.sanitize("日本語のテキスト"))
}

func TestClose_EndsActiveSessions(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewManager(store, nil, func(o *Options) { o.TurnInterval = time.Hour })
	a, b := newPair()

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	m.Close()

	snap, ok := m.Session(id)
	require.True(t, ok)
	assert.Equal(t, "shutdown", snap.EndReason)
	assert.Empty(t, m.Active())
	assert.Equal(t, core.StateIdle, a.State())

	_, ok = m.TryStart(context.Background(), a, b)
	assert.False(t, ok)
}

func TestSessionFor(t *testing.T) {
	m := NewManager(nil, nil, func(o *Options) { o.TurnInterval = time.Hour })
	defer m.Close()
	a, b := newPair()

	_, ok := m.SessionFor("alice")
	assert.False(t, ok)

	id, ok := m.TryStart(context.Background(), a, b)
	require.True(t, ok)

	snap, ok := m.SessionFor("bob")
	require.True(t, ok)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, [2]string{"alice", "bob"}, snap.Participants)
}
