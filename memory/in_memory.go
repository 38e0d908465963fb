package memory

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agenttown/core"
)

// Options configures an InMemoryStore.
type Options struct {
	// Cap bounds each partition; appends beyond it trigger eviction. 0 means
	// unbounded.
	Cap int
	// Now stamps entries appended without a timestamp.
	Now func() time.Time
}

type partition struct {
	mu      sync.Mutex
	entries []core.MemoryEntry // insertion order
	seq     uint64
}

// InMemoryStore is a process-local MemoryStore.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	opts       Options
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Now: func() time.Time { return time.Now().UTC() }}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{partitions: map[string]*partition{}, opts: opts}
}

func (s *InMemoryStore) partition(agentID string, create bool) *partition {
	s.mu.RLock()
	p, ok := s.partitions[agentID]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[agentID]; !ok {
		p = &partition{}
		s.partitions[agentID] = p
	}
	return p
}

// Append validates and stores entry for agentID.
func (s *InMemoryStore) Append(agentID string, entry core.MemoryEntry) (core.MemoryEntry, error) {
	if err := entry.Validate(); err != nil {
		return core.MemoryEntry{}, fmt.Errorf("append memory for %s: %w", agentID, err)
	}
	if entry.ID == "" {
		entry.ID = core.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.opts.Now()
	}
	if entry.Type == "" {
		entry.Type = core.MemoryPersonal
	}
	entry.AgentID = agentID
	entry = clone(entry)

	p := s.partition(agentID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	entry.Seq = p.seq
	p.entries = append(p.entries, entry)
	if s.opts.Cap > 0 && len(p.entries) > s.opts.Cap {
		p.evictLocked(s.opts.Cap)
	}
	return clone(entry), nil
}

// RankedRetrieve returns up to maxCount entries in rank order.
func (s *InMemoryStore) RankedRetrieve(agentID string, maxCount int) []core.MemoryEntry {
	return s.RankedRetrieveFunc(agentID, maxCount, nil)
}

// RankedRetrieveFunc ranks the entries accepted by keep (all if nil).
func (s *InMemoryStore) RankedRetrieveFunc(agentID string, maxCount int, keep func(core.MemoryEntry) bool) []core.MemoryEntry {
	p := s.partition(agentID, false)
	if p == nil {
		return []core.MemoryEntry{}
	}

	p.mu.Lock()
	out := make([]core.MemoryEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if keep == nil || keep(e) {
			out = append(out, clone(e))
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RanksBefore(out[j]) })
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// Digest renders the top maxCount memories as a prompt block.
func (s *InMemoryStore) Digest(agentID string, maxCount int) string {
	return core.FormatMemories(s.RankedRetrieve(agentID, maxCount))
}

// Evict trims the partition to cap entries.
func (s *InMemoryStore) Evict(agentID string, cap int) int {
	if cap < 0 {
		cap = 0
	}
	p := s.partition(agentID, false)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictLocked(cap)
}

func (p *partition) evictLocked(cap int) int {
	excess := len(p.entries) - cap
	if excess <= 0 {
		return 0
	}

	victims := append([]core.MemoryEntry(nil), p.entries...)
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})

	drop := make(map[uint64]struct{}, excess)
	for _, v := range victims[:excess] {
		drop[v.Seq] = struct{}{}
	}
	kept := p.entries[:0]
	for _, e := range p.entries {
		if _, ok := drop[e.Seq]; !ok {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = core.MemoryEntry{}
	}
	p.entries = kept
	return excess
}

// Count returns the number of entries held for agentID.
func (s *InMemoryStore) Count(agentID string) int {
	p := s.partition(agentID, false)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// All returns the partition in insertion order.
func (s *InMemoryStore) All(agentID string) []core.MemoryEntry {
	p := s.partition(agentID, false)
	if p == nil {
		return []core.MemoryEntry{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.MemoryEntry, len(p.entries))
	for i, e := range p.entries {
		out[i] = clone(e)
	}
	return out
}

// Restore replaces the partition with persisted entries. Entries are
// validated; insertion order follows their stored sequence numbers.
func (s *InMemoryStore) Restore(agentID string, entries []core.MemoryEntry) error {
	restored := make([]core.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("restore memory %s for %s: %w", e.ID, agentID, err)
		}
		e.AgentID = agentID
		restored = append(restored, clone(e))
	}
	sort.SliceStable(restored, func(i, j int) bool { return restored[i].Seq < restored[j].Seq })

	p := s.partition(agentID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq = 0
	for i := range restored {
		if restored[i].Seq <= p.seq {
			restored[i].Seq = p.seq + 1
		}
		p.seq = restored[i].Seq
	}
	p.entries = restored
	return nil
}

// clone detaches the slice fields so stored entries stay immutable.
func clone(e core.MemoryEntry) core.MemoryEntry {
	e.Tags = slices.Clone(e.Tags)
	e.RelatedAgents = slices.Clone(e.RelatedAgents)
	return e
}
