package core

import (
	"fmt"
	"strings"
	"time"
)

// MemoryType classifies a memory entry.
type MemoryType string

const (
	MemoryPersonal    MemoryType = "personal"
	MemoryInteraction MemoryType = "interaction"
	MemoryTask        MemoryType = "task"
	MemoryEmotion     MemoryType = "emotion"
	MemoryEvent       MemoryType = "event"
)

const (
	// MinImportance is the lowest accepted importance.
	MinImportance = 1
	// MaxImportance is the highest accepted importance.
	MaxImportance = 10
)

// MemoryEntry is one immutable memory of an agent. Seq is assigned by the
// store on append and records insertion order.
type MemoryEntry struct {
	ID            string     `json:"id" toml:"id"`
	AgentID       string     `json:"agent_id" toml:"agent_id"`
	Content       string     `json:"content" toml:"content"`
	Type          MemoryType `json:"type" toml:"type"`
	Importance    int        `json:"importance" toml:"importance"`
	Timestamp     time.Time  `json:"timestamp" toml:"timestamp"`
	Tags          []string   `json:"tags,omitempty" toml:"tags"`
	RelatedAgents []string   `json:"related_agents,omitempty" toml:"related_agents"`
	Location      string     `json:"location,omitempty" toml:"location"`
	Seq           uint64     `json:"seq" toml:"seq"`
}

// Validate checks the importance range.
func (m MemoryEntry) Validate() error {
	if m.Importance < MinImportance || m.Importance > MaxImportance {
		return fmt.Errorf("importance %d outside [%d,%d]: %w", m.Importance, MinImportance, MaxImportance, ErrInvalidEntry)
	}
	return nil
}

// RanksBefore reports whether m is retrieved before o: more important first,
// then more recent, then later insertion.
func (m MemoryEntry) RanksBefore(o MemoryEntry) bool {
	if m.Importance != o.Importance {
		return m.Importance > o.Importance
	}
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.After(o.Timestamp)
	}
	return m.Seq > o.Seq
}

// MemoryStore holds the per-agent memory partitions.
type MemoryStore interface {
	// Append validates and stores an entry, returning it as stored.
	Append(agentID string, entry MemoryEntry) (MemoryEntry, error)
	// RankedRetrieve returns up to maxCount entries in rank order; maxCount
	// <= 0 means no limit.
	RankedRetrieve(agentID string, maxCount int) []MemoryEntry
	// RankedRetrieveFunc ranks only entries accepted by keep.
	RankedRetrieveFunc(agentID string, maxCount int, keep func(MemoryEntry) bool) []MemoryEntry
	// Evict trims the partition to at most cap entries and returns how many
	// were removed.
	Evict(agentID string, cap int) int
	// All returns the partition in insertion order.
	All(agentID string) []MemoryEntry
	// Restore replaces the partition with persisted entries.
	Restore(agentID string, entries []MemoryEntry) error
}

// FormatMemories renders entries as a prompt block, one line per memory.
func FormatMemories(entries []MemoryEntry) string {
	if len(entries) == 0 {
		return "(no memories yet)"
	}
	var b strings.Builder
	for _, m := range entries {
		fmt.Fprintf(&b, "- [%s, importance %d, %s] %s\n", m.Type, m.Importance, m.Timestamp.Format("2006-01-02 15:04"), m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
