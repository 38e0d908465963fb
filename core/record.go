package core

import (
	"context"
	"time"
)

// Record is the persisted state of one agent.
type Record struct {
	AgentID   string              `json:"agent_id" toml:"agent_id"`
	Tasks     []Task              `json:"tasks" toml:"tasks"`
	Memories  []MemoryEntry       `json:"memories" toml:"memories"`
	Relations map[string]Relation `json:"relations" toml:"relations"`
	SavedAt   time.Time           `json:"saved_at" toml:"saved_at"`
}

// RecordStore persists agent records. Load returns ErrRecordNotFound for
// unknown agents.
type RecordStore interface {
	Load(ctx context.Context, agentID string) (Record, error)
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// SnapshotRecord captures an agent's tasks and relations together with the
// given memories.
func SnapshotRecord(a *Agent, memories []MemoryEntry, now time.Time) Record {
	return Record{
		AgentID:   a.ID,
		Tasks:     a.Tasks.Snapshot(),
		Memories:  memories,
		Relations: a.Relations(),
		SavedAt:   now,
	}
}
