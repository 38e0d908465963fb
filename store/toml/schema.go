package toml

import (
	"fmt"
	"time"

	"github.com/hupe1980/agenttown/core"
)

const currentRecordSchemaVersion = 1

type recordFileSchema struct {
	Version   int              `toml:"version"`
	AgentID   string           `toml:"agent_id"`
	SavedAt   time.Time        `toml:"saved_at"`
	Tasks     []taskSchema     `toml:"tasks"`
	Memories  []memorySchema   `toml:"memories"`
	Relations []relationSchema `toml:"relations"`
}

type taskSchema struct {
	ID          string    `toml:"id"`
	Description string    `toml:"description"`
	Category    string    `toml:"category"`
	Target      string    `toml:"target,omitempty"`
	Priority    int       `toml:"priority"`
	CreatedAt   time.Time `toml:"created_at"`
	Completed   bool      `toml:"completed"`
	Failed      bool      `toml:"failed,omitempty"`
	Attempts    int       `toml:"attempts,omitempty"`
	CompletedAt time.Time `toml:"completed_at"`
	Seq         int64     `toml:"seq"`
}

type memorySchema struct {
	ID            string    `toml:"id"`
	Content       string    `toml:"content"`
	Type          string    `toml:"type"`
	Importance    int       `toml:"importance"`
	Timestamp     time.Time `toml:"timestamp"`
	Tags          []string  `toml:"tags,omitempty"`
	RelatedAgents []string  `toml:"related_agents,omitempty"`
	Location      string    `toml:"location,omitempty"`
	Seq           int64     `toml:"seq"`
}

type relationSchema struct {
	AgentID         string    `toml:"agent_id"`
	Type            string    `toml:"type"`
	Strength        float64   `toml:"strength"`
	LastInteraction time.Time `toml:"last_interaction"`
}

func (s *recordFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentRecordSchemaVersion
	}
}

func (s recordFileSchema) validateVersion() error {
	if s.Version > currentRecordSchemaVersion {
		return fmt.Errorf("unsupported record schema version %d (current %d)", s.Version, currentRecordSchemaVersion)
	}
	return nil
}

func toSchema(rec core.Record) recordFileSchema {
	file := recordFileSchema{
		Version: currentRecordSchemaVersion,
		AgentID: rec.AgentID,
		SavedAt: rec.SavedAt.UTC(),
	}
	for _, t := range rec.Tasks {
		ts := taskSchema{
			ID:          t.ID,
			Description: t.Description,
			Category:    string(t.Category),
			Target:      t.Target,
			Priority:    t.Priority,
			CreatedAt:   t.CreatedAt.UTC(),
			Completed:   t.Completed,
			Failed:      t.Failed,
			Attempts:    t.Attempts,
			Seq:         int64(t.Seq),
		}
		if !t.CompletedAt.IsZero() {
			ts.CompletedAt = t.CompletedAt.UTC()
		}
		file.Tasks = append(file.Tasks, ts)
	}
	for _, m := range rec.Memories {
		file.Memories = append(file.Memories, memorySchema{
			ID:            m.ID,
			Content:       m.Content,
			Type:          string(m.Type),
			Importance:    m.Importance,
			Timestamp:     m.Timestamp.UTC(),
			Tags:          m.Tags,
			RelatedAgents: m.RelatedAgents,
			Location:      m.Location,
			Seq:           int64(m.Seq),
		})
	}
	for id, r := range rec.Relations {
		file.Relations = append(file.Relations, relationSchema{
			AgentID:         id,
			Type:            string(r.Type),
			Strength:        r.Strength,
			LastInteraction: r.LastInteraction.UTC(),
		})
	}
	return file
}

func fromSchema(file recordFileSchema) core.Record {
	rec := core.Record{
		AgentID:   file.AgentID,
		SavedAt:   file.SavedAt,
		Relations: make(map[string]core.Relation, len(file.Relations)),
	}
	for _, ts := range file.Tasks {
		t := core.Task{
			ID:          ts.ID,
			Description: ts.Description,
			Category:    core.TaskCategory(ts.Category),
			Target:      ts.Target,
			Priority:    ts.Priority,
			CreatedAt:   ts.CreatedAt,
			Completed:   ts.Completed,
			Failed:      ts.Failed,
			Attempts:    ts.Attempts,
			Seq:         uint64(ts.Seq),
		}
		if !ts.CompletedAt.IsZero() {
			t.CompletedAt = ts.CompletedAt
		}
		rec.Tasks = append(rec.Tasks, t)
	}
	for _, ms := range file.Memories {
		rec.Memories = append(rec.Memories, core.MemoryEntry{
			ID:            ms.ID,
			AgentID:       file.AgentID,
			Content:       ms.Content,
			Type:          core.MemoryType(ms.Type),
			Importance:    ms.Importance,
			Timestamp:     ms.Timestamp,
			Tags:          ms.Tags,
			RelatedAgents: ms.RelatedAgents,
			Location:      ms.Location,
			Seq:           uint64(ms.Seq),
		})
	}
	for _, rs := range file.Relations {
		rec.Relations[rs.AgentID] = core.Relation{
			Type:            core.RelationType(rs.Type),
			Strength:        rs.Strength,
			LastInteraction: rs.LastInteraction,
		}
	}
	return rec
}
