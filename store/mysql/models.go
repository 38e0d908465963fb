package mysql

import (
	"strings"
	"time"

	"github.com/hupe1980/agenttown/core"
)

// AgentRow is the parent row of a record.
type AgentRow struct {
	AgentID   string    `gorm:"primaryKey;size:64"`
	SavedAt   time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (AgentRow) TableName() string { return "agent_records" }

// MemoryRow is one memory of an agent.
type MemoryRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	AgentID       string    `gorm:"index;size:64;not null"`
	Content       string    `gorm:"type:text;not null"`
	Type          string    `gorm:"size:16;not null"`
	Importance    int       `gorm:"not null"`
	Timestamp     time.Time `gorm:"not null"`
	Tags          string    `gorm:"type:text"`
	RelatedAgents string    `gorm:"type:text"`
	Location      string    `gorm:"size:128"`
	Seq           uint64    `gorm:"not null"`
}

// TableName pins the table name.
func (MemoryRow) TableName() string { return "agent_memories" }

// TaskRow is one task of an agent.
type TaskRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	AgentID     string `gorm:"index;size:64;not null"`
	Description string `gorm:"type:text;not null"`
	Category    string `gorm:"size:16;not null"`
	Target      string `gorm:"size:128"`
	Priority    int    `gorm:"not null"`
	CreatedAt   time.Time
	Completed   bool `gorm:"default:false"`
	Failed      bool `gorm:"default:false"`
	Attempts    int
	CompletedAt *time.Time
	Seq         uint64 `gorm:"not null"`
}

// TableName pins the table name.
func (TaskRow) TableName() string { return "agent_tasks" }

// RelationRow is one directed relation.
type RelationRow struct {
	AgentID         string  `gorm:"primaryKey;size:64"`
	OtherID         string  `gorm:"primaryKey;size:64"`
	Type            string  `gorm:"size:16;not null"`
	Strength        float64 `gorm:"not null"`
	LastInteraction time.Time
}

// TableName pins the table name.
func (RelationRow) TableName() string { return "agent_relations" }

// rows is a record split into table rows.
type rows struct {
	agent     AgentRow
	memories  []MemoryRow
	tasks     []TaskRow
	relations []RelationRow
}

const listSep = "\x1f"

func joinList(items []string) string {
	return strings.Join(items, listSep)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

func toRows(rec core.Record) rows {
	r := rows{agent: AgentRow{AgentID: rec.AgentID, SavedAt: rec.SavedAt.UTC()}}
	for _, m := range rec.Memories {
		r.memories = append(r.memories, MemoryRow{
			ID:            m.ID,
			AgentID:       rec.AgentID,
			Content:       m.Content,
			Type:          string(m.Type),
			Importance:    m.Importance,
			Timestamp:     m.Timestamp.UTC(),
			Tags:          joinList(m.Tags),
			RelatedAgents: joinList(m.RelatedAgents),
			Location:      m.Location,
			Seq:           m.Seq,
		})
	}
	for _, t := range rec.Tasks {
		row := TaskRow{
			ID:          t.ID,
			AgentID:     rec.AgentID,
			Description: t.Description,
			Category:    string(t.Category),
			Target:      t.Target,
			Priority:    t.Priority,
			CreatedAt:   t.CreatedAt.UTC(),
			Completed:   t.Completed,
			Failed:      t.Failed,
			Attempts:    t.Attempts,
			Seq:         t.Seq,
		}
		if !t.CompletedAt.IsZero() {
			at := t.CompletedAt.UTC()
			row.CompletedAt = &at
		}
		r.tasks = append(r.tasks, row)
	}
	for other, rel := range rec.Relations {
		r.relations = append(r.relations, RelationRow{
			AgentID:         rec.AgentID,
			OtherID:         other,
			Type:            string(rel.Type),
			Strength:        rel.Strength,
			LastInteraction: rel.LastInteraction.UTC(),
		})
	}
	return r
}

func fromRows(r rows) core.Record {
	rec := core.Record{
		AgentID:   r.agent.AgentID,
		SavedAt:   r.agent.SavedAt,
		Relations: make(map[string]core.Relation, len(r.relations)),
	}
	for _, m := range r.memories {
		rec.Memories = append(rec.Memories, core.MemoryEntry{
			ID:            m.ID,
			AgentID:       m.AgentID,
			Content:       m.Content,
			Type:          core.MemoryType(m.Type),
			Importance:    m.Importance,
			Timestamp:     m.Timestamp,
			Tags:          splitList(m.Tags),
			RelatedAgents: splitList(m.RelatedAgents),
			Location:      m.Location,
			Seq:           m.Seq,
		})
	}
	for _, t := range r.tasks {
		task := core.Task{
			ID:          t.ID,
			Description: t.Description,
			Category:    core.TaskCategory(t.Category),
			Target:      t.Target,
			Priority:    t.Priority,
			CreatedAt:   t.CreatedAt,
			Completed:   t.Completed,
			Failed:      t.Failed,
			Attempts:    t.Attempts,
			Seq:         t.Seq,
		}
		if t.CompletedAt != nil {
			task.CompletedAt = *t.CompletedAt
		}
		rec.Tasks = append(rec.Tasks, task)
	}
	for _, rel := range r.relations {
		rec.Relations[rel.OtherID] = core.Relation{
			Type:            core.RelationType(rel.Type),
			Strength:        rel.Strength,
			LastInteraction: rel.LastInteraction,
		}
	}
	return rec
}
