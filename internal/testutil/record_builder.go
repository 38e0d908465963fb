package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/agenttown/core"
)

// Base is the fixed clock origin used by builders.
var Base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// RecordBuilder provides a fluent helper for constructing records in tests.
// Example:
//
//	rec := NewRecordBuilder("ada").Memory(5, "met Bo").Task("walk", core.TaskMove, "park", 3).Build()
type RecordBuilder struct {
	rec  core.Record
	next int
}

// NewRecordBuilder starts a record for agentID saved at Base.
func NewRecordBuilder(agentID string) *RecordBuilder {
	return &RecordBuilder{rec: core.Record{
		AgentID:   agentID,
		Relations: map[string]core.Relation{},
		SavedAt:   Base,
	}}
}

func (b *RecordBuilder) tick() time.Time {
	b.next++
	return Base.Add(time.Duration(b.next) * time.Minute)
}

// Memory appends a personal memory with the given importance (chainable).
func (b *RecordBuilder) Memory(importance int, content string, tags ...string) *RecordBuilder {
	seq := uint64(len(b.rec.Memories) + 1)
	b.rec.Memories = append(b.rec.Memories, core.MemoryEntry{
		ID:         fmt.Sprintf("%s-m%d", b.rec.AgentID, seq),
		AgentID:    b.rec.AgentID,
		Content:    content,
		Type:       core.MemoryPersonal,
		Importance: importance,
		Timestamp:  b.tick(),
		Tags:       tags,
		Seq:        seq,
	})
	return b
}

// Interaction appends an interaction memory about other (chainable).
func (b *RecordBuilder) Interaction(other, content string) *RecordBuilder {
	b.Memory(5, content)
	m := &b.rec.Memories[len(b.rec.Memories)-1]
	m.Type = core.MemoryInteraction
	m.RelatedAgents = []string{other}
	return b
}

// Task appends a pending task (chainable).
func (b *RecordBuilder) Task(desc string, cat core.TaskCategory, target string, priority int) *RecordBuilder {
	seq := uint64(len(b.rec.Tasks) + 1)
	b.rec.Tasks = append(b.rec.Tasks, core.Task{
		ID:          fmt.Sprintf("%s-t%d", b.rec.AgentID, seq),
		Description: desc,
		Category:    cat,
		Target:      target,
		Priority:    priority,
		CreatedAt:   b.tick(),
		Seq:         seq,
	})
	return b
}

// DoneTask appends a completed task (chainable).
func (b *RecordBuilder) DoneTask(desc string, cat core.TaskCategory) *RecordBuilder {
	b.Task(desc, cat, "", 1)
	t := &b.rec.Tasks[len(b.rec.Tasks)-1]
	t.Completed = true
	t.Attempts = 1
	t.CompletedAt = b.tick()
	return b
}

// Relation sets the relation towards other (chainable).
func (b *RecordBuilder) Relation(other string, strength float64) *RecordBuilder {
	b.rec.Relations[other] = core.Relation{}.Strengthen(strength, b.tick())
	return b
}

// Build returns the record.
func (b *RecordBuilder) Build() core.Record { return b.rec }

// NewAgent creates an agent with the named personality template, or an empty
// personality when the template is unknown.
func NewAgent(id, name, template string) *core.Agent {
	p, _ := core.PersonalityTemplate(template)
	return core.NewAgent(id, name, p)
}
