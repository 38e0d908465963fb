package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agenttown/core"
)

// RunRecordStoreTests exercises the core.RecordStore contract against the
// store returned by open. open is called once per subtest.
func RunRecordStoreTests(t *testing.T, open func(t *testing.T) core.RecordStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(ctx, "nobody")
		if !errors.Is(err, core.ErrRecordNotFound) {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		s := open(t)
		want := NewRecordBuilder("ada").
			Memory(7, "found a shortcut", "route").
			Interaction("bo", "Bo lent me a book").
			Task("walk to the park", core.TaskMove, "park", 4).
			DoneTask("reflect on the day", core.TaskReflect).
			Relation("bo", 0.6).
			Build()
		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.Load(ctx, "ada")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		AssertRecordEqual(t, want, got)
	})

	t.Run("save replaces", func(t *testing.T) {
		s := open(t)
		if err := s.Save(ctx, NewRecordBuilder("ada").Memory(3, "old").Build()); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.Save(ctx, NewRecordBuilder("ada").Memory(4, "new").Memory(5, "newer").Build()); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.Load(ctx, "ada")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got.Memories) != 2 || got.Memories[0].Content != "new" {
			t.Fatalf("expected replaced memories, got %+v", got.Memories)
		}
	})

	t.Run("list", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"cy", "ada", "bo"} {
			if err := s.Save(ctx, NewRecordBuilder(id).Build()); err != nil {
				t.Fatalf("save %s: %v", id, err)
			}
		}
		ids, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(ids) != 3 || ids[0] != "ada" || ids[1] != "bo" || ids[2] != "cy" {
			t.Fatalf("unexpected ids %v", ids)
		}
	})

	t.Run("empty record", func(t *testing.T) {
		s := open(t)
		if err := s.Save(ctx, core.Record{AgentID: "empty"}); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.Load(ctx, "empty")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got.Memories) != 0 || len(got.Tasks) != 0 || len(got.Relations) != 0 {
			t.Fatalf("expected empty record, got %+v", got)
		}
	})
}

// AssertRecordEqual compares records field by field, using time.Equal for
// timestamps.
func AssertRecordEqual(t *testing.T, want, got core.Record) {
	t.Helper()
	if got.AgentID != want.AgentID {
		t.Fatalf("agent id: want %s, got %s", want.AgentID, got.AgentID)
	}
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Fatalf("saved at: want %s, got %s", want.SavedAt, got.SavedAt)
	}
	if len(got.Memories) != len(want.Memories) {
		t.Fatalf("memories: want %d, got %d", len(want.Memories), len(got.Memories))
	}
	for i, w := range want.Memories {
		g := got.Memories[i]
		if g.ID != w.ID || g.Content != w.Content || g.Type != w.Type || g.Importance != w.Importance || g.Seq != w.Seq {
			t.Fatalf("memory %d: want %+v, got %+v", i, w, g)
		}
		if !g.Timestamp.Equal(w.Timestamp) {
			t.Fatalf("memory %d timestamp: want %s, got %s", i, w.Timestamp, g.Timestamp)
		}
		if !equalStrings(g.Tags, w.Tags) || !equalStrings(g.RelatedAgents, w.RelatedAgents) {
			t.Fatalf("memory %d lists: want %+v, got %+v", i, w, g)
		}
	}
	if len(got.Tasks) != len(want.Tasks) {
		t.Fatalf("tasks: want %d, got %d", len(want.Tasks), len(got.Tasks))
	}
	for i, w := range want.Tasks {
		g := got.Tasks[i]
		if g.ID != w.ID || g.Description != w.Description || g.Category != w.Category || g.Target != w.Target ||
			g.Priority != w.Priority || g.Completed != w.Completed || g.Attempts != w.Attempts || g.Seq != w.Seq {
			t.Fatalf("task %d: want %+v, got %+v", i, w, g)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) || !g.CompletedAt.Equal(w.CompletedAt) {
			t.Fatalf("task %d times: want %+v, got %+v", i, w, g)
		}
	}
	if len(got.Relations) != len(want.Relations) {
		t.Fatalf("relations: want %d, got %d", len(want.Relations), len(got.Relations))
	}
	for id, w := range want.Relations {
		g, ok := got.Relations[id]
		if !ok || g.Type != w.Type || g.Strength != w.Strength || !g.LastInteraction.Equal(w.LastInteraction) {
			t.Fatalf("relation %s: want %+v, got %+v", id, w, g)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
