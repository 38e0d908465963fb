package mysql

import (
	"os"
	"testing"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/internal/testutil"
)

func TestRowsRoundTrip(t *testing.T) {
	want := testutil.NewRecordBuilder("ada").
		Memory(7, "found a shortcut", "route", "city").
		Interaction("bo", "Bo lent me a book").
		Task("walk to the park", core.TaskMove, "park", 4).
		DoneTask("reflect", core.TaskReflect).
		Relation("bo", 0.6).
		Build()

	r := toRows(want)
	if len(r.memories) != 2 || len(r.tasks) != 2 || len(r.relations) != 1 {
		t.Fatalf("unexpected row counts: %d memories, %d tasks, %d relations", len(r.memories), len(r.tasks), len(r.relations))
	}
	if r.tasks[0].CompletedAt != nil || r.tasks[1].CompletedAt == nil {
		t.Fatal("completed_at should only be set for finished tasks")
	}
	if r.relations[0].AgentID != "ada" || r.relations[0].OtherID != "bo" {
		t.Fatalf("unexpected relation row %+v", r.relations[0])
	}
	testutil.AssertRecordEqual(t, want, fromRows(r))
}

func TestListEncoding(t *testing.T) {
	cases := [][]string{nil, {"a"}, {"a", "b c", ""}, {"x,y", "z"}}
	for _, c := range cases {
		got := splitList(joinList(c))
		if len(c) == 0 {
			if got != nil {
				t.Fatalf("expected nil for empty list, got %v", got)
			}
			continue
		}
		if len(got) != len(c) {
			t.Fatalf("round trip of %q gave %q", c, got)
		}
		for i := range c {
			if got[i] != c[i] {
				t.Fatalf("round trip of %q gave %q", c, got)
			}
		}
	}
}

func TestEnsureParam(t *testing.T) {
	if got := ensureParam("user@tcp(db)/town", "parseTime", "true"); got != "user@tcp(db)/town?parseTime=true" {
		t.Fatalf("unexpected dsn %s", got)
	}
	if got := ensureParam("u@/town?charset=utf8", "parseTime", "true"); got != "u@/town?charset=utf8&parseTime=true" {
		t.Fatalf("unexpected dsn %s", got)
	}
	if got := ensureParam("u@/town?parseTime=false", "parseTime", "true"); got != "u@/town?parseTime=false" {
		t.Fatalf("existing param must be kept, got %s", got)
	}
}

func TestStore_Contract(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	testutil.RunRecordStoreTests(t, func(t *testing.T) core.RecordStore {
		s, err := Open(dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for _, model := range []any{&MemoryRow{}, &TaskRow{}, &RelationRow{}, &AgentRow{}} {
			s.db.Where("1 = 1").Delete(model)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
