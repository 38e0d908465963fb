package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/internal/testutil"
)

func openTemp(t *testing.T) core.RecordStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestStore_Contract(t *testing.T) {
	testutil.RunRecordStoreTests(t, openTemp)
}

func TestStore_WritesVersionedFile(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := testutil.NewRecordBuilder("ada").Memory(6, "saw a fox").Relation("bo", 0.3).Build()
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), "ada.toml"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{"version = 1", "agent_id = ", "saw a fox", "[[relations]]"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in file:\n%s", want, text)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(s.Dir(), ".record-*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestStore_RejectsNewerVersion(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "ada.toml"), []byte("version = 99\nagent_id = \"ada\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = s.Load(context.Background(), "ada")
	if err == nil || !strings.Contains(err.Error(), "unsupported record schema version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestStore_RejectsPathIDs(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(context.Background(), core.Record{AgentID: "../escape"}); err == nil {
		t.Fatal("expected error for path-like agent id")
	}
	_, err = s.Load(context.Background(), "a/b")
	if err == nil || errors.Is(err, core.ErrRecordNotFound) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestStore_ListIgnoresForeignFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600)
	_ = os.WriteFile(filepath.Join(s.Dir(), ".record-1.toml.tmp"), []byte("x"), 0o600)
	if err := s.Save(context.Background(), testutil.NewRecordBuilder("bo").Build()); err != nil {
		t.Fatalf("save: %v", err)
	}
	ids, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "bo" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestStore_FinishedTasksReload(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := time.Date(2024, 3, 1, 9, 30, 0, 123, time.UTC)
	rec := core.Record{
		AgentID: "ada",
		Tasks: []core.Task{
			{ID: "t1", Description: "walk home", Category: core.TaskMove, Target: "home", Priority: 2, Completed: true, Attempts: 1, CompletedAt: done},
			{ID: "t2", Description: "reflect", Category: core.TaskReflect, Priority: 1, Failed: true, Completed: true, CompletedAt: done.Add(time.Minute)},
			{ID: "t3", Description: "visit bo", Category: core.TaskConverse, Target: "bo", Priority: 5},
		},
	}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(context.Background(), "ada")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got.Tasks))
	}
	if !got.Tasks[0].CompletedAt.Equal(done) || !got.Tasks[0].Completed {
		t.Fatalf("completed task not restored: %+v", got.Tasks[0])
	}
	if !got.Tasks[1].Failed || !got.Tasks[1].CompletedAt.Equal(done.Add(time.Minute)) {
		t.Fatalf("failed task not restored: %+v", got.Tasks[1])
	}
	if !got.Tasks[2].CompletedAt.IsZero() || got.Tasks[2].Completed {
		t.Fatalf("pending task should stay open: %+v", got.Tasks[2])
	}
}
