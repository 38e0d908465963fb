package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/internal/testutil"
)

func openTemp(t *testing.T) core.RecordStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "town.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	testutil.RunRecordStoreTests(t, openTemp)
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, testutil.NewRecordBuilder("ada").Memory(5, "hello").Build()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Delete(ctx, "ada"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no records after delete, got %v", ids)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "town.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := testutil.NewRecordBuilder("bo").Task("nap", core.TaskReflect, "", 2).Build()
	if err := s.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(context.Background(), "bo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	testutil.AssertRecordEqual(t, want, got)
}
