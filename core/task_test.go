package core

import (
	"testing"
	"time"
)

func TestTaskQueue_PriorityThenAge(t *testing.T) {
	q := NewTaskQueue()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.Push(
		Task{Description: "p3", Priority: 3, CreatedAt: base},
		Task{Description: "p8", Priority: 8, CreatedAt: base},
		Task{Description: "p8 older", Priority: 8, CreatedAt: base.Add(-time.Hour)},
	)

	want := []string{"p8 older", "p8", "p3"}
	for _, w := range want {
		got, ok := q.Pop()
		if !ok || got.Description != w {
			t.Fatalf("got %q (%v), want %q", got.Description, ok, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestTaskQueue_EqualKeysUseInsertionOrder(t *testing.T) {
	q := NewTaskQueue()
	at := time.Now()
	q.Push(Task{Description: "first", Priority: 1, CreatedAt: at}, Task{Description: "second", Priority: 1, CreatedAt: at})

	if got, _ := q.Pop(); got.Description != "first" {
		t.Fatalf("expected first, got %q", got.Description)
	}
}

func TestTaskQueue_RequeueFinishPrune(t *testing.T) {
	q := NewTaskQueue()
	q.Push(Task{Description: "a", Priority: 5}, Task{Description: "b", Priority: 1})

	a, _ := q.Pop()
	q.Requeue(a)
	if p, _ := q.Peek(); p.ID != a.ID {
		t.Fatalf("requeued task should keep its position")
	}

	a, _ = q.Pop()
	old := time.Now().Add(-2 * time.Hour)
	done := q.Finish(a, false, old)
	if !done.Completed || done.Failed {
		t.Fatalf("finish did not mark completion: %+v", done)
	}
	if q.Len() != 1 || len(q.Done()) != 1 {
		t.Fatalf("unexpected sizes pending=%d done=%d", q.Len(), len(q.Done()))
	}
	if n := q.Prune(time.Now().Add(-time.Hour)); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
}

func TestTaskQueue_SnapshotRestore(t *testing.T) {
	q := NewTaskQueue()
	q.Push(Task{Description: "x", Priority: 2}, Task{Description: "y", Priority: 9})
	x, _ := q.Pop()
	q.Finish(x, true, time.Now())

	snap := q.Snapshot()
	r := NewTaskQueue()
	r.Restore(snap)

	if r.Len() != 1 || len(r.Done()) != 1 {
		t.Fatalf("restore mismatch pending=%d done=%d", r.Len(), len(r.Done()))
	}
	added := r.Push(Task{Description: "z", Priority: 9})
	if added[0].Seq <= snap[0].Seq {
		t.Fatalf("sequence must continue after restore")
	}
}

func TestTaskQueue_PopMatching(t *testing.T) {
	q := NewTaskQueue()
	q.Push(
		Task{Description: "walk", Category: TaskMove, Priority: 9},
		Task{Description: "think", Category: TaskReflect, Priority: 2},
		Task{Description: "ponder", Category: TaskReflect, Priority: 4},
	)

	got, ok := q.PopMatching(func(t Task) bool { return t.Category == TaskReflect })
	if !ok || got.Description != "ponder" {
		t.Fatalf("expected best reflect task, got %+v ok=%v", got, ok)
	}
	if _, ok := q.PopMatching(func(t Task) bool { return t.Category == TaskConverse }); ok {
		t.Fatal("expected no converse task")
	}

	next, _ := q.Pop()
	if next.Description != "walk" {
		t.Fatalf("heap order broken after removal, got %q", next.Description)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one pending task, got %d", q.Len())
	}
}
