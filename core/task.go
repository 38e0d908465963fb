package core

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// TaskCategory selects the executor path of a task.
type TaskCategory string

const (
	TaskMove     TaskCategory = "move"
	TaskConverse TaskCategory = "converse"
	TaskReflect  TaskCategory = "reflect"
)

// Valid reports whether c is one of the known categories.
func (c TaskCategory) Valid() bool {
	switch c {
	case TaskMove, TaskConverse, TaskReflect:
		return true
	}
	return false
}

// Task is a unit of intended work. Target is a location for move tasks and
// an agent id for converse tasks.
type Task struct {
	ID          string       `json:"id" toml:"id"`
	Description string       `json:"description" toml:"description"`
	Category    TaskCategory `json:"category" toml:"category"`
	Target      string       `json:"target,omitempty" toml:"target"`
	Priority    int          `json:"priority" toml:"priority"`
	CreatedAt   time.Time    `json:"created_at" toml:"created_at"`
	Completed   bool         `json:"completed" toml:"completed"`
	Failed      bool         `json:"failed,omitempty" toml:"failed"`
	Attempts    int          `json:"attempts,omitempty" toml:"attempts"`
	CompletedAt time.Time    `json:"completed_at,omitempty" toml:"completed_at"`
	Seq         uint64       `json:"seq" toml:"seq"`
}

// Before reports whether t is executed before o: higher priority first,
// then older creation time, then earlier insertion.
func (t Task) Before(o Task) bool {
	if t.Priority != o.Priority {
		return t.Priority > o.Priority
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.Seq < o.Seq
}

type taskHeap []Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// TaskQueue is the per-agent priority queue of pending tasks plus the list of
// finished tasks kept for the retention window. Safe for concurrent use.
type TaskQueue struct {
	mu      sync.Mutex
	pending taskHeap
	done    []Task
	seq     uint64
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends tasks. Missing ids and creation times are filled in. Existing
// tasks are never replaced. The stored tasks are returned.
func (q *TaskQueue) Push(tasks ...Task) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = NewID()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		q.seq++
		t.Seq = q.seq
		heap.Push(&q.pending, t)
		out = append(out, t)
	}
	return out
}

// Pop removes and returns the next task to execute.
func (q *TaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Task{}, false
	}
	return heap.Pop(&q.pending).(Task), true
}

// PopMatching removes the best pending task accepted by keep.
func (q *TaskQueue) PopMatching(keep func(Task) bool) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, t := range q.pending {
		if keep(t) && (best < 0 || t.Before(q.pending[best])) {
			best = i
		}
	}
	if best < 0 {
		return Task{}, false
	}
	return heap.Remove(&q.pending, best).(Task), true
}

// Peek returns the next task without removing it.
func (q *TaskQueue) Peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Task{}, false
	}
	return q.pending[0], true
}

// Requeue puts a popped task back keeping its original position keys.
func (q *TaskQueue) Requeue(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.pending, t)
}

// Finish records a popped task as completed (or failed) at the given time.
func (q *TaskQueue) Finish(t Task, failed bool, at time.Time) Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	t.Completed = true
	t.Failed = failed
	t.CompletedAt = at
	q.done = append(q.done, t)
	return t
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the pending tasks in execution order.
func (q *TaskQueue) Pending() []Task {
	q.mu.Lock()
	out := append([]Task(nil), q.pending...)
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Done returns the finished tasks in completion order.
func (q *TaskQueue) Done() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.done...)
}

// Prune drops finished tasks completed before the cutoff and returns how many
// were removed.
func (q *TaskQueue) Prune(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.done[:0]
	for _, t := range q.done {
		if t.CompletedAt.After(cutoff) {
			kept = append(kept, t)
		}
	}
	removed := len(q.done) - len(kept)
	q.done = kept
	return removed
}

// Snapshot returns pending and finished tasks, pending first in execution
// order. Used for persistence.
func (q *TaskQueue) Snapshot() []Task {
	return append(q.Pending(), q.Done()...)
}

// Restore replaces the queue content with persisted tasks.
func (q *TaskQueue) Restore(tasks []Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = q.pending[:0]
	q.done = q.done[:0]
	q.seq = 0
	for _, t := range tasks {
		if t.Seq > q.seq {
			q.seq = t.Seq
		}
	}
	for _, t := range tasks {
		if t.Seq == 0 {
			q.seq++
			t.Seq = q.seq
		}
		if t.Completed {
			q.done = append(q.done, t)
			continue
		}
		q.pending = append(q.pending, t)
	}
	heap.Init(&q.pending)
}
