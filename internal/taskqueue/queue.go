// Package taskqueue implements the phase-3 dependency-ordered task
// scheduler: a pending/ready/running/completed/blocked state machine over
// implementation tasks, plus the non-overlapping-files batch picker. Only
// a completed dependency satisfies an edge; blocked or failed ones never
// do, which is what makes the deadlock check meaningful.
package taskqueue

import (
	"sync"

	"github.com/cadreops/cadre/internal/model"
)

// Queue tracks the scheduling state of one phase-3 task set. It lives only
// for the duration of one phase-3 execution.
type Queue struct {
	mu sync.Mutex

	// order preserves the caller's input task order, which
	// SelectNonOverlappingBatch must respect for ties.
	order  []string
	tasks  map[string]model.Task
	status map[string]model.TaskStatus
}

// New constructs a Queue over tasks, all initialized to pending.
func New(tasks []model.Task) *Queue {
	q := &Queue{
		tasks:  make(map[string]model.Task, len(tasks)),
		status: make(map[string]model.TaskStatus, len(tasks)),
	}
	for _, t := range tasks {
		q.order = append(q.order, t.ID)
		q.tasks[t.ID] = t
		q.status[t.ID] = model.TaskPending
	}
	return q
}

// RestoreState marks tasks in completedIDs as completed and tasks in
// blockedIDs as blocked, at construction time, so a resumed phase-3 run
// does not repeat already-settled work.
func (q *Queue) RestoreState(completedIDs, blockedIDs []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range completedIDs {
		if _, ok := q.status[id]; ok {
			q.status[id] = model.TaskCompleted
		}
	}
	for _, id := range blockedIDs {
		if _, ok := q.status[id]; ok {
			q.status[id] = model.TaskBlocked
		}
	}
}

// dependenciesMetLocked reports whether every dependency of task id is completed.
// Callers must hold q.mu.
func (q *Queue) dependenciesMetLocked(id string) bool {
	for _, dep := range q.tasks[id].Dependencies {
		if q.status[dep] != model.TaskCompleted {
			return false
		}
	}
	return true
}

// GetReady recomputes pending -> ready for every task whose dependencies
// are all completed, then returns every task currently in the ready state,
// in the queue's original input order.
func (q *Queue) GetReady() []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		if q.status[id] == model.TaskPending && q.dependenciesMetLocked(id) {
			q.status[id] = model.TaskReady
		}
	}

	var ready []model.Task
	for _, id := range q.order {
		if q.status[id] == model.TaskReady {
			ready = append(ready, q.tasks[id])
		}
	}
	return ready
}

// Start transitions id from ready to running.
func (q *Queue) Start(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[id] = model.TaskRunning
}

// Complete transitions id to completed.
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[id] = model.TaskCompleted
}

// MarkBlocked transitions id to blocked.
func (q *Queue) MarkBlocked(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[id] = model.TaskBlocked
}

// Status returns the current status of id.
func (q *Queue) Status(id string) model.TaskStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status[id]
}

// IsComplete reports whether nothing remains pending, ready, or running.
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		switch q.status[id] {
		case model.TaskPending, model.TaskReady, model.TaskRunning:
			return false
		}
	}
	return true
}

// HasRunning reports whether any task is currently running. The phase-3
// executor does not call it: its batches run to completion before the next
// GetReady, so nothing is running when it checks for ready tasks.
func (q *Queue) HasRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if q.status[id] == model.TaskRunning {
			return true
		}
	}
	return false
}

// Counts summarizes the queue's current state.
type Counts struct {
	Total     int
	Completed int
	Blocked   int
}

// GetCounts returns the aggregate task counts.
func (q *Queue) GetCounts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := Counts{Total: len(q.order)}
	for _, id := range q.order {
		switch q.status[id] {
		case model.TaskCompleted:
			c.Completed++
		case model.TaskBlocked:
			c.Blocked++
		}
	}
	return c
}

// SelectNonOverlappingBatch picks up to maxParallel tasks from ready whose
// file sets are pairwise disjoint. It iterates ready in its input order and
// includes a task iff its file set shares no element with any
// already-included task; ties and ordering are broken by the input order
// (a stateless helper rather than a Queue method so callers can use it
// against any candidate slice, e.g. in tests).
func SelectNonOverlappingBatch(ready []model.Task, maxParallel int) []model.Task {
	var batch []model.Task
	used := make(map[string]bool)

	for _, task := range ready {
		if len(batch) >= maxParallel {
			break
		}
		files := task.FileSet()
		overlap := false
		for _, f := range files {
			if used[f] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		batch = append(batch, task)
		for _, f := range files {
			used[f] = true
		}
	}
	return batch
}
