// Package tokens implements the in-memory token tracker and the budget
// guard built on top of it. Accumulation is pure addition; nothing is
// ever subtracted from a partition.
package tokens

import (
	"sync"

	"github.com/cadreops/cadre/internal/model"
)

// Tracker is an in-memory record of total, byIssue, byAgent, byPhase, and
// recordCount. Its single mutating operation, Record, adds to every
// partition together so a concurrent reader never observes a partial
// update; the partition sums stay equal at every observation point.
type Tracker struct {
	mu sync.Mutex

	total       int64
	byIssue     map[model.IssueNumber]int64
	byAgent     map[string]int64
	byPhase     map[model.PhaseID]int64
	recordCount int64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byIssue: make(map[model.IssueNumber]int64),
		byAgent: make(map[string]int64),
		byPhase: make(map[model.PhaseID]int64),
	}
}

// Record adds tokens to the total, byIssue[issueNumber], byAgent[agent],
// and byPhase[phase] partitions atomically.
func (t *Tracker) Record(agent string, phase model.PhaseID, issueNumber model.IssueNumber, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += tokens
	t.byIssue[issueNumber] += tokens
	t.byAgent[agent] += tokens
	t.byPhase[phase] += tokens
	t.recordCount++
}

// GetTotal returns the running total across every partition.
func (t *Tracker) GetTotal() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// GetTotalForIssue returns the accumulated tokens for one issue.
func (t *Tracker) GetTotalForIssue(issueNumber model.IssueNumber) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byIssue[issueNumber]
}

// Summary is a point-in-time snapshot of the tracker's partitions.
type Summary struct {
	Total       int64
	ByIssue     map[model.IssueNumber]int64
	ByAgent     map[string]int64
	ByPhase     map[model.PhaseID]int64
	RecordCount int64
}

// GetSummary returns a copy of every partition. Copying under the lock
// keeps the snapshot internally consistent even while Record runs
// concurrently on other goroutines.
func (t *Tracker) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Total:       t.total,
		RecordCount: t.recordCount,
		ByIssue:     make(map[model.IssueNumber]int64, len(t.byIssue)),
		ByAgent:     make(map[string]int64, len(t.byAgent)),
		ByPhase:     make(map[model.PhaseID]int64, len(t.byPhase)),
	}
	for k, v := range t.byIssue {
		s.ByIssue[k] = v
	}
	for k, v := range t.byAgent {
		s.ByAgent[k] = v
	}
	for k, v := range t.byPhase {
		s.ByPhase[k] = v
	}
	return s
}
