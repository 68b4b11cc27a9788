package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/model"
)

// IssueStore owns exactly one issue's checkpoint for the lifetime of its
// pipeline. It is never shared across issues or mutated cross-pipeline.
type IssueStore struct {
	mu sync.Mutex

	dir            string
	checkpointPath string
	progressPath   string

	state  *model.IssueCheckpoint
	logger *log.Logger
}

// IssueStoreOption configures an IssueStore.
type IssueStoreOption func(*IssueStore)

// WithIssueStoreLogger overrides the default component logger.
func WithIssueStoreLogger(l *log.Logger) IssueStoreOption {
	return func(s *IssueStore) { s.logger = l }
}

// NewIssueStore constructs an IssueStore rooted at
// <stateDir>/<project>/issues/<issueNumber>/.
func NewIssueStore(stateDir, project string, issueNumber model.IssueNumber, opts ...IssueStoreOption) *IssueStore {
	dir := filepath.Join(stateDir, project, "issues", fmt.Sprintf("%d", issueNumber))
	s := &IssueStore{
		dir:            dir,
		checkpointPath: filepath.Join(dir, "checkpoint.json"),
		progressPath:   filepath.Join(dir, "progress.jsonl"),
		logger:         cadrelog.New("checkpoint.issue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load ensures the issue's progress directory exists, parses the
// checkpoint file if present (falling back to its backup on corruption),
// increments resumeCount, persists, and returns the resulting state. A
// missing checkpoint (first run for this issue) initializes a fresh one
// with resumeCount left at 0.
func (s *IssueStore) Load(issueNumber model.IssueNumber) (*model.IssueCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating issue directory: %w", err)
	}

	var loaded model.IssueCheckpoint
	found, corrupted := loadWithBackupFallback(s.checkpointPath, &loaded)
	if corrupted && !found {
		s.logger.Warn("checkpoint and backup both unreadable or corrupt; starting fresh", "issue", issueNumber)
	}

	if found {
		s.state = &loaded
		s.state.ResumeCount++
	} else {
		s.state = model.NewIssueCheckpoint(issueNumber)
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s.cloneLocked(), nil
}

// saveLocked persists the current state: best-effort backup of the
// existing file, then an atomic write of the new state. Callers must hold
// s.mu.
func (s *IssueStore) saveLocked() error {
	s.state.LastCheckpoint = time.Now()
	backupBestEffort(s.checkpointPath)
	if err := writeAtomic(s.checkpointPath, s.state); err != nil {
		return fmt.Errorf("saving issue %d checkpoint: %w", s.state.IssueNumber, err)
	}
	return nil
}

// cloneLocked returns a deep-enough copy of the in-memory state for callers
// that should not mutate the store's internal pointer. Callers must hold
// s.mu when calling this from within the store; State() acquires the lock
// itself.
func (s *IssueStore) cloneLocked() *model.IssueCheckpoint {
	data, err := json.Marshal(s.state)
	if err != nil {
		// Unreachable in practice: the struct is always JSON-serializable.
		cp := *s.state
		return &cp
	}
	var out model.IssueCheckpoint
	_ = json.Unmarshal(data, &out)
	return &out
}

// State returns a snapshot of the current in-memory checkpoint.
func (s *IssueStore) State() *model.IssueCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

// StartPhase records that phaseID has begun execution.
func (s *IssueStore) StartPhase(phaseID model.PhaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentPhase = phaseID
	return s.saveLocked()
}

// CompletePhase idempotently marks phaseID completed and records its
// output artifact path.
func (s *IssueStore) CompletePhase(phaseID model.PhaseID, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompletedPhases[phaseID] = true
	s.state.PhaseOutputs[phaseID] = outputPath
	if phaseID > s.state.CurrentPhase {
		s.state.CurrentPhase = phaseID
	}
	return s.saveLocked()
}

// StartTask records the currently-running task ID.
func (s *IssueStore) StartTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentTask = taskID
	delete(s.state.BlockedTasks, taskID)
	return s.saveLocked()
}

// CompleteTask idempotently marks taskID completed, removing it from
// blocked/failed bookkeeping.
func (s *IssueStore) CompleteTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompletedTasks[taskID] = true
	delete(s.state.BlockedTasks, taskID)
	kept := s.state.FailedTasks[:0]
	for _, f := range s.state.FailedTasks {
		if f.TaskID != taskID {
			kept = append(kept, f)
		}
	}
	s.state.FailedTasks = kept
	if s.state.CurrentTask == taskID {
		s.state.CurrentTask = ""
	}
	return s.saveLocked()
}

// FailTask appends a FailedTask record for taskID. A task ID appears in at
// most one of completed/blocked/failed at a time; this does not itself
// mark the task blocked -- callers call BlockTask separately on exhaustion.
func (s *IssueStore) FailTask(taskID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts := 1
	for _, f := range s.state.FailedTasks {
		if f.TaskID == taskID {
			attempts = f.Attempts + 1
		}
	}
	s.state.FailedTasks = append(s.state.FailedTasks, model.FailedTask{
		TaskID:      taskID,
		Error:       errMsg,
		Attempts:    attempts,
		LastAttempt: time.Now(),
	})
	return s.saveLocked()
}

// BlockTask idempotently marks taskID blocked, dropping its FailedTask
// records.
func (s *IssueStore) BlockTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BlockedTasks[taskID] = true
	kept := s.state.FailedTasks[:0]
	for _, f := range s.state.FailedTasks {
		if f.TaskID != taskID {
			kept = append(kept, f)
		}
	}
	s.state.FailedTasks = kept
	if s.state.CurrentTask == taskID {
		s.state.CurrentTask = ""
	}
	return s.saveLocked()
}

// RecordTokenUsage adds tokens to the issue's total, byPhase[phase], and
// byAgent[agent] partitions together, so the three partition sums stay
// equal at every observation point.
func (s *IssueStore) RecordTokenUsage(agent string, phase model.PhaseID, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TokenUsage.Total += tokens
	s.state.TokenUsage.ByPhase[phase] += tokens
	s.state.TokenUsage.ByAgent[agent] += tokens
	return s.saveLocked()
}

// RecordGateResult stores the gate outcome for phaseID.
func (s *IssueStore) RecordGateResult(phase model.PhaseID, gate model.GateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GateResults[phase] = gate
	return s.saveLocked()
}

// SetWorktreeInfo records the per-issue working-copy coordinates.
func (s *IssueStore) SetWorktreeInfo(path, branch, baseCommit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.WorktreePath = path
	s.state.BranchName = branch
	s.state.BaseCommit = baseCommit
	return s.saveLocked()
}

// SetBudgetExceeded records that this issue's own budget was exceeded.
func (s *IssueStore) SetBudgetExceeded(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BudgetExceeded = v
	return s.saveLocked()
}

// ResetPhases removes the listed phases from CompletedPhases, deletes
// their outputs and gate results, and clears all task progress. This is
// the only operation that retracts state; it is used only when an
// external caller decides the prior run is superseded.
func (s *IssueStore) ResetPhases(phaseIDs []model.PhaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phaseIDs {
		delete(s.state.CompletedPhases, p)
		delete(s.state.PhaseOutputs, p)
		delete(s.state.GateResults, p)
	}
	s.state.CompletedTasks = make(map[string]bool)
	s.state.BlockedTasks = make(map[string]bool)
	s.state.FailedTasks = nil
	s.state.CurrentTask = ""
	return s.saveLocked()
}

// GetResumePoint returns {phase, task} where phase=1 if nothing is
// completed, else max(completedPhases)+1.
func (s *IssueStore) GetResumePoint() model.ResumePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetResumePoint()
}

// IsPhaseCompleted reports whether phaseID is already completed.
func (s *IssueStore) IsPhaseCompleted(phaseID model.PhaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsPhaseCompleted(phaseID)
}

// IsTaskCompleted reports whether taskID is already completed.
func (s *IssueStore) IsTaskCompleted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsTaskCompleted(taskID)
}

// IsTaskBlocked reports whether taskID is currently blocked.
func (s *IssueStore) IsTaskBlocked(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsTaskBlocked(taskID)
}

// AppendProgress appends one line to the append-only progress.jsonl event
// log. Each call opens, appends, and
// closes the file so concurrent appenders never interleave partial lines
// (a single os.O_APPEND write of a line under typical line lengths is
// atomic on POSIX filesystems).
func (s *IssueStore) AppendProgress(entry ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating issue directory: %w", err)
	}

	entry.Timestamp = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling progress entry: %w", err)
	}

	f, err := os.OpenFile(s.progressPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening progress log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending progress entry: %w", err)
	}
	return nil
}

// ProgressEntry is one line of the per-issue append-only progress log.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
