package checkpoint

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/model"
)

// FleetStore owns the fleet-wide checkpoint. All mutations execute under a
// single logical writer -- here a mutex -- since the fleet checkpoint is
// written both by the fleet orchestrator and by every concurrent pipeline
// (each restricted to setting its own issue's status and tokens).
type FleetStore struct {
	mu sync.Mutex

	path   string
	state  *model.FleetCheckpoint
	logger *log.Logger
}

// FleetStoreOption configures a FleetStore.
type FleetStoreOption func(*FleetStore)

// WithFleetStoreLogger overrides the default component logger.
func WithFleetStoreLogger(l *log.Logger) FleetStoreOption {
	return func(s *FleetStore) { s.logger = l }
}

// NewFleetStore constructs a FleetStore rooted at
// <stateDir>/<project>/fleet-checkpoint.json.
func NewFleetStore(stateDir, project string, opts ...FleetStoreOption) *FleetStore {
	s := &FleetStore{
		path:   filepath.Join(stateDir, project, "fleet-checkpoint.json"),
		logger: cadrelog.New("checkpoint.fleet"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load parses the fleet checkpoint file (with backup fallback), increments
// resumeCount, persists, and returns the resulting state.
func (s *FleetStore) Load(projectName string) (*model.FleetCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded model.FleetCheckpoint
	found, corrupted := loadWithBackupFallback(s.path, &loaded)
	if corrupted && !found {
		s.logger.Warn("fleet checkpoint and backup both unreadable or corrupt; starting fresh")
	}

	if found {
		s.state = &loaded
		s.state.ResumeCount++
	} else {
		s.state = model.NewFleetCheckpoint(projectName)
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s.state, nil
}

func (s *FleetStore) saveLocked() error {
	s.state.LastCheckpoint = time.Now()
	backupBestEffort(s.path)
	if err := writeAtomic(s.path, s.state); err != nil {
		return fmt.Errorf("saving fleet checkpoint: %w", err)
	}
	return nil
}

// SetIssueStatus upserts the per-issue summary for issueNumber.
func (s *FleetStore) SetIssueStatus(issueNumber model.IssueNumber, summary model.IssueSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.UpdatedAt = time.Now()
	s.state.Issues[issueNumber] = &summary
	return s.saveLocked()
}

// RecordTokenUsage adds tokens to the fleet total and byIssue partition
// together.
func (s *FleetStore) RecordTokenUsage(issueNumber model.IssueNumber, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TokenUsage.Total += tokens
	s.state.TokenUsage.ByIssue[issueNumber] += tokens
	return s.saveLocked()
}

// GetIssueStatus returns the current status for issueNumber, or
// StatusNotStarted if no summary exists yet.
func (s *FleetStore) GetIssueStatus(issueNumber model.IssueNumber) model.IssueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.state.Issues[issueNumber]
	if !ok {
		return model.StatusNotStarted
	}
	return summary.Status
}

// IsIssueCompleted returns true only for terminal-for-scheduling statuses
// (completed or budget-exceeded), never for code-complete.
func (s *FleetStore) IsIssueCompleted(issueNumber model.IssueNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsIssueCompleted(issueNumber)
}

// PruneIssue removes an issue's summary entry. Used only by out-of-scope
// cleanup tooling, never by the core itself.
func (s *FleetStore) PruneIssue(issueNumber model.IssueNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Issues, issueNumber)
	return s.saveLocked()
}

// State returns a shallow copy of the fleet checkpoint. Its maps (Issues
// and the token partitions) are still shared with the store, so callers
// should treat it as read-only and prefer the accessor methods above for
// anything that must be consistent with concurrent writers.
func (s *FleetStore) State() *model.FleetCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.state
	return &cp
}
