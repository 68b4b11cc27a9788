// Package fleet implements the fleet orchestrator: it provisions
// per-issue working-copy isolation, runs issue pipelines with bounded
// concurrency (optionally in dependency waves), aggregates results, and
// dispatches fleet-level lifecycle events. One issue's failure never
// cancels its peers.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/issuepipeline"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/tokens"
)

// Issue is one unit of fleet work: an issue number, its title, and
// (optionally) the issue numbers it depends on, used only when dependency
// waves are enabled.
type Issue struct {
	Number       model.IssueNumber
	Title        string
	Dependencies []model.IssueNumber
}

// IssueRunner drives the full phase 1..N pipeline for one issue and
// returns its result. It provisions nothing itself -- the fleet
// orchestrator has already called WorktreeManager.Provision -- but
// writing the worktree metadata into the per-issue checkpoint is the
// runner's own responsibility, since only it holds that issue's
// IssueStore.
type IssueRunner func(ctx context.Context, issueNumber model.IssueNumber, title string, wt core.WorktreeInfo) (issuepipeline.Result, error)

// Config configures an Orchestrator.
type Config struct {
	MaxParallelIssues int
	// DependencyWaves enables the optional dependency-DAG wave scheduling.
	// When false, every active issue runs in a single
	// wave bounded only by MaxParallelIssues.
	DependencyWaves bool
}

func (c Config) withDefaults() Config {
	if c.MaxParallelIssues < 1 {
		c.MaxParallelIssues = 1
	}
	return c
}

// Result aggregates every issue outcome of one fleet run.
type Result struct {
	Success       bool
	Issues        []issuepipeline.Result
	PRsCreated    []int
	FailedIssues  []model.IssueNumber
	CodeDoneNoPR  []model.IssueNumber
	TotalDuration time.Duration
	TokenUsage    int64
}

// Orchestrator is the fleet-wide driver over a set of issues.
type Orchestrator struct {
	store    *checkpoint.FleetStore
	worktree core.WorktreeManager
	runIssue IssueRunner
	guard    *tokens.Guard
	notifier core.NotificationManager
	report   func(ctx context.Context, result Result) error
	cfg      Config
	logger   *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNotifier sets the notification manager used for fleet-level events.
func WithNotifier(n core.NotificationManager) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithReportWriter registers a best-effort run-report builder invoked once
// at the very end of Run. A failure here is logged as a
// warning and never fails the fleet.
func WithReportWriter(fn func(ctx context.Context, result Result) error) Option {
	return func(o *Orchestrator) { o.report = fn }
}

// New constructs an Orchestrator.
func New(store *checkpoint.FleetStore, worktree core.WorktreeManager, guard *tokens.Guard, runIssue IssueRunner, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		worktree: worktree,
		guard:    guard,
		runIssue: runIssue,
		cfg:      cfg.withDefaults(),
		logger:   cadrelog.New("fleet"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) notify(ctx context.Context, kind, message string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Dispatch(ctx, core.NotificationEvent{Kind: kind, Message: message})
}

// Run drives projectName's fleet checkpoint through every issue in
// issues.
func (o *Orchestrator) Run(ctx context.Context, projectName string, issues []Issue) (Result, error) {
	start := time.Now()

	if _, err := o.store.Load(projectName); err != nil {
		return Result{}, fmt.Errorf("fleet: loading checkpoint: %w", err)
	}

	o.notify(ctx, core.EventFleetStarted, fmt.Sprintf("fleet started: %d issues", len(issues)))

	if err := o.worktree.Prefetch(ctx); err != nil {
		return Result{}, fmt.Errorf("fleet: prefetch: %w", err)
	}

	waves := [][]Issue{issues}
	if o.cfg.DependencyWaves {
		w, err := resolveWaves(issues)
		if err != nil {
			o.logger.Warn("dependency graph resolution failed; falling back to one wave", "err", err)
		} else {
			waves = w
		}
	}

	var mu sync.Mutex
	var results []issuepipeline.Result
	skipped := make(map[model.IssueNumber]model.IssueStatus) // issues this run marked dep-* or terminal

	for _, wave := range waves {
		sem := semaphore.NewWeighted(int64(o.cfg.MaxParallelIssues))
		var wg sync.WaitGroup

		for _, issue := range wave {
			if o.store.IsIssueCompleted(issue.Number) {
				continue
			}

			if depStatus, blocked := o.depBlockedStatus(issue, skipped); blocked {
				mu.Lock()
				skipped[issue.Number] = depStatus
				mu.Unlock()
				_ = o.store.SetIssueStatus(issue.Number, model.IssueSummary{Status: depStatus, IssueTitle: issue.Title, Error: "upstream dependency did not complete"})
				mu.Lock()
				results = append(results, issuepipeline.Result{IssueNumber: issue.Number, IssueTitle: issue.Title, Success: false, Status: depStatus, Error: "upstream dependency did not complete"})
				mu.Unlock()
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(iss Issue) {
				defer wg.Done()
				defer sem.Release(1)
				result := o.runOne(ctx, iss)

				mu.Lock()
				results = append(results, result)
				if !result.Success && result.Status != model.StatusCodeComplete {
					skipped[iss.Number] = result.Status
				}
				mu.Unlock()
			}(issue)
		}

		wg.Wait()
	}

	fleetResult := aggregate(results, start)

	o.notify(ctx, core.EventFleetCompleted, fmt.Sprintf("fleet completed: %d issues processed", len(results)))

	if o.report != nil {
		if err := o.report(ctx, fleetResult); err != nil {
			o.logger.Warn("writing run report", "err", err)
		}
	}

	return fleetResult, nil
}

// depBlockedStatus reports whether issue must be skipped because one of
// its declared dependencies already settled with a non-success status in
// this run, and if so which dep-* status to record.
func (o *Orchestrator) depBlockedStatus(issue Issue, skipped map[model.IssueNumber]model.IssueStatus) (model.IssueStatus, bool) {
	for _, dep := range issue.Dependencies {
		if status, failed := skipped[dep]; failed {
			switch status {
			case model.StatusFailed:
				return model.StatusDepFailed, true
			case model.StatusDepMergeConflict, model.StatusDepBuildBroken, model.StatusDepBlocked, model.StatusDepFailed:
				return model.StatusDepBlocked, true
			default:
				return model.StatusDepBlocked, true
			}
		}
	}
	return "", false
}

// runOne provisions issue's working copy and drives its pipeline. A
// remote-branch-missing provisioning error is a per-issue skip, not a
// fleet failure.
func (o *Orchestrator) runOne(ctx context.Context, issue Issue) issuepipeline.Result {
	resume := o.store.GetIssueStatus(issue.Number) != model.StatusNotStarted

	wt, err := o.worktree.Provision(ctx, issue.Number, issue.Title, resume)
	if err != nil {
		if errors.Is(err, cadreerr.ErrRemoteBranchMissing) {
			o.logger.Warn("remote branch missing; skipping issue", "issue", issue.Number)
			_ = o.store.SetIssueStatus(issue.Number, model.IssueSummary{Status: model.StatusFailed, IssueTitle: issue.Title, Error: err.Error()})
			return issuepipeline.Result{IssueNumber: issue.Number, IssueTitle: issue.Title, Success: false, Status: model.StatusFailed, Error: err.Error()}
		}
		o.logger.Error("provisioning issue working copy", "issue", issue.Number, "err", err)
		_ = o.store.SetIssueStatus(issue.Number, model.IssueSummary{Status: model.StatusFailed, IssueTitle: issue.Title, Error: err.Error()})
		return issuepipeline.Result{IssueNumber: issue.Number, IssueTitle: issue.Title, Success: false, Status: model.StatusFailed, Error: err.Error()}
	}

	result, err := o.runIssue(ctx, issue.Number, issue.Title, wt)
	if err != nil && !errors.Is(err, cadreerr.ErrBudgetExceeded) {
		o.logger.Error("running issue pipeline", "issue", issue.Number, "err", err)
	}

	lastPhase := model.PhaseID(0)
	if len(result.Phases) > 0 {
		lastPhase = result.Phases[len(result.Phases)-1].Phase
	}
	_ = o.store.SetIssueStatus(issue.Number, model.IssueSummary{
		Status:       result.Status,
		IssueTitle:   issue.Title,
		WorktreePath: wt.Path,
		BranchName:   wt.Branch,
		LastPhase:    lastPhase,
		Error:        result.Error,
	})
	_ = o.store.RecordTokenUsage(issue.Number, result.TokenUsage)

	fleetCheck := o.guard.CheckFleet()
	if fleetCheck.NewlyCrossed {
		kind := core.EventBudgetWarning
		if fleetCheck.Status == tokens.StatusExceeded {
			kind = core.EventBudgetExceeded
		}
		o.notify(ctx, kind, fmt.Sprintf("fleet token budget %s", fleetCheck.Status))
	}

	return result
}

func aggregate(results []issuepipeline.Result, start time.Time) Result {
	out := Result{Success: true, Issues: results, TotalDuration: time.Since(start)}
	for _, r := range results {
		out.TokenUsage += r.TokenUsage
		switch {
		case r.PR != nil:
			out.PRsCreated = append(out.PRsCreated, r.PR.Number)
		case r.Status == model.StatusCodeComplete:
			out.CodeDoneNoPR = append(out.CodeDoneNoPR, r.IssueNumber)
		case !r.Success:
			out.FailedIssues = append(out.FailedIssues, r.IssueNumber)
		}
		if !r.Success {
			out.Success = false
		}
	}
	return out
}

// resolveWaves performs a Kahn topological sort of issues by Dependencies
// into sequential waves; issues within a wave have no dependency on one
// another. Returns an error if the graph contains a cycle.
func resolveWaves(issues []Issue) ([][]Issue, error) {
	byNumber := make(map[model.IssueNumber]Issue, len(issues))
	indegree := make(map[model.IssueNumber]int, len(issues))
	dependents := make(map[model.IssueNumber][]model.IssueNumber)

	for _, issue := range issues {
		byNumber[issue.Number] = issue
		if _, ok := indegree[issue.Number]; !ok {
			indegree[issue.Number] = 0
		}
	}
	for _, issue := range issues {
		for _, dep := range issue.Dependencies {
			if _, ok := byNumber[dep]; !ok {
				continue // dependency outside this run's issue set; ignore
			}
			indegree[issue.Number]++
			dependents[dep] = append(dependents[dep], issue.Number)
		}
	}

	var waves [][]Issue
	remaining := len(issues)
	for remaining > 0 {
		var wave []Issue
		for _, issue := range issues {
			if indegree[issue.Number] == 0 {
				wave = append(wave, issue)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("dependency cycle detected among remaining issues")
		}
		waves = append(waves, wave)
		for _, issue := range wave {
			indegree[issue.Number] = -1 // mark settled, excluded from future waves
			remaining--
			for _, dependent := range dependents[issue.Number] {
				if indegree[dependent] > 0 {
					indegree[dependent]--
				}
			}
		}
	}
	return waves, nil
}
