// Package issuepipeline implements the per-issue pipeline driver: it
// sequences phases 1..N for one issue, skipping any phase already in the
// checkpoint's completedPhases, and branches on phase failure -- a budget
// error propagates, a critical failure ends the issue as failed, a
// non-critical failure ends it as code-complete.
package issuepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/phase"
)

// PRExtractor decodes the pull-request record produced by the terminal
// phase's output artifact. A nil extractor means the pipeline never
// populates Result.PR.
type PRExtractor func(ctx context.Context, result phase.Result) (*core.PullRequest, error)

// PhaseFactory builds the phase.Executor for one phase of one issue, given
// the phase results accumulated so far. The phase-3 factory call is
// expected to be backed by an implphase.Executor; every other phase by a
// single-shot agent-invocation executor.
type PhaseFactory func(ctx context.Context, ph model.Phase, resultsSoFar []phase.Result) (phase.Executor, error)

// Result is the outcome record for one issue.
type Result struct {
	IssueNumber   model.IssueNumber
	IssueTitle    string
	Success       bool
	Status        model.IssueStatus
	Phases        []phase.Result
	PR            *core.PullRequest
	TotalDuration time.Duration
	TokenUsage    int64
	Error         string
}

// Pipeline drives phases 1..N for one issue.
type Pipeline struct {
	store       *checkpoint.IssueStore
	runner      *phase.Runner
	factory     PhaseFactory
	notifier    core.NotificationManager
	prExtractor PRExtractor
	logger      *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithNotifier sets the notification manager used to dispatch phase-level
// lifecycle events. A nil notifier (the default) disables dispatch.
func WithNotifier(n core.NotificationManager) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithPRExtractor sets the function used to decode a pull-request record
// out of the terminal phase's output artifact.
func WithPRExtractor(fn PRExtractor) Option {
	return func(p *Pipeline) { p.prExtractor = fn }
}

// New constructs a Pipeline for one issue.
func New(store *checkpoint.IssueStore, runner *phase.Runner, factory PhaseFactory, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		runner:  runner,
		factory: factory,
		logger:  cadrelog.New("issuepipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) notify(ctx context.Context, kind string, issueNumber model.IssueNumber, phaseID model.PhaseID, message string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Dispatch(ctx, core.NotificationEvent{
		Kind:        kind,
		IssueNumber: issueNumber,
		Phase:       phaseID,
		Message:     message,
	})
}

// Run drives issueNumber through phases, in ascending ID order, skipping
// any phase already completed. It returns the final IssueResult; the
// returned error is non-nil only for a budget-exceeded condition, in which
// case the Result's status is budget-exceeded; the fleet orchestrator
// records that status as the issue's entry in the fleet checkpoint.
func (p *Pipeline) Run(ctx context.Context, issueNumber model.IssueNumber, issueTitle string, phases []model.Phase) (Result, error) {
	start := time.Now()
	var results []phase.Result
	var totalTokens int64

	finish := func(success bool, status model.IssueStatus, errMsg string) Result {
		r := Result{
			IssueNumber:   issueNumber,
			IssueTitle:    issueTitle,
			Success:       success,
			Status:        status,
			Phases:        results,
			TotalDuration: time.Since(start),
			TokenUsage:    totalTokens,
			Error:         errMsg,
		}
		if success && p.prExtractor != nil && len(results) > 0 {
			if pr, err := p.prExtractor(ctx, results[len(results)-1]); err == nil {
				r.PR = pr
			} else {
				p.logger.Warn("extracting pull request from terminal phase output", "issue", issueNumber, "err", err)
			}
		}
		if success {
			p.notify(ctx, core.EventIssueCompleted, issueNumber, 0, fmt.Sprintf("issue %d completed", issueNumber))
		} else {
			p.notify(ctx, core.EventIssueFailed, issueNumber, 0, fmt.Sprintf("issue %d ended with status %s: %s", issueNumber, status, errMsg))
		}
		return r
	}

	p.notify(ctx, core.EventIssueStarted, issueNumber, 0, fmt.Sprintf("starting issue %d (%s)", issueNumber, issueTitle))

	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return finish(false, model.StatusFailed, "cancelled: "+err.Error()), nil
		}

		if p.store.IsPhaseCompleted(ph.ID) {
			p.notify(ctx, core.EventPhaseSkipped, issueNumber, ph.ID, fmt.Sprintf("phase %d already completed", ph.ID))
			continue
		}

		p.notify(ctx, core.EventPhaseStarted, issueNumber, ph.ID, fmt.Sprintf("starting phase %d (%s)", ph.ID, ph.Name))

		executor, err := p.factory(ctx, ph, results)
		if err != nil {
			return finish(false, model.StatusFailed, fmt.Sprintf("building phase %d executor: %v", ph.ID, err)), nil
		}

		result, err := p.runner.Run(ctx, executor, ph.Gated, summarize(results))
		if err != nil {
			if errors.Is(err, cadreerr.ErrBudgetExceeded) {
				return finish(false, model.StatusBudgetExceeded, err.Error()), err
			}
			// Unexpected exception at the phase boundary: mark failed, stop,
			// and continue with the next issue (the fleet orchestrator's job).
			return finish(false, model.StatusFailed, err.Error()), nil
		}

		results = append(results, result)
		totalTokens += result.TokenUsage
		p.notify(ctx, core.EventPhaseCompleted, issueNumber, ph.ID, fmt.Sprintf("phase %d finished (success=%v)", ph.ID, result.Success))

		if !result.Success {
			if ph.Critical {
				return finish(false, model.StatusFailed, result.Error), nil
			}
			// Non-critical failure: code exists but post-processing could
			// not complete; remaining non-critical phases are skipped.
			return finish(false, model.StatusCodeComplete, result.Error), nil
		}
	}

	return finish(true, model.StatusCompleted, ""), nil
}

func summarize(results []phase.Result) []core.PhaseResultSummary {
	out := make([]core.PhaseResultSummary, 0, len(results))
	for _, r := range results {
		out = append(out, core.PhaseResultSummary{Phase: r.Phase, Success: r.Success, OutputPath: r.OutputPath})
	}
	return out
}
