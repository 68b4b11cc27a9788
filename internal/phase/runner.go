// Package phase implements the single-phase runner: checkpoint
// transitions around one phase execution, gate evaluation, and at most
// one gate-retry. Agent-level retries belong to the phase executors;
// the runner itself only re-executes on a failed gate.
package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
)

// Executor runs one phase's agent work and returns the path to its output
// artifact.
type Executor interface {
	PhaseID() model.PhaseID
	Name() string
	Execute(ctx context.Context) (outputPath string, err error)
}

// Result is the outcome record for one phase execution.
type Result struct {
	Phase      model.PhaseID
	PhaseName  string
	Success    bool
	Duration   time.Duration
	TokenUsage int64
	OutputPath string
	Error      string
	GateResult *model.GateResult
}

// Runner runs exactly one phase for one issue.
type Runner struct {
	store  *checkpoint.IssueStore
	gate   core.GateCoordinator
	logger *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New constructs a Runner bound to one issue's checkpoint store.
func New(store *checkpoint.IssueStore, gateCoordinator core.GateCoordinator, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		gate:   gateCoordinator,
		logger: cadrelog.New("phase"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes exactly one phase:
//  1. checkpoint.startPhase(phaseId)
//  2. invoke Execute; a non-budget-exceeded error yields a failure Result
//     with no retry; a budget-exceeded error propagates unchanged.
//  3. checkpoint.completePhase(phaseId, outputPath)
//  4. if gated, run the quality gate; on fail, retry Execute once and
//     re-gate; a second failure yields "gate validation failed after retry".
//  5. return the Result.
func (r *Runner) Run(ctx context.Context, executor Executor, gated bool, resultsSoFar []core.PhaseResultSummary) (Result, error) {
	phaseID := executor.PhaseID()
	start := time.Now()
	tokensUsed := func() int64 { return r.store.State().TokenUsage.ByPhase[phaseID] }

	if err := r.store.StartPhase(phaseID); err != nil {
		return Result{}, fmt.Errorf("starting phase %d: %w", phaseID, err)
	}

	outputPath, err := executor.Execute(ctx)
	if err != nil {
		if errors.Is(err, cadreerr.ErrBudgetExceeded) {
			return Result{}, err
		}
		return Result{
			Phase:      phaseID,
			PhaseName:  executor.Name(),
			TokenUsage: tokensUsed(),
			Success:    false,
			Duration:   time.Since(start),
			Error:      err.Error(),
		}, nil
	}

	if err := r.store.CompletePhase(phaseID, outputPath); err != nil {
		return Result{}, fmt.Errorf("completing phase %d: %w", phaseID, err)
	}

	if !gated {
		return Result{
			Phase:      phaseID,
			PhaseName:  executor.Name(),
			TokenUsage: tokensUsed(),
			Success:    true,
			Duration:   time.Since(start),
			OutputPath: outputPath,
		}, nil
	}

	resultsSoFar = append(resultsSoFar, core.PhaseResultSummary{Phase: phaseID, Success: true, OutputPath: outputPath})
	gateResult, err := r.gate.RunGate(ctx, phaseID, resultsSoFar)
	if err != nil {
		return Result{}, fmt.Errorf("running gate for phase %d: %w", phaseID, err)
	}
	if err := r.store.RecordGateResult(phaseID, gateResult); err != nil {
		return Result{}, fmt.Errorf("recording gate result for phase %d: %w", phaseID, err)
	}

	if gateResult.Status != model.GateFail {
		return Result{
			Phase:      phaseID,
			PhaseName:  executor.Name(),
			TokenUsage: tokensUsed(),
			Success:    true,
			Duration:   time.Since(start),
			OutputPath: outputPath,
			GateResult: &gateResult,
		}, nil
	}

	_ = r.store.AppendProgress(checkpoint.ProgressEntry{Message: fmt.Sprintf("gate failed; retrying phase %d", phaseID)})
	r.logger.Warn("gate failed, retrying phase once", "phase", phaseID)

	outputPath, err = executor.Execute(ctx)
	if err != nil {
		if errors.Is(err, cadreerr.ErrBudgetExceeded) {
			return Result{}, err
		}
		return Result{
			Phase:      phaseID,
			PhaseName:  executor.Name(),
			TokenUsage: tokensUsed(),
			Success:    false,
			Duration:   time.Since(start),
			Error:      err.Error(),
		}, nil
	}
	if err := r.store.CompletePhase(phaseID, outputPath); err != nil {
		return Result{}, fmt.Errorf("completing retried phase %d: %w", phaseID, err)
	}

	resultsSoFar[len(resultsSoFar)-1] = core.PhaseResultSummary{Phase: phaseID, Success: true, OutputPath: outputPath}
	secondGate, err := r.gate.RunGate(ctx, phaseID, resultsSoFar)
	if err != nil {
		return Result{}, fmt.Errorf("re-running gate for phase %d: %w", phaseID, err)
	}
	if err := r.store.RecordGateResult(phaseID, secondGate); err != nil {
		return Result{}, fmt.Errorf("recording retried gate result for phase %d: %w", phaseID, err)
	}

	if secondGate.Status == model.GateFail {
		return Result{
			Phase:      phaseID,
			PhaseName:  executor.Name(),
			TokenUsage: tokensUsed(),
			Success:    false,
			Duration:   time.Since(start),
			OutputPath: outputPath,
			Error:      "gate validation failed after retry",
			GateResult: &secondGate,
		}, nil
	}

	return Result{
		Phase:      phaseID,
		PhaseName:  executor.Name(),
		TokenUsage: tokensUsed(),
		Success:    true,
		Duration:   time.Since(start),
		OutputPath: outputPath,
		GateResult: &secondGate,
	}, nil
}
