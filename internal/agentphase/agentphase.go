// Package agentphase implements the single-shot phase executor used for
// every pipeline phase except phase 3: analysis, planning, integration,
// and pr-composition each invoke exactly one agent against a context
// artifact and write exactly one output artifact, with no task queue or
// build/test loop of their own.
package agentphase

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/tokens"
)

// Executor runs one agent invocation for one phase of one issue. It
// implements phase.Executor.
type Executor struct {
	issueNumber model.IssueNumber
	phaseID     model.PhaseID
	name        string
	agentName   string
	contextPath string
	outputPath  string
	workDir     string

	store    *checkpoint.IssueStore
	launcher core.AgentLauncher
	tracker  *tokens.Tracker
	guard    *tokens.Guard
	notifier core.NotificationManager

	logger *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithNotifier sets the notification manager used for agent-failure events.
func WithNotifier(n core.NotificationManager) Option {
	return func(e *Executor) { e.notifier = n }
}

// New constructs a single-shot Executor for one phase of one issue.
//
// agentName is the FleetConfig role this phase is bound to (e.g.
// AnalysisAgent, PlanningAgent); contextPath is the input artifact the agent
// reads (the previous phase's output, or the issue body for phase 1);
// outputPath is where the agent's own output artifact is written.
func New(
	issueNumber model.IssueNumber,
	phaseID model.PhaseID,
	name, agentName, contextPath, outputPath, workDir string,
	store *checkpoint.IssueStore,
	launcher core.AgentLauncher,
	tracker *tokens.Tracker,
	guard *tokens.Guard,
	opts ...Option,
) *Executor {
	e := &Executor{
		issueNumber: issueNumber,
		phaseID:     phaseID,
		name:        name,
		agentName:   agentName,
		contextPath: contextPath,
		outputPath:  outputPath,
		workDir:     workDir,
		store:       store,
		launcher:    launcher,
		tracker:     tracker,
		guard:       guard,
		logger:      cadrelog.New("agentphase"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PhaseID returns the phase this Executor was constructed for.
func (e *Executor) PhaseID() model.PhaseID { return e.phaseID }

// Name returns the phase's display name.
func (e *Executor) Name() string { return e.name }

// Execute launches the bound agent once and returns its output artifact
// path. A budget-exceeded error from the guard propagates unwrapped so the
// phase runner can distinguish it from an ordinary execution failure.
func (e *Executor) Execute(ctx context.Context) (string, error) {
	if _, err := e.guard.CheckIssue(e.issueNumber); err != nil {
		return "", err
	}

	invocation := core.AgentInvocation{
		Agent:       e.agentName,
		IssueNumber: e.issueNumber,
		Phase:       e.phaseID,
		ContextPath: e.contextPath,
		OutputPath:  e.outputPath,
	}

	result, err := e.launcher.LaunchAgent(ctx, invocation, e.workDir)
	if err != nil {
		return "", fmt.Errorf("launching agent %s for phase %d: %w", e.agentName, e.phaseID, err)
	}

	e.tracker.Record(e.agentName, e.phaseID, e.issueNumber, result.TokenUsage.Total())
	if err := e.store.RecordTokenUsage(e.agentName, e.phaseID, result.TokenUsage.Total()); err != nil {
		e.logger.Warn("recording token usage", "phase", e.phaseID, "err", err)
	}

	if !result.Success {
		if e.notifier != nil {
			e.notifier.Dispatch(ctx, core.NotificationEvent{
				Kind:        core.EventAgentFailed,
				IssueNumber: e.issueNumber,
				Phase:       e.phaseID,
				Message:     result.Error,
			})
		}
		return "", fmt.Errorf("agent %s failed: %s", e.agentName, result.Error)
	}

	return e.outputPath, nil
}
