// Package implphase implements the phase-3 implementation driver, the
// hardest phase in the pipeline. It parses the phase-2 plan into
// sessions, drives them through a dependency-ordered task queue in
// non-overlapping-files batches, runs each session's
// write/build/test/review sub-pipeline under the retry executor, and
// finally runs an optional whole-PR review pass over the truncated diff.
package implphase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/retry"
	"github.com/cadreops/cadre/internal/taskqueue"
	"github.com/cadreops/cadre/internal/tokens"
)

// truncationMarker is appended to a diff truncated at MaxDiffBytes.
const truncationMarker = "\n... [diff truncated]\n"

// GitCommitter is the subset of internal/git.Client the phase-3 executor
// needs: commit the working copy after a session, then diff it against the
// base commit for review.
type GitCommitter interface {
	CommitAll(ctx context.Context, message string) (string, error)
	DiffUnified(ctx context.Context, base string) (string, error)
}

// Config configures one phase-3 Executor.
type Config struct {
	ArtifactsDir string

	MaxParallelAgents       int
	MaxRetriesPerTask       int
	MaxBuildFixRounds       int
	MaxWholePRReviewRetries int
	MaxDiffBytes            int

	BuildCommand      string
	PerTaskBuildCheck bool
	WholePRReview     bool

	CodeWriterAgent    string
	TestWriterAgent    string
	FixSurgeonAgent    string
	CodeReviewerAgent  string
	WholePRReviewAgent string
}

func (c Config) withDefaults() Config {
	if c.MaxParallelAgents < 1 {
		c.MaxParallelAgents = 1
	}
	if c.MaxRetriesPerTask < 1 {
		c.MaxRetriesPerTask = 1
	}
	if c.MaxWholePRReviewRetries < 1 {
		c.MaxWholePRReviewRetries = 1
	}
	if c.MaxDiffBytes <= 0 {
		c.MaxDiffBytes = 200_000
	}
	return c
}

// Executor drives phase 3 for one issue's working copy. It implements
// phase.Executor.
type Executor struct {
	issueNumber model.IssueNumber
	workDir     string
	baseCommit  string
	planPath    string

	store    *checkpoint.IssueStore
	launcher core.AgentLauncher
	parser   core.ResultParser
	git      GitCommitter
	tracker  *tokens.Tracker
	guard    *tokens.Guard
	notifier core.NotificationManager

	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	fatalErr error
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithNotifier sets the notification manager used for task-level events.
func WithNotifier(n core.NotificationManager) Option {
	return func(e *Executor) { e.notifier = n }
}

// New constructs a phase-3 Executor for one issue.
//
// planPath is phase 2's output artifact (the plan containing the
// sessions to implement); baseCommit is the working copy's commit at
// provision time, used as the diff base for both per-session and
// whole-PR review.
func New(
	issueNumber model.IssueNumber,
	workDir, baseCommit, planPath string,
	store *checkpoint.IssueStore,
	launcher core.AgentLauncher,
	parser core.ResultParser,
	git GitCommitter,
	tracker *tokens.Tracker,
	guard *tokens.Guard,
	cfg Config,
	opts ...Option,
) *Executor {
	e := &Executor{
		issueNumber: issueNumber,
		workDir:     workDir,
		baseCommit:  baseCommit,
		planPath:    planPath,
		store:       store,
		launcher:    launcher,
		parser:      parser,
		git:         git,
		tracker:     tracker,
		guard:       guard,
		cfg:         cfg.withDefaults(),
		logger:      cadrelog.New("implphase"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PhaseID always returns 3; the implementation phase has a fixed slot.
func (e *Executor) PhaseID() model.PhaseID { return 3 }

// Name returns the phase's display name.
func (e *Executor) Name() string { return "implementation" }

func (e *Executor) notify(ctx context.Context, kind string, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Dispatch(ctx, core.NotificationEvent{Kind: kind, IssueNumber: e.issueNumber, Phase: e.PhaseID(), Message: message})
}

// Execute runs the full phase-3 batch loop and returns the path to a
// summary artifact describing every session's outcome.
func (e *Executor) Execute(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.cfg.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("implphase: creating artifacts dir: %w", err)
	}

	tasks, err := e.loadPlan()
	if err != nil {
		return "", fmt.Errorf("implphase: loading plan: %w", err)
	}

	queue := taskqueue.New(tasks)
	e.restoreQueueState(queue)

	for !queue.IsComplete() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		ready := queue.GetReady()
		if len(ready) == 0 {
			e.logger.Warn("possible deadlock: no ready implementation sessions remain")
			break
		}

		batch := taskqueue.SelectNonOverlappingBatch(ready, e.cfg.MaxParallelAgents)
		if len(batch) == 0 {
			e.logger.Warn("possible deadlock: ready sessions all overlap in file sets")
			break
		}

		var wg sync.WaitGroup
		for _, task := range batch {
			queue.Start(task.ID)
			wg.Add(1)
			go func(t model.Task) {
				defer wg.Done()
				e.runSession(ctx, queue, t)
			}(task)
		}
		wg.Wait()

		if fatal := e.getFatal(); fatal != nil {
			return "", fatal
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	// Zero completed sessions fails the phase. Blocked > 0 is the
	// retry-exhaustion case; otherwise the plan's dependency graph left
	// every session unreachable (a cycle or an unknown dependency ID),
	// which the loop above can only exit from via the deadlock break.
	counts := queue.GetCounts()
	if counts.Completed == 0 {
		if counts.Blocked > 0 {
			return "", cadreerr.ErrAllSessionsBlocked
		}
		return "", fmt.Errorf("implphase: no implementation sessions completed: %w", cadreerr.ErrDeadlock)
	}

	var prReview *reviewVerdict
	if e.cfg.WholePRReview {
		v, err := e.runWholePRReview(ctx)
		if err != nil {
			return "", fmt.Errorf("implphase: whole-PR review: %w", err)
		}
		prReview = v
	}

	return e.writeSummary(counts, prReview)
}

func (e *Executor) setFatal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr == nil {
		e.fatalErr = err
	}
}

func (e *Executor) getFatal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// restoreQueueState replays the checkpoint's completed/blocked task IDs
// into queue so a resumed phase-3 run does not repeat settled work.
func (e *Executor) restoreQueueState(queue *taskqueue.Queue) {
	state := e.store.State()
	var completed, blocked []string
	for id := range state.CompletedTasks {
		completed = append(completed, id)
	}
	for id := range state.BlockedTasks {
		blocked = append(blocked, id)
	}
	queue.RestoreState(completed, blocked)
}

// planDocument is the phase-2 plan artifact shape: a set of sessions, each
// grouping ordered steps and carrying the union of files it touches.
type planDocument struct {
	Sessions []struct {
		ID                 string   `json:"id"`
		Name               string   `json:"name"`
		Description        string   `json:"description"`
		Files              []string `json:"files"`
		Dependencies       []string `json:"dependencies"`
		Complexity         string   `json:"complexity"`
		AcceptanceCriteria []string `json:"acceptanceCriteria"`
		NonTestable        bool     `json:"nonTestable"`
		Steps              []struct {
			ID    string   `json:"id"`
			Name  string   `json:"name"`
			Files []string `json:"files"`
		} `json:"steps"`
	} `json:"sessions"`
}

func (e *Executor) loadPlan() ([]model.Task, error) {
	artifact, err := e.parser.Parse(context.Background(), "plan", e.planPath)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(artifact.Data)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling plan artifact: %w", err)
	}
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &cadreerr.ValidationError{Artifact: "plan", Cause: err}
	}

	tasks := make([]model.Task, 0, len(doc.Sessions))
	for _, s := range doc.Sessions {
		t := model.Task{
			ID:                 s.ID,
			Name:               s.Name,
			Description:        s.Description,
			Files:              s.Files,
			Dependencies:       s.Dependencies,
			Complexity:         s.Complexity,
			AcceptanceCriteria: s.AcceptanceCriteria,
			NonTestable:        s.NonTestable,
		}
		for _, st := range s.Steps {
			t.Steps = append(t.Steps, model.TaskStep{ID: st.ID, Name: st.Name, Files: st.Files})
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// reviewVerdict is the decoded shape of a code-reviewer or
// whole-PR-review agent's output artifact.
type reviewVerdict struct {
	Verdict string   `json:"verdict"`
	Notes   []string `json:"notes"`
}

const verdictNeedsFixes = "needs-fixes"

func (e *Executor) decodeVerdict(artifact core.ParsedArtifact) (reviewVerdict, error) {
	raw, err := json.Marshal(artifact.Data)
	if err != nil {
		return reviewVerdict{}, err
	}
	var v reviewVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return reviewVerdict{}, &cadreerr.ValidationError{Artifact: "review", Cause: err}
	}
	return v, nil
}

// runSession drives one implementation session's sub-pipeline under the
// retry executor and updates the queue and checkpoint on settlement.
func (e *Executor) runSession(ctx context.Context, queue *taskqueue.Queue, task model.Task) {
	result := retry.Execute(ctx, retry.Options[string]{
		MaxAttempts: e.cfg.MaxRetriesPerTask,
		Fn: func(ctx context.Context, attempt int) (string, error) {
			return e.attemptSession(ctx, task, attempt)
		},
		OnRetry: func(attempt int, err error) {
			_ = e.store.FailTask(task.ID, err.Error())
			e.notify(ctx, core.EventTaskRetry, fmt.Sprintf("session %s attempt %d failed: %v", task.ID, attempt, err))
		},
	})

	if result.Err != nil && errors.Is(result.Err, cadreerr.ErrBudgetExceeded) {
		e.setFatal(result.Err)
		queue.MarkBlocked(task.ID)
		_ = e.store.BlockTask(task.ID)
		return
	}

	if !result.Success {
		queue.MarkBlocked(task.ID)
		_ = e.store.BlockTask(task.ID)
		_ = e.store.AppendProgress(checkpoint.ProgressEntry{Message: fmt.Sprintf("session %s blocked after %d attempts", task.ID, result.Attempts)})
		e.notify(ctx, core.EventTaskBlocked, fmt.Sprintf("session %s blocked: %v", task.ID, result.Err))
		return
	}

	queue.Complete(task.ID)
	_ = e.store.CompleteTask(task.ID)
	_ = e.store.AppendProgress(checkpoint.ProgressEntry{Message: fmt.Sprintf("session %s completed", task.ID)})
}

// attemptSession runs one full write/build/test/commit/review pass.
func (e *Executor) attemptSession(ctx context.Context, task model.Task, attempt int) (string, error) {
	sliceFile := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-plan.json", task.ID))
	sliceBody, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshaling session %s plan slice: %w", task.ID, err)
	}
	if err := os.WriteFile(sliceFile, sliceBody, 0o644); err != nil {
		return "", fmt.Errorf("writing session %s plan slice: %w", task.ID, err)
	}

	writerOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-codewriter-%d.json", task.ID, attempt))
	if err := e.invokeAgent(ctx, e.cfg.CodeWriterAgent, sliceFile, writerOut); err != nil {
		return "", err
	}
	if err := e.checkBudget(); err != nil {
		return "", err
	}

	if e.cfg.BuildCommand != "" && e.cfg.PerTaskBuildCheck {
		if err := e.ensureBuildPasses(ctx, task, attempt); err != nil {
			return "", fmt.Errorf("session %s: build check: %w", task.ID, err)
		}
	}

	if !task.NonTestable {
		testOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-testwriter-%d.json", task.ID, attempt))
		if err := e.invokeAgent(ctx, e.cfg.TestWriterAgent, sliceFile, testOut); err != nil {
			return "", err
		}
		if err := e.checkBudget(); err != nil {
			return "", err
		}
	}

	if _, err := e.git.CommitAll(ctx, fmt.Sprintf("implement %s", task.Name)); err != nil {
		return "", fmt.Errorf("session %s: commit: %w", task.ID, err)
	}

	diffFile, err := e.writeTruncatedDiff(ctx, fmt.Sprintf("session-%s-diff-%d.diff", task.ID, attempt))
	if err != nil {
		return "", fmt.Errorf("session %s: diff: %w", task.ID, err)
	}

	reviewOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-review-%d.json", task.ID, attempt))
	if err := e.invokeAgent(ctx, e.cfg.CodeReviewerAgent, diffFile, reviewOut); err != nil {
		return "", err
	}
	if err := e.checkBudget(); err != nil {
		return "", err
	}

	reviewArtifact, err := e.parser.Parse(ctx, "review", reviewOut)
	if err != nil {
		return "", fmt.Errorf("session %s: parsing review: %w", task.ID, err)
	}
	verdict, err := e.decodeVerdict(reviewArtifact)
	if err != nil {
		return "", err
	}

	if verdict.Verdict == verdictNeedsFixes {
		fixOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-fixsurgeon-%d.json", task.ID, attempt))
		if err := e.invokeAgent(ctx, e.cfg.FixSurgeonAgent, reviewOut, fixOut); err != nil {
			return "", fmt.Errorf("session %s: fix-surgeon: %w", task.ID, err)
		}
		if err := e.checkBudget(); err != nil {
			return "", err
		}
	}

	return writerOut, nil
}

// ensureBuildPasses runs the configured build command, invoking the
// fix-surgeon agent up to MaxBuildFixRounds times on failure.
func (e *Executor) ensureBuildPasses(ctx context.Context, task model.Task, attempt int) error {
	for round := 0; ; round++ {
		buildLog := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-buildlog-%d-%d.txt", task.ID, attempt, round))
		buildErr := e.runBuildCommand(ctx, buildLog)
		if buildErr == nil {
			return nil
		}
		if round >= e.cfg.MaxBuildFixRounds {
			return buildErr
		}

		fixOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("session-%s-buildfix-%d-%d.json", task.ID, attempt, round))
		if err := e.invokeAgent(ctx, e.cfg.FixSurgeonAgent, buildLog, fixOut); err != nil {
			return err
		}
		if err := e.checkBudget(); err != nil {
			return err
		}
	}
}

// runBuildCommand runs the configured build command, writing its combined
// output to logPath so a failed build can be handed to the fix-surgeon
// agent as context.
func (e *Executor) runBuildCommand(ctx context.Context, logPath string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.cfg.BuildCommand)
	cmd.Dir = e.workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	_ = os.WriteFile(logPath, out.Bytes(), 0o644)
	if runErr != nil {
		return fmt.Errorf("build failed: %w", runErr)
	}
	return nil
}

func (e *Executor) invokeAgent(ctx context.Context, agentName, contextPath, outputPath string) error {
	invocation := core.AgentInvocation{
		Agent:       agentName,
		IssueNumber: e.issueNumber,
		Phase:       e.PhaseID(),
		ContextPath: contextPath,
		OutputPath:  outputPath,
	}
	result, err := e.launcher.LaunchAgent(ctx, invocation, e.workDir)
	if err != nil {
		return fmt.Errorf("launching agent %s: %w", agentName, err)
	}
	e.tracker.Record(agentName, e.PhaseID(), e.issueNumber, result.TokenUsage.Total())
	_ = e.store.RecordTokenUsage(agentName, e.PhaseID(), result.TokenUsage.Total())
	if !result.Success {
		return fmt.Errorf("agent %s failed: %s", agentName, result.Error)
	}
	return nil
}

func (e *Executor) checkBudget() error {
	_, err := e.guard.CheckIssue(e.issueNumber)
	return err
}

func (e *Executor) writeTruncatedDiff(ctx context.Context, name string) (string, error) {
	diff, err := e.git.DiffUnified(ctx, e.baseCommit)
	if err != nil {
		return "", err
	}
	if len(diff) > e.cfg.MaxDiffBytes {
		diff = diff[:e.cfg.MaxDiffBytes] + truncationMarker
	}
	path := filepath.Join(e.cfg.ArtifactsDir, name)
	if err := os.WriteFile(path, []byte(diff), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// runWholePRReview builds the full diff against the base commit and
// invokes the whole-PR-review agent up to MaxWholePRReviewRetries times;
// a needs-fixes verdict triggers exactly one fix-surgeon pass and commit.
func (e *Executor) runWholePRReview(ctx context.Context) (*reviewVerdict, error) {
	var lastDiffFile string
	result := retry.Execute(ctx, retry.Options[reviewVerdict]{
		MaxAttempts: e.cfg.MaxWholePRReviewRetries,
		Fn: func(ctx context.Context, attempt int) (reviewVerdict, error) {
			diffFile, err := e.writeTruncatedDiff(ctx, fmt.Sprintf("whole-pr-diff-%d.diff", attempt))
			if err != nil {
				return reviewVerdict{}, err
			}
			lastDiffFile = diffFile
			reviewOut := filepath.Join(e.cfg.ArtifactsDir, fmt.Sprintf("whole-pr-review-%d.json", attempt))
			if err := e.invokeAgent(ctx, e.cfg.WholePRReviewAgent, diffFile, reviewOut); err != nil {
				return reviewVerdict{}, err
			}
			if err := e.checkBudget(); err != nil {
				return reviewVerdict{}, err
			}
			artifact, err := e.parser.Parse(ctx, "review", reviewOut)
			if err != nil {
				return reviewVerdict{}, err
			}
			return e.decodeVerdict(artifact)
		},
	})
	if result.Err != nil {
		return nil, result.Err
	}

	verdict := result.Value
	if verdict.Verdict == verdictNeedsFixes {
		fixOut := filepath.Join(e.cfg.ArtifactsDir, "whole-pr-fixsurgeon.json")
		if err := e.invokeAgent(ctx, e.cfg.FixSurgeonAgent, lastDiffFile, fixOut); err != nil {
			return nil, err
		}
		if err := e.checkBudget(); err != nil {
			return nil, err
		}
		if _, err := e.git.CommitAll(ctx, "address whole-PR review feedback"); err != nil {
			return nil, fmt.Errorf("committing whole-PR review fixes: %w", err)
		}
	}
	return &verdict, nil
}

// summary is the phase-3 output artifact: a record of every session's
// settlement plus the whole-PR review outcome, if run.
type summary struct {
	GeneratedAt    time.Time `json:"generatedAt"`
	TotalSessions  int       `json:"totalSessions"`
	Completed      int       `json:"completed"`
	Blocked        int       `json:"blocked"`
	WholePRVerdict string    `json:"wholePrVerdict,omitempty"`
}

func (e *Executor) writeSummary(counts taskqueue.Counts, review *reviewVerdict) (string, error) {
	s := summary{
		GeneratedAt:   time.Now(),
		TotalSessions: counts.Total,
		Completed:     counts.Completed,
		Blocked:       counts.Blocked,
	}
	if review != nil {
		s.WholePRVerdict = review.Verdict
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(e.cfg.ArtifactsDir, "phase3-summary.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
