// run.go is the composition root: it wires every collaborator package
// (config, agent, worktree, platform, gate, resultparse, tokens, checkpoint,
// report, shutdown, phase, implphase, agentphase, issuepipeline, fleet) into
// one running fleet.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/agent"
	"github.com/cadreops/cadre/internal/agentphase"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/config"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/fleet"
	"github.com/cadreops/cadre/internal/gate"
	"github.com/cadreops/cadre/internal/git"
	"github.com/cadreops/cadre/internal/implphase"
	"github.com/cadreops/cadre/internal/issuepipeline"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/notify"
	"github.com/cadreops/cadre/internal/phase"
	"github.com/cadreops/cadre/internal/platform"
	"github.com/cadreops/cadre/internal/report"
	"github.com/cadreops/cadre/internal/resultparse"
	"github.com/cadreops/cadre/internal/shutdown"
	"github.com/cadreops/cadre/internal/tokens"
	"github.com/cadreops/cadre/internal/worktree"
)

// allPhases declares CADRE's fixed five-phase pipeline and which phases are
// critical (a failure is fatal to the issue) versus gated (a quality gate
// runs after the phase's output is produced). Phase 4 (integration) is the
// one non-critical phase: its failure yields a code-complete issue rather
// than a failed one, and skips phase 5. The terminal phase, 5, is not gated.
func allPhases() []model.Phase {
	return []model.Phase{
		{ID: 1, Name: "analysis", Critical: true, Gated: true},
		{ID: 2, Name: "planning", Critical: true, Gated: true},
		{ID: 3, Name: "implementation", Critical: true, Gated: true},
		{ID: 4, Name: "integration", Critical: false, Gated: true},
		{ID: 5, Name: "pr-composer", Critical: true, Gated: false},
	}
}

// agentForPhase returns the FleetConfig role bound to a single-shot phase.
// Phase 3 (implementation) has no single role -- implphase.Executor reads
// CodeWriterAgent/TestWriterAgent/FixSurgeonAgent/CodeReviewerAgent/
// WholePRReviewAgent directly from implphase.Config.
func agentForPhase(f config.FleetConfig, id model.PhaseID) string {
	switch id {
	case 1:
		return f.AnalysisAgent
	case 2:
		return f.PlanningAgent
	case 4:
		return f.IntegrationAgent
	case 5:
		return f.PRComposerAgent
	default:
		return ""
	}
}

var runFlagDeps []string

// runCmd implements "cadre run <issue...>": drives the fleet orchestrator
// over the named issues.
var runCmd = &cobra.Command{
	Use:   "run <issue...>",
	Short: "Run the fleet over the given issue numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runFlagDeps, "dep", nil, `Dependency edge "issue:dependsOnIssue", repeatable`)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	resolved, meta, err := loadAndResolveConfig()
	if err != nil {
		return err
	}
	vr := config.Validate(resolved.Config, meta)
	if vr.HasErrors() {
		printValidationResult(cmd, vr)
		return fmt.Errorf("configuration has %d error(s)", len(vr.Errors()))
	}

	cfg := resolved.Config
	dir, err := repoDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Fleet.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Fleet.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("creating artifacts dir: %w", err)
	}

	registry, err := buildRegistry(cfg.Agents)
	if err != nil {
		return err
	}
	processes := agent.NewProcessRegistry()
	launcher := agent.NewLauncher(registry, processes)

	wtMgr := worktree.New(dir, worktreeBaseDir(cfg))
	plat := platform.New(dir)
	if err := plat.Connect(cmd.Context()); err != nil {
		return fmt.Errorf("connecting to platform: %w", err)
	}
	defer plat.Disconnect(cmd.Context())

	notifier := notify.New(notify.NewLogProvider())
	gateCoord := gate.Default()
	parser := resultparse.New()
	tracker := tokens.NewTracker()
	fleetLimit, issueLimit := cfg.Budget.ToGuardLimits()
	guard := tokens.NewGuard(tracker, fleetLimit, issueLimit)

	fleetStore := checkpoint.NewFleetStore(cfg.Fleet.StateDir, cfg.Fleet.Project)
	reportWriter := report.New(cfg.Fleet.StateDir)

	var inProgMu sync.Mutex
	inProgress := make(map[model.IssueNumber]bool)
	markStart := func(n model.IssueNumber) {
		inProgMu.Lock()
		inProgress[n] = true
		inProgMu.Unlock()
	}
	markDone := func(n model.IssueNumber) {
		inProgMu.Lock()
		delete(inProgress, n)
		inProgMu.Unlock()
	}
	inProgressFunc := func() []model.IssueNumber {
		inProgMu.Lock()
		defer inProgMu.Unlock()
		out := make([]model.IssueNumber, 0, len(inProgress))
		for n := range inProgress {
			out = append(out, n)
		}
		return out
	}

	runIssue := func(ctx context.Context, issueNumber model.IssueNumber, title string, wt core.WorktreeInfo) (issuepipeline.Result, error) {
		markStart(issueNumber)
		defer markDone(issueNumber)
		return runIssuePipeline(ctx, cfg, issueNumber, title, wt, launcher, plat, gateCoord, parser, tracker, guard, notifier)
	}

	sup := shutdown.New(processes, inProgressFunc, shutdown.WithNotifier(notifier))
	ctx, stop := sup.Watch(cmd.Context())
	defer stop()

	orchestrator := fleet.New(fleetStore, wtMgr, guard, runIssue, fleet.Config{
		MaxParallelIssues: cfg.Fleet.MaxParallelIssues,
		DependencyWaves:   cfg.Fleet.DependencyWaves,
	}, fleet.WithNotifier(notifier), fleet.WithReportWriter(report.WriterFunc(reportWriter, cfg.Fleet.Project, time.Now)))

	issues, err := parseIssueArgs(args, runFlagDeps)
	if err != nil {
		return err
	}

	result, err := orchestrator.Run(ctx, cfg.Fleet.Project, issues)
	sup.MarkFinished()
	if err != nil {
		return fmt.Errorf("running fleet: %w", err)
	}

	printFleetResult(cmd, result)
	if sup.Interrupted() {
		os.Exit(sup.ExitCode())
	}
	if !result.Success {
		return fmt.Errorf("fleet run completed with failures")
	}
	return nil
}

// parseIssueArgs converts positional issue-number args and repeatable
// --dep "issue:dependsOn" flags into fleet.Issue values.
func parseIssueArgs(args []string, deps []string) ([]fleet.Issue, error) {
	issues := make([]fleet.Issue, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid issue number %q: %w", a, err)
		}
		issues = append(issues, fleet.Issue{Number: model.IssueNumber(n)})
	}

	byNumber := make(map[model.IssueNumber]int, len(issues))
	for i, issue := range issues {
		byNumber[issue.Number] = i
	}
	for _, dep := range deps {
		var issueN, dependsOn int
		if _, err := fmt.Sscanf(dep, "%d:%d", &issueN, &dependsOn); err != nil {
			return nil, fmt.Errorf("invalid --dep %q: want issue:dependsOnIssue", dep)
		}
		idx, ok := byNumber[model.IssueNumber(issueN)]
		if !ok {
			return nil, fmt.Errorf("--dep %q: issue %d is not in the run list", dep, issueN)
		}
		issues[idx].Dependencies = append(issues[idx].Dependencies, model.IssueNumber(dependsOn))
	}
	return issues, nil
}

// runIssuePipeline builds the per-issue checkpoint store, git client, phase
// runner, and phase factory, then drives the issue through all five phases.
func runIssuePipeline(
	ctx context.Context,
	cfg *config.Config,
	issueNumber model.IssueNumber,
	title string,
	wt core.WorktreeInfo,
	launcher core.AgentLauncher,
	plat *platform.GitHub,
	gateCoord core.GateCoordinator,
	parser core.ResultParser,
	tracker *tokens.Tracker,
	guard *tokens.Guard,
	notifier core.NotificationManager,
) (issuepipeline.Result, error) {
	issueStore := checkpoint.NewIssueStore(cfg.Fleet.StateDir, cfg.Fleet.Project, issueNumber)
	if _, err := issueStore.Load(issueNumber); err != nil {
		return issuepipeline.Result{}, fmt.Errorf("loading issue checkpoint: %w", err)
	}

	gitClient, err := git.Open(wt.Path)
	if err != nil {
		return issuepipeline.Result{}, fmt.Errorf("opening git client: %w", err)
	}

	issueDir := filepath.Join(cfg.Fleet.ArtifactsDir, fmt.Sprintf("issue-%d", issueNumber))
	if err := os.MkdirAll(issueDir, 0o755); err != nil {
		return issuepipeline.Result{}, fmt.Errorf("creating issue artifacts dir: %w", err)
	}

	issueCtxPath := filepath.Join(issueDir, "issue.md")
	if platIssue, err := plat.GetIssue(ctx, issueNumber); err == nil {
		if platIssue.Title != "" {
			title = platIssue.Title
		}
		_ = os.WriteFile(issueCtxPath, []byte(fmt.Sprintf("# %s\n\n%s\n", title, platIssue.Body)), 0o644)
	} else {
		_ = os.WriteFile(issueCtxPath, []byte(fmt.Sprintf("# %s\n", title)), 0o644)
	}

	runner := phase.New(issueStore, gateCoord)

	factory := func(ctx context.Context, ph model.Phase, resultsSoFar []phase.Result) (phase.Executor, error) {
		contextPath := issueCtxPath
		if len(resultsSoFar) > 0 {
			contextPath = resultsSoFar[len(resultsSoFar)-1].OutputPath
		}
		outputPath := filepath.Join(issueDir, fmt.Sprintf("phase-%d-%s.json", ph.ID, ph.Name))

		if ph.ID == 3 {
			planPath := contextPath
			for _, r := range resultsSoFar {
				if r.Phase == 2 {
					planPath = r.OutputPath
				}
			}
			implCfg := implphase.Config{
				ArtifactsDir:            issueDir,
				MaxParallelAgents:       cfg.Fleet.MaxParallelAgents,
				MaxRetriesPerTask:       cfg.Fleet.MaxRetriesPerTask,
				MaxBuildFixRounds:       cfg.Fleet.MaxBuildFixRounds,
				MaxWholePRReviewRetries: cfg.Fleet.MaxWholePRReviewRetries,
				MaxDiffBytes:            cfg.Fleet.MaxDiffBytes,
				BuildCommand:            cfg.Fleet.BuildCommand,
				PerTaskBuildCheck:       cfg.Fleet.PerTaskBuildCheck,
				WholePRReview:           cfg.Fleet.WholePRReview,
				CodeWriterAgent:         cfg.Fleet.CodeWriterAgent,
				TestWriterAgent:         cfg.Fleet.TestWriterAgent,
				FixSurgeonAgent:         cfg.Fleet.FixSurgeonAgent,
				CodeReviewerAgent:       cfg.Fleet.CodeReviewerAgent,
				WholePRReviewAgent:      cfg.Fleet.WholePRReviewAgent,
			}
			return implphase.New(issueNumber, wt.Path, wt.BaseCommit, planPath, issueStore, launcher, parser, gitClient, tracker, guard, implCfg, implphase.WithNotifier(notifier)), nil
		}

		agentName := agentForPhase(cfg.Fleet, ph.ID)
		return agentphase.New(issueNumber, ph.ID, ph.Name, agentName, contextPath, outputPath, wt.Path, issueStore, launcher, tracker, guard, agentphase.WithNotifier(notifier)), nil
	}

	prExtractor := func(ctx context.Context, result phase.Result) (*core.PullRequest, error) {
		artifact, err := parser.Parse(ctx, "pr-composer", result.OutputPath)
		if err != nil {
			return nil, err
		}
		prTitle, _ := artifact.Data["title"].(string)
		prBody, _ := artifact.Data["body"].(string)
		if prTitle == "" {
			prTitle = title
		}
		pr, err := plat.CreatePullRequest(ctx, core.PullRequestParams{
			IssueNumber: issueNumber,
			Branch:      wt.Branch,
			Title:       prTitle,
			Body:        prBody,
		})
		if err != nil {
			return nil, err
		}
		return &pr, nil
	}

	pipeline := issuepipeline.New(issueStore, runner, factory, issuepipeline.WithNotifier(notifier), issuepipeline.WithPRExtractor(prExtractor))
	return pipeline.Run(ctx, issueNumber, title, allPhases())
}

func printFleetResult(cmd *cobra.Command, result fleet.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nfleet run finished: success=%v duration=%s tokens=%d\n", result.Success, result.TotalDuration.Round(time.Second), result.TokenUsage)
	fmt.Fprintf(out, "  PRs created:      %v\n", result.PRsCreated)
	fmt.Fprintf(out, "  code-complete:    %v\n", result.CodeDoneNoPR)
	fmt.Fprintf(out, "  failed:           %v\n", result.FailedIssues)
}
