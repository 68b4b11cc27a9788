package config

// Config is the top-level configuration structure mapping to cadre.toml.
type Config struct {
	Fleet  FleetConfig            `toml:"fleet"`
	Agents map[string]AgentConfig `toml:"agents"`
	Budget BudgetConfig           `toml:"budget"`
	Gate   GateConfig             `toml:"gate"`
}

// FleetConfig maps to the [fleet] section in cadre.toml: fleet-wide
// concurrency bounds, implementation-phase tuning, and the agent names
// bound to each pipeline role.
type FleetConfig struct {
	Project           string `toml:"project"`
	StateDir          string `toml:"state_dir"`
	ArtifactsDir      string `toml:"artifacts_dir"`
	MaxParallelIssues int    `toml:"max_parallel_issues"`
	MaxParallelAgents int    `toml:"max_parallel_agents"`
	DependencyWaves   bool   `toml:"dependency_waves"`

	MaxRetriesPerTask       int    `toml:"max_retries_per_task"`
	MaxBuildFixRounds       int    `toml:"max_build_fix_rounds"`
	MaxWholePRReviewRetries int    `toml:"max_whole_pr_review_retries"`
	MaxDiffBytes            int    `toml:"max_diff_bytes"`
	BuildCommand            string `toml:"build_command"`
	PerTaskBuildCheck       bool   `toml:"per_task_build_check"`
	WholePRReview           bool   `toml:"whole_pr_review"`

	AnalysisAgent      string `toml:"analysis_agent"`
	PlanningAgent      string `toml:"planning_agent"`
	CodeWriterAgent    string `toml:"code_writer_agent"`
	TestWriterAgent    string `toml:"test_writer_agent"`
	FixSurgeonAgent    string `toml:"fix_surgeon_agent"`
	CodeReviewerAgent  string `toml:"code_reviewer_agent"`
	WholePRReviewAgent string `toml:"whole_pr_review_agent"`
	IntegrationAgent   string `toml:"integration_agent"`
	PRComposerAgent    string `toml:"pr_composer_agent"`
}

// AgentConfig maps to an [agents.<name>] section in cadre.toml: one
// external-agent binding, keyed by the logical name referenced from
// FleetConfig's *Agent fields.
type AgentConfig struct {
	Command string `toml:"command"`
	Model   string `toml:"model"`
	Effort  string `toml:"effort"`
	Timeout string `toml:"timeout"`
}

// BudgetConfig maps to the [budget] section in cadre.toml: optional
// fleet-wide and per-issue token ceilings. A zero limit means unbounded,
// matching tokens.NewGuard's nil-pointer convention (see ToGuardLimits).
type BudgetConfig struct {
	FleetTokenLimit int64 `toml:"fleet_token_limit"`
	IssueTokenLimit int64 `toml:"issue_token_limit"`
}

// ToGuardLimits converts the configured limits into the *int64 shape
// tokens.NewGuard expects, where a zero value means "no limit" rather than
// "limit of zero".
func (b BudgetConfig) ToGuardLimits() (fleetLimit, issueLimit *int64) {
	if b.FleetTokenLimit > 0 {
		fleetLimit = &b.FleetTokenLimit
	}
	if b.IssueTokenLimit > 0 {
		issueLimit = &b.IssueTokenLimit
	}
	return fleetLimit, issueLimit
}

// GateConfig maps to the [gate] section in cadre.toml: whether the
// default output-exists/non-empty gate rules run between phases.
type GateConfig struct {
	Enabled bool `toml:"enabled"`
}
