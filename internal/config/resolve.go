package config

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from the cadre.toml config file.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the fully-resolved configuration with source tracking.
// The Config field contains the merged values; Sources tracks where each came from.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // key is dotted path, e.g., "fleet.project"
	Path    string                  // path to the config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration.
// Nil/zero values mean "not set" (do not override). A *string that is nil
// means "not overridden"; a *string pointing to "" means "override to empty string."
type CLIOverrides struct {
	Project           *string
	StateDir          *string
	ArtifactsDir      *string
	MaxParallelIssues *int
	MaxParallelAgents *int
	AgentModel        *string
	AgentEffort       *string
	Verbose           *bool
	Quiet             *bool
}

// EnvFunc is a function that looks up environment variables.
// Default implementation is os.LookupEnv. Injected for testability.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
//
// Parameters:
//   - defaults: built-in default config (from NewDefaults())
//   - fileConfig: parsed config from cadre.toml (nil if no file found)
//   - envFn: function to look up environment variables
//   - overrides: CLI flag values (nil fields mean "not set")
//
// Returns the fully-resolved config with source annotations.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	// Ensure we have a valid defaults to start from.
	if defaults == nil {
		defaults = &Config{}
	}

	// Ensure we have a valid envFn.
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}

	// Ensure we have a valid overrides.
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: Start with defaults as the base.
	resolveFleetFromDefaults(rc, defaults)
	resolveAgentsFromDefaults(rc, defaults)
	resolveBudgetFromDefaults(rc, defaults)
	resolveGateFromDefaults(rc, defaults)

	// Layer 2: Merge file config on top (non-zero string values override; maps merge keys).
	if fileConfig != nil {
		resolveFleetFromFile(rc, fileConfig)
		resolveAgentsFromFile(rc, fileConfig)
		resolveBudgetFromFile(rc, fileConfig)
		resolveGateFromFile(rc, fileConfig)
	}

	// Layer 3: Merge environment variables on top.
	resolveFromEnv(rc, envFn)

	// Layer 4: Merge CLI overrides on top.
	resolveFromCLI(rc, overrides)

	return rc
}

// --- Layer 1: Defaults ---

func resolveFleetFromDefaults(rc *ResolvedConfig, defaults *Config) {
	f := &rc.Config.Fleet
	d := &defaults.Fleet

	setString(&f.Project, d.Project, "fleet.project", SourceDefault, rc.Sources)
	setString(&f.StateDir, d.StateDir, "fleet.state_dir", SourceDefault, rc.Sources)
	setString(&f.ArtifactsDir, d.ArtifactsDir, "fleet.artifacts_dir", SourceDefault, rc.Sources)
	setInt(&f.MaxParallelIssues, d.MaxParallelIssues, "fleet.max_parallel_issues", SourceDefault, rc.Sources)
	setInt(&f.MaxParallelAgents, d.MaxParallelAgents, "fleet.max_parallel_agents", SourceDefault, rc.Sources)
	f.DependencyWaves = d.DependencyWaves
	rc.Sources["fleet.dependency_waves"] = SourceDefault

	setInt(&f.MaxRetriesPerTask, d.MaxRetriesPerTask, "fleet.max_retries_per_task", SourceDefault, rc.Sources)
	setInt(&f.MaxBuildFixRounds, d.MaxBuildFixRounds, "fleet.max_build_fix_rounds", SourceDefault, rc.Sources)
	setInt(&f.MaxWholePRReviewRetries, d.MaxWholePRReviewRetries, "fleet.max_whole_pr_review_retries", SourceDefault, rc.Sources)
	setInt(&f.MaxDiffBytes, d.MaxDiffBytes, "fleet.max_diff_bytes", SourceDefault, rc.Sources)
	setString(&f.BuildCommand, d.BuildCommand, "fleet.build_command", SourceDefault, rc.Sources)
	f.PerTaskBuildCheck = d.PerTaskBuildCheck
	f.WholePRReview = d.WholePRReview

	setString(&f.AnalysisAgent, d.AnalysisAgent, "fleet.analysis_agent", SourceDefault, rc.Sources)
	setString(&f.PlanningAgent, d.PlanningAgent, "fleet.planning_agent", SourceDefault, rc.Sources)
	setString(&f.CodeWriterAgent, d.CodeWriterAgent, "fleet.code_writer_agent", SourceDefault, rc.Sources)
	setString(&f.TestWriterAgent, d.TestWriterAgent, "fleet.test_writer_agent", SourceDefault, rc.Sources)
	setString(&f.FixSurgeonAgent, d.FixSurgeonAgent, "fleet.fix_surgeon_agent", SourceDefault, rc.Sources)
	setString(&f.CodeReviewerAgent, d.CodeReviewerAgent, "fleet.code_reviewer_agent", SourceDefault, rc.Sources)
	setString(&f.WholePRReviewAgent, d.WholePRReviewAgent, "fleet.whole_pr_review_agent", SourceDefault, rc.Sources)
	setString(&f.IntegrationAgent, d.IntegrationAgent, "fleet.integration_agent", SourceDefault, rc.Sources)
	setString(&f.PRComposerAgent, d.PRComposerAgent, "fleet.pr_composer_agent", SourceDefault, rc.Sources)
}

func resolveAgentsFromDefaults(rc *ResolvedConfig, defaults *Config) {
	rc.Config.Agents = make(map[string]AgentConfig)
	for name, agent := range defaults.Agents {
		rc.Config.Agents[name] = agent
		setAgentSources(rc.Sources, name, SourceDefault)
	}
}

func resolveBudgetFromDefaults(rc *ResolvedConfig, defaults *Config) {
	rc.Config.Budget = defaults.Budget
	rc.Sources["budget.fleet_token_limit"] = SourceDefault
	rc.Sources["budget.issue_token_limit"] = SourceDefault
}

func resolveGateFromDefaults(rc *ResolvedConfig, defaults *Config) {
	rc.Config.Gate = defaults.Gate
	rc.Sources["gate.enabled"] = SourceDefault
}

// --- Layer 2: File ---

func resolveFleetFromFile(rc *ResolvedConfig, file *Config) {
	f := &rc.Config.Fleet
	ff := &file.Fleet

	mergeString(&f.Project, ff.Project, "fleet.project", SourceFile, rc.Sources)
	mergeString(&f.StateDir, ff.StateDir, "fleet.state_dir", SourceFile, rc.Sources)
	mergeString(&f.ArtifactsDir, ff.ArtifactsDir, "fleet.artifacts_dir", SourceFile, rc.Sources)
	mergeInt(&f.MaxParallelIssues, ff.MaxParallelIssues, "fleet.max_parallel_issues", SourceFile, rc.Sources)
	mergeInt(&f.MaxParallelAgents, ff.MaxParallelAgents, "fleet.max_parallel_agents", SourceFile, rc.Sources)
	if ff.DependencyWaves {
		f.DependencyWaves = true
		rc.Sources["fleet.dependency_waves"] = SourceFile
	}

	mergeInt(&f.MaxRetriesPerTask, ff.MaxRetriesPerTask, "fleet.max_retries_per_task", SourceFile, rc.Sources)
	mergeInt(&f.MaxBuildFixRounds, ff.MaxBuildFixRounds, "fleet.max_build_fix_rounds", SourceFile, rc.Sources)
	mergeInt(&f.MaxWholePRReviewRetries, ff.MaxWholePRReviewRetries, "fleet.max_whole_pr_review_retries", SourceFile, rc.Sources)
	mergeInt(&f.MaxDiffBytes, ff.MaxDiffBytes, "fleet.max_diff_bytes", SourceFile, rc.Sources)
	mergeString(&f.BuildCommand, ff.BuildCommand, "fleet.build_command", SourceFile, rc.Sources)
	if ff.PerTaskBuildCheck {
		f.PerTaskBuildCheck = true
	}
	if ff.WholePRReview {
		f.WholePRReview = true
	}

	mergeString(&f.AnalysisAgent, ff.AnalysisAgent, "fleet.analysis_agent", SourceFile, rc.Sources)
	mergeString(&f.PlanningAgent, ff.PlanningAgent, "fleet.planning_agent", SourceFile, rc.Sources)
	mergeString(&f.CodeWriterAgent, ff.CodeWriterAgent, "fleet.code_writer_agent", SourceFile, rc.Sources)
	mergeString(&f.TestWriterAgent, ff.TestWriterAgent, "fleet.test_writer_agent", SourceFile, rc.Sources)
	mergeString(&f.FixSurgeonAgent, ff.FixSurgeonAgent, "fleet.fix_surgeon_agent", SourceFile, rc.Sources)
	mergeString(&f.CodeReviewerAgent, ff.CodeReviewerAgent, "fleet.code_reviewer_agent", SourceFile, rc.Sources)
	mergeString(&f.WholePRReviewAgent, ff.WholePRReviewAgent, "fleet.whole_pr_review_agent", SourceFile, rc.Sources)
	mergeString(&f.IntegrationAgent, ff.IntegrationAgent, "fleet.integration_agent", SourceFile, rc.Sources)
	mergeString(&f.PRComposerAgent, ff.PRComposerAgent, "fleet.pr_composer_agent", SourceFile, rc.Sources)
}

func resolveAgentsFromFile(rc *ResolvedConfig, file *Config) {
	for name, agent := range file.Agents {
		rc.Config.Agents[name] = agent
		setAgentSources(rc.Sources, name, SourceFile)
	}
}

func resolveBudgetFromFile(rc *ResolvedConfig, file *Config) {
	if file.Budget.FleetTokenLimit > 0 {
		rc.Config.Budget.FleetTokenLimit = file.Budget.FleetTokenLimit
		rc.Sources["budget.fleet_token_limit"] = SourceFile
	}
	if file.Budget.IssueTokenLimit > 0 {
		rc.Config.Budget.IssueTokenLimit = file.Budget.IssueTokenLimit
		rc.Sources["budget.issue_token_limit"] = SourceFile
	}
}

func resolveGateFromFile(rc *ResolvedConfig, file *Config) {
	if file.Gate.Enabled {
		rc.Config.Gate.Enabled = true
		rc.Sources["gate.enabled"] = SourceFile
	}
}

// --- Layer 3: Environment ---

// Environment variable mapping:
//
//	CADRE_PROJECT              -> fleet.project
//	CADRE_STATE_DIR            -> fleet.state_dir
//	CADRE_ARTIFACTS_DIR        -> fleet.artifacts_dir
//	CADRE_MAX_PARALLEL_ISSUES  -> fleet.max_parallel_issues
//	CADRE_MAX_PARALLEL_AGENTS  -> fleet.max_parallel_agents
//	CADRE_AGENT_MODEL          -> agents.*.model (applies to all agents)
//	CADRE_AGENT_EFFORT         -> agents.*.effort (applies to all agents)
func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	f := &rc.Config.Fleet

	if val, ok := envFn("CADRE_PROJECT"); ok {
		f.Project = val
		rc.Sources["fleet.project"] = SourceEnv
	}
	if val, ok := envFn("CADRE_STATE_DIR"); ok {
		f.StateDir = val
		rc.Sources["fleet.state_dir"] = SourceEnv
	}
	if val, ok := envFn("CADRE_ARTIFACTS_DIR"); ok {
		f.ArtifactsDir = val
		rc.Sources["fleet.artifacts_dir"] = SourceEnv
	}
	if val, ok := envFn("CADRE_MAX_PARALLEL_ISSUES"); ok {
		if n, ok := parseIntEnv(val); ok {
			f.MaxParallelIssues = n
			rc.Sources["fleet.max_parallel_issues"] = SourceEnv
		}
	}
	if val, ok := envFn("CADRE_MAX_PARALLEL_AGENTS"); ok {
		if n, ok := parseIntEnv(val); ok {
			f.MaxParallelAgents = n
			rc.Sources["fleet.max_parallel_agents"] = SourceEnv
		}
	}

	// Agent-level env vars apply to ALL agents in the merged map.
	modelVal, modelSet := envFn("CADRE_AGENT_MODEL")
	effortVal, effortSet := envFn("CADRE_AGENT_EFFORT")

	if modelSet || effortSet {
		for name, agent := range rc.Config.Agents {
			if modelSet {
				agent.Model = modelVal
				rc.Sources["agents."+name+".model"] = SourceEnv
			}
			if effortSet {
				agent.Effort = effortVal
				rc.Sources["agents."+name+".effort"] = SourceEnv
			}
			rc.Config.Agents[name] = agent
		}
	}
}

// --- Layer 4: CLI overrides ---

func resolveFromCLI(rc *ResolvedConfig, overrides *CLIOverrides) {
	f := &rc.Config.Fleet

	if overrides.Project != nil {
		f.Project = *overrides.Project
		rc.Sources["fleet.project"] = SourceCLI
	}
	if overrides.StateDir != nil {
		f.StateDir = *overrides.StateDir
		rc.Sources["fleet.state_dir"] = SourceCLI
	}
	if overrides.ArtifactsDir != nil {
		f.ArtifactsDir = *overrides.ArtifactsDir
		rc.Sources["fleet.artifacts_dir"] = SourceCLI
	}
	if overrides.MaxParallelIssues != nil {
		f.MaxParallelIssues = *overrides.MaxParallelIssues
		rc.Sources["fleet.max_parallel_issues"] = SourceCLI
	}
	if overrides.MaxParallelAgents != nil {
		f.MaxParallelAgents = *overrides.MaxParallelAgents
		rc.Sources["fleet.max_parallel_agents"] = SourceCLI
	}

	// Agent-level CLI overrides apply to ALL agents in the merged map.
	if overrides.AgentModel != nil || overrides.AgentEffort != nil {
		for name, agent := range rc.Config.Agents {
			if overrides.AgentModel != nil {
				agent.Model = *overrides.AgentModel
				rc.Sources["agents."+name+".model"] = SourceCLI
			}
			if overrides.AgentEffort != nil {
				agent.Effort = *overrides.AgentEffort
				rc.Sources["agents."+name+".effort"] = SourceCLI
			}
			rc.Config.Agents[name] = agent
		}
	}
}

// --- Helpers ---

// setString unconditionally sets the target to the given value and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// setInt unconditionally sets the target to the given value and records the source.
func setInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty (non-zero string).
// For file-layer merging, an empty string in the file means "not set in file",
// so it does not override the default.
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}

// mergeInt overwrites the target only if value is non-zero.
func mergeInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != 0 {
		*target = value
		sources[path] = source
	}
}

// parseIntEnv parses a decimal environment variable value, returning ok=false
// on a malformed value (the caller then leaves the existing setting in place).
func parseIntEnv(val string) (int, bool) {
	n := 0
	if val == "" {
		return 0, false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// setAgentSources records the source for all fields of a named agent.
func setAgentSources(sources map[string]ConfigSource, name string, source ConfigSource) {
	prefix := "agents." + name
	sources[prefix+".command"] = source
	sources[prefix+".model"] = source
	sources[prefix+".effort"] = source
	sources[prefix+".timeout"] = source
}
