package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes all validation checks.
func validConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			Project:           "my-project",
			MaxParallelIssues: 3,
			MaxParallelAgents: 2,
			BuildCommand:      "go build ./...",
			PerTaskBuildCheck: true,
		},
		Agents: map[string]AgentConfig{
			"claude": {
				Command: "claude",
				Model:   "claude-opus-4-6",
				Effort:  "high",
			},
		},
		Budget: BudgetConfig{
			FleetTokenLimit: 5_000_000,
			IssueTokenLimit: 500_000,
		},
		Gate: GateConfig{Enabled: true},
	}
}

// decodeMetadata parses TOML content and returns the metadata, useful for
// testing unknown key detection.
func decodeMetadata(t *testing.T, content string) toml.MetaData {
	t.Helper()
	var cfg Config
	md, err := toml.Decode(content, &cfg)
	require.NoError(t, err)
	return md
}

// --- ValidationResult method tests ---

func TestValidationResult_HasErrors(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityError, Field: "fleet.project", Message: "must not be empty"},
	}}
	assert.True(t, vr.HasErrors())
}

func TestValidationResult_HasErrors_NoneFound(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityWarning, Field: "fleet.build_command", Message: "empty"},
	}}
	assert.False(t, vr.HasErrors())
}

func TestValidationResult_HasWarnings(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityWarning, Field: "fleet.max_parallel_issues", Message: "not set"},
	}}
	assert.True(t, vr.HasWarnings())
}

func TestValidationResult_HasWarnings_NoneFound(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityError, Field: "fleet.project", Message: "must not be empty"},
	}}
	assert.False(t, vr.HasWarnings())
}

func TestValidationResult_Errors(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityError, Field: "a", Message: "err1"},
		{Severity: SeverityWarning, Field: "b", Message: "warn1"},
		{Severity: SeverityError, Field: "c", Message: "err2"},
	}}
	errs := vr.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "a", errs[0].Field)
	assert.Equal(t, "c", errs[1].Field)
}

func TestValidationResult_Warnings(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityError, Field: "a", Message: "err1"},
		{Severity: SeverityWarning, Field: "b", Message: "warn1"},
	}}
	warns := vr.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, "b", warns[0].Field)
}

func TestValidationResult_EmptyResult(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{}
	assert.False(t, vr.HasErrors())
	assert.False(t, vr.HasWarnings())
	assert.Empty(t, vr.Errors())
	assert.Empty(t, vr.Warnings())
}

func TestValidationResult_MethodsMixed(t *testing.T) {
	t.Parallel()
	vr := &ValidationResult{Issues: []ValidationIssue{
		{Severity: SeverityError, Field: "a", Message: "e"},
		{Severity: SeverityWarning, Field: "b", Message: "w"},
	}}
	assert.True(t, vr.HasErrors())
	assert.True(t, vr.HasWarnings())
	assert.Len(t, vr.Errors(), 1)
	assert.Len(t, vr.Warnings(), 1)
}

// --- Validate tests ---

func TestValidate_NilConfig(t *testing.T) {
	t.Parallel()
	vr := Validate(nil, nil)
	require.True(t, vr.HasErrors())
	assert.Equal(t, "configuration is nil", vr.Errors()[0].Message)
}

func TestValidate_ValidConfig_NoErrors(t *testing.T) {
	t.Parallel()
	vr := Validate(validConfig(), nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_ValidConfig_NilMeta(t *testing.T) {
	t.Parallel()
	vr := Validate(validConfig(), nil)
	assert.False(t, vr.HasErrors())
	assert.False(t, vr.HasWarnings())
}

func TestValidate_DefaultsOnly_HasProjectError(t *testing.T) {
	t.Parallel()
	cfg := NewDefaults()
	vr := Validate(cfg, nil)
	// Defaults leave project empty; that alone is an error.
	require.True(t, vr.HasErrors())
	found := false
	for _, e := range vr.Errors() {
		if e.Field == "fleet.project" {
			found = true
		}
	}
	assert.True(t, found, "expected fleet.project error")
}

func TestValidate_EmptyProjectName(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.Project = ""
	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Equal(t, "fleet.project", vr.Errors()[0].Field)
}

func TestValidate_NegativeMaxParallelIssues(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.MaxParallelIssues = -1
	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Errors()), "fleet.max_parallel_issues")
}

func TestValidate_NegativeMaxParallelAgents(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.MaxParallelAgents = -2
	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Errors()), "fleet.max_parallel_agents")
}

func TestValidate_ZeroMaxParallelIssuesWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.MaxParallelIssues = 0
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Warnings()), "fleet.max_parallel_issues")
}

func TestValidate_ZeroMaxParallelAgentsWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.MaxParallelAgents = 0
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Warnings()), "fleet.max_parallel_agents")
}

func TestValidate_NegativeRetryBounds(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.MaxRetriesPerTask = -1
	cfg.Fleet.MaxBuildFixRounds = -1
	cfg.Fleet.MaxWholePRReviewRetries = -1
	cfg.Fleet.MaxDiffBytes = -1
	vr := Validate(cfg, nil)
	fields := fieldsOf(vr.Errors())
	assert.Contains(t, fields, "fleet.max_retries_per_task")
	assert.Contains(t, fields, "fleet.max_build_fix_rounds")
	assert.Contains(t, fields, "fleet.max_whole_pr_review_retries")
	assert.Contains(t, fields, "fleet.max_diff_bytes")
}

func TestValidate_BuildCheckEnabledWithoutCommandWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.BuildCommand = ""
	cfg.Fleet.PerTaskBuildCheck = true
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Warnings()), "fleet.build_command")
}

func TestValidate_BuildCheckDisabledWithoutCommandNoWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.BuildCommand = ""
	cfg.Fleet.PerTaskBuildCheck = false
	vr := Validate(cfg, nil)
	assert.NotContains(t, fieldsOf(vr.Warnings()), "fleet.build_command")
}

func TestValidate_EmptyAgentCommand(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents["broken"] = AgentConfig{Command: "", Effort: "high"}
	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Errors()), "agents.broken.command")
}

func TestValidate_InvalidAgentEffort(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents["claude"] = AgentConfig{Command: "claude", Effort: "extreme"}
	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Errors()), "agents.claude.effort")
}

func TestValidate_EmptyAgentEffortValid(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents["claude"] = AgentConfig{Command: "claude", Effort: ""}
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_AllValidEfforts(t *testing.T) {
	t.Parallel()
	for _, effort := range []string{"low", "medium", "high", ""} {
		cfg := validConfig()
		cfg.Agents["claude"] = AgentConfig{Command: "claude", Effort: effort}
		vr := Validate(cfg, nil)
		assert.False(t, vr.HasErrors(), "effort %q should be valid", effort)
	}
}

func TestValidate_NoAgentsDefined(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents = nil
	vr := Validate(cfg, nil)
	// No agents is not itself an error at the config-validation layer.
	assert.False(t, vr.HasErrors())
}

func TestValidate_AgentSpecialCharacterName(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents["claude-3.opus"] = AgentConfig{Command: "claude", Effort: "high"}
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_NegativeBudget(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Budget.FleetTokenLimit = -1
	cfg.Budget.IssueTokenLimit = -1
	vr := Validate(cfg, nil)
	fields := fieldsOf(vr.Errors())
	assert.Contains(t, fields, "budget.fleet_token_limit")
	assert.Contains(t, fields, "budget.issue_token_limit")
}

func TestValidate_IssueLimitExceedsFleetLimitWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Budget.FleetTokenLimit = 1000
	cfg.Budget.IssueTokenLimit = 5000
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Warnings()), "budget.issue_token_limit")
}

func TestValidate_ZeroBudgetMeansUnbounded_NoWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Budget.FleetTokenLimit = 0
	cfg.Budget.IssueTokenLimit = 0
	vr := Validate(cfg, nil)
	assert.NotContains(t, fieldsOf(vr.Warnings()), "budget.issue_token_limit")
}

func TestValidate_UnknownKeysDetected(t *testing.T) {
	t.Parallel()
	md := decodeMetadata(t, `
[fleet]
project = "p"
unknown_key = "surprise"

[unknown_section]
foo = "bar"
`)
	cfg := validConfig()
	vr := Validate(cfg, &md)
	fields := fieldsOf(vr.Warnings())
	assert.Contains(t, fields, "fleet.unknown_key")
	assert.Contains(t, fields, "unknown_section.foo")
}

func TestValidate_NoUnknownKeys(t *testing.T) {
	t.Parallel()
	md := decodeMetadata(t, `
[fleet]
project = "p"
`)
	cfg := validConfig()
	vr := Validate(cfg, &md)
	assert.Empty(t, vr.Warnings())
}

func TestValidate_NilMetadata_NoUnknownKeyCheck(t *testing.T) {
	t.Parallel()
	vr := Validate(validConfig(), nil)
	assert.False(t, vr.HasWarnings())
}

func TestValidate_MultipleErrorsCollected(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Fleet: FleetConfig{
			Project:           "",
			MaxParallelIssues: -1,
			MaxParallelAgents: -1,
		},
		Agents: map[string]AgentConfig{
			"bad": {Command: "", Effort: "invalid"},
		},
		Budget: BudgetConfig{FleetTokenLimit: -1, IssueTokenLimit: -1},
	}
	vr := Validate(cfg, nil)
	assert.GreaterOrEqual(t, len(vr.Errors()), 6)
}

func TestValidate_ZeroValueConfig(t *testing.T) {
	t.Parallel()
	vr := Validate(&Config{}, nil)
	require.True(t, vr.HasErrors())
	assert.Contains(t, fieldsOf(vr.Errors()), "fleet.project")
}

func TestValidate_ZeroValueConfig_NoPanic(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		Validate(&Config{}, nil)
	})
}

func TestValidate_IssueMessagesIncludeFieldPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Fleet.Project = ""
	vr := Validate(cfg, nil)
	require.NotEmpty(t, vr.Errors())
	for _, e := range vr.Errors() {
		assert.NotEmpty(t, e.Field)
		assert.NotEmpty(t, e.Message)
	}
}

func TestValidate_NilAgentsMap(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents = nil
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_EmptyAgentsMap(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents = map[string]AgentConfig{}
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_AgentNameWithHyphensAndDots(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	delete(cfg.Agents, "claude")
	cfg.Agents["claude-3.opus-high"] = AgentConfig{Command: "claude", Effort: "high"}
	vr := Validate(cfg, nil)
	assert.False(t, vr.HasErrors())
}

func TestValidate_MultipleAgentsMixed(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents["good"] = AgentConfig{Command: "codex", Effort: "medium"}
	cfg.Agents["bad"] = AgentConfig{Command: "", Effort: "bogus"}
	vr := Validate(cfg, nil)
	fields := fieldsOf(vr.Errors())
	assert.Contains(t, fields, "agents.bad.command")
	assert.Contains(t, fields, "agents.bad.effort")
	assert.NotContains(t, fields, "agents.good.command")
	assert.NotContains(t, fields, "agents.good.effort")
}

func TestValidate_FullTestdataConfig(t *testing.T) {
	t.Parallel()
	cfg, md, err := LoadFromFile(testdataPath(t, "valid-full.toml"))
	require.NoError(t, err)
	vr := Validate(cfg, &md)
	assert.False(t, vr.HasErrors())
}

func TestValidate_UnknownKeysTestdataConfig(t *testing.T) {
	t.Parallel()
	cfg, md, err := LoadFromFile(testdataPath(t, "valid-unknown-keys.toml"))
	require.NoError(t, err)
	vr := Validate(cfg, &md)
	assert.True(t, vr.HasWarnings())
}

func TestValidate_EmptyTestdataConfig(t *testing.T) {
	t.Parallel()
	cfg, md, err := LoadFromFile(testdataPath(t, "valid-empty.toml"))
	require.NoError(t, err)
	vr := Validate(cfg, &md)
	// Empty config has no project name set, so it is an error.
	assert.True(t, vr.HasErrors())
}

// fieldsOf extracts the Field values from a slice of ValidationIssue for
// order-independent containment assertions.
func fieldsOf(issues []ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Field)
	}
	return out
}
