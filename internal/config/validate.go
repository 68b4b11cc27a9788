package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "fleet.project"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// validEfforts is the set of valid values for agent effort.
var validEfforts = map[string]bool{
	"":       true,
	"low":    true,
	"medium": true,
	"high":   true,
}

// Validate checks the configuration for correctness and completeness.
// It performs structural validation, semantic validation, and unknown key detection.
//
// Parameters:
//   - cfg: the configuration to validate
//   - meta: TOML metadata from BurntSushi/toml (may be nil if no file was loaded)
//
// Returns validation results. Check HasErrors() to determine if the config is usable.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateFleet(vr, &cfg.Fleet)
	validateAgents(vr, cfg.Agents)
	validateBudget(vr, &cfg.Budget)
	validateUnknownKeys(vr, meta)

	return vr
}

// validateFleet checks the [fleet] section for errors and warnings.
func validateFleet(vr *ValidationResult, f *FleetConfig) {
	// Error: fleet.project must not be empty.
	if f.Project == "" {
		addError(vr, "fleet.project", "must not be empty")
	}

	// Error: concurrency bounds must not be negative.
	if f.MaxParallelIssues < 0 {
		addError(vr, "fleet.max_parallel_issues", "must not be negative")
	}
	if f.MaxParallelAgents < 0 {
		addError(vr, "fleet.max_parallel_agents", "must not be negative")
	}

	// Warning: concurrency bounds of zero fall back to a default of 1 at
	// runtime; surfaced as a warning so the operator knows it was unset
	// rather than intentionally serialized.
	if f.MaxParallelIssues == 0 {
		addWarning(vr, "fleet.max_parallel_issues", "not set; defaults to 1")
	}
	if f.MaxParallelAgents == 0 {
		addWarning(vr, "fleet.max_parallel_agents", "not set; defaults to 1")
	}

	// Error: retry/round bounds must not be negative.
	if f.MaxRetriesPerTask < 0 {
		addError(vr, "fleet.max_retries_per_task", "must not be negative")
	}
	if f.MaxBuildFixRounds < 0 {
		addError(vr, "fleet.max_build_fix_rounds", "must not be negative")
	}
	if f.MaxWholePRReviewRetries < 0 {
		addError(vr, "fleet.max_whole_pr_review_retries", "must not be negative")
	}
	if f.MaxDiffBytes < 0 {
		addError(vr, "fleet.max_diff_bytes", "must not be negative")
	}

	// Warning: per-task build check enabled without a build command configured.
	if f.PerTaskBuildCheck && f.BuildCommand == "" {
		addWarning(vr, "fleet.build_command", "per_task_build_check is enabled but build_command is empty")
	}
}

// validateAgents checks all [agents.<name>] sections.
func validateAgents(vr *ValidationResult, agents map[string]AgentConfig) {
	for name, agent := range agents {
		prefix := "agents." + name

		// Error: command must not be empty if agent is defined.
		if agent.Command == "" {
			addError(vr, prefix+".command", "must not be empty")
		}

		// Error: effort must be a recognized value.
		if !validEfforts[agent.Effort] {
			addError(vr, prefix+".effort",
				fmt.Sprintf("unrecognized effort %q; must be one of: low, medium, high, or empty", agent.Effort))
		}
	}
}

// validateBudget checks the [budget] section.
func validateBudget(vr *ValidationResult, b *BudgetConfig) {
	if b.FleetTokenLimit < 0 {
		addError(vr, "budget.fleet_token_limit", "must not be negative")
	}
	if b.IssueTokenLimit < 0 {
		addError(vr, "budget.issue_token_limit", "must not be negative")
	}
	if b.FleetTokenLimit > 0 && b.IssueTokenLimit > 0 && b.IssueTokenLimit > b.FleetTokenLimit {
		addWarning(vr, "budget.issue_token_limit", "exceeds fleet_token_limit; the fleet budget will be exhausted first")
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}

	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}
