// Package cadreerr defines the distinguished error kinds the
// orchestration core branches on. Callers match with errors.Is, never on
// concrete types, so wrapping with fmt.Errorf("...: %w", ...) stays safe
// anywhere in the call chain.
package cadreerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrBudgetExceeded) to add
// context while keeping errors.Is matching intact.
var (
	// ErrBudgetExceeded is raised when a token budget (fleet or per-issue)
	// is exceeded. It propagates out of the retry executor and the phase
	// runner without wrapping into a generic failure; callers must check
	// for it specifically with errors.Is.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrRemoteBranchMissing is raised by a WorktreeManager.Provision
	// implementation when the expected remote branch does not exist. The
	// fleet orchestrator treats this as a per-issue skip, not a fleet
	// failure.
	ErrRemoteBranchMissing = errors.New("remote branch missing")

	// ErrValidation is raised by a ResultParser when an agent's output
	// artifact fails to parse into the expected record shape.
	ErrValidation = errors.New("result validation failed")

	// ErrRuntimeInterrupted names the interrupted-run condition. No code
	// path returns it: after a shutdown signal, "cadre run" exits directly
	// with shutdown.Supervisor.ExitCode (130 for SIGINT, 143 for SIGTERM).
	ErrRuntimeInterrupted = errors.New("runtime interrupted")

	// ErrAllSessionsBlocked is raised by the phase-3 executor when every
	// implementation task ends blocked with none completed.
	ErrAllSessionsBlocked = errors.New("all implementation sessions blocked")

	// ErrDeadlock is raised by the task queue driver when nothing is
	// ready, nothing is running, and the queue is not yet complete.
	ErrDeadlock = errors.New("task queue deadlock: no ready tasks and nothing running")
)

// BudgetExceededError carries the scope (issue or fleet) and the observed
// totals alongside the sentinel ErrBudgetExceeded, so callers that want
// details can type-assert while callers that only check kind can use
// errors.Is.
type BudgetExceededError struct {
	Scope  string // "issue" or "fleet"
	Used   int64
	Limit  int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: used %d of %d tokens", e.Scope, e.Used, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// RemoteBranchMissingError carries the issue number whose remote branch
// could not be found.
type RemoteBranchMissingError struct {
	IssueNumber int
	Branch      string
}

func (e *RemoteBranchMissingError) Error() string {
	return fmt.Sprintf("issue %d: remote branch %q missing", e.IssueNumber, e.Branch)
}

func (e *RemoteBranchMissingError) Unwrap() error { return ErrRemoteBranchMissing }

// ValidationError wraps a parse failure from a ResultParser.
type ValidationError struct {
	Artifact string
	Cause    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating %s: %v", e.Artifact, e.Cause)
}

func (e *ValidationError) Unwrap() error { return errors.Join(ErrValidation, e.Cause) }
