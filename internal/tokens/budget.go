package tokens

import (
	"sync"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/model"
)

// Status is the budget guard's continue/warn/halt decision.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarn     Status = "warn"
	StatusExceeded Status = "exceeded"
)

// warnThreshold and exceededThreshold are the fractional crossing points
// for a budget: below 80% is ok, [80%,100%) is warn, >=100% is exceeded.
const (
	warnThreshold     = 0.8
	exceededThreshold = 1.0
)

// Guard translates tracker state into continue/warn/halt decisions against
// configured fleet and per-issue token budgets. The budget math itself is
// a pure function of the current total and threshold; the guard keeps a
// small amount of crossing-dedup state
// so a caller invoking Check after every record does not re-emit a warning
// every single call once a threshold has already been crossed once.
type Guard struct {
	tracker *Tracker

	fleetLimit *int64
	issueLimit *int64

	mu           sync.Mutex
	fleetWarned  bool
	fleetHalted  bool
	issueWarned  map[model.IssueNumber]bool
	issueHalted  map[model.IssueNumber]bool
}

// NewGuard constructs a Guard over tracker. A nil fleetLimit or issueLimit
// disables that budget entirely (no cap configured).
func NewGuard(tracker *Tracker, fleetLimit, issueLimit *int64) *Guard {
	return &Guard{
		tracker:     tracker,
		fleetLimit:  fleetLimit,
		issueLimit:  issueLimit,
		issueWarned: make(map[model.IssueNumber]bool),
		issueHalted: make(map[model.IssueNumber]bool),
	}
}

func statusFor(used, limit int64) Status {
	if limit <= 0 {
		return StatusOK
	}
	ratio := float64(used) / float64(limit)
	switch {
	case ratio >= exceededThreshold:
		return StatusExceeded
	case ratio >= warnThreshold:
		return StatusWarn
	default:
		return StatusOK
	}
}

// CheckFleetResult is the outcome of a fleet-budget check: the status plus
// whether this call is the first to observe that crossing (so the caller
// knows whether to emit a budget-warning/budget-exceeded event).
type CheckFleetResult struct {
	Status       Status
	NewlyCrossed bool
}

// CheckFleet evaluates the fleet-wide budget against the tracker's current
// total.
func (g *Guard) CheckFleet() CheckFleetResult {
	if g.fleetLimit == nil {
		return CheckFleetResult{Status: StatusOK}
	}
	status := statusFor(g.tracker.GetTotal(), *g.fleetLimit)

	g.mu.Lock()
	defer g.mu.Unlock()

	switch status {
	case StatusExceeded:
		if !g.fleetHalted {
			g.fleetHalted = true
			return CheckFleetResult{Status: status, NewlyCrossed: true}
		}
	case StatusWarn:
		if !g.fleetWarned {
			g.fleetWarned = true
			return CheckFleetResult{Status: status, NewlyCrossed: true}
		}
	}
	return CheckFleetResult{Status: status}
}

// CheckIssue evaluates the per-issue budget against the tracker's current
// total for issueNumber. On exceeded, returns a *cadreerr.BudgetExceededError
// wrapping cadreerr.ErrBudgetExceeded so the pipeline can set the issue's
// status to budget-exceeded.
func (g *Guard) CheckIssue(issueNumber model.IssueNumber) (CheckFleetResult, error) {
	if g.issueLimit == nil {
		return CheckFleetResult{Status: StatusOK}, nil
	}
	used := g.tracker.GetTotalForIssue(issueNumber)
	status := statusFor(used, *g.issueLimit)

	g.mu.Lock()
	defer g.mu.Unlock()

	result := CheckFleetResult{Status: status}
	switch status {
	case StatusExceeded:
		if !g.issueHalted[issueNumber] {
			g.issueHalted[issueNumber] = true
			result.NewlyCrossed = true
		}
		return result, &cadreerr.BudgetExceededError{Scope: "issue", Used: used, Limit: *g.issueLimit}
	case StatusWarn:
		if !g.issueWarned[issueNumber] {
			g.issueWarned[issueNumber] = true
			result.NewlyCrossed = true
		}
	}
	return result, nil
}
