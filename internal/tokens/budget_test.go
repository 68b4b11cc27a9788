package tokens

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/cadreerr"
)

func ptr(v int64) *int64 { return &v }

func TestGuardFleetThresholds(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, ptr(1000), nil)

	tr.Record("claude", 1, 1, 500)
	r := g.CheckFleet()
	require.Equal(t, StatusOK, r.Status)

	tr.Record("claude", 1, 1, 350) // total 850 -> 85%
	r = g.CheckFleet()
	require.Equal(t, StatusWarn, r.Status)
	require.True(t, r.NewlyCrossed)

	// A second check at the same level must not re-report NewlyCrossed.
	r = g.CheckFleet()
	require.Equal(t, StatusWarn, r.Status)
	require.False(t, r.NewlyCrossed)

	tr.Record("claude", 1, 1, 200) // total 1050 -> exceeded
	r = g.CheckFleet()
	require.Equal(t, StatusExceeded, r.Status)
	require.True(t, r.NewlyCrossed)
}

func TestGuardIssueExceededReturnsTypedError(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, nil, ptr(100))

	tr.Record("claude", 1, 1, 150)
	_, err := g.CheckIssue(1)
	require.Error(t, err)
	require.True(t, errors.Is(err, cadreerr.ErrBudgetExceeded))

	var budgetErr *cadreerr.BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	require.Equal(t, "issue", budgetErr.Scope)
}

func TestGuardNoLimitsAlwaysOK(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, nil, nil)
	tr.Record("claude", 1, 1, 1_000_000)

	require.Equal(t, StatusOK, g.CheckFleet().Status)
	status, err := g.CheckIssue(1)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status.Status)
}
