package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/model"
)

func TestFleetStoreSetIssueStatusAndTokens(t *testing.T) {
	dir := t.TempDir()
	store := NewFleetStore(dir, "proj")
	_, err := store.Load("proj")
	require.NoError(t, err)

	require.NoError(t, store.SetIssueStatus(1, model.IssueSummary{
		Status:     model.StatusInProgress,
		IssueTitle: "fix the thing",
	}))
	require.NoError(t, store.RecordTokenUsage(1, 500))
	require.NoError(t, store.RecordTokenUsage(1, 250))

	require.Equal(t, model.StatusInProgress, store.GetIssueStatus(1))
	require.False(t, store.IsIssueCompleted(1))

	state := store.State()
	require.Equal(t, int64(750), state.TokenUsage.Total)
	require.Equal(t, int64(750), state.TokenUsage.ByIssue[1])
}

func TestFleetStoreIsIssueCompletedExcludesCodeComplete(t *testing.T) {
	dir := t.TempDir()
	store := NewFleetStore(dir, "proj")
	_, err := store.Load("proj")
	require.NoError(t, err)

	require.NoError(t, store.SetIssueStatus(1, model.IssueSummary{Status: model.StatusCodeComplete}))
	require.False(t, store.IsIssueCompleted(1))

	require.NoError(t, store.SetIssueStatus(2, model.IssueSummary{Status: model.StatusCompleted}))
	require.True(t, store.IsIssueCompleted(2))

	require.NoError(t, store.SetIssueStatus(3, model.IssueSummary{Status: model.StatusBudgetExceeded}))
	require.True(t, store.IsIssueCompleted(3))
}

func TestFleetStoreResumeIncrementsCount(t *testing.T) {
	dir := t.TempDir()
	s1 := NewFleetStore(dir, "proj")
	first, err := s1.Load("proj")
	require.NoError(t, err)
	require.Equal(t, 0, first.ResumeCount)

	s2 := NewFleetStore(dir, "proj")
	second, err := s2.Load("proj")
	require.NoError(t, err)
	require.Equal(t, 1, second.ResumeCount)
}
