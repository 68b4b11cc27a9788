package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/model"
)

func TestIssueStoreLoadInitializesFresh(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 42)

	cp, err := store.Load(42)
	require.NoError(t, err)
	require.Equal(t, model.IssueNumber(42), cp.IssueNumber)
	require.Equal(t, 0, cp.ResumeCount)
	require.Equal(t, model.PhaseID(0), cp.CurrentPhase)

	require.FileExists(t, filepath.Join(dir, "proj", "issues", "42", "checkpoint.json"))
}

func TestIssueStoreResumeIncrementsCount(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 7)

	first, err := store.Load(7)
	require.NoError(t, err)
	require.Equal(t, 0, first.ResumeCount)

	// Simulate a fresh process: a new store instance over the same files.
	store2 := NewIssueStore(dir, "proj", 7)
	second, err := store2.Load(7)
	require.NoError(t, err)
	require.Equal(t, 1, second.ResumeCount)

	store3 := NewIssueStore(dir, "proj", 7)
	third, err := store3.Load(7)
	require.NoError(t, err)
	require.Equal(t, 2, third.ResumeCount)
}

func TestIssueStorePhaseAndTokenTracking(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 1)
	_, err := store.Load(1)
	require.NoError(t, err)

	require.NoError(t, store.StartPhase(1))
	require.NoError(t, store.RecordTokenUsage("claude", 1, 100))
	require.NoError(t, store.RecordTokenUsage("claude", 1, 50))
	require.NoError(t, store.CompletePhase(1, "out/phase1.md"))

	cp := store.State()
	require.True(t, cp.IsPhaseCompleted(1))
	require.Equal(t, "out/phase1.md", cp.PhaseOutputs[1])
	require.Equal(t, int64(150), cp.TokenUsage.Total)
	require.Equal(t, int64(150), cp.TokenUsage.ByPhase[1])
	require.Equal(t, int64(150), cp.TokenUsage.ByAgent["claude"])

	rp := store.GetResumePoint()
	require.Equal(t, model.PhaseID(2), rp.Phase)
}

func TestIssueStoreResetPhasesRetractsState(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 1)
	_, err := store.Load(1)
	require.NoError(t, err)

	require.NoError(t, store.CompletePhase(1, "out1"))
	require.NoError(t, store.CompletePhase(2, "out2"))
	require.NoError(t, store.CompleteTask("T-001"))

	require.NoError(t, store.ResetPhases([]model.PhaseID{2}))

	cp := store.State()
	require.True(t, cp.IsPhaseCompleted(1))
	require.False(t, cp.IsPhaseCompleted(2))
	require.Empty(t, cp.PhaseOutputs[2])
	require.False(t, cp.IsTaskCompleted("T-001"))
}

func TestIssueStoreCorruptCheckpointFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 5)
	_, err := store.Load(5)
	require.NoError(t, err)
	require.NoError(t, store.StartPhase(1))

	// Each save first copies the current checkpoint.json to
	// checkpoint.backup.json, so the backup lags by one save. The extra
	// StartPhase(2) save rotates the state with phase 1 completed into the
	// backup.
	issueDir := filepath.Join(dir, "proj", "issues", "5")
	require.NoError(t, store.CompletePhase(1, "out1"))
	require.NoError(t, store.StartPhase(2))

	// Corrupt the primary file only.
	require.NoError(t, os.WriteFile(filepath.Join(issueDir, "checkpoint.json"), []byte("{not json"), 0o644))

	store2 := NewIssueStore(dir, "proj", 5)
	cp, err := store2.Load(5)
	require.NoError(t, err)
	require.True(t, cp.IsPhaseCompleted(1))
}

func TestIssueStoreBothCorruptStartsFresh(t *testing.T) {
	dir := t.TempDir()
	issueDir := filepath.Join(dir, "proj", "issues", "9")
	require.NoError(t, os.MkdirAll(issueDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(issueDir, "checkpoint.json"), []byte("{bad"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(issueDir, "checkpoint.backup.json"), []byte("{also bad"), 0o644))

	store := NewIssueStore(dir, "proj", 9)
	cp, err := store.Load(9)
	require.NoError(t, err)
	require.Equal(t, model.IssueNumber(9), cp.IssueNumber)
	require.Equal(t, 0, cp.ResumeCount)
}

func TestIssueStoreAppendProgress(t *testing.T) {
	dir := t.TempDir()
	store := NewIssueStore(dir, "proj", 1)
	_, err := store.Load(1)
	require.NoError(t, err)

	require.NoError(t, store.AppendProgress(ProgressEntry{Message: "gate failed; retrying phase 2"}))
	require.NoError(t, store.AppendProgress(ProgressEntry{Message: "phase 2 complete"}))

	data, err := os.ReadFile(filepath.Join(dir, "proj", "issues", "1", "progress.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), "gate failed; retrying phase 2")
	require.Contains(t, string(data), "phase 2 complete")
}
