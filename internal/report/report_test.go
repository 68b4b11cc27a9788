package report_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/fleet"
	"github.com/cadreops/cadre/internal/issuepipeline"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/report"
)

func sampleResult() fleet.Result {
	return fleet.Result{
		Success:       false,
		TotalDuration: 2 * time.Minute,
		TokenUsage:    1234,
		PRsCreated:    []int{42},
		CodeDoneNoPR:  []model.IssueNumber{7},
		FailedIssues:  []model.IssueNumber{9},
		Issues: []issuepipeline.Result{
			{
				IssueNumber: 1, IssueTitle: "add widget", Success: true, Status: model.StatusCompleted,
				PR: &core.PullRequest{Number: 42, URL: "https://example.test/pull/42"},
				TotalDuration: time.Minute, TokenUsage: 500,
			},
			{
				IssueNumber: 7, IssueTitle: "no pr", Success: false, Status: model.StatusCodeComplete,
				TotalDuration: 30 * time.Second, TokenUsage: 300, Error: "integration failed",
			},
			{
				IssueNumber: 9, IssueTitle: "boom", Success: false, Status: model.StatusFailed,
				TotalDuration: 20 * time.Second, TokenUsage: 434, Error: "writer exploded",
			},
		},
	}
}

func TestBuild_PopulatesTopLevelAndPerIssueFields(t *testing.T) {
	r := report.Build("proj", sampleResult(), time.Unix(0, 0).UTC())

	assert.Equal(t, "proj", r.Project)
	assert.False(t, r.Success)
	assert.Equal(t, int64(1234), r.TokenUsage)
	assert.Equal(t, []int{42}, r.PRsCreated)
	assert.Equal(t, []int{7}, r.CodeDoneNoPR)
	assert.Equal(t, []int{9}, r.FailedIssues)
	require.Len(t, r.Issues, 3)
	assert.Equal(t, 42, r.Issues[0].PRNumber)
	assert.Equal(t, "https://example.test/pull/42", r.Issues[0].PRURL)
	assert.Equal(t, "integration failed", r.Issues[1].Error)
}

func TestWriter_Write_CreatesFileUnderReportsDir(t *testing.T) {
	dir := t.TempDir()
	w := report.New(dir)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	path, err := w.Write("proj", sampleResult(), now)
	require.NoError(t, err)
	require.FileExists(t, path)

	assert.Equal(t, filepath.Join(dir, "proj", "reports"), filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "run-report-")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report.Report
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "proj", decoded.Project)
	assert.Len(t, decoded.Issues, 3)
}

func TestWriter_Write_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	w := report.New(dir)

	_, err := w.Write("proj", sampleResult(), time.Now().UTC())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "proj", "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), ".tmp")
}

func TestWriterFunc_AdaptsToFleetReportWriterSignature(t *testing.T) {
	dir := t.TempDir()
	w := report.New(dir)
	fixed := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	fn := report.WriterFunc(w, "proj", func() time.Time { return fixed })
	err := fn(context.Background(), sampleResult())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "proj", "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
