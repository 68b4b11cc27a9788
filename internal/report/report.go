// Package report builds and persists the structured run report. The
// writer is wired into the fleet orchestrator via fleet.WithReportWriter,
// so its failure is always logged, never propagated. Reports are written
// tmp-file-then-rename like checkpoints, but a report is write-once and
// never read back, so there is no backup sibling or corrupt-file fallback.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cadreops/cadre/internal/fleet"
	"github.com/cadreops/cadre/internal/model"
)

// IssueOutcome is one issue's entry in the run report.
type IssueOutcome struct {
	IssueNumber model.IssueNumber `json:"issueNumber"`
	IssueTitle  string            `json:"issueTitle"`
	Success     bool              `json:"success"`
	Status      model.IssueStatus `json:"status"`
	PRNumber    int               `json:"prNumber,omitempty"`
	PRURL       string            `json:"prUrl,omitempty"`
	TokenUsage  int64             `json:"tokenUsage"`
	Duration    time.Duration     `json:"durationNanos"`
	Error       string            `json:"error,omitempty"`
}

// Report is the persisted run-report record at
// <state>/<P>/reports/run-report-<iso-ts>.json.
type Report struct {
	Project       string         `json:"project"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	Success       bool           `json:"success"`
	TotalDuration time.Duration  `json:"totalDurationNanos"`
	TokenUsage    int64          `json:"tokenUsage"`
	PRsCreated    []int          `json:"prsCreated,omitempty"`
	CodeDoneNoPR  []int          `json:"codeDoneNoPr,omitempty"`
	FailedIssues  []int          `json:"failedIssues,omitempty"`
	Issues        []IssueOutcome `json:"issues"`
}

// Build converts a fleet.Result into a Report for project at the given
// timestamp. now is passed in rather than computed with time.Now so callers
// control the report's generatedAt and the exact file name it is written
// under.
func Build(project string, result fleet.Result, now time.Time) Report {
	r := Report{
		Project:       project,
		GeneratedAt:   now,
		Success:       result.Success,
		TotalDuration: result.TotalDuration,
		TokenUsage:    result.TokenUsage,
	}
	for _, pr := range result.PRsCreated {
		r.PRsCreated = append(r.PRsCreated, pr)
	}
	for _, n := range result.CodeDoneNoPR {
		r.CodeDoneNoPR = append(r.CodeDoneNoPR, int(n))
	}
	for _, n := range result.FailedIssues {
		r.FailedIssues = append(r.FailedIssues, int(n))
	}
	for _, issue := range result.Issues {
		out := IssueOutcome{
			IssueNumber: issue.IssueNumber,
			IssueTitle:  issue.IssueTitle,
			Success:     issue.Success,
			Status:      issue.Status,
			TokenUsage:  issue.TokenUsage,
			Duration:    issue.TotalDuration,
			Error:       issue.Error,
		}
		if issue.PR != nil {
			out.PRNumber = issue.PR.Number
			out.PRURL = issue.PR.URL
		}
		r.Issues = append(r.Issues, out)
	}
	return r
}

// Writer persists Reports under a configured state directory.
type Writer struct {
	stateDir string
}

// New constructs a Writer rooted at stateDir (the same root the checkpoint
// stores use).
func New(stateDir string) *Writer {
	return &Writer{stateDir: stateDir}
}

// Write builds a report from result and persists it to
// <stateDir>/<project>/reports/run-report-<iso-ts>.json, returning the path
// written. now supplies both the report's generatedAt and the timestamp
// embedded in the file name.
func (w *Writer) Write(project string, result fleet.Result, now time.Time) (string, error) {
	r := Build(project, result, now)

	dir := filepath.Join(w.stateDir, project, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	name := fmt.Sprintf("run-report-%s.json", now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling run report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing temp run report %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming temp run report into place: %w", err)
	}
	return path, nil
}

// WriterFunc adapts a Writer bound to project into the
// fleet.WithReportWriter callback signature.
func WriterFunc(w *Writer, project string, now func() time.Time) func(ctx context.Context, result fleet.Result) error {
	return func(ctx context.Context, result fleet.Result) error {
		_, err := w.Write(project, result, now())
		return err
	}
}
