// Package platform implements a core.PlatformProvider over the gh CLI:
// issue retrieval, issue comments, and pull-request plumbing, all via
// `gh` subprocess calls so no API token handling lives in-process.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
)

// GitHub wraps `gh` subprocess execution against one repository working
// directory, following the run/runSilent-by-another-name pattern of
// internal/review/pr.go's PRCreator.runBin.
type GitHub struct {
	workDir string
	ghBin   string
	logger  *log.Logger
}

var _ core.PlatformProvider = (*GitHub)(nil)

// New constructs a GitHub provider rooted at workDir (a checkout with an
// `origin` remote gh can resolve to owner/repo).
func New(workDir string) *GitHub {
	return &GitHub{workDir: workDir, ghBin: "gh", logger: cadrelog.New("platform.github")}
}

// Connect verifies the gh binary is present; gh itself is stateless, so
// there is no persistent connection to establish.
func (p *GitHub) Connect(ctx context.Context) error {
	if _, _, _, err := p.run(ctx, "--version"); err != nil {
		return fmt.Errorf("platform: gh CLI not installed or not in PATH: %w", err)
	}
	return nil
}

// Disconnect is a no-op; gh holds no client-side session state to tear down.
func (p *GitHub) Disconnect(ctx context.Context) error { return nil }

// CheckAuth reports whether gh is authenticated against the configured host.
func (p *GitHub) CheckAuth(ctx context.Context) (bool, error) {
	exitCode, _, stderr, err := p.run(ctx, "auth", "status")
	if exitCode == -1 {
		return false, fmt.Errorf("platform: checking gh auth status: %w", err)
	}
	if exitCode != 0 {
		p.logger.Debug("gh not authenticated", "stderr", strings.TrimSpace(stderr))
		return false, nil
	}
	return true, nil
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// GetIssue fetches one issue via `gh issue view <n> --json number,title,body`.
func (p *GitHub) GetIssue(ctx context.Context, n model.IssueNumber) (core.Issue, error) {
	_, stdout, stderr, err := p.run(ctx, "issue", "view", strconv.Itoa(int(n)), "--json", "number,title,body")
	if err != nil {
		return core.Issue{}, fmt.Errorf("platform: get issue %d: %s: %w", n, strings.TrimSpace(stderr), err)
	}
	var gi ghIssue
	if err := json.Unmarshal([]byte(stdout), &gi); err != nil {
		return core.Issue{}, fmt.Errorf("platform: parsing issue %d: %w", n, err)
	}
	return core.Issue{Number: model.IssueNumber(gi.Number), Title: gi.Title, Body: gi.Body}, nil
}

// ListIssues lists open issues matching filter (a gh --search expression, or
// empty for all open issues).
func (p *GitHub) ListIssues(ctx context.Context, filter string) ([]core.Issue, error) {
	args := []string{"issue", "list", "--json", "number,title,body", "--limit", "200"}
	if filter != "" {
		args = append(args, "--search", filter)
	}
	_, stdout, stderr, err := p.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("platform: list issues: %s: %w", strings.TrimSpace(stderr), err)
	}
	var raw []ghIssue
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("platform: parsing issue list: %w", err)
	}
	out := make([]core.Issue, 0, len(raw))
	for _, gi := range raw {
		out = append(out, core.Issue{Number: model.IssueNumber(gi.Number), Title: gi.Title, Body: gi.Body})
	}
	return out, nil
}

// AddIssueComment posts body as a comment via `gh issue comment`, writing
// body to a restricted-permission temp file to avoid shell-escaping issues
// with arbitrary Markdown.
func (p *GitHub) AddIssueComment(ctx context.Context, n model.IssueNumber, body string) error {
	bodyFile, err := writeTempBody(body, "cadre-issue-comment-*.md")
	if err != nil {
		return fmt.Errorf("platform: add issue comment: %w", err)
	}
	defer os.Remove(bodyFile)

	_, _, stderr, err := p.run(ctx, "issue", "comment", strconv.Itoa(int(n)), "--body-file", bodyFile)
	if err != nil {
		return fmt.Errorf("platform: add issue comment %d: %s: %w", n, strings.TrimSpace(stderr), err)
	}
	return nil
}

type ghPR struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"`
}

// CreatePullRequest creates a PR via `gh pr create`, following
// internal/review/pr.go's Create almost verbatim, generalized to take its
// parameters from core.PullRequestParams.
func (p *GitHub) CreatePullRequest(ctx context.Context, params core.PullRequestParams) (core.PullRequest, error) {
	bodyFile, err := writeTempBody(params.Body, "cadre-pr-body-*.md")
	if err != nil {
		return core.PullRequest{}, fmt.Errorf("platform: create pull request: %w", err)
	}
	defer os.Remove(bodyFile)

	args := []string{
		"pr", "create",
		"--title", params.Title,
		"--body-file", bodyFile,
		"--head", params.Branch,
	}

	exitCode, stdout, stderr, err := p.run(ctx, args...)
	if err != nil {
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "already exists") {
			return core.PullRequest{}, fmt.Errorf("platform: create pull request: a pull request already exists for branch %q", params.Branch)
		}
		return core.PullRequest{}, fmt.Errorf("platform: create pull request: gh exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	url := lastNonEmptyLine(stdout)
	return core.PullRequest{Number: extractPRNumber(url), URL: url, State: "OPEN"}, nil
}

// GetPullRequest fetches one PR via `gh pr view <n> --json number,url,state`.
func (p *GitHub) GetPullRequest(ctx context.Context, n int) (core.PullRequest, error) {
	_, stdout, stderr, err := p.run(ctx, "pr", "view", strconv.Itoa(n), "--json", "number,url,state")
	if err != nil {
		return core.PullRequest{}, fmt.Errorf("platform: get pull request %d: %s: %w", n, strings.TrimSpace(stderr), err)
	}
	var gp ghPR
	if err := json.Unmarshal([]byte(stdout), &gp); err != nil {
		return core.PullRequest{}, fmt.Errorf("platform: parsing pull request %d: %w", n, err)
	}
	return core.PullRequest{Number: gp.Number, URL: gp.URL, State: gp.State}, nil
}

// UpdatePullRequest applies updates (supported keys: "title", "body") via
// `gh pr edit`.
func (p *GitHub) UpdatePullRequest(ctx context.Context, n int, updates map[string]string) (core.PullRequest, error) {
	args := []string{"pr", "edit", strconv.Itoa(n)}
	if title, ok := updates["title"]; ok {
		args = append(args, "--title", title)
	}
	if body, ok := updates["body"]; ok {
		bodyFile, err := writeTempBody(body, "cadre-pr-edit-*.md")
		if err != nil {
			return core.PullRequest{}, fmt.Errorf("platform: update pull request: %w", err)
		}
		defer os.Remove(bodyFile)
		args = append(args, "--body-file", bodyFile)
	}

	if _, _, stderr, err := p.run(ctx, args...); err != nil {
		return core.PullRequest{}, fmt.Errorf("platform: update pull request %d: %s: %w", n, strings.TrimSpace(stderr), err)
	}
	return p.GetPullRequest(ctx, n)
}

// ListPullRequests lists PRs matching filter (a gh --search expression, or
// empty for all open PRs).
func (p *GitHub) ListPullRequests(ctx context.Context, filter string) ([]core.PullRequest, error) {
	args := []string{"pr", "list", "--json", "number,url,state", "--limit", "200"}
	if filter != "" {
		args = append(args, "--search", filter)
	}
	_, stdout, stderr, err := p.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("platform: list pull requests: %s: %w", strings.TrimSpace(stderr), err)
	}
	var raw []ghPR
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("platform: parsing pull request list: %w", err)
	}
	out := make([]core.PullRequest, 0, len(raw))
	for _, gp := range raw {
		out = append(out, core.PullRequest{Number: gp.Number, URL: gp.URL, State: gp.State})
	}
	return out, nil
}

func (p *GitHub) run(ctx context.Context, args ...string) (int, string, string, error) {
	bin := p.ghBin
	if bin == "" {
		bin = "gh"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if runErr == nil {
		return 0, stdoutBuf.String(), stderrBuf.String(), nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return code, stdoutBuf.String(), strings.TrimSpace(stderrBuf.String()), fmt.Errorf("exit status %d", code)
	}
	return -1, "", "", runErr
}

func writeTempBody(body, pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating body temp file: %w", err)
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		return "", fmt.Errorf("setting body temp file permissions: %w", err)
	}
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("writing body temp file: %w", err)
	}
	return f.Name(), nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func extractPRNumber(url string) int {
	idx := strings.LastIndex(url, "/pull/")
	if idx == -1 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+len("/pull/"):])
	if err != nil {
		return 0
	}
	return n
}
