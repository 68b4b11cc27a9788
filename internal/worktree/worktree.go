// Package worktree implements a core.WorktreeManager over `git worktree`,
// giving each issue an isolated working copy so concurrent issue pipelines
// never touch the same checkout. It shells out the same way
// internal/git.Client does, extended with the worktree subcommands the
// per-checkout client doesn't expose.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/git"
	"github.com/cadreops/cadre/internal/model"
)

// Manager provisions and tears down one `git worktree` per issue, rooted at
// repoDir, with each checkout living at baseDir/<branch>, e.g.
// baseDir/cadre/issue-12-1a2b3c4d (see branchName).
type Manager struct {
	mu      sync.Mutex
	repoDir string
	baseDir string
	gitBin  string
	remote  string
	active  map[model.IssueNumber]core.WorktreeInfo
}

var _ core.WorktreeManager = (*Manager)(nil)

// New constructs a Manager operating on the git repository at repoDir,
// placing provisioned worktrees under baseDir.
func New(repoDir, baseDir string) *Manager {
	return &Manager{
		repoDir: repoDir,
		baseDir: baseDir,
		gitBin:  "git",
		remote:  "origin",
		active:  make(map[model.IssueNumber]core.WorktreeInfo),
	}
}

// Prefetch runs `git fetch` against the remote once, up front, so that every
// subsequent Provision call resolves remote branches without its own
// network round trip. Prefetch completes strictly before any Provision.
func (m *Manager) Prefetch(ctx context.Context) error {
	if _, err := m.run(ctx, m.repoDir, "fetch", m.remote); err != nil {
		return fmt.Errorf("worktree: prefetch: %w", err)
	}
	return nil
}

// Provision creates (or, if resume is true and the worktree already exists,
// reuses) an isolated working copy for issueNumber, branching from the
// remote's default branch. If the issue's remote branch (see branchName) is expected
// to exist (resume) but does not, Provision returns an error wrapping
// cadreerr.ErrRemoteBranchMissing.
func (m *Manager) Provision(ctx context.Context, issueNumber model.IssueNumber, title string, resume bool) (core.WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.active[issueNumber]; ok {
		return info, nil
	}

	branch := branchName(issueNumber, title)
	path := filepath.Join(m.baseDir, branch)

	if resume {
		exists, err := m.remoteBranchExists(ctx, branch)
		if err != nil {
			return core.WorktreeInfo{}, fmt.Errorf("worktree: checking remote branch: %w", err)
		}
		if !exists {
			return core.WorktreeInfo{}, &cadreerr.RemoteBranchMissingError{IssueNumber: int(issueNumber), Branch: branch}
		}
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if resume {
			// A prior run may have been killed mid-session, leaving
			// uncommitted changes implphase never got to commit. Stash them
			// out of the way (without popping) rather than resuming into a
			// dirty tree; the stash entry is left as a recovery trail.
			if gc, err := git.Open(path); err == nil {
				if _, err := gc.Stash(ctx, fmt.Sprintf("cadre: resume stash for issue %d", issueNumber)); err != nil {
					return core.WorktreeInfo{}, fmt.Errorf("worktree: stashing leftover changes on resume: %w", err)
				}
			}
		}
		base, err := m.baseCommit(ctx, path)
		if err != nil {
			return core.WorktreeInfo{}, err
		}
		info := core.WorktreeInfo{IssueNumber: issueNumber, Path: path, Branch: branch, BaseCommit: base}
		m.active[issueNumber] = info
		return info, nil
	}

	base, err := m.defaultBranchRef(ctx)
	if err != nil {
		return core.WorktreeInfo{}, fmt.Errorf("worktree: resolving base ref: %w", err)
	}

	args := []string{"worktree", "add", "-b", branch, path, base}
	if resume {
		// Branch already exists remotely; check it out instead of creating anew.
		args = []string{"worktree", "add", path, branch}
	}
	if _, err := m.run(ctx, m.repoDir, args...); err != nil {
		return core.WorktreeInfo{}, fmt.Errorf("worktree: add %q: %w", branch, err)
	}

	baseCommit, err := m.baseCommit(ctx, path)
	if err != nil {
		return core.WorktreeInfo{}, err
	}

	info := core.WorktreeInfo{IssueNumber: issueNumber, Path: path, Branch: branch, BaseCommit: baseCommit}
	m.active[issueNumber] = info
	return info, nil
}

// Remove deletes the worktree provisioned for issueNumber, if any.
func (m *Manager) Remove(ctx context.Context, issueNumber model.IssueNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[issueNumber]
	if !ok {
		return nil
	}
	if _, err := m.run(ctx, m.repoDir, "worktree", "remove", "--force", info.Path); err != nil {
		return fmt.Errorf("worktree: remove %q: %w", info.Path, err)
	}
	delete(m.active, issueNumber)
	return nil
}

// ListActive returns every worktree this Manager has provisioned and not
// yet removed, in no particular order.
func (m *Manager) ListActive(ctx context.Context) ([]core.WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.WorktreeInfo, 0, len(m.active))
	for _, info := range m.active {
		out = append(out, info)
	}
	return out, nil
}

// ListActiveMatching returns every active worktree whose branch name matches
// the given doublestar glob pattern (e.g. "cadre/issue-12-*"). An empty
// pattern matches everything.
func (m *Manager) ListActiveMatching(ctx context.Context, pattern string) ([]core.WorktreeInfo, error) {
	all, err := m.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return all, nil
	}
	out := make([]core.WorktreeInfo, 0, len(all))
	for _, info := range all {
		ok, err := doublestar.Match(pattern, info.Branch)
		if err != nil {
			return nil, fmt.Errorf("worktree: matching pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *Manager) baseCommit(ctx context.Context, worktreePath string) (string, error) {
	out, err := m.run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("worktree: resolving base commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (m *Manager) defaultBranchRef(ctx context.Context) (string, error) {
	out, err := m.run(ctx, m.repoDir, "rev-parse", "--abbrev-ref", m.remote+"/HEAD")
	if err != nil {
		return m.remote + "/main", nil
	}
	return strings.TrimSpace(out), nil
}

func (m *Manager) remoteBranchExists(ctx context.Context, branch string) (bool, error) {
	exitCode, stdout, _, err := m.runSilent(ctx, m.repoDir, "ls-remote", "--heads", m.remote, branch)
	if err != nil && exitCode == -1 {
		return false, err
	}
	return strings.TrimSpace(stdout) != "", nil
}

// branchName derives a short, stable branch name from the issue number and
// title: cadre/issue-<issue>-<xxhash-of-title, 8 hex chars>. Hashing the title
// (rather than slugifying it) keeps the branch name short and collision-safe
// regardless of title length or punctuation.
func branchName(issueNumber model.IssueNumber, title string) string {
	sum := xxhash.Sum64String(title)
	return fmt.Sprintf("cadre/issue-%d-%08x", issueNumber, uint32(sum))
}

// run/runSilent mirror internal/git.Client's output helper, operating
// against an explicit dir argument since a Manager issues commands against
// both the origin repo and individual worktree checkouts.
func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	_, stdout, stderr, err := m.runSilent(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	if stdout == "" && stderr != "" {
		return stderr, nil
	}
	return stdout, nil
}

func (m *Manager) runSilent(ctx context.Context, dir string, args ...string) (int, string, string, error) {
	bin := m.gitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			stderr := strings.TrimSpace(stderrBuf.String())
			stdout := strings.TrimSpace(stdoutBuf.String())
			return exitCode, stdout, stderr, fmt.Errorf("exit status %d: %s", exitCode, stderr)
		}
		return -1, "", "", runErr
	}

	return exitCode, stdoutBuf.String(), stderrBuf.String(), nil
}
