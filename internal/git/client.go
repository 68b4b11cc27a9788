// Package git wraps the git CLI for the per-issue working copies: commit
// a session's changes, diff against the issue's base commit for review,
// and stash leftovers when a worktree is resumed. Each Client is bound to
// one checkout; the shared parent repository is never touched here.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client runs git commands inside one working copy.
type Client struct {
	dir string
	bin string
}

// Open binds a Client to the checkout at dir and verifies that dir is
// inside a git repository (which also proves the git binary resolves).
func Open(dir string) (*Client, error) {
	c := &Client{dir: dir, bin: "git"}
	if _, err := c.output(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("git: %s is not a git repository: %w", dir, err)
	}
	return c, nil
}

// Head returns the short SHA of the current HEAD commit.
func (c *Client) Head(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Dirty reports whether the working tree has uncommitted changes,
// untracked files included.
func (c *Client) Dirty(ctx context.Context) (bool, error) {
	out, err := c.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git: status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages every change in the working tree (untracked files
// included) and commits with message. A clean tree is a no-op that
// returns the current HEAD unchanged.
func (c *Client) CommitAll(ctx context.Context, message string) (string, error) {
	if _, err := c.output(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("git: add -A: %w", err)
	}
	dirty, err := c.Dirty(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		return c.Head(ctx)
	}
	if _, err := c.output(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("git: commit: %w", err)
	}
	return c.Head(ctx)
}

// DiffUnified returns the full unified diff between base and HEAD plus
// the working tree. Callers are responsible for truncating oversized
// diffs before handing them to a reviewer agent.
func (c *Client) DiffUnified(ctx context.Context, base string) (string, error) {
	out, err := c.output(ctx, "diff", base)
	if err != nil {
		return "", fmt.Errorf("git: diff %s: %w", base, err)
	}
	return out, nil
}

// ChangedFiles returns the paths changed between base and HEAD.
func (c *Client) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	out, err := c.output(ctx, "diff", "--name-only", base)
	if err != nil {
		return nil, fmt.Errorf("git: diff --name-only %s: %w", base, err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Stash stashes current changes, untracked files included, under message.
// Returns false without error when the tree was already clean.
func (c *Client) Stash(ctx context.Context, message string) (bool, error) {
	dirty, err := c.Dirty(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if _, err := c.output(ctx, "stash", "push", "--include-untracked", "-m", message); err != nil {
		return false, fmt.Errorf("git: stash push: %w", err)
	}
	return true, nil
}

// output runs one git command in the client's checkout and returns its
// stdout. On a nonzero exit, stderr is folded into the error.
func (c *Client) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}
