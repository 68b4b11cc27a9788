package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway repository with one commit and returns a
// Client bound to it plus the base commit SHA.
func initRepo(t *testing.T) (*Client, string) {
	t.Helper()
	dir := t.TempDir()

	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "cadre@test.invalid")
	runGit(t, dir, "config", "user.name", "cadre")

	write(t, dir, "README.md", "# repo\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "base")

	c, err := Open(dir)
	require.NoError(t, err)

	base, err := c.Head(context.Background())
	require.NoError(t, err)
	return c, base
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v\n%s", args, out)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestOpenRejectsNonRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
}

func TestDirty(t *testing.T) {
	c, _ := initRepo(t)
	ctx := context.Background()

	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	write(t, c.dir, "new.go", "package new\n")
	dirty, err = c.Dirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty, "untracked files count as dirty")
}

func TestCommitAll(t *testing.T) {
	c, base := initRepo(t)
	ctx := context.Background()

	write(t, c.dir, "a.go", "package a\n")
	sha, err := c.CommitAll(ctx, "add a")
	require.NoError(t, err)
	assert.NotEqual(t, base, sha)

	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestCommitAllCleanTreeReturnsHeadUnchanged(t *testing.T) {
	c, base := initRepo(t)

	sha, err := c.CommitAll(context.Background(), "nothing to do")
	require.NoError(t, err)
	assert.Equal(t, base, sha)
}

func TestDiffUnified(t *testing.T) {
	c, base := initRepo(t)
	ctx := context.Background()

	write(t, c.dir, "README.md", "# repo\nchanged\n")
	_, err := c.CommitAll(ctx, "change readme")
	require.NoError(t, err)

	diff, err := c.DiffUnified(ctx, base)
	require.NoError(t, err)
	assert.Contains(t, diff, "+changed")
	assert.Contains(t, diff, "README.md")
}

func TestChangedFiles(t *testing.T) {
	c, base := initRepo(t)
	ctx := context.Background()

	write(t, c.dir, "one.go", "package one\n")
	write(t, c.dir, "two.go", "package two\n")
	_, err := c.CommitAll(ctx, "two files")
	require.NoError(t, err)

	files, err := c.ChangedFiles(ctx, base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.go", "two.go"}, files)
}

func TestStash(t *testing.T) {
	c, _ := initRepo(t)
	ctx := context.Background()

	// Clean tree: nothing to stash.
	stashed, err := c.Stash(ctx, "noop")
	require.NoError(t, err)
	assert.False(t, stashed)

	write(t, c.dir, "wip.go", "package wip\n")
	stashed, err = c.Stash(ctx, "leftovers")
	require.NoError(t, err)
	assert.True(t, stashed)

	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty, "stash must take untracked files too")
}

func TestOutputFoldsStderrIntoError(t *testing.T) {
	c, _ := initRepo(t)
	_, err := c.output(context.Background(), "rev-parse", "not-a-ref")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "rev-parse"))
}
