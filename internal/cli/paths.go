package cli

import (
	"os"
	"path/filepath"

	"github.com/cadreops/cadre/internal/config"
)

// repoDir returns the current working directory, which is always the git
// repository root cadre operates against (after --dir has already been
// applied by PersistentPreRunE).
func repoDir() (string, error) {
	return os.Getwd()
}

// worktreeBaseDir returns the directory under which per-issue worktrees are
// provisioned: a "worktrees" subdirectory of the configured state directory.
func worktreeBaseDir(cfg *config.Config) string {
	return filepath.Join(cfg.Fleet.StateDir, "worktrees")
}
