package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/worktree"
)

var worktreesFlagMatch string

// worktreesCmd implements "cadre worktrees": list the per-issue worktrees
// currently provisioned under the fleet's state directory, optionally
// filtered by a doublestar glob against the branch name.
var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "List provisioned per-issue worktrees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}

		dir, err := repoDir()
		if err != nil {
			return err
		}

		mgr := worktree.New(dir, worktreeBaseDir(resolved.Config))

		active, err := mgr.ListActiveMatching(cmd.Context(), worktreesFlagMatch)
		if err != nil {
			return fmt.Errorf("listing worktrees: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(active) == 0 {
			fmt.Fprintln(out, "no active worktrees")
			return nil
		}
		for _, wt := range active {
			fmt.Fprintf(out, "issue %-6d branch=%-40s path=%s\n", wt.IssueNumber, wt.Branch, wt.Path)
		}
		return nil
	},
}

func init() {
	worktreesCmd.Flags().StringVar(&worktreesFlagMatch, "match", "", "Only list worktrees whose branch matches this doublestar glob")
	rootCmd.AddCommand(worktreesCmd)
}
