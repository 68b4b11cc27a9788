package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/model"
)

// resetCmd implements "cadre reset <issue> [phase...]": clears the listed
// phases (or every phase, if none are named) from an issue's checkpoint so
// the next run re-executes them.
var resetCmd = &cobra.Command{
	Use:   "reset <issue> [phase...]",
	Short: "Clear completed phases from an issue's checkpoint so they re-run",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		if resolved.Config.Fleet.Project == "" {
			return fmt.Errorf("fleet.project is not set; run cadre init or pass --config")
		}

		issueNum, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q: %w", args[0], err)
		}
		issueNumber := model.IssueNumber(issueNum)

		var phases []model.PhaseID
		for _, raw := range args[1:] {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid phase id %q: %w", raw, err)
			}
			phases = append(phases, model.PhaseID(n))
		}
		if len(phases) == 0 {
			for _, ph := range allPhases() {
				phases = append(phases, ph.ID)
			}
		}

		store := checkpoint.NewIssueStore(resolved.Config.Fleet.StateDir, resolved.Config.Fleet.Project, issueNumber)
		if _, err := store.Load(issueNumber); err != nil {
			return fmt.Errorf("loading issue checkpoint: %w", err)
		}
		if err := store.ResetPhases(phases); err != nil {
			return fmt.Errorf("resetting phases: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "issue #%d: reset %d phase(s)\n", issueNumber, len(phases))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
