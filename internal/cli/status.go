package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/model"
)

var statusFlagJSON bool

// statusCmd implements "cadre status": print each issue's current status
// from the fleet checkpoint, without driving any pipeline work.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet and per-issue status from the checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		if resolved.Config.Fleet.Project == "" {
			return fmt.Errorf("fleet.project is not set; run cadre init or pass --config")
		}

		store := checkpoint.NewFleetStore(resolved.Config.Fleet.StateDir, resolved.Config.Fleet.Project)
		fc, err := store.Load(resolved.Config.Fleet.Project)
		if err != nil {
			return fmt.Errorf("loading fleet checkpoint: %w", err)
		}

		if statusFlagJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fc)
		}

		printFleetStatus(cmd, fc)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlagJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func printFleetStatus(cmd *cobra.Command, fc *model.FleetCheckpoint) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "project: %s  resumes: %d  tokens: %d\n\n", fc.ProjectName, fc.ResumeCount, fc.TokenUsage.Total)

	numbers := make([]model.IssueNumber, 0, len(fc.Issues))
	for n := range fc.Issues {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	if len(numbers) == 0 {
		fmt.Fprintln(out, "no issues recorded yet")
		return
	}

	for _, n := range numbers {
		s := fc.Issues[n]
		fmt.Fprintf(out, "#%-6d %-16s phase=%d  %s\n", n, s.Status, s.LastPhase, s.IssueTitle)
		if s.Error != "" {
			fmt.Fprintf(out, "          error: %s\n", s.Error)
		}
	}
}
