package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/config"
)

// configCmd is the parent "config" namespace command. It has no action of
// its own -- it groups debug and validate subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect, validate, and debug CADRE configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configDebugCmd implements "cadre config debug": print the fully-resolved
// configuration with source annotations.
var configDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Show resolved configuration with source annotations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		printResolvedConfig(cmd, resolved)
		return nil
	},
}

// configValidateCmd implements "cadre config validate".
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and report issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, meta, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		result := config.Validate(resolved.Config, meta)
		printValidationResult(cmd, result)
		if result.HasErrors() {
			return fmt.Errorf("configuration has %d error(s)", len(result.Errors()))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// loadAndResolveConfig loads and resolves the configuration from all
// sources (file, env, CLI flags). It returns the resolved config, the TOML
// metadata (nil when no file was found), and any loading error.
//
// When flagConfig is set, that path is used directly. Otherwise,
// config.FindConfigFile searches upward from the current directory.
func loadAndResolveConfig() (*config.ResolvedConfig, *toml.MetaData, error) {
	var (
		fileCfg *config.Config
		meta    *toml.MetaData
		cfgPath string
	)

	if flagConfig != "" {
		cfgPath = flagConfig
		fc, md, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		fileCfg = fc
		meta = &md
	} else {
		found, err := config.FindConfigFile(".")
		if err != nil {
			return nil, nil, fmt.Errorf("finding config file: %w", err)
		}
		if found != "" {
			cfgPath = found
			fc, md, err := config.LoadFromFile(cfgPath)
			if err != nil {
				return nil, nil, fmt.Errorf("loading config: %w", err)
			}
			fileCfg = fc
			meta = &md
		}
	}

	resolved := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, cliOverrides())
	resolved.Path = cfgPath

	return resolved, meta, nil
}

// cliOverrides builds a config.CLIOverrides from the global persistent
// flags. Only flags explicitly set on the command line are carried over, so
// unset flags never clobber a file or env value.
func cliOverrides() *config.CLIOverrides {
	o := &config.CLIOverrides{}
	if rootCmd.PersistentFlags().Changed("verbose") {
		v := flagVerbose
		o.Verbose = &v
	}
	if rootCmd.PersistentFlags().Changed("quiet") {
		v := flagQuiet
		o.Quiet = &v
	}
	return o
}

// ---- Lipgloss styles --------------------------------------------------------

func sourceStyle(src config.ConfigSource) lipgloss.Style {
	switch src {
	case config.SourceFile:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	case config.SourceEnv:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	case config.SourceCLI:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	}
}

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleSection  = lipgloss.NewStyle().Bold(true)
	styleErrorLbl = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWarnLbl  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	styleSuccess  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

const fieldWidth = 28

// printResolvedConfig writes the formatted resolved configuration to cmd's
// output writer.
func printResolvedConfig(cmd *cobra.Command, rc *config.ResolvedConfig) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, styleHeader.Render("Configuration Debug"))
	fmt.Fprintln(out, strings.Repeat("=", len("Configuration Debug")))
	fmt.Fprintln(out)
	if rc.Path != "" {
		fmt.Fprintf(out, "config file: %s\n\n", rc.Path)
	} else {
		fmt.Fprintf(out, "config file: (none found; using defaults)\n\n")
	}

	fmt.Fprintln(out, styleSection.Render("[fleet]"))
	printField(out, rc, "fleet.project", rc.Config.Fleet.Project)
	printField(out, rc, "fleet.state_dir", rc.Config.Fleet.StateDir)
	printField(out, rc, "fleet.artifacts_dir", rc.Config.Fleet.ArtifactsDir)
	printField(out, rc, "fleet.max_parallel_issues", rc.Config.Fleet.MaxParallelIssues)
	printField(out, rc, "fleet.max_parallel_agents", rc.Config.Fleet.MaxParallelAgents)
	printField(out, rc, "fleet.dependency_waves", rc.Config.Fleet.DependencyWaves)
	printField(out, rc, "fleet.build_command", rc.Config.Fleet.BuildCommand)
	fmt.Fprintln(out)

	fmt.Fprintln(out, styleSection.Render("[budget]"))
	printField(out, rc, "budget.fleet_token_limit", rc.Config.Budget.FleetTokenLimit)
	printField(out, rc, "budget.issue_token_limit", rc.Config.Budget.IssueTokenLimit)
	fmt.Fprintln(out)

	fmt.Fprintln(out, styleSection.Render("[gate]"))
	printField(out, rc, "gate.enabled", rc.Config.Gate.Enabled)
	fmt.Fprintln(out)

	names := make([]string, 0, len(rc.Config.Agents))
	for name := range rc.Config.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, styleSection.Render("[agents]"))
	for _, name := range names {
		a := rc.Config.Agents[name]
		fmt.Fprintf(out, "  %s: command=%s model=%s effort=%s\n", name, a.Command, a.Model, a.Effort)
	}
}

func printField(out interface{ Write([]byte) (int, error) }, rc *config.ResolvedConfig, path string, value interface{}) {
	src := rc.Sources[path]
	fmt.Fprintf(out, "  %-*s %v  %s\n", fieldWidth, path, value, sourceStyle(src).Render("["+string(src)+"]"))
}

// printValidationResult writes validation errors and warnings to cmd's
// output writer.
func printValidationResult(cmd *cobra.Command, result *config.ValidationResult) {
	out := cmd.OutOrStdout()

	for _, issue := range result.Errors() {
		fmt.Fprintf(out, "%s %s: %s\n", styleErrorLbl.Render("ERROR"), issue.Field, issue.Message)
	}
	for _, issue := range result.Warnings() {
		fmt.Fprintf(out, "%s %s: %s\n", styleWarnLbl.Render("WARN"), issue.Field, issue.Message)
	}
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintln(out, styleSuccess.Render("configuration OK"))
	}
}
