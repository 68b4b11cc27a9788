package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/config"
)

// initFlagName and initFlagForce are the flag values for the init subcommand.
var (
	initFlagName  string
	initFlagForce bool
)

// initCmd implements "cadre init". It scaffolds a default cadre.toml in the
// current directory without requiring one to already exist. Full project
// scaffolding (rendering a multi-file template tree) is explicitly out of
// scope; init only ever writes the one config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default cadre.toml in the current directory",
	Long: `Initialize a CADRE project by writing a cadre.toml populated with
baseline defaults. Existing files are preserved unless --force is supplied.

Examples:
  cadre init                    # scaffold cadre.toml in the current directory
  cadre init --name my-project  # set fleet.project explicitly
  cadre init --force            # overwrite an existing cadre.toml`,
	Args: cobra.NoArgs,

	// Override PersistentPreRunE so init never attempts to load a
	// cadre.toml that may not exist yet. The env-var checks, logging
	// setup, color handling, and --dir handling are otherwise identical
	// to the root command's.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Root().PersistentFlags().Changed("verbose") && os.Getenv("CADRE_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Root().PersistentFlags().Changed("quiet") && os.Getenv("CADRE_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Root().PersistentFlags().Changed("no-color") &&
			(os.Getenv("NO_COLOR") != "" || os.Getenv("CADRE_NO_COLOR") != "") {
			flagNoColor = true
		}

		jsonFormat := os.Getenv("CADRE_LOG_FORMAT") == "json"
		cadrelog.Setup(flagVerbose, flagQuiet, jsonFormat)

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		if flagDir != "" {
			if err := os.Chdir(flagDir); err != nil {
				return fmt.Errorf("changing directory to %s: %w", flagDir, err)
			}
		}

		return nil
	},

	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initFlagName, "name", "n", "", "Project name to set as fleet.project (defaults to current directory name)")
	initCmd.Flags().BoolVar(&initFlagForce, "force", false, "Overwrite an existing cadre.toml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	destDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	projectName := initFlagName
	if projectName == "" {
		projectName = filepath.Base(destDir)
	}
	if strings.Contains(projectName, "../") || strings.Contains(projectName, "..\\") {
		return fmt.Errorf("invalid project name %q: must not contain path traversal sequences", projectName)
	}

	cadreToml := filepath.Join(destDir, config.ConfigFileName)
	if _, statErr := os.Stat(cadreToml); statErr == nil && !initFlagForce {
		return fmt.Errorf("%s already exists in %s; use --force to overwrite", config.ConfigFileName, destDir)
	}

	cfg := config.NewDefaults()
	cfg.Fleet.Project = projectName

	f, err := os.Create(cadreToml)
	if err != nil {
		return fmt.Errorf("creating %s: %w", config.ConfigFileName, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("writing %s: %w", config.ConfigFileName, err)
	}

	stderr := os.Stderr
	fmt.Fprintf(stderr, "Initialized project %q\n\n", projectName)
	fmt.Fprintf(stderr, "Created %s\n\n", cadreToml)
	fmt.Fprintln(stderr, "Next steps:")
	fmt.Fprintf(stderr, "  1. Edit %s to bind agents to fleet roles\n", cadreToml)
	fmt.Fprintln(stderr, "  2. Run: cadre run")

	return nil
}
