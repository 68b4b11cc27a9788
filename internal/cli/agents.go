package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadreops/cadre/internal/agent"
	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/config"
)

var agentsFlagCheck bool

// agentsCmd implements "cadre agents": list the agent adapters configured
// in cadre.toml, optionally checking that each one's CLI binary resolves on
// PATH.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agent adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}

		registry, err := buildRegistry(resolved.Config.Agents)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		names := registry.List()
		if len(names) == 0 {
			fmt.Fprintln(out, "no agents configured")
			return nil
		}

		for _, name := range names {
			a, err := registry.Get(name)
			if err != nil {
				return err
			}
			cfg := resolved.Config.Agents[name]
			fmt.Fprintf(out, "%-8s command=%-12s model=%-20s effort=%s\n", a.Name(), cfg.Command, cfg.Model, cfg.Effort)
			if agentsFlagCheck {
				if err := a.CheckInstalled(); err != nil {
					fmt.Fprintf(out, "  check: FAIL: %v\n", err)
				} else {
					fmt.Fprintln(out, "  check: OK")
				}
			}
		}
		return nil
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsFlagCheck, "check", false, "Verify each agent's CLI binary resolves on PATH")
	rootCmd.AddCommand(agentsCmd)
}

// toSettings adapts config.AgentConfig (the cadre.toml shape) into
// agent.Settings (the adapter-constructor shape). AgentConfig.Timeout is
// not carried over and nothing else reads it: the phase executors leave
// AgentInvocation.Timeout at zero, so agents run without a deadline.
func toSettings(cfg config.AgentConfig) agent.Settings {
	return agent.Settings{Command: cfg.Command, Model: cfg.Model, Effort: cfg.Effort}
}

// buildRegistry constructs an agent.Registry from the resolved [agents]
// section of cadre.toml. The three known logical names ("claude", "codex",
// "gemini") map to their matching adapter; an entry with an empty command
// is skipped.
func buildRegistry(agents map[string]config.AgentConfig) (*agent.Registry, error) {
	registry := agent.NewRegistry()
	logger := cadrelog.New("agent")

	if cfg, ok := agents["claude"]; ok && cfg.Command != "" {
		if err := registry.Register(agent.NewClaude(toSettings(cfg), logger)); err != nil {
			return nil, fmt.Errorf("registering claude agent: %w", err)
		}
	}
	if cfg, ok := agents["codex"]; ok && cfg.Command != "" {
		if err := registry.Register(agent.NewCodex(toSettings(cfg), logger)); err != nil {
			return nil, fmt.Errorf("registering codex agent: %w", err)
		}
	}
	if cfg, ok := agents["gemini"]; ok && cfg.Command != "" {
		if err := registry.Register(agent.NewGemini(toSettings(cfg))); err != nil {
			return nil, fmt.Errorf("registering gemini agent: %w", err)
		}
	}

	return registry, nil
}
