package config

// NewDefaults returns a Config populated with CADRE's baseline defaults.
func NewDefaults() *Config {
	return &Config{
		Fleet: FleetConfig{
			StateDir:                ".cadre/state",
			ArtifactsDir:            ".cadre/artifacts",
			MaxParallelIssues:       3,
			MaxParallelAgents:       2,
			MaxRetriesPerTask:       2,
			MaxBuildFixRounds:       2,
			MaxWholePRReviewRetries: 1,
			MaxDiffBytes:            200_000,
			PerTaskBuildCheck:       true,
			WholePRReview:           true,
		},
		Agents: map[string]AgentConfig{},
		Gate:   GateConfig{Enabled: true},
	}
}
