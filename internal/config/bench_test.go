package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
)

// minimalValidTOML is a complete cadre.toml fixture that passes Validate with
// no errors.
const minimalValidTOML = `
[fleet]
project = "bench-project"
state_dir = ".cadre/state"
artifacts_dir = ".cadre/artifacts"
max_parallel_issues = 3
max_parallel_agents = 2
build_command = "go build ./..."
per_task_build_check = true

[agents.claude]
command = "claude"
model = "claude-opus-4-6"
effort = "high"

[budget]
fleet_token_limit = 5000000
issue_token_limit = 500000

[gate]
enabled = true
`

// writeBenchConfig writes minimalValidTOML to a temp file and returns the path.
// The file is created once per benchmark; b.TempDir() cleans up automatically.
func writeBenchConfig(b *testing.B) string {
	b.Helper()
	dir := b.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(minimalValidTOML), 0o644); err != nil {
		b.Fatalf("writing bench config: %v", err)
	}
	return path
}

// BenchmarkLoadFromFile measures the cost of parsing a TOML config file from
// disk, including file I/O and TOML decoding.
func BenchmarkLoadFromFile(b *testing.B) {
	path := writeBenchConfig(b)
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		cfg, _, err := LoadFromFile(path)
		if err != nil {
			b.Fatalf("LoadFromFile: %v", err)
		}
		_ = cfg
	}
}

// BenchmarkValidate measures the cost of validating a fully-populated Config
// against TOML metadata. Setup is excluded from the measured region.
func BenchmarkValidate(b *testing.B) {
	path := writeBenchConfig(b)
	cfg, md, err := LoadFromFile(path)
	if err != nil {
		b.Fatalf("LoadFromFile: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		result := Validate(cfg, &md)
		_ = result
	}
}

// BenchmarkValidate_NilMeta measures Validate when no TOML metadata is
// available (the unknown-key detection path is skipped).
func BenchmarkValidate_NilMeta(b *testing.B) {
	cfg := &Config{
		Fleet: FleetConfig{
			Project:           "bench-project",
			MaxParallelIssues: 3,
			MaxParallelAgents: 2,
		},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude", Model: "claude-opus-4-6", Effort: "high"},
		},
		Budget: BudgetConfig{FleetTokenLimit: 5_000_000, IssueTokenLimit: 500_000},
		Gate:   GateConfig{Enabled: true},
	}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		result := Validate(cfg, nil)
		_ = result
	}
}

// BenchmarkNewDefaults measures the cost of constructing a default Config.
func BenchmarkNewDefaults(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		cfg := NewDefaults()
		_ = cfg
	}
}

// BenchmarkLoadAndValidate measures the end-to-end hot path: loading a config
// file from disk and immediately validating it.
func BenchmarkLoadAndValidate(b *testing.B) {
	path := writeBenchConfig(b)
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		cfg, md, err := LoadFromFile(path)
		if err != nil {
			b.Fatalf("LoadFromFile: %v", err)
		}
		result := Validate(cfg, &md)
		_ = result
	}
}

// BenchmarkValidate_ManyAgents measures Validate when the config contains a
// large number of agent entries, stressing the per-agent validation loop.
func BenchmarkValidate_ManyAgents(b *testing.B) {
	cfg := &Config{
		Fleet:  FleetConfig{Project: "bench-project"},
		Agents: make(map[string]AgentConfig, 20),
	}
	for i := 0; i < 20; i++ {
		name := string(rune('a'+i)) + "-agent"
		cfg.Agents[name] = AgentConfig{
			Command: "claude",
			Model:   "claude-opus-4-6",
			Effort:  "high",
		}
	}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		result := Validate(cfg, nil)
		_ = result
	}
}

// BenchmarkResolve measures the cost of merging defaults, file config, env,
// and CLI overrides into a single resolved configuration.
func BenchmarkResolve(b *testing.B) {
	defaults := NewDefaults()
	file := &Config{
		Fleet: FleetConfig{Project: "bench-project", MaxParallelIssues: 5},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude", Model: "claude-opus-4-6", Effort: "high"},
		},
	}
	env := func(string) (string, bool) { return "", false }
	overrides := &CLIOverrides{}

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		rc := Resolve(defaults, file, env, overrides)
		_ = rc
	}
}

// BenchmarkDecodeAndValidate measures the cost of decoding raw TOML bytes in
// memory and validating the result, isolating the TOML parse and validation
// costs from disk I/O.
func BenchmarkDecodeAndValidate(b *testing.B) {
	raw := []byte(minimalValidTOML)
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		var cfg Config
		md, err := toml.Decode(string(raw), &cfg)
		if err != nil {
			b.Fatalf("toml.Decode: %v", err)
		}
		result := Validate(&cfg, &md)
		_ = result
	}
}
