package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeCommandLine(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		spec     LaunchSpec
		want     []string
		notWant  []string
	}{
		{
			name: "context file",
			spec: LaunchSpec{ContextPath: "/tmp/ctx.md"},
			want: []string{"claude", "--print", "--permission-mode accept", "--output-format stream-json", "--prompt-file /tmp/ctx.md"},
		},
		{
			name:     "model from settings",
			settings: Settings{Model: "claude-sonnet-4-20250514"},
			spec:     LaunchSpec{Prompt: "hi"},
			want:     []string{"--model claude-sonnet-4-20250514", "--prompt"},
		},
		{
			name:     "spec model wins over settings",
			settings: Settings{Model: "settings-model"},
			spec:     LaunchSpec{Prompt: "hi", Model: "spec-model"},
			want:     []string{"--model spec-model"},
			notWant:  []string{"settings-model"},
		},
		{
			name:     "custom command",
			settings: Settings{Command: "claude-dev"},
			spec:     LaunchSpec{Prompt: "hi"},
			want:     []string{"claude-dev "},
		},
		{
			name:    "long prompt truncated for display",
			spec:    LaunchSpec{Prompt: strings.Repeat("x", 500)},
			want:    []string{"..."},
			notWant: []string{strings.Repeat("x", 200)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := NewClaude(tt.settings, nil).CommandLine(tt.spec)
			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, line, nw)
			}
		})
	}
}

func TestClaudeDetectThrottle(t *testing.T) {
	c := NewClaude(Settings{}, nil)

	tests := []struct {
		name   string
		output string
		hit    bool
		delay  time.Duration
	}{
		{name: "clean output", output: "all done", hit: false},
		{name: "bare rate limit", output: "Error: rate limit exceeded", hit: true},
		{name: "too many requests", output: "429 Too Many Requests", hit: true},
		{name: "reset in seconds", output: "Rate limited. Reset in 30 seconds.", hit: true, delay: 30 * time.Second},
		{name: "try again in minutes", output: "rate limit: try again in 5 minutes", hit: true, delay: 5 * time.Minute},
		{name: "reset in hours", output: "Rate-limited, reset in 2 hours", hit: true, delay: 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := c.detectThrottle(tt.output)
			if !tt.hit {
				assert.Nil(t, th)
				return
			}
			require.NotNil(t, th)
			assert.Equal(t, tt.delay, th.RetryAfter)
			assert.NotEmpty(t, th.Notice)
		})
	}
}

// Run with the binary pointed at echo: the "CLI" prints its own arguments,
// exits zero, and the Execution captures them.
func TestClaudeRunCapturesOutput(t *testing.T) {
	c := NewClaude(Settings{Command: "echo"}, nil)

	exe, err := c.Run(context.Background(), LaunchSpec{Prompt: "ping", WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, exe.Succeeded())
	assert.Contains(t, exe.Stdout, "--print")
	assert.Contains(t, exe.Stdout, "ping")
	assert.Greater(t, exe.Duration, time.Duration(0))
}

func TestClaudeRunMissingBinary(t *testing.T) {
	c := NewClaude(Settings{Command: "definitely-not-a-real-binary-xyz"}, nil)
	_, err := c.Run(context.Background(), LaunchSpec{Prompt: "hi"})
	require.Error(t, err)
}

func TestClaudeCheckInstalled(t *testing.T) {
	assert.NoError(t, NewClaude(Settings{Command: "sh"}, nil).CheckInstalled())
	assert.Error(t, NewClaude(Settings{Command: "definitely-not-a-real-binary-xyz"}, nil).CheckInstalled())
}

func TestClaudeEffortEnv(t *testing.T) {
	c := NewClaude(Settings{Effort: "high"}, nil)
	env := c.env(LaunchSpec{OutputPath: "/tmp/out.json"})
	assert.Contains(t, env, "CLAUDE_CODE_EFFORT_LEVEL=high")
	assert.Contains(t, env, "CADRE_OUTPUT_PATH=/tmp/out.json")

	// Spec effort overrides settings.
	env = c.env(LaunchSpec{Effort: "low"})
	assert.Contains(t, env, "CLAUDE_CODE_EFFORT_LEVEL=low")
}

func TestSpillPromptRoundTrip(t *testing.T) {
	big := strings.Repeat("p", inlinePromptCap+1)
	c := NewClaude(Settings{}, nil)

	args, cleanup := c.args(LaunchSpec{Prompt: big}, false)
	defer cleanup()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--prompt-file")
	assert.NotContains(t, joined, big)
}
