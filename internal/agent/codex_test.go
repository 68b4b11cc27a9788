package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexCommandLine(t *testing.T) {
	c := NewCodex(Settings{Model: "o3"}, nil)
	line := c.CommandLine(LaunchSpec{ContextPath: "/tmp/plan.md"})
	assert.Contains(t, line, "codex exec")
	assert.Contains(t, line, "--sandbox")
	assert.Contains(t, line, "-a never")
	assert.Contains(t, line, "--model o3")
	assert.Contains(t, line, "--prompt-file /tmp/plan.md")
}

func TestCodexDetectThrottle(t *testing.T) {
	c := NewCodex(Settings{}, nil)

	tests := []struct {
		name   string
		output string
		hit    bool
		delay  time.Duration
	}{
		{name: "clean", output: "done", hit: false},
		{name: "decimal seconds", output: "Please try again in 5.448s", hit: true, delay: time.Duration(5.448 * float64(time.Second))},
		{name: "minutes and seconds", output: "try again in 45 minutes 30 seconds", hit: true, delay: 45*time.Minute + 30*time.Second},
		{name: "days hours", output: "try again in 1 day 2 hours", hit: true, delay: 26 * time.Hour},
		{name: "bare rate limit", output: "Rate limit reached", hit: true, delay: 0},
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
		})
	}
}

func TestCodexRunIgnoresEvents(t *testing.T) {
	c := NewCodex(Settings{Command: "echo"}, nil)

	events := make(chan StreamEvent, 4)
	exe, err := c.Run(context.Background(), LaunchSpec{Prompt: "hi", Events: events})
	require.NoError(t, err)
	assert.True(t, exe.Succeeded())
	assert.Contains(t, exe.Stdout, "exec")
	assert.Empty(t, events)
}
