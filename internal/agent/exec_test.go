//go:build !windows

package agent

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchCapturesBothStreams(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	exe, err := launch(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "out\n", exe.Stdout)
	assert.Equal(t, "err\n", exe.Stderr)
	assert.Equal(t, 3, exe.ExitCode)
	assert.False(t, exe.Succeeded())
}

func TestLaunchStreamsEvents(t *testing.T) {
	script := `printf '%s\n%s\n' '{"type":"system","session_id":"s9"}' '{"type":"assistant","message":{"usage":{"input_tokens":7,"output_tokens":2}}}'`
	cmd := exec.CommandContext(context.Background(), "sh", "-c", script)

	events := make(chan StreamEvent, 8)
	exe, err := launch(cmd, events)
	require.NoError(t, err)
	assert.True(t, exe.Succeeded())
	// Stdout still captures the raw JSONL alongside decoding.
	assert.Contains(t, exe.Stdout, `"session_id":"s9"`)

	close(events)
	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{StreamEventSystem, StreamEventAssistant}, types)
}

func TestLaunchMalformedStreamFallsBackToCapture(t *testing.T) {
	script := `printf '%s\nnot json at all\n%s\n' '{"type":"system"}' '{"type":"result"}'`
	cmd := exec.CommandContext(context.Background(), "sh", "-c", script)

	events := make(chan StreamEvent, 8)
	exe, err := launch(cmd, events)
	require.NoError(t, err)
	// Every byte is still captured even after the decoder gives up.
	assert.Contains(t, exe.Stdout, "not json at all")
	assert.Contains(t, exe.Stdout, `{"type":"result"}`)
}

func TestLaunchContextCancelKillsProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30")
	start := time.Now()
	exe, err := launch(cmd, nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Second, "cancellation must not wait for the sleep")
	if err == nil {
		assert.False(t, exe.Succeeded())
	}
}

func TestTimedSetsDuration(t *testing.T) {
	exe, err := timed(exec.CommandContext(context.Background(), "sh", "-c", "sleep 0.05"), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exe.Duration, 50*time.Millisecond)
}
