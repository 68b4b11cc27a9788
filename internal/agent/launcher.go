package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cadreops/cadre/internal/core"
)

// ProcessRegistry tracks in-flight agent invocations by their cancel
// functions so the shutdown supervisor can kill every tracked child
// process on a signal. Agent.Run spawns its subprocess via
// exec.CommandContext (see claude.go/codex.go; the gemini adapter is a
// stub that spawns nothing), so cancelling
// the invocation's context is sufficient to kill the underlying process --
// there is no need to track raw PIDs separately.
type ProcessRegistry struct {
	mu      sync.Mutex
	nextID  int64
	cancels map[int64]context.CancelFunc
}

// NewProcessRegistry constructs an empty ProcessRegistry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{cancels: make(map[int64]context.CancelFunc)}
}

// Track registers cancel under a fresh handle and returns a deregister
// function the caller must call (typically via defer) when the invocation
// completes. Exported so the shutdown supervisor's tests can exercise
// KillAll without a real agent subprocess.
func (r *ProcessRegistry) Track(cancel context.CancelFunc) (deregister func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.cancels[id] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
	}
}

// KillAll cancels every tracked invocation's context, which in turn kills
// its underlying subprocess via exec.CommandContext.
func (r *ProcessRegistry) KillAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
}

// Count returns the number of currently tracked in-flight invocations.
func (r *ProcessRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Launcher adapts the Registry of Agent implementations into a
// core.AgentLauncher, mapping each adapter's Execution onto the richer
// AgentResult record (token usage, artifact existence, timeout flag) and
// registering every invocation with a ProcessRegistry for the shutdown
// supervisor.
type Launcher struct {
	registry  *Registry
	processes *ProcessRegistry
}

var _ core.AgentLauncher = (*Launcher)(nil)

// NewLauncher constructs a Launcher over registry, tracking subprocesses in
// processes.
func NewLauncher(registry *Registry, processes *ProcessRegistry) *Launcher {
	return &Launcher{registry: registry, processes: processes}
}

// LaunchAgent never returns an error for agent-side failures -- those are
// encoded in the returned AgentResult. An error is returned only
// when the agent name itself cannot be resolved in the registry, which is
// a caller-configuration bug rather than a runtime agent failure.
func (l *Launcher) LaunchAgent(ctx context.Context, invocation core.AgentInvocation, cwd string) (core.AgentResult, error) {
	a, err := l.registry.Get(invocation.Agent)
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("launching agent: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if invocation.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, invocation.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	deregister := l.processes.Track(cancel)
	defer deregister()

	events := make(chan StreamEvent, 64)
	var inTokens, outTokens int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			in, out := ev.Tokens()
			inTokens += in
			outTokens += out
		}
	}()

	spec := LaunchSpec{
		ContextPath: invocation.ContextPath,
		OutputPath:  invocation.OutputPath,
		WorkDir:     cwd,
		Events:      events,
	}

	start := time.Now()
	result, runErr := a.Run(runCtx, spec)
	close(events)
	<-done

	duration := time.Since(start)
	timedOut := runCtx.Err() == context.DeadlineExceeded

	if runErr != nil {
		return core.AgentResult{
			Agent:    invocation.Agent,
			Success:  false,
			TimedOut: timedOut,
			Duration: duration,
			Error:    runErr.Error(),
		}, nil
	}

	outputExists := false
	if invocation.OutputPath != "" {
		if _, statErr := os.Stat(invocation.OutputPath); statErr == nil {
			outputExists = true
		}
	}

	var tokenUsage *core.AgentTokenUsage
	if inTokens > 0 || outTokens > 0 {
		tokenUsage = &core.AgentTokenUsage{Input: inTokens, Output: outTokens}
	}

	return core.AgentResult{
		Agent:        invocation.Agent,
		Success:      result.Succeeded(),
		ExitCode:     result.ExitCode,
		TimedOut:     timedOut,
		Duration:     duration,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		TokenUsage:   tokenUsage,
		OutputPath:   invocation.OutputPath,
		OutputExists: outputExists,
	}, nil
}
