package agentphase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/agentphase"
	"github.com/cadreops/cadre/internal/checkpoint"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
	"github.com/cadreops/cadre/internal/tokens"
)

type fakeLauncher struct {
	mu     sync.Mutex
	calls  int
	fn     func(core.AgentInvocation) (core.AgentResult, error)
	lastIn core.AgentInvocation
}

func (f *fakeLauncher) LaunchAgent(_ context.Context, invocation core.AgentInvocation, _ string) (core.AgentResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastIn = invocation
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(invocation)
	}
	return core.AgentResult{Agent: invocation.Agent, Success: true, TokenUsage: &core.AgentTokenUsage{Input: 10, Output: 5}}, nil
}

func newStore(t *testing.T) *checkpoint.IssueStore {
	t.Helper()
	dir := t.TempDir()
	s := checkpoint.NewIssueStore(dir, "proj", model.IssueNumber(1))
	_, err := s.Load(1)
	require.NoError(t, err)
	return s
}

func TestExecutor_Execute_Success(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	launcher := &fakeLauncher{}
	guard := tokens.NewGuard(tokens.NewTracker(), nil, nil)

	e := agentphase.New(1, 1, "analysis", "claude", "issue.md", "analysis.json", t.TempDir(),
		store, launcher, tokens.NewTracker(), guard)

	out, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analysis.json", out)
	assert.Equal(t, 1, launcher.calls)
	assert.Equal(t, "claude", launcher.lastIn.Agent)
	assert.Equal(t, model.PhaseID(1), launcher.lastIn.Phase)
}

func TestExecutor_PhaseIDAndName(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	guard := tokens.NewGuard(tokens.NewTracker(), nil, nil)
	e := agentphase.New(1, 2, "planning", "claude", "a", "b", t.TempDir(),
		store, &fakeLauncher{}, tokens.NewTracker(), guard)

	assert.Equal(t, model.PhaseID(2), e.PhaseID())
	assert.Equal(t, "planning", e.Name())
}

func TestExecutor_Execute_AgentFailure(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	launcher := &fakeLauncher{fn: func(core.AgentInvocation) (core.AgentResult, error) {
		return core.AgentResult{Success: false, Error: "boom"}, nil
	}}
	guard := tokens.NewGuard(tokens.NewTracker(), nil, nil)

	e := agentphase.New(1, 4, "integration", "claude", "a", "b", t.TempDir(),
		store, launcher, tokens.NewTracker(), guard)

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecutor_Execute_LaunchError(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	launcher := &fakeLauncher{fn: func(core.AgentInvocation) (core.AgentResult, error) {
		return core.AgentResult{}, assert.AnError
	}}
	guard := tokens.NewGuard(tokens.NewTracker(), nil, nil)

	e := agentphase.New(1, 5, "pr-composer", "claude", "a", "b", t.TempDir(),
		store, launcher, tokens.NewTracker(), guard)

	_, err := e.Execute(context.Background())
	require.Error(t, err)
}

func TestExecutor_Execute_RecordsTokenUsage(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	tracker := tokens.NewTracker()
	guard := tokens.NewGuard(tokens.NewTracker(), nil, nil)
	launcher := &fakeLauncher{}

	e := agentphase.New(7, 1, "analysis", "claude", "a", "b", t.TempDir(),
		store, launcher, tracker, guard)

	_, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15), tracker.GetTotal())
}

func TestExecutor_Execute_BudgetExceeded(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	tracker := tokens.NewTracker()
	tracker.Record("claude", 1, 1, 1000)
	limit := int64(10)
	guard := tokens.NewGuard(tracker, nil, &limit)

	e := agentphase.New(1, 1, "analysis", "claude", "a", "b", t.TempDir(),
		store, &fakeLauncher{}, tracker, guard)

	_, err := e.Execute(context.Background())
	require.Error(t, err)
}
