package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewMockAgent("claude")))

	a, err := r.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", a.Name())

	assert.True(t, r.Has("claude"))
	assert.False(t, r.Has("codex"))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewMockAgent("claude")))
	err := r.Register(NewMockAgent("claude"))
	require.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestRegistryRejectsBadNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"", "-leading", "UPPER", "has space", "dot.ted"} {
		err := r.Register(NewMockAgent(name))
		assert.ErrorIs(t, err, ErrBadName, "name %q", name)
	}
	require.ErrorIs(t, r.Register(nil), ErrBadName)
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"gemini", "claude", "codex"} {
		require.NoError(t, r.Register(NewMockAgent(name)))
	}
	assert.Equal(t, []string{"claude", "codex", "gemini"}, r.List())
}
