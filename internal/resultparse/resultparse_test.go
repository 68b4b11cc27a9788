package resultparse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cadreops/cadre/internal/cadreerr"
)

func TestParseExtractsJSONFromNoisyOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analysis.json")
	content := "Here is my analysis:\n```json\n{\"summary\":\"looks fine\",\"riskLevel\":\"low\"}\n```\nDone.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := New()
	artifact, err := p.Parse(context.Background(), "analysis", path)
	require.NoError(t, err)
	require.Equal(t, "analysis", artifact.Kind)
	require.Equal(t, "looks fine", artifact.Data["summary"])
}

func TestParseMissingFileReturnsValidationError(t *testing.T) {
	p := New()
	_, err := p.Parse(context.Background(), "plan", "/nonexistent/plan.json")
	require.Error(t, err)
	require.ErrorIs(t, err, cadreerr.ErrValidation)
}

func TestParseMalformedJSONReturnsValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	p := New()
	_, err := p.Parse(context.Background(), "review", path)
	require.Error(t, err)
	require.ErrorIs(t, err, cadreerr.ErrValidation)
}
