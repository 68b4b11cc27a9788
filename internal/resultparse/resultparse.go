// Package resultparse implements a core.ResultParser over jsonutil:
// every agent writes its phase output as (possibly fenced or noisy)
// JSON, and jsonutil.DecodeFile pulls the first valid JSON value
// out regardless of surrounding commentary the agent emitted.
package resultparse

import (
	"context"
	"fmt"

	"github.com/cadreops/cadre/internal/cadreerr"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/jsonutil"
)

// Parser is the default ResultParser: one jsonutil.DecodeFile call per
// artifact, with the decoded payload surfaced as a generic map under the
// requested kind.
type Parser struct{}

var _ core.ResultParser = (*Parser)(nil)

// New constructs a Parser.
func New() *Parser { return &Parser{} }

// Parse reads outputPath, extracts its first valid JSON value, and returns
// it as a ParsedArtifact tagged with kind. A malformed or missing artifact
// yields a cadreerr.ValidationError.
func (p *Parser) Parse(ctx context.Context, kind string, outputPath string) (core.ParsedArtifact, error) {
	var data map[string]any
	if err := jsonutil.DecodeFile(outputPath, &data); err != nil {
		return core.ParsedArtifact{}, &cadreerr.ValidationError{Artifact: fmt.Sprintf("%s (%s)", kind, outputPath), Cause: err}
	}
	return core.ParsedArtifact{Kind: kind, Data: data}, nil
}
