package agent

import "context"

var _ Agent = (*Gemini)(nil)

// Gemini is a placeholder adapter. It registers so cadre.toml can already
// name it, but every launch fails with ErrStubAgent until the Gemini CLI's
// non-interactive mode settles enough to wrap.
type Gemini struct {
	settings Settings
}

// NewGemini builds the stub adapter.
func NewGemini(settings Settings) *Gemini {
	return &Gemini{settings: settings}
}

func (g *Gemini) Name() string { return "gemini" }

// Run always fails with ErrStubAgent; no subprocess is started.
func (g *Gemini) Run(_ context.Context, _ LaunchSpec) (*Execution, error) {
	return nil, ErrStubAgent
}

// CheckInstalled always fails with ErrStubAgent.
func (g *Gemini) CheckInstalled() error {
	return ErrStubAgent
}

// CommandLine returns a placeholder.
func (g *Gemini) CommandLine(_ LaunchSpec) string {
	return "# gemini adapter not yet available"
}
