// Package gate implements a concrete core.GateCoordinator: a small
// static-rule evaluator over the most recent phase's output. Rules are
// independent named checks, each producing its own warnings and errors.
package gate

import (
	"context"
	"os"

	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
)

// Rule is one named static check over a phase's output artifact.
type Rule struct {
	Name  string
	Check func(outputPath string) (warnings []string, errors []string)
}

// Coordinator is a rule-based core.GateCoordinator.
type Coordinator struct {
	rules []Rule
}

// New constructs a Coordinator with the given rules. A nil or empty rule
// set always passes.
func New(rules ...Rule) *Coordinator {
	return &Coordinator{rules: rules}
}

// Default returns a Coordinator with CADRE's baseline rule: the phase must
// have produced an output path whose file exists on disk, or the gate
// fails. An empty artifact file only produces a warning.
func Default() *Coordinator {
	return New(
		Rule{
			Name: "output-exists",
			Check: func(outputPath string) ([]string, []string) {
				if outputPath == "" {
					return nil, []string{"phase produced no output path"}
				}
				info, err := os.Stat(outputPath)
				if err != nil {
					return nil, []string{"output artifact not found: " + outputPath}
				}
				if info.Size() == 0 {
					return []string{"output artifact is empty: " + outputPath}, nil
				}
				return nil, nil
			},
		},
	)
}

var _ core.GateCoordinator = (*Coordinator)(nil)

// RunGate consults the most recent phase result's output path plus every
// registered rule. Any rule error yields GateFail; with no errors but at
// least one warning, GateWarn; otherwise GatePass.
func (c *Coordinator) RunGate(ctx context.Context, phaseID model.PhaseID, phaseResultsSoFar []core.PhaseResultSummary) (model.GateResult, error) {
	var outputPath string
	for _, r := range phaseResultsSoFar {
		if r.Phase == phaseID {
			outputPath = r.OutputPath
			break
		}
	}

	var warnings, errs []string
	for _, rule := range c.rules {
		w, e := rule.Check(outputPath)
		warnings = append(warnings, w...)
		errs = append(errs, e...)
	}

	status := model.GatePass
	switch {
	case len(errs) > 0:
		status = model.GateFail
	case len(warnings) > 0:
		status = model.GateWarn
	}

	return model.GateResult{Status: status, Warnings: warnings, Errors: errs}, nil
}
