package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var _ Agent = (*Codex)(nil)

var (
	codexThrottleRe = regexp.MustCompile(`(?i)rate\s*limit(?:\s+reached)?`)

	// codexShortDelayRe matches the compact decimal form: "try again in 5.448s".
	codexShortDelayRe = regexp.MustCompile(`(?i)try\s+again\s+in\s+(\d+(?:\.\d+)?)s\b`)

	// codexLongDelayRe matches the spelled-out form with optional
	// days/hours/minutes/seconds components, e.g.
	// "try again in 1 day 2 hours 30 minutes".
	codexLongDelayRe = regexp.MustCompile(`(?i)try\s+again\s+in\s+` +
		`(?:(\d+)\s+days?\s*)?` +
		`(?:(\d+)\s+hours?\s*)?` +
		`(?:(\d+)\s+minutes?\s*)?` +
		`(?:(\d+(?:\.\d+)?)\s+seconds?)?`)
)

// Codex drives the Codex CLI in non-interactive exec mode. The CLI has no
// streaming output format, so LaunchSpec.Events is ignored.
type Codex struct {
	settings Settings
	log      *log.Logger
}

// NewCodex builds a Codex adapter. logger may be nil.
func NewCodex(settings Settings, logger *log.Logger) *Codex {
	return &Codex{settings: settings, log: logger}
}

func (c *Codex) Name() string { return "codex" }

// CheckInstalled resolves the CLI binary on PATH.
func (c *Codex) CheckInstalled() error {
	if _, err := exec.LookPath(c.binary()); err != nil {
		return fmt.Errorf("codex CLI %q not on PATH: %w", c.binary(), err)
	}
	return nil
}

// Run launches the Codex CLI and blocks until exit.
func (c *Codex) Run(ctx context.Context, spec LaunchSpec) (*Execution, error) {
	cmd := exec.CommandContext(ctx, c.binary(), c.args(spec)...)
	cmd.Dir = spec.WorkDir
	cmd.Env = c.env(spec)

	if c.log != nil {
		c.log.Debug("launching codex", "args", cmd.Args[1:], "dir", spec.WorkDir)
	}

	exe, err := timed(cmd, nil)
	if err != nil {
		return nil, err
	}
	exe.Throttle = c.detectThrottle(exe.Stdout + exe.Stderr)
	return exe, nil
}

// CommandLine renders the invocation without running it.
func (c *Codex) CommandLine(spec LaunchSpec) string {
	return c.binary() + " " + strings.Join(c.args(spec), " ")
}

func (c *Codex) binary() string {
	if c.settings.Command != "" {
		return c.settings.Command
	}
	return "codex"
}

func (c *Codex) args(spec LaunchSpec) []string {
	args := []string{"exec", "--sandbox", "--ephemeral", "-a", "never"}
	if model := firstOf(spec.Model, c.settings.Model); model != "" {
		args = append(args, "--model", model)
	}
	if spec.ContextPath != "" {
		args = append(args, "--prompt-file", spec.ContextPath)
	} else if spec.Prompt != "" {
		args = append(args, "--prompt", spec.Prompt)
	}
	return args
}

func (c *Codex) env(spec LaunchSpec) []string {
	env := os.Environ()
	if spec.OutputPath != "" {
		env = append(env, "CADRE_OUTPUT_PATH="+spec.OutputPath)
	}
	return append(env, spec.Env...)
}

func (c *Codex) detectThrottle(output string) *Throttle {
	if m := codexShortDelayRe.FindStringSubmatch(output); len(m) == 2 {
		return &Throttle{RetryAfter: spelledDelay(m[1], "seconds"), Notice: output}
	}
	if m := codexLongDelayRe.FindStringSubmatch(output); len(m) == 5 && strings.TrimSpace(m[0]) != "" {
		if delay := componentDelay(m[1:]); delay > 0 {
			return &Throttle{RetryAfter: delay, Notice: output}
		}
	}
	if codexThrottleRe.MatchString(output) {
		return &Throttle{Notice: output}
	}
	return nil
}

// componentDelay sums the optional [days hours minutes seconds] submatches
// of codexLongDelayRe. Empty components contribute nothing.
func componentDelay(parts []string) time.Duration {
	units := []string{"days", "hours", "minutes", "seconds"}
	var total time.Duration
	for i, amount := range parts {
		if amount == "" {
			continue
		}
		total += spelledDelay(amount, units[i])
	}
	return total
}
