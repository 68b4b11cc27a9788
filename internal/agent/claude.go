package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

var _ Agent = (*Claude)(nil)

// inlinePromptCap is the largest prompt passed directly as an argument.
// Anything bigger goes through a temp file to stay clear of argv limits.
const inlinePromptCap = 100 * 1024

var (
	claudeThrottleRe = regexp.MustCompile(`(?i)rate.?limit|too many requests`)
	claudeDelayRe    = regexp.MustCompile(`(?i)(?:reset|try again)\s+in\s+(\d+(?:\.\d+)?)\s*(seconds?|minutes?|hours?)`)
)

// Claude drives the Claude Code CLI. It is the only adapter with
// stream-json support, so it is the one whose invocations yield live token
// usage on the LaunchSpec.Events channel.
type Claude struct {
	settings Settings
	log      *log.Logger
}

// NewClaude builds a Claude adapter. logger may be nil.
func NewClaude(settings Settings, logger *log.Logger) *Claude {
	return &Claude{settings: settings, log: logger}
}

func (c *Claude) Name() string { return "claude" }

// CheckInstalled resolves the CLI binary on PATH.
func (c *Claude) CheckInstalled() error {
	if _, err := exec.LookPath(c.binary()); err != nil {
		return fmt.Errorf("claude CLI %q not on PATH: %w", c.binary(), err)
	}
	return nil
}

// Run launches the Claude CLI. Stream decoding is active whenever
// spec.Events is non-nil; the full stdout is captured either way.
func (c *Claude) Run(ctx context.Context, spec LaunchSpec) (*Execution, error) {
	args, cleanup := c.args(spec, false)
	defer cleanup()

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = c.env(spec)

	if c.log != nil {
		c.log.Debug("launching claude", "args", args, "dir", spec.WorkDir)
	}

	exe, err := timed(cmd, spec.Events)
	if err != nil {
		return nil, err
	}
	exe.Throttle = c.detectThrottle(exe.Stdout + exe.Stderr)
	return exe, nil
}

// CommandLine renders the invocation, truncating long inline prompts.
func (c *Claude) CommandLine(spec LaunchSpec) string {
	args, cleanup := c.args(spec, true)
	cleanup()
	return c.binary() + " " + strings.Join(args, " ")
}

func (c *Claude) binary() string {
	if c.settings.Command != "" {
		return c.settings.Command
	}
	return "claude"
}

func (c *Claude) env(spec LaunchSpec) []string {
	env := os.Environ()
	if effort := firstOf(spec.Effort, c.settings.Effort); effort != "" {
		env = append(env, "CLAUDE_CODE_EFFORT_LEVEL="+effort)
	}
	if spec.OutputPath != "" {
		env = append(env, "CADRE_OUTPUT_PATH="+spec.OutputPath)
	}
	return append(env, spec.Env...)
}

// args builds the argument list. The returned cleanup removes any temp
// prompt file the builder had to create; display mode never creates one.
func (c *Claude) args(spec LaunchSpec, display bool) (args []string, cleanup func()) {
	cleanup = func() {}

	args = []string{"--print", "--permission-mode", "accept"}
	if model := firstOf(spec.Model, c.settings.Model); model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--output-format", "stream-json")

	switch {
	case spec.ContextPath != "":
		args = append(args, "--prompt-file", spec.ContextPath)
	case display:
		prompt := spec.Prompt
		if len(prompt) > 120 {
			prompt = prompt[:120] + "..."
		}
		args = append(args, "--prompt", prompt)
	case len(spec.Prompt) > inlinePromptCap:
		if path, err := spillPrompt(spec.Prompt); err == nil {
			args = append(args, "--prompt-file", path)
			cleanup = func() { _ = os.Remove(path) }
		} else {
			args = append(args, "--prompt", spec.Prompt)
		}
	default:
		args = append(args, "--prompt", spec.Prompt)
	}
	return args, cleanup
}

// detectThrottle scans output for a rate-limit notice and the delay the
// provider asked for, when one is named.
func (c *Claude) detectThrottle(output string) *Throttle {
	if !claudeThrottleRe.MatchString(output) {
		return nil
	}
	t := &Throttle{Notice: output}
	if m := claudeDelayRe.FindStringSubmatch(output); len(m) == 3 {
		t.RetryAfter = spelledDelay(m[1], m[2])
	}
	return t
}

// spillPrompt writes an oversized prompt to a temp file and returns its path.
func spillPrompt(prompt string) (string, error) {
	f, err := os.CreateTemp("", "cadre-prompt-*.md")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(prompt); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// firstOf returns the first non-empty string.
func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
