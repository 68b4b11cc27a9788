package agent

import "time"

// LaunchSpec describes one subprocess invocation of an external agent CLI.
// The orchestration layers prepare a context file and expect the agent to
// leave its artifact at a known path; the spec carries both so adapters can
// surface them on the command line or in the environment as their CLI
// requires.
type LaunchSpec struct {
	// ContextPath is the prepared context file handed to the agent. When
	// set it takes precedence over Prompt.
	ContextPath string

	// Prompt is an inline prompt for invocations that have no prepared
	// context file (ad-hoc CLI use, tests).
	Prompt string

	// OutputPath is where the agent has been instructed to write its
	// artifact. Adapters export it as CADRE_OUTPUT_PATH so context
	// templates can reference it.
	OutputPath string

	Model   string
	Effort  string
	WorkDir string
	Env     []string

	// Events receives decoded JSONL stream events while the subprocess
	// runs, for adapters whose CLI supports a streaming output format.
	// Sends are non-blocking; a slow consumer loses events, never stalls
	// the agent. Nil disables decoding. The caller owns the channel.
	Events chan<- StreamEvent
}

// Execution is the captured outcome of one agent subprocess.
type Execution struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration

	// Throttle is set when the combined output carried a rate-limit
	// notice, regardless of exit code.
	Throttle *Throttle
}

// Succeeded reports whether the subprocess exited zero.
func (e *Execution) Succeeded() bool {
	return e.ExitCode == 0
}

// Throttled reports whether a rate-limit notice was detected.
func (e *Execution) Throttled() bool {
	return e.Throttle != nil
}

// Throttle describes a rate-limit notice found in agent output.
type Throttle struct {
	// RetryAfter is the wait the provider asked for, or zero when the
	// notice named no duration.
	RetryAfter time.Duration

	// Notice is the matched output text, kept for logging.
	Notice string
}

// Settings binds one logical agent name to its CLI invocation shape. It
// maps to an [agents.<name>] section in cadre.toml.
type Settings struct {
	// Command overrides the adapter's default executable name.
	Command string

	// Model and Effort are defaults applied when the LaunchSpec leaves
	// them empty.
	Model  string
	Effort string
}
