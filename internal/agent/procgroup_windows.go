//go:build windows

package agent

import (
	"os/exec"
	"time"
)

const pipeDrainGrace = 3 * time.Second

// setProcGroup only sets a pipe-drain grace on Windows: there are no Unix
// process groups to kill, and exec.CommandContext already terminates the
// direct child on context cancellation.
func setProcGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = pipeDrainGrace
}
