package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

// launch starts cmd, captures stdout and stderr, and blocks until exit.
// When events is non-nil, stdout is additionally fed through a
// StreamDecoder and each decoded event is offered to the channel with a
// non-blocking send. A nonzero exit is not an error here; adapters decide
// what an exit code means. The returned Execution has no Throttle or
// Duration set -- the adapter fills those in.
func launch(cmd *exec.Cmd, events chan<- StreamEvent) (*Execution, error) {
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	var outBuf, errBuf bytes.Buffer
	var readers errgroup.Group
	readers.Go(func() error {
		if events == nil {
			_, err := io.Copy(&outBuf, stdout)
			return err
		}
		// Tee so outBuf sees every byte the decoder consumes.
		dec := NewStreamDecoder(io.TeeReader(stdout, &outBuf))
		for {
			ev, err := dec.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				// A malformed line poisons the scanner position;
				// fall back to plain capture for the remainder.
				_, cerr := io.Copy(&outBuf, stdout)
				return cerr
			}
			select {
			case events <- *ev:
			default:
			}
		}
	})
	readers.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})

	// Pipe readers must drain before Wait closes the descriptors.
	readErr := readers.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("waiting for %s: %w", cmd.Path, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}
	if readErr != nil && waitErr == nil {
		return nil, fmt.Errorf("reading %s output: %w", cmd.Path, readErr)
	}

	return &Execution{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: exitCode,
	}, nil
}

// timed wraps launch with wall-clock measurement.
func timed(cmd *exec.Cmd, events chan<- StreamEvent) (*Execution, error) {
	start := time.Now()
	exe, err := launch(cmd, events)
	if err != nil {
		return nil, err
	}
	exe.Duration = time.Since(start)
	return exe, nil
}
