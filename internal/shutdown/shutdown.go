// Package shutdown implements the signal-driven shutdown supervisor: it
// registers SIGINT/SIGTERM handlers, cancels the fleet's root context on
// first receipt so every in-flight pipeline observes cancellation at its
// next suspension point, kills tracked agent subprocesses if graceful
// completion does not happen within a short drain window, and reports the
// POSIX exit code the caller (cmd/cadre) should use. A second signal is a
// no-op.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/agent"
	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/core"
	"github.com/cadreops/cadre/internal/model"
)

// defaultDrainWindow bounds how long the supervisor waits for in-flight
// work to observe cancellation before force-killing tracked processes.
const defaultDrainWindow = 10 * time.Second

// InProgressFunc reports the issues currently being worked when a shutdown
// signal arrives, so the fleet-interrupted event can name them.
type InProgressFunc func() []model.IssueNumber

// Supervisor watches for SIGINT/SIGTERM and drives the cooperative shutdown
// sequence: interrupt event, context cancellation, drain, kill, exit code.
type Supervisor struct {
	processes   *agent.ProcessRegistry
	inProgress  InProgressFunc
	notifier    core.NotificationManager
	drainWindow time.Duration
	logger      *log.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	signaled bool
	exitCode int

	finished chan struct{}
	done     chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default component logger.
func WithLogger(l *log.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithNotifier sets the notification manager used to dispatch the
// fleet-interrupted event. A nil notifier (the default) disables dispatch.
func WithNotifier(n core.NotificationManager) Option { return func(s *Supervisor) { s.notifier = n } }

// WithDrainWindow overrides the default grace period allowed for in-flight
// work to finish after cancellation before tracked processes are killed.
func WithDrainWindow(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainWindow = d
		}
	}
}

// New constructs a Supervisor. processes may be nil if no external-agent
// subprocesses are tracked; inProgress may be nil if the caller has no
// in-progress-issue bookkeeping to report.
func New(processes *agent.ProcessRegistry, inProgress InProgressFunc, opts ...Option) *Supervisor {
	s := &Supervisor{
		processes:   processes,
		inProgress:  inProgress,
		drainWindow: defaultDrainWindow,
		logger:      cadrelog.New("shutdown"),
		finished:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch derives a cancellable context from parent and starts listening for
// SIGINT/SIGTERM in the background. The returned stop func must be called
// (typically via defer) once the caller no longer needs signal handling; it
// does not itself cancel the derived context.
func (s *Supervisor) Watch(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	go s.watch(ctx, ch, stopped)

	return ctx, func() {
		signal.Stop(ch)
		close(stopped)
	}
}

func (s *Supervisor) watch(ctx context.Context, ch chan os.Signal, stopped chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case sig := <-ch:
			// HandleSignal is idempotent; subsequent signals received while
			// still in this loop are swallowed, matching the "second signal
			// is a no-op" requirement.
			s.HandleSignal(sig)
		}
	}
}

// HandleSignal runs the shutdown sequence for sig. It is exported so tests
// (and a caller reacting to its own signal source) can trigger it directly
// without going through the OS signal machinery. Only the first call does
// anything; every later call is a no-op.
func (s *Supervisor) HandleSignal(sig os.Signal) {
	s.mu.Lock()
	if s.signaled {
		s.mu.Unlock()
		return
	}
	s.signaled = true
	s.exitCode = exitCodeFor(sig)
	cancel := s.cancel
	s.mu.Unlock()

	var issues []model.IssueNumber
	if s.inProgress != nil {
		issues = s.inProgress()
	}
	s.logger.Warn("shutdown signal received", "signal", sig.String(), "inProgressIssues", issues)
	if s.notifier != nil {
		s.notifier.Dispatch(context.Background(), core.NotificationEvent{
			Kind:    core.EventFleetInterrupted,
			Message: fmt.Sprintf("received %s; cancelling in-flight work", sig),
			Data:    map[string]any{"signal": sig.String(), "inProgressIssues": issues},
		})
	}

	if cancel != nil {
		cancel()
	}
	go s.drain()
}

// drain waits for either the caller to report graceful completion (via
// MarkFinished) or the drain window to elapse, whichever comes first. On
// timeout it force-kills any still-tracked agent subprocesses.
func (s *Supervisor) drain() {
	timer := time.NewTimer(s.drainWindow)
	defer timer.Stop()

	select {
	case <-s.finished:
	case <-timer.C:
		if s.processes != nil {
			if n := s.processes.Count(); n > 0 {
				s.logger.Warn("drain window elapsed; killing tracked agent processes", "count", n)
				s.processes.KillAll()
			}
		}
	}
	close(s.done)
}

// MarkFinished reports that the in-flight work being supervised has wound
// down on its own, letting drain skip the rest of the drain window. Safe to
// call multiple times or when no signal was ever received.
func (s *Supervisor) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.finished:
	default:
		close(s.finished)
	}
}

// Done returns a channel that closes once the shutdown sequence has
// finished draining, either because MarkFinished was called or the drain
// window elapsed. It never closes if no signal was ever received.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Interrupted reports whether a shutdown signal has been received.
func (s *Supervisor) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// ExitCode returns the POSIX exit code the caller should use: 130 for
// SIGINT, 143 for SIGTERM, or 0 if no signal has been received.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func exitCodeFor(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return 143
	}
	return 130
}
