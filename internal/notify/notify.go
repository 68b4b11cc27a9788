// Package notify implements a concrete core.NotificationManager: a
// fan-out dispatcher over independent Provider implementations. Providers
// are a closed set wired at construction time, with the Provider interface
// as the registration seam for new sinks.
package notify

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cadreops/cadre/internal/cadrelog"
	"github.com/cadreops/cadre/internal/core"
)

// Provider is one notification sink. Send must not block indefinitely and
// should handle its own errors internally -- a failure in one provider
// must never block the others.
type Provider interface {
	Name() string
	Send(ctx context.Context, event core.NotificationEvent)
}

// Manager fans an event out to every registered Provider.
type Manager struct {
	providers []Provider
	logger    *log.Logger
}

var _ core.NotificationManager = (*Manager)(nil)

// New constructs a Manager with the given providers.
func New(providers ...Provider) *Manager {
	return &Manager{providers: providers, logger: cadrelog.New("notify")}
}

// Dispatch sends event to every provider. Each provider runs independently
// under its own recover so a panicking provider cannot prevent delivery to
// its peers.
func (m *Manager) Dispatch(ctx context.Context, event core.NotificationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, p := range m.providers {
		m.sendSafely(ctx, p, event)
	}
}

func (m *Manager) sendSafely(ctx context.Context, p Provider, event core.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification provider panicked", "provider", p.Name(), "panic", r)
		}
	}()
	p.Send(ctx, event)
}

// LogProvider is the default Provider: it logs every event through
// cadrelog, keeping stdout reserved for the run report.
type LogProvider struct {
	logger *log.Logger
}

// NewLogProvider constructs a LogProvider.
func NewLogProvider() *LogProvider {
	return &LogProvider{logger: cadrelog.New("notify.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, event core.NotificationEvent) {
	p.logger.Info(event.Message,
		"kind", event.Kind,
		"issue", event.IssueNumber,
		"phase", event.Phase,
	)
}
