// Package watch manages the lifecycle of the provider-side push subscription:
// subscribe when none is active, stop-then-resubscribe shortly before
// expiration, stop on shutdown.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guildcal/guildcal"
)

// Subscriber is the slice of the calendar provider the state machine needs.
type Subscriber interface {
	Watch(ctx context.Context, callbackURL string) (*guildcal.WatchChannel, error)
	Stop(ctx context.Context, wc *guildcal.WatchChannel) error
}

type State int

const (
	StateUnsubscribed State = iota
	StateActive
	StateRenewing
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateActive:
		return "active"
	case StateRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

// renewBefore is how close to expiration the channel gets replaced. Renewal
// is an explicit stop followed by a fresh subscribe; the gap in between is
// covered by the poll safety net, not by this package.
const renewBefore = time.Hour

// Manager owns the single watch channel. At most one channel exists at a
// time.
type Manager struct {
	provider    Subscriber
	callbackURL string
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	channel *guildcal.WatchChannel
}

func NewManager(provider Subscriber, callbackURL string, logger *slog.Logger) *Manager {
	return &Manager{
		provider:    provider,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// Tick advances the state machine once: subscribes when no channel is
// active, renews when the current one expires within the hour. Returns
// whether a channel is active afterwards; on false the caller is expected to
// fall back to polling for this tick.
func (m *Manager) Tick(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		return m.subscribe(ctx)
	}

	if m.channel.Expiration.Sub(now) < renewBefore {
		m.logger.Info("watch channel expiring soon, renewing",
			slog.String("channel_id", m.channel.ID),
			slog.Time("expiration", m.channel.Expiration),
		)
		m.state = StateRenewing
		if err := m.provider.Stop(ctx, m.channel); err != nil {
			m.logger.Error("stopping expiring watch channel", slog.Any("error", err))
		}
		m.channel = nil
		return m.subscribe(ctx)
	}

	return true
}

// subscribe is called with m.mu held.
func (m *Manager) subscribe(ctx context.Context) bool {
	wc, err := m.provider.Watch(ctx, m.callbackURL)
	if err != nil {
		m.logger.Error("creating watch channel failed, falling back to polling", slog.Any("error", err))
		m.state = StateUnsubscribed
		return false
	}
	m.state = StateActive
	m.channel = wc
	return true
}

// Shutdown stops the active channel, if any. A stop failure is logged and
// otherwise ignored.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		return
	}
	if err := m.provider.Stop(ctx, m.channel); err != nil {
		m.logger.Error("stopping watch channel on shutdown", slog.Any("error", err))
	}
	m.channel = nil
	m.state = StateUnsubscribed
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channel returns the active watch channel, or nil.
func (m *Manager) Channel() *guildcal.WatchChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}
