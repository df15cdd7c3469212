package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildcal/guildcal"
)

type fakeSubscriber struct {
	watchCalls int
	stopCalls  int
	watchErr   error
	stopErr    error
	expiration time.Time
	stopped    []*guildcal.WatchChannel
}

func (f *fakeSubscriber) Watch(_ context.Context, _ string) (*guildcal.WatchChannel, error) {
	f.watchCalls++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return &guildcal.WatchChannel{
		ID:         "chan-" + string(rune('0'+f.watchCalls)),
		ResourceID: "res-1",
		Expiration: f.expiration,
	}, nil
}

func (f *fakeSubscriber) Stop(_ context.Context, wc *guildcal.WatchChannel) error {
	f.stopCalls++
	f.stopped = append(f.stopped, wc)
	return f.stopErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_SubscribesWhenUnsubscribed(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{expiration: now.Add(24 * time.Hour)}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	require.Equal(t, StateUnsubscribed, m.State())
	active := m.Tick(context.Background(), now)

	assert.True(t, active)
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 1, sub.watchCalls)
	assert.Zero(t, sub.stopCalls)
	require.NotNil(t, m.Channel())
}

func TestTick_SubscribeFailureFallsBack(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{watchErr: errors.New("boom")}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	active := m.Tick(context.Background(), now)

	assert.False(t, active)
	assert.Equal(t, StateUnsubscribed, m.State())
	assert.Nil(t, m.Channel())

	// The next tick retries the subscribe.
	sub.watchErr = nil
	sub.expiration = now.Add(24 * time.Hour)
	assert.True(t, m.Tick(context.Background(), now.Add(time.Minute)))
	assert.Equal(t, 2, sub.watchCalls)
}

func TestTick_RenewsExpiringChannel(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{expiration: now.Add(30 * time.Minute)}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	require.True(t, m.Tick(context.Background(), now))
	first := m.Channel()

	// Expires in 30 minutes: stop, then subscribe again.
	sub.expiration = now.Add(24 * time.Hour)
	require.True(t, m.Tick(context.Background(), now))

	assert.Equal(t, 1, sub.stopCalls)
	assert.Equal(t, 2, sub.watchCalls)
	require.Len(t, sub.stopped, 1)
	assert.Equal(t, first.ID, sub.stopped[0].ID)
	assert.NotEqual(t, first.ID, m.Channel().ID)
	assert.Equal(t, StateActive, m.State())
}

func TestTick_DoesNotRenewFreshChannel(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{expiration: now.Add(2 * time.Hour)}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	require.True(t, m.Tick(context.Background(), now))
	require.True(t, m.Tick(context.Background(), now.Add(time.Minute)))

	assert.Equal(t, 1, sub.watchCalls)
	assert.Zero(t, sub.stopCalls)
}

func TestTick_RenewStopFailureStillResubscribes(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{expiration: now.Add(10 * time.Minute), stopErr: errors.New("gone")}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	require.True(t, m.Tick(context.Background(), now))
	sub.expiration = now.Add(24 * time.Hour)
	require.True(t, m.Tick(context.Background(), now))

	assert.Equal(t, 1, sub.stopCalls)
	assert.Equal(t, 2, sub.watchCalls)
	assert.Equal(t, StateActive, m.State())
}

func TestShutdown(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubscriber{expiration: now.Add(24 * time.Hour)}
	m := NewManager(sub, "https://example.com/webhook", testLogger())

	require.True(t, m.Tick(context.Background(), now))
	m.Shutdown(context.Background())

	assert.Equal(t, 1, sub.stopCalls)
	assert.Nil(t, m.Channel())
	assert.Equal(t, StateUnsubscribed, m.State())

	// Idempotent when nothing is active.
	m.Shutdown(context.Background())
	assert.Equal(t, 1, sub.stopCalls)
}
