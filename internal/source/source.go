// Package source normalizes both ingestion paths, ranged polling and
// cursor-based incremental sync, into plain event slices.
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/guildcal/guildcal"
)

// Lister is the slice of the calendar provider the adapter consumes.
type Lister interface {
	Events(ctx context.Context, from, to time.Time) (guildcal.Iterator, error)
	Changes(ctx context.Context, cursor string) (guildcal.Iterator, error)
}

// Adapter fetches calendar events. Upcoming is stateless; Changed keeps the
// incremental-sync cursor across calls. Cancelled events are dropped on both
// paths.
type Adapter struct {
	provider Lister
	logger   *slog.Logger

	mu     sync.Mutex
	cursor string
}

func New(provider Lister, logger *slog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		logger:   logger,
	}
}

// Upcoming fetches all events starting inside [now, now+horizon].
func (a *Adapter) Upcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]*guildcal.Event, error) {
	it, err := a.provider.Events(ctx, now, now.Add(horizon))
	if err != nil {
		return nil, err
	}

	var events []*guildcal.Event
	for it.Next() {
		e := it.Event()
		if e.Cancelled || !e.StartsWithin(now, horizon) {
			continue
		}
		events = append(events, e)
	}
	return events, it.Err()
}

// Changed fetches events changed since the last call and advances the
// cursor. When the provider rejects the cursor the adapter clears it and
// performs exactly one full resync from now; any further failure is returned
// with an empty result.
func (a *Adapter) Changed(ctx context.Context) ([]*guildcal.Event, error) {
	a.mu.Lock()
	cursor := a.cursor
	a.mu.Unlock()

	events, next, err := a.changes(ctx, cursor)
	if errors.Is(err, guildcal.ErrCursorInvalid) {
		a.logger.Warn("sync cursor rejected, resyncing from now")
		a.setCursor("")
		events, next, err = a.changes(ctx, "")
	}
	if err != nil {
		return nil, err
	}

	if next != "" {
		a.setCursor(next)
	}
	a.logger.Info("fetched changed events", slog.Int("count", len(events)))
	return events, nil
}

func (a *Adapter) changes(ctx context.Context, cursor string) ([]*guildcal.Event, string, error) {
	it, err := a.provider.Changes(ctx, cursor)
	if err != nil {
		return nil, "", err
	}

	var events []*guildcal.Event
	for it.Next() {
		e := it.Event()
		if e.Cancelled {
			continue
		}
		events = append(events, e)
	}
	if err := it.Err(); err != nil {
		return nil, "", err
	}
	return events, it.NextCursor(), nil
}

func (a *Adapter) setCursor(cursor string) {
	a.mu.Lock()
	a.cursor = cursor
	a.mu.Unlock()
}

// Cursor returns the current incremental-sync cursor.
func (a *Adapter) Cursor() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}
