package guildcal

import (
	"errors"
	"time"
)

// ErrCursorInvalid reports that the provider rejected the incremental-sync
// cursor and a full resync is required.
var ErrCursorInvalid = errors.New("guildcal: sync cursor is invalid")

// Event is a calendar event as observed upstream. Identity is ID; two fetches
// of the same ID describe the same logical event and the later one wins.
type Event struct {
	ID          string
	Name        string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	Timezone    string
	Cancelled   bool
}

func (e Event) DurationMinutes() int {
	return int(e.EndsAt.Sub(e.StartsAt) / time.Minute)
}

// StartsWithin reports whether the event starts inside [from, from+horizon].
func (e Event) StartsWithin(from time.Time, horizon time.Duration) bool {
	return !e.StartsAt.Before(from) && !e.StartsAt.After(from.Add(horizon))
}

// WatchChannel is an active push subscription on the provider side.
// ID is generated locally; ResourceID is issued by the provider and is
// required to stop the channel.
type WatchChannel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

type Iterator interface {
	Next() bool
	Event() *Event
	// NextCursor returns the incremental-sync cursor to use on the next
	// changes fetch. Only set once the final page has been consumed.
	NextCursor() string
	Err() error
}
