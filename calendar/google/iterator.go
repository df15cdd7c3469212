package google

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/guildcal/guildcal"
)

type eventOrError struct {
	e          *guildcal.Event
	nextCursor string
	err        error
}

type eventIterator struct {
	events  chan eventOrError
	current eventOrError
	cursor  string
}

func newEventIterator() *eventIterator {
	return &eventIterator{
		events: make(chan eventOrError),
	}
}

func (it *eventIterator) Next() (ok bool) {
	for {
		it.current, ok = <-it.events
		if !ok || it.current.err != nil {
			return false
		}
		if it.current.nextCursor != "" {
			it.cursor = it.current.nextCursor
		}
		// Cursor-only entries terminate the final page.
		if it.current.e == nil {
			continue
		}
		return true
	}
}

func (it *eventIterator) Event() *guildcal.Event {
	c := it.current
	if c.e == nil && c.err == nil {
		panic("google: Event() called before Next()")
	}
	return c.e
}

func (it *eventIterator) NextCursor() string {
	return it.cursor
}

func (it *eventIterator) Err() error {
	return it.current.err
}

func newEvent(event *calendar.Event) *guildcal.Event {
	if event.Status == "cancelled" {
		return &guildcal.Event{
			ID:        event.Id,
			Cancelled: true,
		}
	}

	name := event.Summary
	if name == "" {
		name = "Untitled Event"
	}

	startsAt, endsAt, tz := eventTimes(event)
	return &guildcal.Event{
		ID:          event.Id,
		Name:        name,
		Description: event.Description,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Timezone:    tz,
	}
}

// eventTimes handles both timed events (dateTime) and all-day events (date,
// interpreted at midnight UTC).
func eventTimes(event *calendar.Event) (startsAt, endsAt time.Time, tz string) {
	if event.Start.DateTime != "" {
		startsAt, _ = time.Parse(time.RFC3339, event.Start.DateTime)
		endsAt, _ = time.Parse(time.RFC3339, event.End.DateTime)
		tz = event.Start.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		return startsAt, endsAt, tz
	}

	startsAt, _ = time.ParseInLocation("2006-01-02", event.Start.Date, time.UTC)
	endsAt, _ = time.ParseInLocation("2006-01-02", event.End.Date, time.UTC)
	return startsAt, endsAt, "UTC"
}
