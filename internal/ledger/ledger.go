// Package ledger tracks which notifications have already been delivered so
// that re-observing the same event, whether via push or poll, never fires a
// notification twice.
package ledger

import (
	"sync"
	"time"

	"github.com/guildcal/guildcal"
)

// createWindow is how far ahead an event may start and still be mirrored as a
// platform scheduled event. Events further out, or already started, are never
// auto-created.
const createWindow = 24 * time.Hour

// tolerance widens the reminder and start matches to compensate for
// minute-granularity polling. The window is open: an event exactly 61
// minutes out does not match the 60-minute reminder.
const tolerance = time.Minute

type reminderKey struct {
	eventID string
	offset  int
}

// Ledger holds the delivered-notification sets. Membership means "already
// delivered, never deliver again"; sets grow for the process lifetime.
// Callers mark an entry immediately after its predicate returns true and
// before any send is attempted.
type Ledger struct {
	mu        sync.Mutex
	created   map[string]struct{}
	reminders map[reminderKey]struct{}
	started   map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		created:   make(map[string]struct{}),
		reminders: make(map[reminderKey]struct{}),
		started:   make(map[string]struct{}),
	}
}

// ShouldCreate reports whether a platform event should be created for e:
// not created before, and starting within the next 24 hours.
func (l *Ledger) ShouldCreate(e *guildcal.Event, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.created[e.ID]; ok {
		return false
	}
	until := e.StartsAt.Sub(now)
	return until >= 0 && until <= createWindow
}

// MarkCreated records that a platform event exists for the calendar event.
func (l *Ledger) MarkCreated(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created[eventID] = struct{}{}
}

// ShouldRemind reports whether the offset-minutes reminder for e is due:
// not sent before, and the event starts offset±1 minutes from now.
func (l *Ledger) ShouldRemind(e *guildcal.Event, offset int, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reminders[reminderKey{e.ID, offset}]; ok {
		return false
	}
	return withinTolerance(e.StartsAt.Sub(now) - time.Duration(offset)*time.Minute)
}

func (l *Ledger) MarkReminded(eventID string, offset int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reminders[reminderKey{eventID, offset}] = struct{}{}
}

// ShouldAnnounceStart reports whether the start notification for e is due:
// not sent before, and the start time within ±1 minute of now.
func (l *Ledger) ShouldAnnounceStart(e *guildcal.Event, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.started[e.ID]; ok {
		return false
	}
	return withinTolerance(e.StartsAt.Sub(now))
}

func (l *Ledger) MarkStarted(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started[eventID] = struct{}{}
}

func withinTolerance(d time.Duration) bool {
	if d < 0 {
		d = -d
	}
	return d < tolerance
}
