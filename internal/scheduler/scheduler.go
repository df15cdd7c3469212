// Package scheduler drives the two timing loops that keep the guild in sync
// with the calendar: one loop ingests calendar state (push lifecycle or
// polling), the other evaluates reminder and start notifications against the
// ledger.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guildcal/guildcal"
	"github.com/guildcal/guildcal/discord"
	"github.com/guildcal/guildcal/internal/ledger"
)

// CalendarSource is the slice of the change source adapter the scheduler
// consumes.
type CalendarSource interface {
	Upcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]*guildcal.Event, error)
	Changed(ctx context.Context) ([]*guildcal.Event, error)
}

// ChatClient is the slice of the chat platform client the scheduler consumes.
type ChatClient interface {
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	CreateScheduledEvent(ctx context.Context, guildID string, req *discord.ScheduledEventCreate) (*discord.ScheduledEvent, error)
	SendMessage(ctx context.Context, channelID, content string) (*discord.Message, error)
}

// Watcher advances the push-subscription state machine. Tick reports whether
// a subscription is active afterwards.
type Watcher interface {
	Tick(ctx context.Context, now time.Time) bool
}

const (
	tickPeriod  = time.Minute
	pollHorizon = 48 * time.Hour
)

type Config struct {
	GuildID         string
	VoiceChannel    string
	NotifyChannel   string
	ReminderMinutes []int

	// DigestTime (HH:MM, in Timezone) and DigestChannel enable the daily
	// schedule digest when both are set.
	DigestTime    string
	DigestChannel string
	Timezone      string
}

// Scheduler owns the shared in-memory state: the known-events table, the
// notification ledger and the channel cache. All collaborator calls go
// through it.
type Scheduler struct {
	cfg      Config
	chat     ChatClient
	source   CalendarSource
	watcher  Watcher // nil in poll mode
	ledger   *ledger.Ledger
	resolver *channelResolver
	logger   *slog.Logger
	now      func() time.Time

	knownMu sync.RWMutex
	known   map[string]*guildcal.Event

	// createMu serializes check-and-create across the scheduler loop and
	// push-triggered ingestion.
	createMu sync.Mutex

	ready chan struct{}
}

// New builds a scheduler. watcher may be nil, which selects poll mode.
func New(cfg Config, chat ChatClient, src CalendarSource, watcher Watcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		chat:     chat,
		source:   src,
		watcher:  watcher,
		ledger:   ledger.New(),
		resolver: newChannelResolver(chat, cfg.GuildID),
		logger:   logger,
		now:      time.Now,
		known:    make(map[string]*guildcal.Event),
		ready:    make(chan struct{}),
	}
}

// Run starts both loops and the digest job and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	digest, err := s.startDigest(ctx)
	if err != nil {
		s.logger.Error("starting digest job", slog.Any("error", err))
	}

	go s.schedulerLoop(ctx)
	go s.reminderLoop(ctx)

	<-ctx.Done()
	if digest != nil {
		digest.Stop()
	}
}

// schedulerLoop seeds the known-events table, runs its first tick and only
// then releases the reminder loop.
func (s *Scheduler) schedulerLoop(ctx context.Context) {
	s.seed(ctx)
	s.schedulerTick(ctx)
	close(s.ready)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			s.schedulerTick(ctx)
		}
	}
}

func (s *Scheduler) reminderLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-s.ready:
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder loop stopped")
			return
		case <-ticker.C:
			s.reminderTick(ctx)
		}
	}
}

// seed populates known events once at startup so the reminder loop never
// evaluates an empty table merely because no push arrived yet.
func (s *Scheduler) seed(ctx context.Context) {
	events, err := s.source.Upcoming(ctx, s.now(), pollHorizon)
	if err != nil {
		s.logger.Error("seeding known events", slog.Any("error", err))
		return
	}

	s.knownMu.Lock()
	for _, e := range events {
		s.known[e.ID] = e
	}
	s.knownMu.Unlock()

	s.logger.Info("scheduler started", slog.Int("events", len(events)), slog.Bool("push", s.watcher != nil))
}

func (s *Scheduler) schedulerTick(ctx context.Context) {
	now := s.now()

	if s.watcher != nil {
		if s.watcher.Tick(ctx, now) {
			return
		}
		// No active subscription this tick; poll instead.
	}

	events, err := s.source.Upcoming(ctx, now, pollHorizon)
	if err != nil {
		s.logger.Error("polling upcoming events", slog.Any("error", err))
		return
	}
	s.Ingest(ctx, events)
}

// OnCalendarChange handles a push notification: it fetches the changes and
// ingests them exactly like a poll tick.
func (s *Scheduler) OnCalendarChange(ctx context.Context) {
	events, err := s.source.Changed(ctx)
	if err != nil {
		s.logger.Error("fetching calendar changes", slog.Any("error", err))
		return
	}
	s.Ingest(ctx, events)
}

// Ingest merges events into the known-events table and runs the creation
// check for each. Both ingestion paths funnel through here so the
// idempotency logic lives in one place.
func (s *Scheduler) Ingest(ctx context.Context, events []*guildcal.Event) {
	now := s.now()

	s.knownMu.Lock()
	for _, e := range events {
		s.known[e.ID] = e
	}
	s.knownMu.Unlock()

	s.createMu.Lock()
	defer s.createMu.Unlock()
	for _, e := range events {
		s.checkAndCreate(ctx, e, now)
	}
}

// checkAndCreate mirrors the event into the guild when it is due. The ledger
// entry is written after the platform event exists but before the
// announcement is sent: a failed creation is retried next tick, a failed
// announcement is accepted as lost.
func (s *Scheduler) checkAndCreate(ctx context.Context, e *guildcal.Event, now time.Time) {
	if !s.ledger.ShouldCreate(e, now) {
		return
	}

	voiceID, err := s.resolver.Resolve(ctx, s.cfg.VoiceChannel)
	if err != nil {
		s.logger.Error("resolving voice channel", slog.String("channel", s.cfg.VoiceChannel), slog.Any("error", err))
		return
	}
	notifyID, err := s.resolver.Resolve(ctx, s.cfg.NotifyChannel)
	if err != nil {
		s.logger.Error("resolving notify channel", slog.String("channel", s.cfg.NotifyChannel), slog.Any("error", err))
		return
	}

	description := e.Description
	if description == "" {
		description = "Event from Google Calendar"
	}
	created, err := s.chat.CreateScheduledEvent(ctx, s.cfg.GuildID, &discord.ScheduledEventCreate{
		ChannelID:          voiceID,
		Name:               e.Name,
		Description:        description,
		ScheduledStartTime: e.StartsAt.UTC().Format(time.RFC3339),
		ScheduledEndTime:   e.EndsAt.UTC().Format(time.RFC3339),
		EntityType:         discord.EntityTypeVoice,
		PrivacyLevel:       discord.PrivacyLevelGuildOnly,
	})
	if err != nil {
		s.logger.Error("creating scheduled event", slog.String("event", e.Name), slog.Any("error", err))
		return
	}
	s.ledger.MarkCreated(e.ID)
	s.logger.Info("created scheduled event", slog.String("event", e.Name), slog.Time("starts_at", e.StartsAt))

	if _, err := s.chat.SendMessage(ctx, notifyID, announcementMessage(e, s.cfg.GuildID, created.ID, voiceID)); err != nil {
		s.logger.Error("sending event announcement", slog.String("event", e.Name), slog.Any("error", err))
	}
}

func (s *Scheduler) reminderTick(ctx context.Context) {
	now := s.now()

	s.knownMu.RLock()
	events := make([]*guildcal.Event, 0, len(s.known))
	for _, e := range s.known {
		events = append(events, e)
	}
	s.knownMu.RUnlock()

	for _, e := range events {
		for _, offset := range s.cfg.ReminderMinutes {
			if s.ledger.ShouldRemind(e, offset, now) {
				s.ledger.MarkReminded(e.ID, offset)
				s.sendReminder(ctx, e, offset)
			}
		}
		if s.ledger.ShouldAnnounceStart(e, now) {
			s.ledger.MarkStarted(e.ID)
			s.sendStart(ctx, e)
		}
	}
}

func (s *Scheduler) sendReminder(ctx context.Context, e *guildcal.Event, minutesBefore int) {
	notifyID, err := s.resolver.Resolve(ctx, s.cfg.NotifyChannel)
	if err != nil {
		s.logger.Error("resolving notify channel", slog.Any("error", err))
		return
	}
	voiceID, _ := s.resolver.Resolve(ctx, s.cfg.VoiceChannel)

	if _, err := s.chat.SendMessage(ctx, notifyID, reminderMessage(e, minutesBefore, voiceID)); err != nil {
		s.logger.Error("sending reminder", slog.String("event", e.Name), slog.Any("error", err))
		return
	}
	s.logger.Info("sent reminder", slog.String("event", e.Name), slog.Int("minutes_before", minutesBefore))
}

func (s *Scheduler) sendStart(ctx context.Context, e *guildcal.Event) {
	notifyID, err := s.resolver.Resolve(ctx, s.cfg.NotifyChannel)
	if err != nil {
		s.logger.Error("resolving notify channel", slog.Any("error", err))
		return
	}
	voiceID, _ := s.resolver.Resolve(ctx, s.cfg.VoiceChannel)

	if _, err := s.chat.SendMessage(ctx, notifyID, startMessage(e, voiceID)); err != nil {
		s.logger.Error("sending start notification", slog.String("event", e.Name), slog.Any("error", err))
		return
	}
	s.logger.Info("sent start notification", slog.String("event", e.Name))
}

// KnownEvents returns a snapshot of the known-events table.
func (s *Scheduler) KnownEvents() []*guildcal.Event {
	s.knownMu.RLock()
	defer s.knownMu.RUnlock()

	events := make([]*guildcal.Event, 0, len(s.known))
	for _, e := range s.known {
		events = append(events, e)
	}
	return events
}
