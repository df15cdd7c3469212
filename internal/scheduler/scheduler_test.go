package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildcal/guildcal"
	"github.com/guildcal/guildcal/discord"
)

type sentMessage struct {
	channelID string
	content   string
}

type fakeChat struct {
	mu sync.Mutex

	channels     []discord.Channel
	channelsErr  error
	channelCalls int

	createErr error
	created   []*discord.ScheduledEventCreate

	sendErr  error
	messages []sentMessage
}

func (f *fakeChat) GuildChannels(_ context.Context, _ string) ([]discord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	if f.channelsErr != nil {
		return nil, f.channelsErr
	}
	return f.channels, nil
}

func (f *fakeChat) CreateScheduledEvent(_ context.Context, _ string, req *discord.ScheduledEventCreate) (*discord.ScheduledEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &discord.ScheduledEvent{ID: "scheduled-1", Name: req.Name}, nil
}

func (f *fakeChat) SendMessage(_ context.Context, channelID, content string) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, sentMessage{channelID, content})
	return &discord.Message{ID: "msg-1"}, nil
}

type fakeSource struct {
	upcoming    []*guildcal.Event
	upcomingErr error
	changed     []*guildcal.Event
	changedErr  error
}

func (f *fakeSource) Upcoming(_ context.Context, _ time.Time, _ time.Duration) ([]*guildcal.Event, error) {
	return f.upcoming, f.upcomingErr
}

func (f *fakeSource) Changed(_ context.Context) ([]*guildcal.Event, error) {
	return f.changed, f.changedErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		GuildID:         "guild-1",
		VoiceChannel:    "community-voice",
		NotifyChannel:   "events",
		ReminderMinutes: []int{60, 15},
	}
}

func guildChannels() []discord.Channel {
	return []discord.Channel{
		{ID: "chan-voice", Name: "community-voice", Type: 2},
		{ID: "chan-events", Name: "events"},
		{ID: "chan-general", Name: "general"},
	}
}

func newTestScheduler(chat *fakeChat, src *fakeSource, now time.Time) *Scheduler {
	s := New(testConfig(), chat, src, nil, testLogger())
	s.now = func() time.Time { return now }
	return s
}

func evt(id string, startsAt time.Time) *guildcal.Event {
	return &guildcal.Event{
		ID:          id,
		Name:        "Community Call",
		Description: "Monthly community call",
		StartsAt:    startsAt,
		EndsAt:      startsAt.Add(time.Hour),
		Timezone:    "UTC",
	}
}

func TestIngest_CreatesEventOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: guildChannels()}
	s := newTestScheduler(chat, &fakeSource{}, now)
	e := evt("evt-1", now.Add(2*time.Hour))

	s.Ingest(context.Background(), []*guildcal.Event{e})

	require.Len(t, chat.created, 1)
	assert.Equal(t, "chan-voice", chat.created[0].ChannelID)
	assert.Equal(t, discord.EntityTypeVoice, chat.created[0].EntityType)
	require.Len(t, chat.messages, 1)
	assert.Equal(t, "chan-events", chat.messages[0].channelID)
	assert.Contains(t, chat.messages[0].content, "New Event Alert!")
	assert.Contains(t, chat.messages[0].content, "https://discord.com/events/guild-1/scheduled-1")

	// Re-observing the same event, from any path, creates nothing new.
	s.Ingest(context.Background(), []*guildcal.Event{e})
	assert.Len(t, chat.created, 1)
	assert.Len(t, chat.messages, 1)
}

func TestIngest_PushAndPollDeduplicate(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := evt("evt-1", now.Add(2*time.Hour))
	chat := &fakeChat{channels: guildChannels()}
	src := &fakeSource{upcoming: []*guildcal.Event{e}, changed: []*guildcal.Event{e}}
	s := newTestScheduler(chat, src, now)

	s.OnCalendarChange(context.Background())
	s.schedulerTick(context.Background())

	assert.Len(t, chat.created, 1)
	assert.Len(t, chat.messages, 1)
	assert.Len(t, s.KnownEvents(), 1)
}

func TestIngest_OutsideWindowNotCreated(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: guildChannels()}
	s := newTestScheduler(chat, &fakeSource{}, now)

	s.Ingest(context.Background(), []*guildcal.Event{
		evt("far", now.Add(25*time.Hour)),
		evt("past", now.Add(-time.Minute)),
	})

	assert.Empty(t, chat.created)
	// Still tracked for reminders.
	assert.Len(t, s.KnownEvents(), 2)
}

func TestIngest_CreationFailureRetriedNextTick(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: guildChannels(), createErr: errors.New("api down")}
	s := newTestScheduler(chat, &fakeSource{}, now)
	e := evt("evt-1", now.Add(2*time.Hour))

	s.Ingest(context.Background(), []*guildcal.Event{e})
	require.Empty(t, chat.created)

	chat.createErr = nil
	s.Ingest(context.Background(), []*guildcal.Event{e})
	assert.Len(t, chat.created, 1)
	assert.Len(t, chat.messages, 1)
}

func TestIngest_ResolutionFailureRetriedNextTick(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	chat := &fakeChat{channelsErr: errors.New("guild lookup failed")}
	s := newTestScheduler(chat, &fakeSource{}, now)
	e := evt("evt-1", now.Add(2*time.Hour))

	s.Ingest(context.Background(), []*guildcal.Event{e})
	require.Empty(t, chat.created)

	chat.channelsErr = nil
	chat.channels = guildChannels()
	s.Ingest(context.Background(), []*guildcal.Event{e})
	assert.Len(t, chat.created, 1)
}

func TestIngest_AnnouncementFailureNotRetried(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: guildChannels(), sendErr: errors.New("send failed")}
	s := newTestScheduler(chat, &fakeSource{}, now)
	e := evt("evt-1", now.Add(2*time.Hour))

	s.Ingest(context.Background(), []*guildcal.Event{e})
	require.Len(t, chat.created, 1)

	// The creation is recorded: the lost announcement is not re-sent.
	chat.sendErr = nil
	s.Ingest(context.Background(), []*guildcal.Event{e})
	assert.Len(t, chat.created, 1)
	assert.Empty(t, chat.messages)
}

func TestSchedulerTick_PushModeSkipsPoll(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := evt("evt-1", now.Add(2*time.Hour))
	chat := &fakeChat{channels: guildChannels()}
	src := &fakeSource{upcoming: []*guildcal.Event{e}}

	active := true
	s := New(testConfig(), chat, src, watcherFunc(func(context.Context, time.Time) bool { return active }), testLogger())
	s.now = func() time.Time { return now }

	// Active subscription: the tick only advances the state machine.
	s.schedulerTick(context.Background())
	assert.Empty(t, chat.created)

	// Subscription lost: the tick falls back to one poll pass.
	active = false
	s.schedulerTick(context.Background())
	assert.Len(t, chat.created, 1)
}

type watcherFunc func(context.Context, time.Time) bool

func (f watcherFunc) Tick(ctx context.Context, now time.Time) bool { return f(ctx, now) }

func TestReminderTick_FiresEachOffsetOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: guildChannels()}
	var now time.Time
	s := New(testConfig(), chat, &fakeSource{}, nil, testLogger())
	s.now = func() time.Time { return now }

	e := evt("evt-1", start)
	now = start.Add(-90 * time.Minute)
	s.Ingest(context.Background(), []*guildcal.Event{e})
	chat.messages = nil // drop the creation announcement

	// 61 minutes out: nothing.
	now = start.Add(-61 * time.Minute)
	s.reminderTick(context.Background())
	assert.Empty(t, chat.messages)

	// 60 minutes out: the 60-minute reminder fires once.
	now = start.Add(-60 * time.Minute)
	s.reminderTick(context.Background())
	require.Len(t, chat.messages, 1)
	assert.Contains(t, chat.messages[0].content, "starts in 1 hour")

	// Next tick, still no duplicate.
	now = start.Add(-59 * time.Minute)
	s.reminderTick(context.Background())
	assert.Len(t, chat.messages, 1)

	// 15 minutes out: the next offset fires independently.
	now = start.Add(-15 * time.Minute)
	s.reminderTick(context.Background())
	require.Len(t, chat.messages, 2)
	assert.Contains(t, chat.messages[1].content, "starts in 15 minutes")

	// Start time: the start notification fires once.
	now = start
	s.reminderTick(context.Background())
	require.Len(t, chat.messages, 3)
	assert.Contains(t, chat.messages[2].content, "is starting now!")

	now = start.Add(time.Minute)
	s.reminderTick(context.Background())
	assert.Len(t, chat.messages, 3)
}

func TestRun_ReminderLoopWaitsForFirstTick(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := evt("evt-1", now.Add(2*time.Hour))
	chat := &fakeChat{channels: guildChannels()}
	src := &fakeSource{upcoming: []*guildcal.Event{e}}
	s := newTestScheduler(chat, src, now)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop never completed its first tick")
	}
	cancel()

	// Seed plus first tick merged the event and created it.
	assert.Len(t, s.KnownEvents(), 1)
	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Len(t, chat.created, 1)
}

func TestResolver_CachesWholeGuild(t *testing.T) {
	chat := &fakeChat{channels: guildChannels()}
	r := newChannelResolver(chat, "guild-1")

	id, err := r.Resolve(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, "chan-events", id)

	// A second name is served from the cache without another lookup.
	id, err = r.Resolve(context.Background(), "community-voice")
	require.NoError(t, err)
	assert.Equal(t, "chan-voice", id)
	assert.Equal(t, 1, chat.channelCalls)
}

func TestResolver_NotFound(t *testing.T) {
	chat := &fakeChat{channels: guildChannels()}
	r := newChannelResolver(chat, "guild-1")

	_, err := r.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrChannelNotFound)
}

func TestResolver_LookupFailureRetried(t *testing.T) {
	chat := &fakeChat{channelsErr: errors.New("guild lookup failed")}
	r := newChannelResolver(chat, "guild-1")

	_, err := r.Resolve(context.Background(), "events")
	require.Error(t, err)

	// No negative caching: the next call retries and succeeds.
	chat.channelsErr = nil
	chat.channels = guildChannels()
	id, err := r.Resolve(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, "chan-events", id)
	assert.Equal(t, 2, chat.channelCalls)
}

func TestSendDigest(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	chat := &fakeChat{channels: append(guildChannels(), discord.Channel{ID: "chan-digest", Name: "daily"})}
	cfg := testConfig()
	cfg.DigestChannel = "daily"
	s := New(cfg, chat, &fakeSource{}, nil, testLogger())
	s.now = func() time.Time { return now }

	s.knownMu.Lock()
	s.known["today"] = evt("today", now.Add(5*time.Hour))
	s.known["tomorrow"] = evt("tomorrow", now.Add(30*time.Hour))
	s.knownMu.Unlock()

	s.sendDigest(context.Background(), time.UTC)

	require.Len(t, chat.messages, 1)
	assert.Equal(t, "chan-digest", chat.messages[0].channelID)
	assert.True(t, strings.HasPrefix(chat.messages[0].content, "**Daily Schedule - Monday, March 2**"))
	assert.Equal(t, 1, strings.Count(chat.messages[0].content, "- **"))
}
