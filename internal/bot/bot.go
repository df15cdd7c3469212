// Package bot wires the collaborators together and handles chat commands.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	googlecal "github.com/guildcal/guildcal/calendar/google"
	"github.com/guildcal/guildcal/discord"
	"github.com/guildcal/guildcal/internal/config"
	"github.com/guildcal/guildcal/internal/scheduler"
	"github.com/guildcal/guildcal/internal/source"
	"github.com/guildcal/guildcal/internal/watch"
	"github.com/guildcal/guildcal/internal/webhook"
)

type Bot struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *discord.Client
	gateway *discord.Gateway
	source  *source.Adapter
	sched   *scheduler.Scheduler
	watcher *watch.Manager
	webhook *webhook.Server
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	calClient, err := googlecal.NewClient(ctx, cfg.CalendarID, cfg.ServiceAccountFile, logger)
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}

	client := discord.NewClient(cfg.DiscordToken)
	gateway := discord.NewGateway(cfg.DiscordToken,
		discord.IntentGuilds|discord.IntentGuildMessages|discord.IntentMessageContent, logger)
	adapter := source.New(calClient, logger)

	var watcher *watch.Manager
	if cfg.Webhook.Enabled {
		watcher = watch.NewManager(calClient, cfg.Webhook.URL, logger)
	}

	sched := scheduler.New(scheduler.Config{
		GuildID:         cfg.GuildID,
		VoiceChannel:    cfg.VoiceChannel,
		NotifyChannel:   cfg.NotifyChannel,
		ReminderMinutes: cfg.ReminderMinutes,
		DigestTime:      cfg.DigestTime,
		DigestChannel:   cfg.DigestChannel,
		Timezone:        cfg.Timezone,
	}, client, adapter, watcherOrNil(watcher), logger)

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		gateway: gateway,
		source:  adapter,
		sched:   sched,
		watcher: watcher,
	}

	if cfg.Webhook.Enabled {
		b.webhook = webhook.NewServer(cfg.Webhook.Listen, func() {
			sched.OnCalendarChange(ctx)
		}, logger)
	}

	gateway.On("MESSAGE_CREATE", b.onMessageCreate)
	return b, nil
}

// watcherOrNil keeps a typed-nil *watch.Manager from reaching the scheduler
// as a non-nil interface.
func watcherOrNil(m *watch.Manager) scheduler.Watcher {
	if m == nil {
		return nil
	}
	return m
}

// Run blocks until ctx is canceled, then tears down the watch channel and
// webhook server.
func (b *Bot) Run(ctx context.Context) error {
	if b.webhook != nil {
		b.webhook.Start()
	} else {
		b.logger.Info("webhook disabled, using polling mode")
	}
	go b.sched.Run(ctx)

	err := b.gateway.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if b.watcher != nil {
		b.watcher.Shutdown(shutdownCtx)
	}
	if b.webhook != nil {
		if werr := b.webhook.Shutdown(shutdownCtx); werr != nil {
			b.logger.Error("shutting down webhook server", slog.Any("error", werr))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Bot) onMessageCreate(data json.RawMessage) {
	var msg discord.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Error("parsing message event", slog.Any("error", err))
		return
	}
	if msg.Author != nil && msg.Author.Bot {
		return
	}

	ctx := context.Background()
	switch {
	case msg.Content == "!ping":
		b.reply(ctx, msg.ChannelID, "Pong!")
	case msg.Content == "!events" || strings.HasPrefix(msg.Content, "!events "):
		b.listEvents(ctx, msg)
	}
}

const maxListedEvents = 10

// listEvents answers "!events [days]" with upcoming calendar events.
func (b *Bot) listEvents(ctx context.Context, msg discord.Message) {
	days := 7
	if arg := strings.TrimSpace(strings.TrimPrefix(msg.Content, "!events")); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			b.reply(ctx, msg.ChannelID, "Usage: `!events [days]`")
			return
		}
		days = n
	}

	events, err := b.source.Upcoming(ctx, time.Now().UTC(), time.Duration(days)*24*time.Hour)
	if err != nil {
		b.logger.Error("listing upcoming events", slog.Any("error", err))
		b.reply(ctx, msg.ChannelID, "Could not fetch events, try again later.")
		return
	}
	if len(events) == 0 {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("No events scheduled in the next %d days.", days))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Upcoming Events (%d days)**\n", days)
	for i, e := range events {
		if i == maxListedEvents {
			fmt.Fprintf(&sb, "Showing %d of %d events\n", maxListedEvents, len(events))
			break
		}
		fmt.Fprintf(&sb, "- **%s** <t:%d:F> (<t:%d:R>), %d min\n",
			e.Name, e.StartsAt.Unix(), e.StartsAt.Unix(), e.DurationMinutes())
	}
	b.reply(ctx, msg.ChannelID, sb.String())
}

func (b *Bot) reply(ctx context.Context, channelID, content string) {
	if _, err := b.client.SendMessage(ctx, channelID, content); err != nil {
		b.logger.Error("sending reply", slog.Any("error", err))
	}
}
