package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/guildcal/guildcal"
)

// startDigest schedules the daily digest when DigestTime and DigestChannel
// are configured. Returns nil when the digest is disabled.
func (s *Scheduler) startDigest(ctx context.Context) (*cron.Cron, error) {
	if s.cfg.DigestTime == "" || s.cfg.DigestChannel == "" {
		return nil, nil
	}

	var hour, minute int
	if _, err := fmt.Sscanf(s.cfg.DigestTime, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("scheduler: parsing digest time %q: %w", s.cfg.DigestTime, err)
	}

	loc := time.UTC
	if s.cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: loading timezone %q: %w", s.cfg.Timezone, err)
		}
	}

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), func() {
		s.sendDigest(ctx, loc)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: scheduling digest: %w", err)
	}
	c.Start()

	s.logger.Info("daily digest scheduled",
		slog.String("time", s.cfg.DigestTime),
		slog.String("channel", s.cfg.DigestChannel),
	)
	return c, nil
}

// sendDigest posts today's events from the known-events table.
func (s *Scheduler) sendDigest(ctx context.Context, loc *time.Location) {
	now := s.now().In(loc)
	year, month, day := now.Date()

	var today []*guildcal.Event
	for _, e := range s.KnownEvents() {
		y, m, d := e.StartsAt.In(loc).Date()
		if y == year && m == month && d == day {
			today = append(today, e)
		}
	}
	sort.Slice(today, func(i, j int) bool { return today[i].StartsAt.Before(today[j].StartsAt) })

	channelID, err := s.resolver.Resolve(ctx, s.cfg.DigestChannel)
	if err != nil {
		s.logger.Error("resolving digest channel", slog.Any("error", err))
		return
	}
	if _, err := s.chat.SendMessage(ctx, channelID, digestMessage(today, now)); err != nil {
		s.logger.Error("sending daily digest", slog.Any("error", err))
		return
	}
	s.logger.Info("sent daily digest", slog.Int("events", len(today)))
}
