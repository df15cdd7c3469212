package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/guildcal/guildcal"
)

// Client reads a single Google calendar and manages its push notification
// channel. It authenticates with a service account file when one is
// configured, falling back to Application Default Credentials.
type Client struct {
	svc        *calendar.Service
	calendarID string
	logger     *slog.Logger
}

func NewClient(ctx context.Context, calendarID, credentialsFile string, logger *slog.Logger) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(calendar.CalendarReadonlyScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: creating calendar service: %w", err)
	}

	return &Client{
		svc:        svc,
		calendarID: calendarID,
		logger:     logger,
	}, nil
}

const defaultSleep = 5 * time.Second

// Events lists events whose start falls inside [from, to].
func (c *Client) Events(ctx context.Context, from, to time.Time) (guildcal.Iterator, error) {
	call := c.svc.Events.
		List(c.calendarID).
		Context(ctx).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339))

	it := newEventIterator()
	go c.events(ctx, call, it.events)
	return it, nil
}

// Changes lists events changed since cursor. An empty cursor starts a fresh
// incremental sync from now. The iterator's NextCursor carries the token for
// the following call; a rejected token surfaces as guildcal.ErrCursorInvalid.
func (c *Client) Changes(ctx context.Context, cursor string) (guildcal.Iterator, error) {
	call := c.svc.Events.
		List(c.calendarID).
		Context(ctx).
		SingleEvents(true)
	if cursor != "" {
		call = call.SyncToken(cursor)
	} else {
		call = call.TimeMin(time.Now().UTC().Format(time.RFC3339))
	}

	it := newEventIterator()
	go c.events(ctx, call, it.events)
	return it, nil
}

func (c *Client) events(ctx context.Context, call *calendar.EventsListCall, eventCh chan eventOrError) {
	defer close(eventCh)

	var nextPageToken string
	for {
		events, err := call.PageToken(nextPageToken).Do()
		if err != nil {
			if shouldRetry(err) {
				time.Sleep(defaultSleep)
				continue
			}
			if cursorInvalid(err) {
				err = fmt.Errorf("%w: %v", guildcal.ErrCursorInvalid, err)
			}
			c.logger.Error("listing events failed", slog.String("calendar", c.calendarID), slog.Any("error", err))
			eventCh <- eventOrError{err: err}
			return
		}

		for _, item := range events.Items {
			eventCh <- eventOrError{
				e:          newEvent(item),
				nextCursor: events.NextSyncToken,
			}
		}
		nextPageToken = events.NextPageToken
		if nextPageToken == "" {
			if events.NextSyncToken != "" {
				eventCh <- eventOrError{nextCursor: events.NextSyncToken}
			}
			return
		}
	}
}

// Watch registers a push notification channel delivering to callbackURL.
func (c *Client) Watch(ctx context.Context, callbackURL string) (*guildcal.WatchChannel, error) {
	req := &calendar.Channel{
		Id:      uuid.NewString(),
		Type:    "web_hook",
		Address: callbackURL,
	}

	res, err := c.svc.Events.Watch(c.calendarID, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: creating watch channel: %w", err)
	}

	wc := &guildcal.WatchChannel{
		ID:         res.Id,
		ResourceID: res.ResourceId,
		Expiration: time.UnixMilli(res.Expiration).UTC(),
	}
	c.logger.Info("watch channel created",
		slog.String("channel_id", wc.ID),
		slog.Time("expiration", wc.Expiration),
	)
	return wc, nil
}

// Stop cancels a push notification channel.
func (c *Client) Stop(ctx context.Context, wc *guildcal.WatchChannel) error {
	err := c.svc.Channels.Stop(&calendar.Channel{
		Id:         wc.ID,
		ResourceId: wc.ResourceID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("google: stopping watch channel %s: %w", wc.ID, err)
	}
	c.logger.Info("watch channel stopped", slog.String("channel_id", wc.ID))
	return nil
}

func shouldRetry(err error) bool {
	return errIsReason(err, "rateLimitExceeded")
}

// cursorInvalid matches the 410 the API returns for an expired sync token.
func cursorInvalid(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}
	return gErr.Code == http.StatusGone
}

func errIsReason(err error, reason string) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}

	for _, err := range gErr.Errors {
		switch err.Reason {
		case reason:
			return true
		}
	}
	return false
}
