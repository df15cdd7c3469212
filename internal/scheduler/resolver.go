package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guildcal/guildcal/discord"
)

// ErrChannelNotFound reports that a channel name does not exist in the guild.
var ErrChannelNotFound = errors.New("scheduler: channel not found")

type channelLister interface {
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
}

// channelResolver maps channel display names to IDs. A miss enumerates the
// whole guild once and fills the cache for every channel; a failed guild
// lookup leaves the cache untouched so the next call retries.
type channelResolver struct {
	chat    channelLister
	guildID string

	mu    sync.Mutex
	cache map[string]string
}

func newChannelResolver(chat channelLister, guildID string) *channelResolver {
	return &channelResolver{
		chat:    chat,
		guildID: guildID,
		cache:   make(map[string]string),
	}
}

func (r *channelResolver) Resolve(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if id, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	channels, err := r.chat.GuildChannels(ctx, r.guildID)
	if err != nil {
		return "", fmt.Errorf("scheduler: listing guild channels: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		r.cache[ch.Name] = ch.ID
	}
	if id, ok := r.cache[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}
