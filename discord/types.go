package discord

// User is a Discord user, as embedded in gateway payloads.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Channel is a guild channel. Type 2 is a voice channel.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Type    int    `json:"type"`
}

type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Author    *User  `json:"author,omitempty"`
	Content   string `json:"content"`
}

type messageCreate struct {
	Content string `json:"content"`
}

// ScheduledEvent is a guild scheduled event.
type ScheduledEvent struct {
	ID                 string `json:"id"`
	GuildID            string `json:"guild_id"`
	ChannelID          string `json:"channel_id,omitempty"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	ScheduledStartTime string `json:"scheduled_start_time"`
	ScheduledEndTime   string `json:"scheduled_end_time,omitempty"`
	EntityType         int    `json:"entity_type"`
	Status             int    `json:"status,omitempty"`
}

// ScheduledEventCreate is the request body for creating a scheduled event.
type ScheduledEventCreate struct {
	ChannelID          string `json:"channel_id,omitempty"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	ScheduledStartTime string `json:"scheduled_start_time"`
	ScheduledEndTime   string `json:"scheduled_end_time,omitempty"`
	EntityType         int    `json:"entity_type"`
	PrivacyLevel       int    `json:"privacy_level"`
}

// Scheduled event constants from the Discord API.
const (
	EntityTypeVoice       = 2
	PrivacyLevelGuildOnly = 2
)
