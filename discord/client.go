package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Client is a minimal Discord REST client covering the endpoints this bot
// consumes: guild channel listing, scheduled event creation and messaging.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
}

// GuildChannels lists every channel of a guild.
func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/channels", guildID), nil, &channels)
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// CreateScheduledEvent creates a guild scheduled event.
func (c *Client) CreateScheduledEvent(ctx context.Context, guildID string, req *ScheduledEventCreate) (*ScheduledEvent, error) {
	var event ScheduledEvent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/scheduled-events", guildID), req, &event)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), messageCreate{Content: content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("discord: marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("discord: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/guildcal/guildcal, 1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord: %s %s: status %d: %s", method, endpoint, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("discord: decoding response: %w", err)
		}
	}
	return nil
}
