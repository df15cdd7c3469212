// Package config loads the bot configuration from a YAML file, with
// credentials taken from the environment.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type WebhookConfig struct {
	// Enabled switches ingestion to push mode. URL must then be the
	// externally reachable address of the /webhook endpoint.
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	URL     string `yaml:"url"`
}

type Config struct {
	// DiscordToken comes from DISCORD_BOT_TOKEN, never from the file.
	DiscordToken string `yaml:"-"`

	GuildID       string `yaml:"guild_id"`
	NotifyChannel string `yaml:"notify_channel"`
	VoiceChannel  string `yaml:"voice_channel"`

	CalendarID string `yaml:"calendar_id"`
	// ServiceAccountFile may also be set via GOOGLE_SERVICE_ACCOUNT_FILE;
	// when empty, Application Default Credentials are used.
	ServiceAccountFile string `yaml:"service_account_file"`

	Webhook WebhookConfig `yaml:"webhook"`

	ReminderMinutes []int `yaml:"reminder_minutes"`

	DigestTime    string `yaml:"digest_time"`
	DigestChannel string `yaml:"digest_channel"`
	Timezone      string `yaml:"timezone"`
}

func DefaultConfig() *Config {
	return &Config{
		NotifyChannel:   "events",
		ReminderMinutes: []int{90, 60, 15, 5},
		Webhook: WebhookConfig{
			Listen: "0.0.0.0:8080",
		},
	}
}

// Normalize fills zero values so partially filled configs behave.
func (c *Config) Normalize() {
	if c.NotifyChannel == "" {
		c.NotifyChannel = "events"
	}
	if len(c.ReminderMinutes) == 0 {
		c.ReminderMinutes = []int{90, 60, 15, 5}
	}
	if c.Webhook.Listen == "" {
		c.Webhook.Listen = "0.0.0.0:8080"
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.Normalize()

	cfg.DiscordToken = os.Getenv("DISCORD_BOT_TOKEN")
	if f := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"); f != "" {
		cfg.ServiceAccountFile = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("config: DISCORD_BOT_TOKEN environment variable is required")
	}
	if c.GuildID == "" {
		return errors.New("config: guild_id is required")
	}
	if c.CalendarID == "" {
		return errors.New("config: calendar_id is required")
	}
	if c.VoiceChannel == "" {
		return errors.New("config: voice_channel is required")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return errors.New("config: webhook.url is required when webhook.enabled is set")
	}
	return nil
}
