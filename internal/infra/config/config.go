// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Bot      BotConfig               `yaml:"bot"`
	Playback PlaybackConfig          `yaml:"playback"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
}

// BotConfig represents the Discord connection and command surface.
type BotConfig struct {
	Token          string `yaml:"token" validate:"required"`
	CommandPrefix  string `yaml:"command_prefix" default:"!"`
	GuildID        string `yaml:"guild_id"`
	MusicChannelID string `yaml:"music_channel_id"`
	DJRoleID       string `yaml:"dj_role_id"`
}

// PlaybackConfig represents queue and playback behaviour.
type PlaybackConfig struct {
	Volume         float64 `yaml:"volume" default:"0.5" validate:"gt=0,lte=2"`
	RetryBackoffMs int     `yaml:"retry_backoff_ms" default:"1000" validate:"gte=100,lte=30000"`
	StallAfter     int     `yaml:"stall_after" default:"30" validate:"gte=0"`
	IdleTimeoutSec int     `yaml:"idle_timeout_sec" default:"900" validate:"gte=0"`
}

// RetryBackoff returns the backoff as a duration.
func (c PlaybackConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// IdleTimeout returns the idle timeout as a duration.
func (c PlaybackConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// ResolverConfig represents track resolution behaviour.
type ResolverConfig struct {
	SearchPrefix string  `yaml:"search_prefix" default:"ytsearch"`
	TimeoutSec   int     `yaml:"timeout_sec" default:"30" validate:"gte=1,lte=300"`
	PerSecond    float64 `yaml:"per_second" default:"2" validate:"gt=0"`
}

// Timeout returns the extraction deadline as a duration.
func (c ResolverConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Queued                string `yaml:"queued" default:"Queued **%s**."`
	NowPlaying            string `yaml:"now_playing" default:"Now playing **%s**."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	TrackNotFound         string `yaml:"track_not_found" default:"Nothing found for that."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already queued."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is outside the allowed length."`
	NotInVoice            string `yaml:"not_in_voice" default:"Join a voice channel first."`
	NothingPlaying        string `yaml:"nothing_playing" default:"Nothing is playing."`
	QueueEmpty            string `yaml:"queue_empty" default:"The queue is empty."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Bot.Token = v
	}
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		c.Bot.CommandPrefix = v
	}
	if v := os.Getenv("GUILD_ID"); v != "" {
		c.Bot.GuildID = v
	}
	if v := os.Getenv("MUSIC_CHANNEL_ID"); v != "" {
		c.Bot.MusicChannelID = v
	}
	if v := os.Getenv("DJ_ROLE_ID"); v != "" {
		c.Bot.DJRoleID = v
	}
	if v := os.Getenv("PLAYBACK_VOLUME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Playback.Volume = f
		}
	}
}

// EnabledFilterSettings returns the settings of every enabled filter.
func (c *Config) EnabledFilterSettings() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for name, fc := range c.Filters {
		if !fc.Enabled {
			continue
		}
		settings := fc.Settings
		if settings == nil {
			settings = map[string]any{}
		}
		out[name] = settings
	}
	return out
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "queued":
		return c.Messages.Queued
	case "now_playing":
		return c.Messages.NowPlaying
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "not_in_voice":
		return c.Messages.NotInVoice
	case "nothing_playing":
		return c.Messages.NothingPlaying
	case "queue_empty":
		return c.Messages.QueueEmpty
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
