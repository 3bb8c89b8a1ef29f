package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
bot:
  token: test-token
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.Bot.Token)
	assert.Equal(t, "!", cfg.Bot.CommandPrefix)
	assert.Equal(t, 0.5, cfg.Playback.Volume)
	assert.Equal(t, time.Second, cfg.Playback.RetryBackoff())
	assert.Equal(t, 30, cfg.Playback.StallAfter)
	assert.Equal(t, 15*time.Minute, cfg.Playback.IdleTimeout())
	assert.Equal(t, "ytsearch", cfg.Resolver.SearchPrefix)
	assert.Equal(t, 30*time.Second, cfg.Resolver.Timeout())
	assert.Equal(t, 2.0, cfg.Resolver.PerSecond)
	assert.NotEmpty(t, cfg.Messages.DefaultError)
}

func TestLoad_FileValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
bot:
  token: test-token
  command_prefix: "?"
  guild_id: "123"
playback:
  volume: 0.8
  retry_backoff_ms: 500
resolver:
  search_prefix: ytmsearch
`))
	require.NoError(t, err)

	assert.Equal(t, "?", cfg.Bot.CommandPrefix)
	assert.Equal(t, "123", cfg.Bot.GuildID)
	assert.Equal(t, 0.8, cfg.Playback.Volume)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.RetryBackoff())
	assert.Equal(t, "ytmsearch", cfg.Resolver.SearchPrefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("COMMAND_PREFIX", ">")
	t.Setenv("PLAYBACK_VOLUME", "0.25")

	cfg, err := Load(writeConfig(t, `
bot:
  token: file-token
  command_prefix: "!"
`))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Bot.Token)
	assert.Equal(t, ">", cfg.Bot.CommandPrefix)
	assert.Equal(t, 0.25, cfg.Playback.Volume)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "missing token",
			content: "bot:\n  command_prefix: '!'\n",
			errMsg:  "Token",
		},
		{
			name:    "volume out of range",
			content: minimalConfig + "playback:\n  volume: 3.0\n",
			errMsg:  "Volume",
		},
		{
			name:    "backoff too small",
			content: minimalConfig + "playback:\n  retry_backoff_ms: 10\n",
			errMsg:  "RetryBackoffMs",
		},
		{
			name:    "resolver timeout too large",
			content: minimalConfig + "resolver:\n  timeout_sec: 900\n",
			errMsg:  "TimeoutSec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "bot: [unclosed"))
	assert.Error(t, err)
}

func TestConfig_EnabledFilterSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 15
  duplicate_track_filter:
    enabled: false
`))
	require.NoError(t, err)

	settings := cfg.EnabledFilterSettings()
	require.Contains(t, settings, "duration_limit_filter")
	assert.Equal(t, 15, settings["duration_limit_filter"]["max_minutes"])
	assert.NotContains(t, settings, "duplicate_track_filter")
}

func TestConfig_GetMessage(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
messages:
  duplicate_track: "Already queued!"
`))
	require.NoError(t, err)

	assert.Equal(t, "Already queued!", cfg.GetMessage("duplicate_track"))
	assert.Equal(t, cfg.Messages.NotInVoice, cfg.GetMessage("not_in_voice"))
	assert.Equal(t, cfg.Messages.DefaultError, cfg.GetMessage("anything_else"))
}
