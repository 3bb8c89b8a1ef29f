package bot

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/primebot/primebot/internal/app/jukebox"
	"github.com/primebot/primebot/internal/domain/track"
	"github.com/primebot/primebot/internal/infra/config"
	"github.com/primebot/primebot/internal/infra/resolver"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		prefix   string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"simple command", "!skip", "!", "skip", []string{}, true},
		{"command with args", "!play never gonna give you up", "!", "play", []string{"never", "gonna", "give", "you", "up"}, true},
		{"uppercase normalized", "!SKIP", "!", "skip", []string{}, true},
		{"wrong prefix", "?skip", "!", "", nil, false},
		{"bare prefix", "!", "!", "", nil, false},
		{"plain message", "hello there", "!", "", nil, false},
		{"multi-char prefix", ">>queue", ">>", "queue", []string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, ok := parseCommand(tt.content, tt.prefix)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestParseVolume(t *testing.T) {
	tests := []struct {
		arg     string
		percent int
		ok      bool
	}{
		{arg: "50", percent: 50, ok: true},
		{arg: "1", percent: 1, ok: true},
		{arg: "200", percent: 200, ok: true},
		{arg: "0", ok: false},
		{arg: "201", ok: false},
		{arg: "-10", ok: false},
		{arg: "half", ok: false},
		{arg: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			percent, ok := parseVolume(tt.arg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.percent, percent)
		})
	}
}

func TestDJAllowed(t *testing.T) {
	withRole := &discordgo.Member{Roles: []string{"111", "222"}}
	withoutRole := &discordgo.Member{Roles: []string{"333"}}

	assert.True(t, djAllowed(withoutRole, ""), "empty role ID disables the gate")
	assert.True(t, djAllowed(nil, ""))
	assert.True(t, djAllowed(withRole, "222"))
	assert.False(t, djAllowed(withoutRole, "222"))
	assert.False(t, djAllowed(nil, "222"))
}

func TestFormatQueue(t *testing.T) {
	current := track.Track{Title: "Song A", Duration: 3 * time.Minute, Requester: track.Requester{DisplayName: "alice"}}

	t.Run("current only", func(t *testing.T) {
		out := formatQueue(&current, nil)
		assert.Contains(t, out, "Song A")
		assert.Contains(t, out, "alice")
	})

	t.Run("pending numbered in order", func(t *testing.T) {
		items := []track.Track{
			{Title: "Song B", Requester: track.Requester{DisplayName: "bob"}},
			{Title: "Song C", Requester: track.Requester{DisplayName: "carol"}},
		}
		out := formatQueue(nil, items)
		assert.Contains(t, out, "#1 Song B")
		assert.Contains(t, out, "#2 Song C")
	})

	t.Run("long queue is capped", func(t *testing.T) {
		items := make([]track.Track, queueDisplayLimit+3)
		for i := range items {
			items[i] = track.Track{Title: "t"}
		}
		out := formatQueue(nil, items)
		assert.Contains(t, out, "and 3 more")
		assert.NotContains(t, out, "#11")
	})
}

func TestListenersIn(t *testing.T) {
	guild := &discordgo.Guild{
		VoiceStates: []*discordgo.VoiceState{
			{UserID: "bot", ChannelID: "vc1"},
			{UserID: "u1", ChannelID: "vc1"},
			{UserID: "u2", ChannelID: "vc2"},
		},
	}

	assert.Equal(t, 1, listenersIn(guild, "vc1", "bot"))
	assert.Equal(t, 1, listenersIn(guild, "vc2", "bot"))
	assert.Equal(t, 0, listenersIn(guild, "vc3", "bot"))
}

func TestVoiceChannelOf(t *testing.T) {
	guild := &discordgo.Guild{
		VoiceStates: []*discordgo.VoiceState{
			{UserID: "u1", ChannelID: "vc1"},
		},
	}

	assert.Equal(t, "vc1", voiceChannelOf(guild, "u1"))
	assert.Equal(t, "", voiceChannelOf(guild, "u2"))
}

func TestRequestErrorMessage(t *testing.T) {
	cfg := &config.Config{Messages: config.MessagesConfig{
		DefaultError:          "broke",
		TrackNotFound:         "nothing found",
		DuplicateTrack:        "already queued",
		DurationLimitExceeded: "too long",
	}}
	b := &Bot{cfg: cfg}

	assert.Equal(t, "already queued", b.requestErrorMessage(&jukebox.RejectionError{Code: "duplicate_track"}))
	assert.Equal(t, "too long", b.requestErrorMessage(&jukebox.RejectionError{Code: "duration_limit_exceeded"}))
	assert.Equal(t, "nothing found", b.requestErrorMessage(errors.Wrap(resolver.ErrNoResults, "resolve")))
	assert.Equal(t, "broke", b.requestErrorMessage(errors.New("ffmpeg exploded")))
}

func TestDisplayName(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "alice"},
	}}
	assert.Equal(t, "alice", displayName(m))

	m.Member = &discordgo.Member{Nick: "DJ Alice"}
	assert.Equal(t, "DJ Alice", displayName(m))
}
