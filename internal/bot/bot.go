// Package bot wires the Discord gateway to the jukebox service.
package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/app/queue"
	"github.com/primebot/primebot/internal/domain/track"
	"github.com/primebot/primebot/internal/infra/config"
	"github.com/primebot/primebot/internal/infra/monitor"
	"github.com/primebot/primebot/internal/infra/voice"
)

// Jukebox is the slice of the service the command layer uses.
type Jukebox interface {
	Request(ctx context.Context, sessionID, query string, requester track.Requester) (track.Track, error)
	Skip(sessionID string) bool
	Clear(sessionID string) int
	Stop(sessionID string)
	Pause(sessionID string) error
	Resume(sessionID string) error
	SetVolume(sessionID string, v float64) error
	QueueItems(sessionID string) []track.Track
	QueueSize(sessionID string) int
	NowPlaying(sessionID string) (track.Track, bool)
	BindTransport(sessionID string, sink queue.Sink)
	DropTransport(sessionID string)
	TransportBound(sessionID string) bool
}

// Bot owns the gateway session and the message handlers.
type Bot struct {
	session *discordgo.Session
	svc     Jukebox
	cfg     *config.Config
	monitor *monitor.Monitor

	// joinVoice is swapped out in tests.
	joinVoice func(s *discordgo.Session, guildID, channelID string) (queue.Sink, error)
}

// New builds the bot and registers its handlers. Call Start to connect.
func New(cfg *config.Config, svc Jukebox, mon *monitor.Monitor) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := &Bot{
		session: session,
		svc:     svc,
		cfg:     cfg,
		monitor: mon,
		joinVoice: func(s *discordgo.Session, guildID, channelID string) (queue.Sink, error) {
			return voice.Join(s, guildID, channelID)
		},
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceStateUpdate)
	return b, nil
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "open gateway")
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("gateway ready: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	if b.monitor != nil {
		b.monitor.SetGauge("guilds", float64(len(r.Guilds)))
	}
}

// onVoiceStateUpdate tears the session down when the bot ends up alone in its
// voice channel.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.UserID == s.State.User.ID {
		return
	}

	guild, err := s.State.Guild(v.GuildID)
	if err != nil {
		return
	}

	botChannel := ""
	for _, vs := range guild.VoiceStates {
		if vs.UserID == s.State.User.ID {
			botChannel = vs.ChannelID
			break
		}
	}
	if botChannel == "" {
		return
	}

	if listenersIn(guild, botChannel, s.State.User.ID) > 0 {
		return
	}

	zlog.Info().Msgf("voice channel deserted: guild_id=%s channel_id=%s", v.GuildID, botChannel)
	start := time.Now()
	b.svc.Stop(v.GuildID)
	if b.monitor != nil {
		b.monitor.RecordTask("voice_deserted", time.Since(start), map[string]any{"session_id": v.GuildID})
	}
}

// listenersIn counts users other than the bot in the channel.
func listenersIn(guild *discordgo.Guild, channelID, botID string) int {
	n := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != botID {
			n++
		}
	}
	return n
}

// voiceChannelOf returns the voice channel the user currently sits in.
func voiceChannelOf(guild *discordgo.Guild, userID string) string {
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}
