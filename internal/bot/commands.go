package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/app/jukebox"
	"github.com/primebot/primebot/internal/domain/track"
	"github.com/primebot/primebot/internal/infra/resolver"
)

const queueDisplayLimit = 10

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	name, args, ok := parseCommand(m.Content, b.cfg.Bot.CommandPrefix)
	if !ok {
		return
	}

	if b.cfg.Bot.MusicChannelID != "" && m.ChannelID != b.cfg.Bot.MusicChannelID {
		b.reply(s, m.ChannelID, fmt.Sprintf("Music commands only work in <#%s>.", b.cfg.Bot.MusicChannelID))
		return
	}

	member, err := s.State.Member(m.GuildID, m.Author.ID)
	if err != nil {
		member = m.Member
	}
	if !djAllowed(member, b.cfg.Bot.DJRoleID) {
		b.reply(s, m.ChannelID, "You need the DJ role for that.")
		return
	}

	start := time.Now()
	switch name {
	case "play", "p":
		b.handlePlay(s, m, strings.Join(args, " "))
	case "join":
		b.handleJoin(s, m)
	case "leave", "stop":
		b.handleStop(s, m)
	case "skip", "s":
		b.handleSkip(s, m)
	case "pause":
		b.handlePause(s, m)
	case "resume":
		b.handleResume(s, m)
	case "queue", "q":
		b.handleQueue(s, m)
	case "np":
		b.handleNowPlaying(s, m)
	case "clear":
		b.handleClear(s, m)
	case "volume", "vol":
		b.handleVolume(s, m, args)
	default:
		return
	}
	if b.monitor != nil {
		b.monitor.RecordTask("command."+name, time.Since(start), map[string]any{
			"session_id": m.GuildID,
		})
	}
}

func (b *Bot) handlePlay(s *discordgo.Session, m *discordgo.MessageCreate, query string) {
	if strings.TrimSpace(query) == "" {
		b.reply(s, m.ChannelID, fmt.Sprintf("Usage: %splay <url or search>", b.cfg.Bot.CommandPrefix))
		return
	}

	if !b.svc.TransportBound(m.GuildID) {
		if msg := b.connectToRequester(s, m); msg != "" {
			b.reply(s, m.ChannelID, msg)
			return
		}
	}

	requester := track.Requester{ID: m.Author.ID, DisplayName: displayName(m)}
	t, err := b.svc.Request(context.Background(), m.GuildID, query, requester)
	if err != nil {
		b.reply(s, m.ChannelID, b.requestErrorMessage(err))
		return
	}
	b.reply(s, m.ChannelID, fmt.Sprintf(b.cfg.GetMessage("queued"), t.Title))
}

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	if msg := b.connectToRequester(s, m); msg != "" {
		b.reply(s, m.ChannelID, msg)
		return
	}
	b.reply(s, m.ChannelID, "Connected to your voice channel.")
}

func (b *Bot) handleStop(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.svc.Stop(m.GuildID)
	b.reply(s, m.ChannelID, "Stopped playback and cleared the queue.")
}

func (b *Bot) handleSkip(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !b.svc.Skip(m.GuildID) {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("nothing_playing"))
		return
	}
	b.reply(s, m.ChannelID, "Skipped.")
}

func (b *Bot) handlePause(s *discordgo.Session, m *discordgo.MessageCreate) {
	if err := b.svc.Pause(m.GuildID); err != nil {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("nothing_playing"))
		return
	}
	b.reply(s, m.ChannelID, "Paused.")
}

func (b *Bot) handleResume(s *discordgo.Session, m *discordgo.MessageCreate) {
	if err := b.svc.Resume(m.GuildID); err != nil {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("nothing_playing"))
		return
	}
	b.reply(s, m.ChannelID, "Resumed.")
}

func (b *Bot) handleQueue(s *discordgo.Session, m *discordgo.MessageCreate) {
	current, playing := b.svc.NowPlaying(m.GuildID)
	items := b.svc.QueueItems(m.GuildID)
	if !playing && len(items) == 0 {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("queue_empty"))
		return
	}

	var cur *track.Track
	if playing {
		cur = &current
	}
	b.reply(s, m.ChannelID, formatQueue(cur, items))
}

func (b *Bot) handleNowPlaying(s *discordgo.Session, m *discordgo.MessageCreate) {
	t, ok := b.svc.NowPlaying(m.GuildID)
	if !ok {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("nothing_playing"))
		return
	}
	b.reply(s, m.ChannelID, fmt.Sprintf(b.cfg.GetMessage("now_playing"), t.Label()))
}

func (b *Bot) handleClear(s *discordgo.Session, m *discordgo.MessageCreate) {
	n := b.svc.Clear(m.GuildID)
	b.reply(s, m.ChannelID, fmt.Sprintf("Dropped %d pending tracks.", n))
}

func (b *Bot) handleVolume(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) != 1 {
		b.reply(s, m.ChannelID, fmt.Sprintf("Usage: %svolume <1-200>", b.cfg.Bot.CommandPrefix))
		return
	}
	percent, ok := parseVolume(args[0])
	if !ok {
		b.reply(s, m.ChannelID, fmt.Sprintf("Usage: %svolume <1-200>", b.cfg.Bot.CommandPrefix))
		return
	}
	if err := b.svc.SetVolume(m.GuildID, float64(percent)/100); err != nil {
		b.reply(s, m.ChannelID, b.cfg.GetMessage("nothing_playing"))
		return
	}
	b.reply(s, m.ChannelID, fmt.Sprintf("Volume set to %d%% from the next track.", percent))
}

// connectToRequester joins the author's voice channel and binds the sink.
// Returns a user-facing error message, empty on success.
func (b *Bot) connectToRequester(s *discordgo.Session, m *discordgo.MessageCreate) string {
	guild, err := s.State.Guild(m.GuildID)
	if err != nil {
		return b.cfg.GetMessage("default_error")
	}
	channelID := voiceChannelOf(guild, m.Author.ID)
	if channelID == "" {
		return b.cfg.GetMessage("not_in_voice")
	}

	sink, err := b.joinVoice(s, m.GuildID, channelID)
	if err != nil {
		zlog.Error().Msgf("voice join failed: guild_id=%s channel_id=%s err=%v", m.GuildID, channelID, err)
		return b.cfg.GetMessage("default_error")
	}
	b.svc.BindTransport(m.GuildID, sink)
	return ""
}

func (b *Bot) requestErrorMessage(err error) string {
	var rejected *jukebox.RejectionError
	if errors.As(err, &rejected) {
		return b.cfg.GetMessage(rejected.Code)
	}
	if errors.Is(err, resolver.ErrNoResults) {
		return b.cfg.GetMessage("track_not_found")
	}
	return b.cfg.GetMessage("default_error")
}

func (b *Bot) reply(s *discordgo.Session, channelID, content string) {
	if _, err := s.ChannelMessageSend(channelID, content); err != nil {
		zlog.Debug().Msgf("reply failed: channel_id=%s err=%v", channelID, err)
	}
}

// parseCommand splits "<prefix><name> args..." into its parts.
func parseCommand(content, prefix string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// parseVolume parses a playback volume given as a whole percent.
func parseVolume(arg string) (int, bool) {
	percent, err := strconv.Atoi(arg)
	if err != nil || percent < 1 || percent > 200 {
		return 0, false
	}
	return percent, true
}

// djAllowed reports whether the member may use music commands. An empty role
// ID disables the gate.
func djAllowed(member *discordgo.Member, djRoleID string) bool {
	if djRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	for _, role := range member.Roles {
		if role == djRoleID {
			return true
		}
	}
	return false
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.Username
}

// formatQueue renders the current track and the pending list, capped to the
// display limit.
func formatQueue(current *track.Track, items []track.Track) string {
	var sb strings.Builder
	if current != nil {
		fmt.Fprintf(&sb, "Now: **%s** (requested by %s)\n", current.Label(), current.Requester.DisplayName)
	}
	for i, t := range items {
		if i == queueDisplayLimit {
			fmt.Fprintf(&sb, "… and %d more", len(items)-queueDisplayLimit)
			break
		}
		fmt.Fprintf(&sb, "#%d %s (requested by %s)\n", i+1, t.Label(), t.Requester.DisplayName)
	}
	return strings.TrimRight(sb.String(), "\n")
}
