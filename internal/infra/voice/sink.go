// Package voice adapts a Discord voice connection to the queue's output
// interface, encoding streams to opus via dca.
package voice

import (
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/jonas747/dca"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/app/queue"
)

// Sink drives one guild's voice connection. It satisfies queue.Sink.
type Sink struct {
	mu     sync.Mutex
	conn   *discordgo.VoiceConnection
	stream *dca.StreamingSession
}

// Join connects to the voice channel and wraps the connection in a sink.
func Join(s *discordgo.Session, guildID, channelID string) (*Sink, error) {
	vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, errors.Wrapf(err, "join voice channel %s", channelID)
	}
	return &Sink{conn: vc}, nil
}

// ChannelID returns the joined voice channel.
func (s *Sink) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ChannelID
}

// Connected reports whether the underlying connection is usable.
func (s *Sink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Ready
}

// Begin encodes the locator with ffmpeg and streams opus frames into the
// connection. onDone fires from the streaming goroutine when playback ends,
// whether it finished, failed or was stopped.
func (s *Sink) Begin(locator string, volume float64, onDone func()) (queue.Playback, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, errors.New("sink closed")
	}

	opts := dca.StdEncodeOptions
	opts.RawOutput = true
	opts.Bitrate = 96
	opts.Volume = int(volume * 256)

	enc, err := dca.EncodeFile(locator, opts)
	if err != nil {
		return nil, errors.Wrap(err, "start encoder")
	}

	if err := conn.Speaking(true); err != nil {
		enc.Cleanup()
		return nil, errors.Wrap(err, "set speaking")
	}

	done := make(chan error)
	stream := dca.NewStream(enc, conn, done)

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	go func() {
		err := <-done
		if err != nil && err != io.EOF {
			zlog.Debug().Msgf("voice stream ended: err=%v", err)
		}
		if err := conn.Speaking(false); err != nil {
			zlog.Debug().Msgf("clear speaking: err=%v", err)
		}
		s.mu.Lock()
		if s.stream == stream {
			s.stream = nil
		}
		s.mu.Unlock()
		onDone()
	}()

	return &playback{enc: enc}, nil
}

// Pause pauses the in-flight stream.
func (s *Sink) Pause() error {
	return s.setPaused(true)
}

// Resume resumes a paused stream.
func (s *Sink) Resume() error {
	return s.setPaused(false)
}

func (s *Sink) setPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return errors.New("no stream in flight")
	}
	s.stream.SetPaused(paused)
	return nil
}

// Close disconnects from the voice channel.
func (s *Sink) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.stream = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return errors.Wrap(err, "disconnect voice")
	}
	return nil
}

// playback wraps one encode session.
type playback struct {
	mu       sync.Mutex
	enc      *dca.EncodeSession
	released bool
}

// Stop kills the encoder, which ends the stream and fires the sink's onDone.
func (p *playback) Stop() {
	p.mu.Lock()
	enc := p.enc
	p.mu.Unlock()
	if err := enc.Stop(); err != nil {
		zlog.Debug().Msgf("encoder stop: err=%v", err)
	}
}

// Release frees the encoder's ffmpeg process and buffers.
func (p *playback) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return errors.New("already released")
	}
	p.released = true
	p.enc.Cleanup()
	return nil
}
