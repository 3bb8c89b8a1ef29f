// Package jukebox orchestrates track resolution, request filtering and the
// per-session queues behind a single facade.
package jukebox

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/app/filter"
	"github.com/primebot/primebot/internal/app/queue"
	"github.com/primebot/primebot/internal/domain/track"
)

// Errors
var (
	ErrNoSession = errors.New("no active session")
)

// RejectionError reports a request turned down by the filter chain. Code is
// one of the chain's return codes.
type RejectionError struct {
	Code string
}

func (e *RejectionError) Error() string {
	return "request rejected: " + e.Code
}

// TrackResolver turns queries into tracks.
type TrackResolver interface {
	Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error)
}

// Service is the facade the command layer talks to. One instance serves all
// sessions.
type Service struct {
	registry *queue.Registry
	resolver TrackResolver
	settings map[string]map[string]any

	mu     sync.Mutex
	chains map[string]sessionChain
}

type sessionChain struct {
	engine *queue.Engine
	chain  *filter.Chain
}

// New creates the service. Filter settings are validated eagerly so a broken
// config fails at startup, not on the first request.
func New(registry *queue.Registry, resolver TrackResolver, filterSettings map[string]map[string]any) (*Service, error) {
	for name, settings := range filterSettings {
		factory, ok := filter.GetRegistered()[name]
		if !ok {
			return nil, errors.Newf("unknown filter %q", name)
		}
		if err := factory().ValidateConfig(settings); err != nil {
			return nil, errors.Wrapf(err, "filter %q", name)
		}
	}
	return &Service{
		registry: registry,
		resolver: resolver,
		settings: filterSettings,
		chains:   make(map[string]sessionChain),
	}, nil
}

// Request resolves the query, runs the session's filter chain and enqueues
// the track. The returned track is what actually entered the queue.
func (s *Service) Request(ctx context.Context, sessionID, query string, requester track.Requester) (track.Track, error) {
	reqID := uuid.NewString()
	start := time.Now()

	t, err := s.resolver.Resolve(ctx, query, requester)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "resolve request %s", reqID)
	}

	e := s.registry.Get(sessionID)
	req := filter.Request{SessionID: sessionID, Requester: requester}
	if result := s.chainFor(sessionID, e).Execute(ctx, req, t); !result.Accepted {
		zlog.Info().Msgf("request rejected: request_id=%s session_id=%s title=%s code=%s",
			reqID, sessionID, t.Title, result.Code)
		return track.Track{}, &RejectionError{Code: result.Code}
	}

	e.Enqueue(t)
	zlog.Info().Msgf("track queued: request_id=%s session_id=%s title=%s queue_size=%d elapsed=%s",
		reqID, sessionID, t.Title, e.Size(), time.Since(start))
	return t, nil
}

// Skip stops the session's current track. Reports whether one was playing.
func (s *Service) Skip(sessionID string) bool {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return false
	}
	return e.Skip()
}

// Clear drops the session's pending tracks and returns how many were dropped.
// The current track keeps playing.
func (s *Service) Clear(sessionID string) int {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return 0
	}
	n := e.Size()
	e.Clear()
	return n
}

// Stop ends the session: pending tracks are dropped, the current track is
// stopped and the transport is released.
func (s *Service) Stop(sessionID string) {
	s.DropTransport(sessionID)
}

// Pause pauses the session's output.
func (s *Service) Pause(sessionID string) error {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	return e.Pause()
}

// Resume resumes paused output.
func (s *Service) Resume(sessionID string) error {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	return e.Resume()
}

// SetVolume sets the volume applied when the session's next track starts.
func (s *Service) SetVolume(sessionID string, v float64) error {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	e.SetVolume(v)
	return nil
}

// QueueItems returns the session's pending tracks in play order.
func (s *Service) QueueItems(sessionID string) []track.Track {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil
	}
	return e.Items()
}

// QueueSize returns the number of pending tracks.
func (s *Service) QueueSize(sessionID string) int {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return 0
	}
	return e.Size()
}

// NowPlaying returns the session's current track, if any.
func (s *Service) NowPlaying(sessionID string) (track.Track, bool) {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return track.Track{}, false
	}
	return e.Current()
}

// BindTransport attaches an output sink to the session, creating the session
// on first use. Held tracks start playing once the sink connects.
func (s *Service) BindTransport(sessionID string, sink queue.Sink) {
	s.registry.Get(sessionID).SetSink(sink)
}

// TransportBound reports whether the session has a live output sink.
func (s *Service) TransportBound(sessionID string) bool {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return false
	}
	sink := e.Sink()
	return sink != nil && sink.Connected()
}

// DropTransport detaches and closes the session's sink. Pending tracks are
// dropped: a session whose transport went away starts fresh.
func (s *Service) DropTransport(sessionID string) {
	e, ok := s.registry.Lookup(sessionID)
	if !ok {
		return
	}
	e.Clear()
	e.Skip()
	if sink := e.Sink(); sink != nil {
		if err := sink.Close(); err != nil {
			zlog.Debug().Msgf("sink close: session_id=%s err=%v", sessionID, err)
		}
	}
	e.SetSink(nil)
	zlog.Info().Msgf("transport dropped: session_id=%s", sessionID)
}

// Close shuts down every session.
func (s *Service) Close() {
	s.registry.Close()
}

// chainFor returns the session's filter chain, rebuilding it when the
// registry handed out a fresh engine after an idle reap.
func (s *Service) chainFor(sessionID string, e *queue.Engine) *filter.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.chains[sessionID]; ok && sc.engine == e {
		return sc.chain
	}

	c := filter.NewChain()
	for name, settings := range s.settings {
		f := filter.GetRegistered()[name]()
		// Settings were validated in New; a failure here means the
		// registry returned a different filter than was checked.
		if err := f.ValidateConfig(settings); err != nil {
			zlog.Error().Msgf("filter config rejected late: name=%s err=%v", name, err)
			continue
		}
		c.Add(f)
	}
	c.Add(filter.NewDuplicateTrackFilter(e))

	s.chains[sessionID] = sessionChain{engine: e, chain: c}
	return c
}
