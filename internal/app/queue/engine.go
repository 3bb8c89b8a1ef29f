package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/domain/track"
)

// Errors
var (
	ErrNoTransport = errors.New("no transport bound")
	ErrNotPlaying  = errors.New("not playing")
	ErrNotPaused   = errors.New("not paused")
)

const defaultVolume = 0.5

// Config holds engine configuration.
type Config struct {
	RetryBackoff time.Duration // Sleep between dequeue attempts while no transport is bound
	StallAfter   int           // Consecutive backoff rounds before a queue_stalled event (0 disables)
	Volume       float64       // Initial playback volume (0..1]
	IdleTimeout  time.Duration // Registry reaps engines idle longer than this (0 retains forever)
}

func (c *Config) applyDefaults() {
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Volume <= 0 {
		c.Volume = defaultVolume
	}
}

// Engine owns one session's FIFO of pending tracks, the single active
// playback slot and the consumer goroutine draining the queue into the sink.
// All exported methods are safe for concurrent use.
type Engine struct {
	sessionID string
	cfg       Config
	recorder  Recorder

	mu         sync.Mutex
	pending    []track.Track
	current    *track.Track
	playback   Playback
	sink       Sink
	volume     float64
	paused     bool
	state      State
	lastActive time.Time

	wake chan struct{}
	done chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func newEngine(sessionID string, cfg Config, recorder Recorder) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sessionID:  sessionID,
		cfg:        cfg,
		recorder:   recorder,
		volume:     cfg.Volume,
		state:      StateWaiting,
		lastActive: time.Now(),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
	}
	go e.run()
	return e
}

// SessionID returns the session this engine belongs to.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Enqueue appends a track to the tail of the queue and wakes the consumer.
// It never fails and never blocks on playback.
func (e *Engine) Enqueue(t track.Track) {
	e.mu.Lock()
	e.pending = append(e.pending, t)
	e.lastActive = time.Now()
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Skip stops the in-flight track, if any, and reports whether one was
// stopped. Pending tracks are not touched.
func (e *Engine) Skip() bool {
	e.mu.Lock()
	pb := e.playback
	playing := e.current != nil && pb != nil
	e.mu.Unlock()

	if !playing {
		return false
	}
	pb.Stop()
	e.signalDone()
	return true
}

// Clear empties the pending queue. The current track keeps playing.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}

// Items returns a snapshot of the pending tracks in play order.
func (e *Engine) Items() []track.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]track.Track, len(e.pending))
	copy(items, e.pending)
	return items
}

// Size returns the number of pending tracks.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Current returns the track occupying the playback slot, if any.
func (e *Engine) Current() (track.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return track.Track{}, false
	}
	return *e.current, true
}

// State returns the consumer loop state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetSink binds (or replaces) the output transport used on the next dequeue
// attempt. An already-playing track is not interrupted.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	e.sink = s
	e.lastActive = time.Now()
	e.mu.Unlock()

	// A consumer sleeping in backoff re-checks on its own; one waking in
	// StateWaiting only needs a nudge when tracks were held back.
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Sink returns the currently bound sink, which may be nil.
func (e *Engine) Sink() Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// Pause delegates to the bound sink and mirrors the paused flag so callers
// can query state without touching the transport.
func (e *Engine) Pause() error {
	e.mu.Lock()
	s := e.sink
	playing := e.current != nil
	e.mu.Unlock()

	if s == nil {
		return ErrNoTransport
	}
	if !playing {
		return ErrNotPlaying
	}
	if err := s.Pause(); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	return nil
}

// Resume delegates to the bound sink and clears the mirrored paused flag.
func (e *Engine) Resume() error {
	e.mu.Lock()
	s := e.sink
	paused := e.paused
	e.mu.Unlock()

	if s == nil {
		return ErrNoTransport
	}
	if !paused {
		return ErrNotPaused
	}
	if err := s.Resume(); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	return nil
}

// Paused returns the mirrored pause flag.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetVolume sets the volume used when the next track starts.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v > 0 {
		e.volume = v
	}
}

// Volume returns the configured playback volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Close cancels the consumer loop and waits for it to finish. Any in-flight
// playback is stopped and released.
func (e *Engine) Close() {
	e.cancel()
	<-e.loopDone
}

// run is the consumer loop. It exists for exactly as long as the engine.
func (e *Engine) run() {
	defer close(e.loopDone)

	holds := 0
	for {
		// Drop a stale wake token; waitPending re-checks under the lock.
		select {
		case <-e.wake:
		default:
		}

		e.setState(StateWaiting)
		waitStart := time.Now()
		if !e.waitPending() {
			return
		}

		s := e.Sink()
		if s == nil || !s.Connected() {
			// Hold position: the head track stays in the queue so order
			// survives a transport drop.
			e.setState(StateHolding)
			holds++
			if e.cfg.StallAfter > 0 && holds == e.cfg.StallAfter {
				held, _ := e.peek()
				zlog.Warn().Msgf("queue stalled waiting for transport: session_id=%s held_track=%s rounds=%d",
					e.sessionID, held.Title, holds)
				e.record("queue_stalled", time.Duration(holds)*e.cfg.RetryBackoff, map[string]any{
					"session_id": e.sessionID,
					"queue_size": e.Size(),
				})
			}
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-e.ctx.Done():
				return
			}
			continue
		}
		holds = 0

		t, ok := e.pop()
		if !ok {
			// Cleared between the pending check and the pop.
			continue
		}
		e.record("queue_wait", time.Since(waitStart), map[string]any{
			"session_id": e.sessionID,
			"queue_size": e.Size(),
		})

		// Drop a stale completion left over from an externally stopped track.
		select {
		case <-e.done:
		default:
		}

		e.mu.Lock()
		cur := t
		e.current = &cur
		e.paused = false
		e.state = StatePlaying
		vol := e.volume
		e.mu.Unlock()

		playStart := time.Now()
		pb, err := s.Begin(t.StreamURL, vol, e.signalDone)
		if err != nil {
			// Recoverable: report and advance to the next pending track.
			zlog.Error().Msgf("playback start failed: session_id=%s title=%s err=%v", e.sessionID, t.Title, err)
			e.record("play_failed", time.Since(playStart), map[string]any{
				"session_id": e.sessionID,
				"title":      t.Title,
			})
			e.clearCurrent()
			continue
		}
		e.mu.Lock()
		e.playback = pb
		e.mu.Unlock()

		finished := false
		select {
		case <-e.done:
			finished = true
		case <-e.ctx.Done():
		}

		if !finished {
			// Engine cancelled mid-play: stop and release before exiting.
			pb.Stop()
			if err := pb.Release(); err != nil {
				zlog.Debug().Msgf("release on shutdown: session_id=%s err=%v", e.sessionID, err)
			}
			e.clearCurrent()
			return
		}

		e.record("track_play", time.Since(playStart), map[string]any{
			"session_id": e.sessionID,
			"title":      t.Title,
			"duration":   t.Duration,
		})
		if err := pb.Release(); err != nil {
			// The playback process may already be gone after a manual stop.
			zlog.Debug().Msgf("playback already released: session_id=%s title=%s", e.sessionID, t.Title)
		}
		e.clearCurrent()
	}
}

// waitPending blocks until the queue is non-empty, reporting false when the
// engine is cancelled first. The head track stays queued until pop.
func (e *Engine) waitPending() bool {
	for {
		if e.Size() > 0 {
			return true
		}
		select {
		case <-e.wake:
		case <-e.ctx.Done():
			return false
		}
	}
}

func (e *Engine) pop() (track.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return track.Track{}, false
	}
	t := e.pending[0]
	e.pending = e.pending[1:]
	return t, true
}

func (e *Engine) peek() (track.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return track.Track{}, false
	}
	return e.pending[0], true
}

func (e *Engine) clearCurrent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = nil
	e.playback = nil
	e.paused = false
	e.state = StateWaiting
	e.lastActive = time.Now()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// signalDone marshals a completion into the consumer loop. Safe to call from
// any goroutine; extra signals for the same track are dropped.
func (e *Engine) signalDone() {
	select {
	case e.done <- struct{}{}:
	default:
	}
}

func (e *Engine) record(name string, elapsed time.Duration, tags map[string]any) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordTask(name, elapsed, tags)
}

// idleFor reports how long the engine has been reapable: nothing playing,
// nothing pending and no usable transport.
func (e *Engine) idleFor(now time.Time) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil || len(e.pending) > 0 {
		return 0, false
	}
	if e.sink != nil && e.sink.Connected() {
		return 0, false
	}
	return now.Sub(e.lastActive), true
}
