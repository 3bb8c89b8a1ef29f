package queue

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Registry maps session IDs to their engines, creating them lazily. It is an
// owned object: whoever needs session lookup holds a reference, there is no
// package-level instance.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	recorder Recorder
	engines  map[string]*Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. When cfg.IdleTimeout is positive a janitor
// goroutine reaps engines that stayed idle past the timeout.
func NewRegistry(cfg Config, recorder Recorder) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:      cfg,
		recorder: recorder,
		engines:  make(map[string]*Engine),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.IdleTimeout > 0 {
		r.wg.Add(1)
		go r.janitor()
	}
	return r
}

// Get returns the engine for the session, creating it on first reference.
// Repeated calls with the same ID return the same instance.
func (r *Registry) Get(sessionID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[sessionID]
	if !ok {
		e = newEngine(sessionID, r.cfg, r.recorder)
		r.engines[sessionID] = e
		zlog.Debug().Msgf("queue engine created: session_id=%s", sessionID)
	}
	return e
}

// Lookup returns the engine for the session without creating one.
func (r *Registry) Lookup(sessionID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[sessionID]
	return e, ok
}

// Count returns the number of live engines.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close shuts down the janitor and every engine.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}

func (r *Registry) janitor() {
	defer r.wg.Done()

	interval := r.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reapIdle(time.Now())
		}
	}
}

// reapIdle closes and removes engines idle past the configured timeout.
func (r *Registry) reapIdle(now time.Time) int {
	r.mu.Lock()
	var idle []*Engine
	for id, e := range r.engines {
		if d, ok := e.idleFor(now); ok && d >= r.cfg.IdleTimeout {
			idle = append(idle, e)
			delete(r.engines, id)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		zlog.Info().Msgf("reaping idle queue engine: session_id=%s", e.SessionID())
		e.Close()
	}
	return len(idle)
}
