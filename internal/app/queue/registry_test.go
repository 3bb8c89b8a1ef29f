package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetIsIdempotent(t *testing.T) {
	r := NewRegistry(Config{RetryBackoff: 5 * time.Millisecond}, nil)
	defer r.Close()

	a := r.Get("guild-a")
	b := r.Get("guild-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Get("guild-a"))
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_ConcurrentGetReturnsOneEngine(t *testing.T) {
	r := NewRegistry(Config{RetryBackoff: 5 * time.Millisecond}, nil)
	defer r.Close()

	const callers = 16
	engines := make([]*Engine, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i] = r.Get("guild-a")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, engines[0], engines[i])
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(Config{RetryBackoff: 5 * time.Millisecond}, nil)
	defer r.Close()

	_, ok := r.Lookup("guild-a")
	assert.False(t, ok, "lookup must not create engines")
	assert.Equal(t, 0, r.Count())

	e := r.Get("guild-a")
	got, ok := r.Lookup("guild-a")
	require.True(t, ok)
	assert.Same(t, e, got)
}

func TestRegistry_ReapIdle(t *testing.T) {
	cfg := Config{RetryBackoff: 5 * time.Millisecond, IdleTimeout: time.Minute}
	r := NewRegistry(cfg, nil)
	defer r.Close()

	idle := r.Get("guild-idle")

	busySink := newFakeSink(true)
	busy := r.Get("guild-busy")
	busy.SetSink(busySink)
	busy.Enqueue(testTrack("Song A"))
	waitBegin(t, busySink)

	bound := r.Get("guild-bound")
	bound.SetSink(newFakeSink(true))

	reaped := r.reapIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, reaped)

	_, ok := r.Lookup("guild-idle")
	assert.False(t, ok, "idle engine must be removed")
	_, ok = r.Lookup("guild-busy")
	assert.True(t, ok, "engine with pending tracks must survive")
	_, ok = r.Lookup("guild-bound")
	assert.True(t, ok, "engine with a live transport must survive")

	// The reaped engine's loop must have exited.
	select {
	case <-idle.loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reaped engine loop did not exit")
	}
}

func TestRegistry_ReapIdleBeforeTimeout(t *testing.T) {
	cfg := Config{RetryBackoff: 5 * time.Millisecond, IdleTimeout: time.Minute}
	r := NewRegistry(cfg, nil)
	defer r.Close()

	r.Get("guild-a")
	assert.Equal(t, 0, r.reapIdle(time.Now().Add(30*time.Second)))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_CloseShutsDownEngines(t *testing.T) {
	r := NewRegistry(Config{RetryBackoff: 5 * time.Millisecond, IdleTimeout: time.Minute}, nil)

	a := r.Get("guild-a")
	b := r.Get("guild-b")
	r.Close()

	assert.Equal(t, 0, r.Count())
	for _, e := range []*Engine{a, b} {
		select {
		case <-e.loopDone:
		case <-time.After(2 * time.Second):
			t.Fatal("engine loop did not exit on registry close")
		}
	}
}
