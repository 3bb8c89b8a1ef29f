package jukebox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primebot/primebot/internal/app/queue"
	"github.com/primebot/primebot/internal/domain/track"
)

type stubResolver struct {
	tracks map[string]track.Track
	err    error
}

func (r *stubResolver) Resolve(_ context.Context, query string, requester track.Requester) (track.Track, error) {
	if r.err != nil {
		return track.Track{}, r.err
	}
	t, ok := r.tracks[query]
	if !ok {
		t = track.Track{ID: query + "-id", Title: query, StreamURL: "stream://" + query, Duration: 3 * time.Minute}
	}
	t.Requester = requester
	return t, nil
}

type nullSink struct {
	mu     sync.Mutex
	closed bool
}

func (s *nullSink) Connected() bool { return false }
func (s *nullSink) Begin(string, float64, func()) (queue.Playback, error) {
	return nil, errors.New("not connected")
}
func (s *nullSink) Pause() error  { return nil }
func (s *nullSink) Resume() error { return nil }
func (s *nullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *nullSink) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testService(t *testing.T, settings map[string]map[string]any) *Service {
	t.Helper()
	reg := queue.NewRegistry(queue.Config{RetryBackoff: 5 * time.Millisecond}, nil)
	svc, err := New(reg, &stubResolver{}, settings)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNew_RejectsUnknownFilter(t *testing.T) {
	reg := queue.NewRegistry(queue.Config{}, nil)
	defer reg.Close()

	_, err := New(reg, &stubResolver{}, map[string]map[string]any{"no_such_filter": {}})
	assert.Error(t, err)
}

func TestNew_RejectsBrokenFilterSettings(t *testing.T) {
	reg := queue.NewRegistry(queue.Config{}, nil)
	defer reg.Close()

	_, err := New(reg, &stubResolver{}, map[string]map[string]any{
		"duration_limit_filter": {"max_minutes": -1.0},
	})
	assert.Error(t, err)
}

func TestService_RequestQueuesTrack(t *testing.T) {
	svc := testService(t, nil)

	got, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{ID: "42", DisplayName: "tester"})
	require.NoError(t, err)
	assert.Equal(t, "some song", got.Title)
	assert.Equal(t, "42", got.Requester.ID)

	// No transport is bound, so the track is held in the queue.
	assert.Eventually(t, func() bool { return svc.QueueSize("guild-1") == 1 }, time.Second, 2*time.Millisecond)
	items := svc.QueueItems("guild-1")
	require.Len(t, items, 1)
	assert.Equal(t, "some song", items[0].Title)
}

func TestService_RequestRejectsDuplicates(t *testing.T) {
	svc := testService(t, nil)

	_, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	var rejected *RejectionError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "duplicate_track", rejected.Code)
}

func TestService_RequestSessionsAreIsolated(t *testing.T) {
	svc := testService(t, nil)

	_, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	require.NoError(t, err)

	// The same track is fine in another session.
	_, err = svc.Request(context.Background(), "guild-2", "some song", track.Requester{})
	require.NoError(t, err)
}

func TestService_RequestAppliesDurationLimit(t *testing.T) {
	svc := testService(t, map[string]map[string]any{
		"duration_limit_filter": {"max_minutes": 2.0},
	})

	_, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	var rejected *RejectionError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "duration_limit_exceeded", rejected.Code)
	assert.Equal(t, 0, svc.QueueSize("guild-1"))
}

func TestService_RequestResolveFailure(t *testing.T) {
	reg := queue.NewRegistry(queue.Config{RetryBackoff: 5 * time.Millisecond}, nil)
	boom := errors.New("extraction failed")
	svc, err := New(reg, &stubResolver{err: boom}, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	_, err = svc.Request(context.Background(), "guild-1", "query", track.Requester{})
	assert.ErrorIs(t, err, boom)
}

func TestService_UnknownSessionOps(t *testing.T) {
	svc := testService(t, nil)

	assert.False(t, svc.Skip("nope"))
	assert.Equal(t, 0, svc.Clear("nope"))
	assert.Nil(t, svc.QueueItems("nope"))
	assert.Equal(t, 0, svc.QueueSize("nope"))
	_, playing := svc.NowPlaying("nope")
	assert.False(t, playing)
	assert.ErrorIs(t, svc.Pause("nope"), ErrNoSession)
	assert.ErrorIs(t, svc.Resume("nope"), ErrNoSession)
	assert.ErrorIs(t, svc.SetVolume("nope", 0.5), ErrNoSession)
}

func TestService_SetVolume(t *testing.T) {
	svc := testService(t, nil)

	_, err := svc.Request(context.Background(), "guild-1", "anything", track.Requester{})
	require.NoError(t, err)

	assert.NoError(t, svc.SetVolume("guild-1", 1.5))
}

func TestService_ClearReportsDroppedCount(t *testing.T) {
	svc := testService(t, nil)

	for _, q := range []string{"one", "two", "three"} {
		_, err := svc.Request(context.Background(), "guild-1", q, track.Requester{})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return svc.QueueSize("guild-1") == 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 3, svc.Clear("guild-1"))
	assert.Equal(t, 0, svc.QueueSize("guild-1"))
}

func TestService_DropTransportClosesSink(t *testing.T) {
	svc := testService(t, nil)

	sink := &nullSink{}
	svc.BindTransport("guild-1", sink)

	_, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	require.NoError(t, err)

	svc.DropTransport("guild-1")
	assert.True(t, sink.wasClosed())
	assert.Equal(t, 0, svc.QueueSize("guild-1"))
}

type connectedSink struct{ nullSink }

func (s *connectedSink) Connected() bool { return true }

func TestService_TransportBound(t *testing.T) {
	svc := testService(t, nil)
	assert.False(t, svc.TransportBound("guild-1"))

	svc.BindTransport("guild-1", &nullSink{})
	assert.False(t, svc.TransportBound("guild-1"), "a dead sink does not count")

	svc.BindTransport("guild-1", &connectedSink{})
	assert.True(t, svc.TransportBound("guild-1"))

	svc.DropTransport("guild-1")
	assert.False(t, svc.TransportBound("guild-1"))
}

func TestService_PauseWithoutTransport(t *testing.T) {
	svc := testService(t, nil)

	_, err := svc.Request(context.Background(), "guild-1", "some song", track.Requester{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Pause("guild-1"), queue.ErrNoTransport)
}
