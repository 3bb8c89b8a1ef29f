package queue

import "time"

// Sink is the output the engine streams tracks into. Implementations wrap a
// live voice transport plus a playback process; the engine only relies on the
// begin/stop/completion contract.
type Sink interface {
	// Connected reports whether the underlying transport can accept audio.
	Connected() bool

	// Begin starts streaming the locator and returns a handle for the
	// in-flight playback. onDone is invoked exactly once when playback ends
	// for any reason; it may be called from an arbitrary goroutine.
	Begin(locator string, volume float64, onDone func()) (Playback, error)

	// Pause and Resume act on the currently bound playback.
	Pause() error
	Resume() error

	// Close tears the transport down.
	Close() error
}

// Playback is a single in-flight stream started by Sink.Begin.
type Playback interface {
	// Stop aborts the stream. The sink still reports completion via onDone.
	Stop()

	// Release frees per-track resources. Releasing twice, or releasing a
	// playback that was stopped externally, is benign.
	Release() error
}

// Recorder accepts fire-and-forget timing records. Implementations must be
// safe for concurrent use and must never block the caller.
type Recorder interface {
	RecordTask(name string, elapsed time.Duration, tags map[string]any)
}
