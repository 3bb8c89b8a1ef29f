// Package queue provides the per-session playback queue engine.
package queue

// State represents the consumer loop state.
type State int

const (
	StateWaiting State = iota // No current track, waiting for requests
	StatePlaying              // Track is streaming to the output
	StateHolding              // Track held at the head, no transport bound
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateHolding:
		return "holding"
	default:
		return "unknown"
	}
}
