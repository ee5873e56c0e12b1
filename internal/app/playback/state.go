// Package playback provides the playback state machine over the session queue.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing playing (stopped, finished, or failed load)
	StateLoading              // Resolving bytes for the current entry
	StatePlaying              // Device is playing
	StatePaused               // Device is paused
	StateEnded                // Device reported natural end of track
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Active reports whether a track is loading or bound to the device.
func (s State) Active() bool {
	return s != StateIdle
}
