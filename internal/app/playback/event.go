package playback

import "github.com/osa030/spotilite/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventLoading       EventType = iota // Resolve started for an entry
	EventTrackStarted                   // Device started (or restarted) a track
	EventTrackEnded                     // Track finished playing
	EventStateChanged                   // Pause, resume, or stop
	EventLoadFailed                     // Resolve or device play failed; state is Idle
	EventQueueChanged                   // Queue contents, order, or modes changed
	EventQueueFinished                  // End of queue reached without repeat
	EventSeeked                         // Playhead moved within the current track
	EventVolumeChanged                  // Output volume changed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventLoading:
		return "loading"
	case EventTrackStarted:
		return "started"
	case EventTrackEnded:
		return "ended"
	case EventStateChanged:
		return "state_changed"
	case EventLoadFailed:
		return "load_failed"
	case EventQueueChanged:
		return "queue_changed"
	case EventQueueFinished:
		return "queue_finished"
	case EventSeeked:
		return "seeked"
	case EventVolumeChanged:
		return "volume_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.Track // Track concerned (nil for some events)
	Index int          // Queue index of Track, or the current index
	State State        // State after the event
	Err   error        // Set for EventLoadFailed
}
