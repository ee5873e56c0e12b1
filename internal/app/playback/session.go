package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/osa030/spotilite/internal/domain/queue"
)

// PlaybackState holds the user-selected playback modes.
type PlaybackState struct {
	Repeat    queue.RepeatMode
	Shuffle   bool
	IsPlaying bool
	// Volume is the linear output volume in [0, 1].
	Volume float64
}

// Session is the mutable state owned by one controller: the queue and the
// playback modes. It is created at startup and reset on a full reload.
type Session struct {
	ID        string
	Queue     *queue.Queue
	Playback  PlaybackState
	StartedAt time.Time
}

// NewSession creates an empty session.
func NewSession() *Session {
	return NewSessionWithQueue(queue.New())
}

// NewSessionWithQueue creates a session around q.
func NewSessionWithQueue(q *queue.Queue) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Queue:     q,
		Playback:  PlaybackState{Volume: 1},
		StartedAt: time.Now(),
	}
}

// Reset empties the queue, restores default modes, and assigns a new id.
// The volume is kept.
func (s *Session) Reset() {
	s.Queue.Clear()
	s.Playback = PlaybackState{Volume: s.Playback.Volume}
	s.ID = uuid.New().String()
	s.StartedAt = time.Now()
}
