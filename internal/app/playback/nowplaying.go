package playback

// NowPlaying is the externally visible descriptor of the current track and
// transport state, re-derived from a Snapshot on every change.
type NowPlaying struct {
	SessionID       string  `json:"sessionId"`
	State           string  `json:"state"`
	Index           int     `json:"index"`
	QueueLength     int     `json:"queueLength"`
	Repeat          string  `json:"repeat"`
	Shuffle         bool    `json:"shuffle"`
	TrackID         string  `json:"trackId,omitempty"`
	Title           string  `json:"title,omitempty"`
	Artist          string  `json:"artist,omitempty"`
	Album           string  `json:"album,omitempty"`
	CoverURL        string  `json:"coverUrl,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	PositionSeconds float64 `json:"positionSeconds"`
	Volume          float64 `json:"volume"`
}

// NewNowPlaying builds the descriptor for s.
func NewNowPlaying(s Snapshot) NowPlaying {
	np := NowPlaying{
		SessionID:   s.SessionID,
		State:       s.State.String(),
		Index:       s.CurrentIndex,
		QueueLength: len(s.Queue),
		Repeat:      s.Repeat.String(),
		Shuffle:     s.Shuffle,
		Volume:      s.Volume,
	}
	if t := s.Current; t != nil {
		np.TrackID = t.ID
		np.Title = t.Title
		np.Artist = t.Artist
		np.Album = t.Album
		np.CoverURL = t.CoverURL
		np.DurationSeconds = t.DurationSeconds
		np.PositionSeconds = s.Position.Seconds()
	}
	if s.Duration > 0 {
		np.DurationSeconds = s.Duration.Seconds()
	}
	return np
}

// HasTrack reports whether a track is selected.
func (np *NowPlaying) HasTrack() bool {
	return np.TrackID != ""
}
