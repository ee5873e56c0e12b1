package connect

import (
	"github.com/osa030/spotilite/internal/app/playback"
	"github.com/osa030/spotilite/internal/domain/track"
)

// Empty is the request or response of calls that carry no fields.
type Empty struct{}

// Track is the wire form of a catalog track.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	DurationSeconds float64 `json:"durationSeconds"`
	URL             string  `json:"url,omitempty"`
	CoverURL        string  `json:"coverUrl,omitempty"`
}

// CachedTrack is the wire form of a blob store record, without payload.
type CachedTrack struct {
	Track
	SizeBytes       int64 `json:"sizeBytes"`
	LastUsedEpochMs int64 `json:"lastUsedEpochMs"`
}

type StatusResponse struct {
	SessionID       string  `json:"sessionId"`
	State           string  `json:"state"`
	CurrentIndex    int     `json:"currentIndex"`
	Current         *Track  `json:"current,omitempty"`
	Queue           []Track `json:"queue"`
	Repeat          string  `json:"repeat"`
	Shuffle         bool    `json:"shuffle"`
	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	Volume          float64 `json:"volume"`
	CacheUsageBytes int64   `json:"cacheUsageBytes"`
	CacheLimitBytes int64   `json:"cacheLimitBytes"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResponse lists matching tracks. Offline is set when the catalog was
// unreachable and the results come from the offline cache.
type SearchResponse struct {
	Tracks  []Track `json:"tracks"`
	Offline bool    `json:"offline"`
}

type EnqueueRequest struct {
	TrackID string `json:"trackId"`
	// Play starts playback when nothing is selected yet.
	Play bool `json:"play"`
}

type TrackRequest struct {
	TrackID string `json:"trackId"`
}

type IndexRequest struct {
	Index int `json:"index"`
}

type RemoveResponse struct {
	Removed Track `json:"removed"`
}

type MoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SetShuffleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetRepeatRequest sets Mode, or advances the repeat cycle when Cycle is set.
type SetRepeatRequest struct {
	Mode  string `json:"mode,omitempty"`
	Cycle bool   `json:"cycle,omitempty"`
}

type SetRepeatResponse struct {
	Mode string `json:"mode"`
}

// SeekRequest moves the playhead to PositionSeconds, or by PositionSeconds
// when Relative is set.
type SeekRequest struct {
	PositionSeconds float64 `json:"positionSeconds"`
	Relative        bool    `json:"relative,omitempty"`
}

type SetVolumeRequest struct {
	Volume float64 `json:"volume"`
}

type ListCacheResponse struct {
	Records         []CachedTrack `json:"records"`
	CacheUsageBytes int64         `json:"cacheUsageBytes"`
	CacheLimitBytes int64         `json:"cacheLimitBytes"`
}

// PrefetchRequest names the tracks to save for offline. An empty list saves
// the whole queue.
type PrefetchRequest struct {
	TrackIDs []string `json:"trackIds,omitempty"`
}

type PrefetchResult struct {
	TrackID   string `json:"trackId"`
	Cached    bool   `json:"cached"`
	SizeBytes int64  `json:"sizeBytes"`
	Error     string `json:"error,omitempty"`
}

type PrefetchResponse struct {
	Results []PrefetchResult `json:"results"`
}

// NowPlaying is streamed by WatchNowPlaying.
type NowPlaying = playback.NowPlaying

func toTrack(t *track.Track) Track {
	return Track{
		ID:              t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		Album:           t.Album,
		DurationSeconds: t.DurationSeconds,
		URL:             t.RemoteURL,
		CoverURL:        t.CoverURL,
	}
}

func toTracks(ts []track.Track) []Track {
	out := make([]Track, 0, len(ts))
	for i := range ts {
		out = append(out, toTrack(&ts[i]))
	}
	return out
}

func toCachedTrack(r *track.CachedRecord) CachedTrack {
	t := r.Track()
	return CachedTrack{
		Track:           toTrack(&t),
		SizeBytes:       r.SizeBytes,
		LastUsedEpochMs: r.LastUsedEpochMs,
	}
}
