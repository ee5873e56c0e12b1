// Package track provides the Track and CachedRecord domain entities.
package track

import (
	"strconv"
	"strings"
	"time"
)

// Track represents a catalog entry.
// Immutable, sourced from the catalog backend.
type Track struct {
	ID              string // Catalog track ID (stringified)
	Title           string // Track title
	Artist          string // Artist name
	Album           string // Album name
	DurationSeconds float64
	RemoteURL       string // Raw audio URL on the catalog backend
	CoverURL        string // Cover art URL (empty if none)
}

// Duration returns the track duration.
func (t *Track) Duration() time.Duration {
	return time.Duration(t.DurationSeconds * float64(time.Second))
}

// CachedRecord is a track payload persisted in the blob store.
type CachedRecord struct {
	ID              string
	Title           string
	Artist          string
	Album           string
	DurationSeconds float64
	CoverURL        string
	SizeBytes       int64
	LastUsedEpochMs int64
	Payload         []byte
}

// NewCachedRecord builds a record for t holding payload, last used at now.
func NewCachedRecord(t Track, payload []byte, now time.Time) CachedRecord {
	return CachedRecord{
		ID:              t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		Album:           t.Album,
		DurationSeconds: t.DurationSeconds,
		CoverURL:        t.CoverURL,
		SizeBytes:       int64(len(payload)),
		LastUsedEpochMs: now.UnixMilli(),
		Payload:         payload,
	}
}

// Track converts the record back into a catalog reference.
// RemoteURL is unknown for records and left empty.
func (r *CachedRecord) Track() Track {
	return Track{
		ID:              r.ID,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		DurationSeconds: r.DurationSeconds,
		CoverURL:        r.CoverURL,
	}
}

// LastUsed returns the last used time.
func (r *CachedRecord) LastUsed() time.Time {
	return time.UnixMilli(r.LastUsedEpochMs)
}

// IDFromInt stringifies a numeric catalog ID.
func IDFromInt(id int) string {
	return strconv.Itoa(id)
}

// Listing is one entry of the catalog backend's GET /tracks response.
type Listing struct {
	ID              int     `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	DurationSeconds float64 `json:"durationSeconds"`
	URL             string  `json:"url"`
	CoverURL        string  `json:"coverUrl"`
}

// Track converts the listing into a catalog reference.
func (l *Listing) Track() Track {
	return Track{
		ID:              IDFromInt(l.ID),
		Title:           l.Title,
		Artist:          l.Artist,
		Album:           l.Album,
		DurationSeconds: l.DurationSeconds,
		RemoteURL:       l.URL,
		CoverURL:        l.CoverURL,
	}
}

// Matches reports whether query is a case-insensitive substring of the
// title, artist, or album. An empty query matches everything.
func (t *Track) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), q) ||
		strings.Contains(strings.ToLower(t.Artist), q) ||
		strings.Contains(strings.ToLower(t.Album), q)
}
