// Package library scans the music directory into the catalog index.
package library

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/osa030/spotilite/internal/domain/track"
	"github.com/osa030/spotilite/internal/infra/metadata"
)

// UnknownArtist is used when a file carries no artist tag.
const UnknownArtist = "Unknown"

// Extractor reads metadata from an audio file.
type Extractor interface {
	Extract(path string) (*metadata.Info, error)
}

// Config represents library configuration.
type Config struct {
	MusicDir       string
	CoverDir       string
	PublicURL      string
	Workers        int
	RescanInterval time.Duration // 0 rescans on every request
}

// Entry is one scanned audio file.
type Entry struct {
	ID              int
	Path            string
	Title           string
	Artist          string
	Album           string
	DurationSeconds float64
	CoverName       string // File name under the cover directory, empty if none
}

// Library holds the scanned catalog.
type Library struct {
	cfg       Config
	extractor Extractor
	now       func() time.Time

	mu        sync.RWMutex
	entries   []Entry
	scannedAt time.Time
	scanned   bool
}

// New creates a library. Nothing is scanned until the first request.
func New(cfg Config, extractor Extractor) *Library {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Library{
		cfg:       cfg,
		extractor: extractor,
		now:       time.Now,
	}
}

// Entries returns the catalog, rescanning when the cached index is stale.
func (l *Library) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	if l.freshLocked() {
		entries := slices.Clone(l.entries)
		l.mu.RUnlock()
		return entries, nil
	}
	l.mu.RUnlock()

	entries, err := l.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entries), nil
}

// freshLocked reports whether the cached index can be served.
// Caller must hold l.mu.
func (l *Library) freshLocked() bool {
	if !l.scanned || l.cfg.RescanInterval <= 0 {
		return false
	}
	return l.now().Sub(l.scannedAt) < l.cfg.RescanInterval
}

// Lookup returns the entry for id.
func (l *Library) Lookup(ctx context.Context, id int) (Entry, bool, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Scan reads the music directory and replaces the cached index.
// Files are sorted by name and numbered from 1. A file whose metadata cannot be
// read still gets an entry built from its file name.
func (l *Library) Scan(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.cfg.MusicDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read music directory %s", l.cfg.MusicDir)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".mp3") {
			continue
		}
		files = append(files, de.Name())
	}
	slices.Sort(files)

	p := pool.NewWithResults[Entry]().WithMaxGoroutines(l.cfg.Workers)
	for i, name := range files {
		p.Go(func() Entry {
			return l.scanFile(ctx, i+1, name)
		})
	}
	entries := p.Wait()
	slices.SortFunc(entries, func(a, b Entry) int {
		return a.ID - b.ID
	})

	l.mu.Lock()
	l.entries = entries
	l.scannedAt = l.now()
	l.scanned = true
	l.mu.Unlock()

	zlog.Info().Msgf("library: scanned %d tracks in %s", len(entries), l.cfg.MusicDir)
	return entries, nil
}

func (l *Library) scanFile(ctx context.Context, id int, name string) Entry {
	path := filepath.Join(l.cfg.MusicDir, name)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	entry := Entry{
		ID:     id,
		Path:   path,
		Title:  base,
		Artist: UnknownArtist,
	}
	if ctx.Err() != nil {
		return entry
	}

	info, err := l.extractor.Extract(path)
	if err != nil {
		zlog.Warn().Msgf("library: metadata unavailable, using file name: file=%s error=%v", name, err)
		return entry
	}

	if info.Title != "" {
		entry.Title = info.Title
	}
	if info.Artist != "" {
		entry.Artist = info.Artist
	}
	entry.Album = info.Album
	entry.DurationSeconds = info.DurationSeconds

	if info.Picture != nil {
		entry.CoverName = l.saveCover(base, info.Picture)
	}
	return entry
}

// saveCover writes pic under the cover directory and returns its file name,
// or "" if it could not be written.
func (l *Library) saveCover(base string, pic *metadata.Picture) string {
	name := base + "." + pic.Ext
	path := filepath.Join(l.cfg.CoverDir, name)

	if st, err := os.Stat(path); err == nil && st.Size() == int64(len(pic.Data)) {
		return name
	}
	if err := os.MkdirAll(l.cfg.CoverDir, 0o755); err != nil {
		zlog.Warn().Msgf("library: failed to create cover directory: %v", err)
		return ""
	}
	if err := os.WriteFile(path, pic.Data, 0o644); err != nil {
		zlog.Warn().Msgf("library: failed to write cover %s: %v", name, err)
		return ""
	}
	return name
}

// Listing converts the entry into its wire form.
func (l *Library) Listing(e Entry) track.Listing {
	listing := track.Listing{
		ID:              e.ID,
		Title:           e.Title,
		Artist:          e.Artist,
		Album:           e.Album,
		DurationSeconds: e.DurationSeconds,
		URL:             l.cfg.PublicURL + "/tracks/" + track.IDFromInt(e.ID),
	}
	if e.CoverName != "" {
		listing.CoverURL = l.cfg.PublicURL + "/covers/" + url.PathEscape(e.CoverName)
	}
	return listing
}

// Matches reports whether query matches the entry's title, artist, or album.
func (e *Entry) Matches(query string) bool {
	t := track.Track{Title: e.Title, Artist: e.Artist, Album: e.Album}
	return t.Matches(query)
}
