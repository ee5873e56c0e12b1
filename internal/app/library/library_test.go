package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/infra/metadata"
)

type fakeExtractor struct {
	mu    sync.Mutex
	infos map[string]*metadata.Info
	calls int
}

func (f *fakeExtractor) Extract(path string) (*metadata.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	info, ok := f.infos[filepath.Base(path)]
	if !ok {
		return nil, failure.MetadataUnavailable(nil, "no tags in %s", path)
	}
	return info, nil
}

func setupLibrary(t *testing.T, files ...string) (*Library, *fakeExtractor, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		MusicDir:  filepath.Join(root, "musicas"),
		CoverDir:  filepath.Join(root, "covers"),
		PublicURL: "http://localhost:3000/",
		Workers:   2,
	}
	require.NoError(t, os.MkdirAll(cfg.MusicDir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.MusicDir, f), []byte("audio"), 0o644))
	}

	extractor := &fakeExtractor{infos: make(map[string]*metadata.Info)}
	return New(cfg, extractor), extractor, cfg
}

func TestScan(t *testing.T) {
	lib, extractor, cfg := setupLibrary(t, "b.mp3", "a.mp3", "notes.txt", "c.MP3")
	extractor.infos["a.mp3"] = &metadata.Info{
		Title:           "Alpha",
		Artist:          "Band",
		Album:           "LP",
		DurationSeconds: 183.2,
		Picture:         &metadata.Picture{Ext: "png", Data: []byte("png-bytes")},
	}
	extractor.infos["b.mp3"] = &metadata.Info{Album: "Untitled"}

	entries, err := lib.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{
		ID:              1,
		Path:            filepath.Join(cfg.MusicDir, "a.mp3"),
		Title:           "Alpha",
		Artist:          "Band",
		Album:           "LP",
		DurationSeconds: 183.2,
		CoverName:       "a.png",
	}, entries[0])

	// Tags without title or artist fall back per field.
	assert.Equal(t, 2, entries[1].ID)
	assert.Equal(t, "b", entries[1].Title)
	assert.Equal(t, UnknownArtist, entries[1].Artist)
	assert.Equal(t, "Untitled", entries[1].Album)

	// Unreadable metadata falls back to the file name.
	assert.Equal(t, 3, entries[2].ID)
	assert.Equal(t, "c", entries[2].Title)
	assert.Equal(t, UnknownArtist, entries[2].Artist)
	assert.Empty(t, entries[2].Album)
	assert.Zero(t, entries[2].DurationSeconds)
	assert.Empty(t, entries[2].CoverName)

	data, err := os.ReadFile(filepath.Join(cfg.CoverDir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestScan_MissingDirectory(t *testing.T) {
	lib := New(Config{MusicDir: filepath.Join(t.TempDir(), "nope")}, &fakeExtractor{})
	_, err := lib.Scan(context.Background())
	assert.Error(t, err)
}

func TestEntries_RescanInterval(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		advance   time.Duration
		wantCalls int
	}{
		{name: "cached within interval", interval: time.Minute, advance: 10 * time.Second, wantCalls: 1},
		{name: "rescanned after interval", interval: time.Minute, advance: 2 * time.Minute, wantCalls: 2},
		{name: "zero interval always rescans", interval: 0, advance: 0, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, extractor, _ := setupLibrary(t, "a.mp3")
			lib.cfg.RescanInterval = tt.interval
			now := time.Unix(1000, 0)
			lib.now = func() time.Time { return now }

			_, err := lib.Entries(context.Background())
			require.NoError(t, err)
			now = now.Add(tt.advance)
			_, err = lib.Entries(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, extractor.calls)
		})
	}
}

func TestLookup(t *testing.T) {
	lib, _, _ := setupLibrary(t, "a.mp3", "b.mp3")

	e, ok, err := lib.Lookup(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", e.Title)

	_, ok, err = lib.Lookup(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListing(t *testing.T) {
	lib, _, _ := setupLibrary(t)

	l := lib.Listing(Entry{ID: 4, Title: "T", Artist: "A", CoverName: "my song.jpg"})
	assert.Equal(t, 4, l.ID)
	assert.Equal(t, "http://localhost:3000/tracks/4", l.URL)
	assert.Equal(t, "http://localhost:3000/covers/my%20song.jpg", l.CoverURL)

	l = lib.Listing(Entry{ID: 5})
	assert.Empty(t, l.CoverURL)
}
