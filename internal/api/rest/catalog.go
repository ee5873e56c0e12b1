// Package rest provides the catalog backend HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/app/library"
	"github.com/osa030/spotilite/internal/domain/track"
)

// Library is the catalog index served by the handler.
type Library interface {
	Entries(ctx context.Context) ([]library.Entry, error)
	Lookup(ctx context.Context, id int) (library.Entry, bool, error)
	Listing(e library.Entry) track.Listing
}

// CatalogHandler serves track listings, audio, and covers.
type CatalogHandler struct {
	library  Library
	coverDir string
}

// NewCatalogHandler creates the catalog HTTP handler.
func NewCatalogHandler(lib Library, coverDir string) http.Handler {
	h := &CatalogHandler{library: lib, coverDir: coverDir}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tracks", h.listTracks)
	mux.HandleFunc("GET /tracks/{id}", h.streamTrack)
	mux.Handle("GET /covers/", http.StripPrefix("/covers/", http.FileServer(http.Dir(coverDir))))

	return withLogging(withCORS(mux))
}

// listTracks handles GET /tracks with an optional ?q= filter.
func (h *CatalogHandler) listTracks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.library.Entries(r.Context())
	if err != nil {
		zlog.Error().Msgf("catalog: failed to list tracks: %v", err)
		http.Error(w, "failed to read catalog", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query().Get("q")
	listings := make([]track.Listing, 0, len(entries))
	for _, e := range entries {
		if !e.Matches(query) {
			continue
		}
		listings = append(listings, h.library.Listing(e))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listings); err != nil {
		zlog.Warn().Msgf("catalog: failed to write listing: %v", err)
	}
}

// streamTrack handles GET /tracks/{id}. Range requests are supported.
func (h *CatalogHandler) streamTrack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	entry, ok, err := h.library.Lookup(r.Context(), id)
	if err != nil {
		zlog.Error().Msgf("catalog: failed to look up track %d: %v", id, err)
		http.Error(w, "failed to read catalog", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		zlog.Warn().Msgf("catalog: track %d file missing: %v", id, err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// withCORS allows any origin to read the catalog.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Range, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zlog.Debug().Msgf("catalog: %s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
