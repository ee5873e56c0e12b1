// Package catalog provides a client for the catalog backend.
package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/track"
)

const initialBackoff = 500 * time.Millisecond

// ErrTrackNotFound is returned when the catalog has no track with the requested id.
var ErrTrackNotFound = errors.New("track not found")

// Config represents catalog client configuration.
type Config struct {
	BaseURL string
	Retries int
}

// Client is a catalog backend HTTP client.
type Client struct {
	baseURL    *url.URL
	retries    int
	backoff    time.Duration
	httpClient *http.Client
}

// New creates a new catalog client.
// No request timeout is set; cancellation comes from the caller's context.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid catalog base URL %q", cfg.BaseURL)
	}

	return &Client{
		baseURL:    base,
		retries:    max(cfg.Retries, 0),
		backoff:    initialBackoff,
		httpClient: &http.Client{},
	}, nil
}

// BaseURL returns the catalog root URL.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// ListTracks retrieves the full catalog.
func (c *Client) ListTracks(ctx context.Context) ([]track.Track, error) {
	body, err := c.get(ctx, c.resolve("tracks"))
	if err != nil {
		return nil, err
	}

	var listings []track.Listing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, failure.FetchFailed(err, "failed to parse catalog listing")
	}

	tracks := make([]track.Track, 0, len(listings))
	for _, l := range listings {
		t := l.Track()
		t.RemoteURL = c.resolve(t.RemoteURL)
		if t.CoverURL != "" {
			t.CoverURL = c.resolve(t.CoverURL)
		}
		if t.RemoteURL == "" {
			t.RemoteURL = c.resolve("tracks/" + t.ID)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Search returns catalog tracks whose title, artist, or album contain query,
// ignoring case. An empty query returns the whole catalog.
func (c *Client) Search(ctx context.Context, query string) ([]track.Track, error) {
	tracks, err := c.ListTracks(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Matches(query) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// Track retrieves a single catalog entry by id.
func (c *Client) Track(ctx context.Context, id string) (track.Track, error) {
	tracks, err := c.ListTracks(ctx)
	if err != nil {
		return track.Track{}, err
	}
	for _, t := range tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return track.Track{}, errors.Wrapf(ErrTrackNotFound, "id %s", id)
}

// FetchAudio downloads the raw audio bytes at rawURL.
func (c *Client) FetchAudio(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, c.resolve(rawURL))
}

// resolve makes ref absolute against the base URL.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery}).String()
}

// get performs a GET with retry and exponential backoff for 5xx responses and
// temporary network errors. Every failure is marked ErrFetchFailed.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			zlog.Debug().Msgf("catalog: retrying: url=%s attempt=%d/%d error=%v", reqURL, attempt+1, c.retries+1, lastErr)
			select {
			case <-ctx.Done():
				return nil, failure.FetchFailed(ctx.Err(), "request to %s cancelled", reqURL)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, retry, err := c.do(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return nil, failure.FetchFailed(lastErr, "request to %s failed", reqURL)
}

// do performs one request. retry reports whether the failure is worth retrying.
func (c *Client) do(ctx context.Context, reqURL string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, isTemporaryError(err), errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, errors.Newf("unexpected status code: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, errors.Newf("unexpected status code: %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read response body")
	}
	return body, false, nil
}

// isTemporaryError reports whether err is a network timeout.
func isTemporaryError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
