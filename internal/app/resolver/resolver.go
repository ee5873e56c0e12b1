// Package resolver turns a track reference into playable bytes, cache first.
package resolver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/osa030/spotilite/internal/app/cache"
	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/track"
)

// Store is the subset of the blob store the resolver needs.
type Store interface {
	Get(id string) (*track.CachedRecord, bool)
	Put(rec track.CachedRecord) error
	Touch(id string, nowMs int64) (bool, error)
}

// Governor pins records in use and enforces the cache limit after writes.
type Governor interface {
	Pin(id string) func()
	Enforce(ctx context.Context) (cache.Report, error)
}

// Fetcher downloads raw audio from the catalog backend.
type Fetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

// Transcoder re-encodes fetched audio before it is stored.
type Transcoder interface {
	Name() string
	Transcode(ctx context.Context, input []byte) ([]byte, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTranscoder sets the transcoder applied on cache misses.
func WithTranscoder(t Transcoder) Option {
	return func(r *Resolver) {
		r.transcoder = t
	}
}

// WithClock overrides the time source used for last-used stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithPrefetchWorkers bounds concurrent downloads in Prefetch.
func WithPrefetchWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.prefetchWorkers = n
		}
	}
}

// Resolver resolves tracks to payloads from the store or the catalog.
type Resolver struct {
	store      Store
	governor   Governor
	fetcher    Fetcher
	transcoder Transcoder
	now        func() time.Time

	prefetchWorkers int
	group           singleflight.Group
}

// New creates a resolver.
func New(store Store, governor Governor, fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		store:           store,
		governor:        governor,
		fetcher:         fetcher,
		now:             time.Now,
		prefetchWorkers: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lease holds a resolved payload. The record stays pinned until Release.
type Lease struct {
	track   track.Track
	payload []byte
	hit     bool

	once    sync.Once
	release func()
}

// NewLease creates a lease over payload. release may be nil.
func NewLease(t track.Track, payload []byte, release func()) *Lease {
	return &Lease{track: t, payload: payload, release: release}
}

// Track returns the leased track.
func (l *Lease) Track() track.Track {
	return l.track
}

// Payload returns the audio bytes. Callers must not modify them.
func (l *Lease) Payload() []byte {
	return l.payload
}

// Hit reports whether the payload came from the local store.
func (l *Lease) Hit() bool {
	return l.hit
}

// Release unpins the record. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

// Resolve returns the payload for t without holding a pin.
func (r *Resolver) Resolve(ctx context.Context, t track.Track) ([]byte, error) {
	lease, err := r.Acquire(ctx, t)
	if err != nil {
		return nil, err
	}
	lease.Release()
	return lease.Payload(), nil
}

// Acquire resolves t and pins its record until the lease is released.
func (r *Resolver) Acquire(ctx context.Context, t track.Track) (*Lease, error) {
	if t.ID == "" {
		return nil, errors.New("track has no id")
	}

	release := r.governor.Pin(t.ID)
	payload, hit, err := r.resolve(ctx, t)
	if err != nil {
		release()
		return nil, err
	}

	lease := NewLease(t, payload, release)
	lease.hit = hit
	return lease, nil
}

// resolved is the shared outcome of one flight.
type resolved struct {
	payload []byte
	hit     bool
}

func (r *Resolver) resolve(ctx context.Context, t track.Track) ([]byte, bool, error) {
	if payload, ok := r.lookup(t.ID); ok {
		return payload, true, nil
	}

	// Concurrent misses for one id share a single fetch and put. The flight
	// ignores caller cancellation; a cancelled caller only stops waiting.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(t.ID, func() (any, error) {
		if payload, ok := r.lookup(t.ID); ok {
			return resolved{payload: payload, hit: true}, nil
		}
		payload, err := r.load(flightCtx, t)
		if err != nil {
			return nil, err
		}
		return resolved{payload: payload}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			zlog.Debug().Msgf("resolver: coalesced resolve: id=%s", t.ID)
		}
		v := res.Val.(resolved)
		return v.payload, v.hit, nil
	case <-ctx.Done():
		zlog.Debug().Msgf("resolver: caller gave up waiting, fetch continues: id=%s", t.ID)
		return nil, false, errors.Wrapf(ctx.Err(), "resolve of track %s abandoned", t.ID)
	}
}

// lookup returns the stored payload for id and bumps its last used time.
func (r *Resolver) lookup(id string) ([]byte, bool) {
	rec, ok := r.store.Get(id)
	if !ok {
		return nil, false
	}
	if _, err := r.store.Touch(id, r.now().UnixMilli()); err != nil {
		zlog.Warn().Msgf("resolver: failed to touch record: id=%s error=%v", id, err)
	}
	zlog.Debug().Msgf("resolver: cache hit: id=%s size=%d", id, rec.SizeBytes)
	return rec.Payload, true
}

// load fetches, transcodes, stores and enforces the limit for a miss.
func (r *Resolver) load(ctx context.Context, t track.Track) ([]byte, error) {
	if t.RemoteURL == "" {
		return nil, failure.FetchFailed(nil, "track %s has no remote url and is not cached", t.ID)
	}

	zlog.Info().Msgf("resolver: cache miss, fetching: id=%s title=%s", t.ID, t.Title)
	raw, err := r.fetcher.FetchAudio(ctx, t.RemoteURL)
	if err != nil {
		zlog.Error().Msgf("resolver: fetch failed: id=%s error=%v", t.ID, err)
		return nil, failure.FetchFailed(err, "failed to fetch track %s", t.ID)
	}

	payload := raw
	if r.transcoder != nil {
		out, err := r.transcoder.Transcode(ctx, raw)
		switch {
		case err != nil:
			zlog.Warn().Msgf("resolver: transcode failed, storing original bytes: id=%s error=%v", t.ID, err)
		case len(out) == 0:
			zlog.Warn().Msgf("resolver: transcode produced no output, storing original bytes: id=%s", t.ID)
		default:
			payload = out
		}
	}

	rec := track.NewCachedRecord(t, payload, r.now())
	if err := r.store.Put(rec); err != nil {
		// The bytes are still playable; the next resolve will fetch again.
		zlog.Error().Msgf("resolver: failed to store record: id=%s error=%v", t.ID, err)
		return payload, nil
	}
	zlog.Info().Msgf("resolver: stored: id=%s fetched=%d stored=%d", t.ID, len(raw), len(payload))

	if _, err := r.governor.Enforce(ctx); err != nil {
		zlog.Warn().Msgf("resolver: cache limit enforcement failed: error=%v", err)
	}
	return payload, nil
}

// PrefetchResult is the outcome of caching one track in a batch.
type PrefetchResult struct {
	Index     int
	TrackID   string
	Hit       bool
	SizeBytes int
	Err       error
}

// Prefetch caches tracks for offline use. A failure affects only its own
// result; the slice is in input order.
func (r *Resolver) Prefetch(ctx context.Context, tracks []track.Track) []PrefetchResult {
	p := pool.NewWithResults[PrefetchResult]().WithMaxGoroutines(r.prefetchWorkers)
	for i, t := range tracks {
		p.Go(func() PrefetchResult {
			res := PrefetchResult{Index: i, TrackID: t.ID}
			lease, err := r.Acquire(ctx, t)
			if err != nil {
				zlog.Warn().Msgf("resolver: prefetch failed: id=%s error=%v", t.ID, err)
				res.Err = err
				return res
			}
			defer lease.Release()
			res.Hit = lease.Hit()
			res.SizeBytes = len(lease.Payload())
			return res
		})
	}

	results := p.Wait()
	slices.SortFunc(results, func(a, b PrefetchResult) int {
		return a.Index - b.Index
	})
	return results
}
