// Package cache provides the size-bounded LRU policy over the blob store.
package cache

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/domain/track"
)

// BytesPerMB converts the configured megabyte limit to bytes.
const BytesPerMB = 1024 * 1024

// Store is the subset of the blob store the governor needs.
type Store interface {
	List() []track.CachedRecord
	OldestFirst() []track.CachedRecord
	Delete(id string) error
	Clear() error
}

// Report describes one enforcement pass.
type Report struct {
	LimitBytes  int64
	BeforeBytes int64
	AfterBytes  int64
	Evicted     []string
}

// Governor enforces a maximum total payload size over a Store.
type Governor struct {
	store Store

	mu         sync.Mutex
	limitBytes int64
	pins       map[string]int // Active readers per record id
}

// NewGovernor creates a governor with the given limit.
func NewGovernor(store Store, limitBytes int64) *Governor {
	return &Governor{
		store:      store,
		limitBytes: limitBytes,
		pins:       make(map[string]int),
	}
}

// Limit returns the configured limit in bytes.
func (g *Governor) Limit() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limitBytes
}

// SetLimit changes the configured limit. It does not enforce it.
func (g *Governor) SetLimit(limitBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limitBytes = limitBytes
}

// CurrentUsage sums record sizes, recomputed from the store on every call.
func (g *Governor) CurrentUsage() int64 {
	var total int64
	for _, rec := range g.store.List() {
		total += rec.SizeBytes
	}
	return total
}

// Pin protects id from eviction until the returned release func is called.
// Release is idempotent.
func (g *Governor) Pin(id string) func() {
	g.mu.Lock()
	g.pins[id]++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.pins[id] <= 1 {
				delete(g.pins, id)
				return
			}
			g.pins[id]--
		})
	}
}

// IsPinned reports whether id has an active reader.
func (g *Governor) IsPinned(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pins[id] > 0
}

// Enforce runs EnforceLimit with the configured limit.
func (g *Governor) Enforce(ctx context.Context) (Report, error) {
	return g.EnforceLimit(ctx, g.Limit())
}

// EnforceLimit evicts least recently used records until the total size is
// within limitBytes or nothing evictable remains. Pinned records are skipped.
// A failed delete is logged and the scan continues with the next record.
func (g *Governor) EnforceLimit(ctx context.Context, limitBytes int64) (Report, error) {
	report := Report{LimitBytes: limitBytes}

	total := g.CurrentUsage()
	report.BeforeBytes = total
	report.AfterBytes = total
	if total <= limitBytes {
		return report, nil
	}

	zlog.Debug().Msgf("cache: over limit: usage=%d limit=%d", total, limitBytes)

	for _, rec := range g.store.OldestFirst() {
		if total <= limitBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			report.AfterBytes = g.CurrentUsage()
			return report, errors.Wrap(err, "eviction interrupted")
		}
		if g.IsPinned(rec.ID) {
			zlog.Debug().Msgf("cache: skipping pinned record: id=%s", rec.ID)
			continue
		}

		if err := g.store.Delete(rec.ID); err != nil {
			zlog.Warn().Msgf("cache: eviction failed: id=%s error=%v", rec.ID, err)
			continue
		}
		total -= rec.SizeBytes
		report.Evicted = append(report.Evicted, rec.ID)
		zlog.Info().Msgf("cache: evicted: id=%s title=%s size=%d", rec.ID, rec.Title, rec.SizeBytes)
	}

	report.AfterBytes = g.CurrentUsage()
	if report.AfterBytes > limitBytes {
		zlog.Warn().Msgf("cache: still over limit after eviction: usage=%d limit=%d", report.AfterBytes, limitBytes)
	}
	return report, nil
}

// Remove deletes one record on explicit user request.
func (g *Governor) Remove(id string) error {
	if err := g.store.Delete(id); err != nil {
		return errors.Wrapf(err, "failed to remove cached track %s", id)
	}
	zlog.Info().Msgf("cache: removed: id=%s", id)
	return nil
}

// Clear deletes every record on explicit user request.
func (g *Governor) Clear() error {
	if err := g.store.Clear(); err != nil {
		return errors.Wrap(err, "failed to clear cache")
	}
	zlog.Info().Msg("cache: cleared")
	return nil
}
