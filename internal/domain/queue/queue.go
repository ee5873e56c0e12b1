// Package queue provides the ordered, reorderable play queue.
package queue

import (
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/spotilite/internal/domain/track"
)

// NoSelection is the current index of an empty queue.
const NoSelection = -1

// ErrIndexOutOfRange is returned for positions outside the queue.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// RepeatMode controls what happens at the queue boundaries.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota // Stop at the end
	RepeatAll                    // Wrap to the start
	RepeatOne                    // Loop the current track
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// Next returns the following mode in the none -> all -> one cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatNone:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatNone
	}
}

// ParseRepeatMode parses "none", "all" or "one".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "none", "":
		return RepeatNone, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatNone, errors.Newf("unknown repeat mode: %q", s)
	}
}

// Queue is an ordered list of tracks with a current pointer.
// Not safe for concurrent use; the playback controller serializes access.
type Queue struct {
	entries []track.Track
	current int
	rng     *rand.Rand
}

// New creates an empty queue.
func New() *Queue {
	seed := uint64(time.Now().UnixNano())
	return NewWithRand(rand.New(rand.NewPCG(seed, seed>>1)))
}

// NewWithRand creates an empty queue shuffling with rng.
func NewWithRand(rng *rand.Rand) *Queue {
	return &Queue{
		entries: make([]track.Track, 0),
		current: NoSelection,
		rng:     rng,
	}
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// CurrentIndex returns the current position, or NoSelection.
func (q *Queue) CurrentIndex() int {
	return q.current
}

// Current returns the current track.
func (q *Queue) Current() (track.Track, bool) {
	if q.current == NoSelection {
		return track.Track{}, false
	}
	return q.entries[q.current], true
}

// At returns the track at position i.
func (q *Queue) At(i int) (track.Track, error) {
	if !q.inRange(i) {
		return track.Track{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(q.entries))
	}
	return q.entries[i], nil
}

// Entries returns a copy of the queued tracks.
func (q *Queue) Entries() []track.Track {
	result := make([]track.Track, len(q.entries))
	copy(result, q.entries)
	return result
}

// SetCurrent moves the current pointer to i.
func (q *Queue) SetCurrent(i int) error {
	if !q.inRange(i) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(q.entries))
	}
	q.current = i
	return nil
}

// Append adds t to the end. The first entry of an empty queue becomes current.
func (q *Queue) Append(t track.Track) {
	q.entries = append(q.entries, t)
	if q.current == NoSelection {
		q.current = 0
	}
}

// Insert places t at position i (0 <= i <= Len), shifting later entries.
func (q *Queue) Insert(i int, t track.Track) error {
	if i < 0 || i > len(q.entries) {
		return errors.Wrapf(ErrIndexOutOfRange, "insert at %d, length %d", i, len(q.entries))
	}
	q.entries = append(q.entries, track.Track{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = t

	switch {
	case q.current == NoSelection:
		q.current = i
	case i <= q.current:
		q.current++
	}
	return nil
}

// RemoveAt removes the entry at i and re-clamps the current pointer.
func (q *Queue) RemoveAt(i int) (track.Track, error) {
	if !q.inRange(i) {
		return track.Track{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(q.entries))
	}
	removed := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)

	switch {
	case len(q.entries) == 0:
		q.current = NoSelection
	case i < q.current:
		q.current--
	case i == q.current:
		q.current = min(q.current, len(q.entries)-1)
	}
	return removed, nil
}

// MoveTo relocates the entry at from to position to.
// The current pointer follows the moved entry, or shifts by one when the
// move crosses it.
func (q *Queue) MoveTo(from, to int) error {
	if !q.inRange(from) || !q.inRange(to) {
		return errors.Wrapf(ErrIndexOutOfRange, "move %d -> %d, length %d", from, to, len(q.entries))
	}
	if from == to {
		return nil
	}

	moved := q.entries[from]
	q.entries = append(q.entries[:from], q.entries[from+1:]...)
	q.entries = append(q.entries, track.Track{})
	copy(q.entries[to+1:], q.entries[to:])
	q.entries[to] = moved

	switch {
	case q.current == from:
		q.current = to
	case from < q.current && to >= q.current:
		q.current--
	case from > q.current && to <= q.current:
		q.current++
	}
	return nil
}

// Shuffle randomly permutes the queue. The current entry moves to position 0
// and stays current. Without a selection every entry is permuted.
func (q *Queue) Shuffle() {
	if len(q.entries) <= 1 {
		return
	}

	if q.current == NoSelection {
		q.rng.Shuffle(len(q.entries), func(i, j int) {
			q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
		})
		return
	}

	current := q.entries[q.current]
	rest := make([]track.Track, 0, len(q.entries)-1)
	rest = append(rest, q.entries[:q.current]...)
	rest = append(rest, q.entries[q.current+1:]...)
	q.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	q.entries = append([]track.Track{current}, rest...)
	q.current = 0
}

// Clear removes every entry.
func (q *Queue) Clear() {
	q.entries = make([]track.Track, 0)
	q.current = NoSelection
}

// Next returns the index after the current one, honouring mode.
func (q *Queue) Next(mode RepeatMode) (int, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	if q.current+1 < len(q.entries) {
		return q.current + 1, true
	}
	if mode == RepeatAll {
		return 0, true
	}
	return 0, false
}

// Previous returns the index before the current one, honouring mode.
func (q *Queue) Previous(mode RepeatMode) (int, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	if q.current > 0 {
		return q.current - 1, true
	}
	if mode == RepeatAll {
		return len(q.entries) - 1, true
	}
	return 0, false
}

func (q *Queue) inRange(i int) bool {
	return i >= 0 && i < len(q.entries)
}
