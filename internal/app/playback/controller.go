package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/app/resolver"
	"github.com/osa030/spotilite/internal/domain/queue"
	"github.com/osa030/spotilite/internal/domain/track"
)

// Errors
var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
	ErrNoNext     = errors.New("no next track")
	ErrNoPrevious = errors.New("no previous track")
	ErrClosed     = errors.New("controller closed")

	ErrInvalidVolume = errors.New("volume must be between 0 and 1")
)

const eventQueueSize = 64

// Device is an audio output. onEnd is called from another goroutine when the
// track finishes naturally; it must not be called from within Play or Replay.
type Device interface {
	Play(payload []byte, onEnd func()) error
	Replay(onEnd func()) error
	Pause() error
	Resume() error
	Stop() error
	// Seek moves the loaded track to pos, clamped to its length.
	Seek(pos time.Duration) error
	// Position reports the playhead and length of the loaded track.
	Position() (pos, length time.Duration)
	SetVolume(v float64) error
}

// Resolver supplies pinned payloads for tracks.
type Resolver interface {
	Acquire(ctx context.Context, t track.Track) (*resolver.Lease, error)
}

// Publisher receives the now playing descriptor after every change.
type Publisher interface {
	Publish(np NowPlaying)
}

// Controller drives the device from the session queue.
type Controller struct {
	mu sync.RWMutex

	session *Session
	state   State

	// generation increases on every load, replay, and stop. Resolve results
	// and device callbacks carrying an older value are discarded.
	generation uint64
	lease      *resolver.Lease

	device   Device
	resolver Resolver

	publishers []Publisher
	publishCh  chan NowPlaying
	publishWg  sync.WaitGroup

	eventCh chan Event
	loads   sync.WaitGroup
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller. A nil session starts an empty one.
func NewController(device Device, res Resolver, session *Session, publishers ...Publisher) *Controller {
	if session == nil {
		session = NewSession()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		session:    session,
		state:      StateIdle,
		device:     device,
		resolver:   res,
		publishers: publishers,
		publishCh:  make(chan NowPlaying, eventQueueSize),
		eventCh:    make(chan Event, eventQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := device.SetVolume(session.Playback.Volume); err != nil {
		zlog.Warn().Msgf("playback: failed to apply session volume %v: %v", session.Playback.Volume, err)
	}

	c.publishWg.Add(1)
	go c.publishLoop()
	return c
}

// AddPublisher registers p for now playing updates.
func (c *Controller) AddPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishers = append(c.publishers, p)
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// PlayAt makes index current and starts loading it.
func (c *Controller) PlayAt(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, err := c.session.Queue.At(index); err != nil {
		return err
	}
	c.startLoadLocked(index)
	return nil
}

// Enqueue appends t without starting playback.
func (c *Controller) Enqueue(t track.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.session.Queue.Append(t)
	c.queueChangedLocked()
	return nil
}

// EnqueueAndPlay appends t and starts it if nothing was selected.
func (c *Controller) EnqueueAndPlay(t track.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	wasEmpty := c.session.Queue.CurrentIndex() == queue.NoSelection
	c.session.Queue.Append(t)
	c.queueChangedLocked()
	if wasEmpty {
		c.startLoadLocked(0)
	}
	return nil
}

// PlayNow puts t at the head of the queue and plays it.
func (c *Controller) PlayNow(t track.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.session.Queue.Insert(0, t); err != nil {
		return err
	}
	c.queueChangedLocked()
	c.startLoadLocked(0)
	return nil
}

// Pause pauses the current playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pauseLocked()
}

func (c *Controller) pauseLocked() error {
	if c.state != StatePlaying {
		return ErrNotPlaying
	}
	if err := c.device.Pause(); err != nil {
		return errors.Wrap(err, "failed to pause device")
	}
	c.session.Playback.IsPlaying = false
	c.setStateLocked(StatePaused, EventStateChanged, nil)
	return nil
}

// Resume resumes paused playback. When idle it starts the current entry, or
// the first one if nothing is selected.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resumeLocked()
}

func (c *Controller) resumeLocked() error {
	if c.closed {
		return ErrClosed
	}

	switch c.state {
	case StatePaused:
		if err := c.device.Resume(); err != nil {
			return errors.Wrap(err, "failed to resume device")
		}
		c.session.Playback.IsPlaying = true
		c.setStateLocked(StatePlaying, EventStateChanged, nil)
		return nil

	case StateIdle:
		q := c.session.Queue
		if q.Len() == 0 {
			return ErrQueueEmpty
		}
		index := q.CurrentIndex()
		if index == queue.NoSelection {
			index = 0
		}
		c.startLoadLocked(index)
		return nil

	default:
		return ErrNotPaused
	}
}

// TogglePause pauses when playing and resumes otherwise.
func (c *Controller) TogglePause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePlaying {
		return c.pauseLocked()
	}
	return c.resumeLocked()
}

// Next moves to the following entry, wrapping only with repeat all.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	index, ok := c.session.Queue.Next(c.session.Playback.Repeat)
	if !ok {
		return ErrNoNext
	}
	c.startLoadLocked(index)
	return nil
}

// Previous moves to the preceding entry, wrapping only with repeat all.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	index, ok := c.session.Queue.Previous(c.session.Playback.Repeat)
	if !ok {
		return ErrNoPrevious
	}
	c.startLoadLocked(index)
	return nil
}

// RemoveAt removes the entry at index. Removing the current entry while it is
// loading or playing stops playback.
func (c *Controller) RemoveAt(index int) (track.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return track.Track{}, ErrClosed
	}
	wasCurrent := index == c.session.Queue.CurrentIndex()
	removed, err := c.session.Queue.RemoveAt(index)
	if err != nil {
		return track.Track{}, err
	}

	if wasCurrent && c.state.Active() {
		zlog.Info().Msgf("playback: current track removed, stopping: track=%s", removed.Title)
		c.stopLocked()
	}
	c.queueChangedLocked()
	return removed, nil
}

// MoveTo relocates the entry at from to to. Playback is not interrupted.
func (c *Controller) MoveTo(from, to int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.session.Queue.MoveTo(from, to); err != nil {
		return err
	}
	c.queueChangedLocked()
	return nil
}

// SetShuffle sets the shuffle flag. Enabling it shuffles the queue once,
// keeping the current entry first.
func (c *Controller) SetShuffle(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.session.Playback.Shuffle = on
	if on {
		c.session.Queue.Shuffle()
	}
	c.queueChangedLocked()
	return nil
}

// SetRepeat sets the repeat mode.
func (c *Controller) SetRepeat(mode queue.RepeatMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.session.Playback.Repeat = mode
	c.queueChangedLocked()
	return nil
}

// CycleRepeat advances the repeat mode none -> all -> one -> none.
func (c *Controller) CycleRepeat() (queue.RepeatMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return queue.RepeatNone, ErrClosed
	}
	c.session.Playback.Repeat = c.session.Playback.Repeat.Next()
	c.queueChangedLocked()
	return c.session.Playback.Repeat, nil
}

// Seek moves the playhead of the current track to pos. Positions past the
// end are clamped by the device.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seekLocked(max(pos, 0))
}

// SeekBy moves the playhead by offset relative to the current position.
func (c *Controller) SeekBy(offset time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seekableLocked() {
		return c.seekErrLocked()
	}
	pos, _ := c.device.Position()
	return c.seekLocked(max(pos+offset, 0))
}

func (c *Controller) seekableLocked() bool {
	return !c.closed && (c.state == StatePlaying || c.state == StatePaused)
}

func (c *Controller) seekErrLocked() error {
	if c.closed {
		return ErrClosed
	}
	return ErrNotPlaying
}

func (c *Controller) seekLocked(pos time.Duration) error {
	if !c.seekableLocked() {
		return c.seekErrLocked()
	}
	if err := c.device.Seek(pos); err != nil {
		return errors.Wrap(err, "failed to seek device")
	}
	t, _ := c.session.Queue.Current()
	zlog.Debug().Msgf("playback: seeked: track=%s position=%s", t.Title, pos)
	c.sendEventLocked(Event{
		Type:  EventSeeked,
		Track: &t,
		Index: c.session.Queue.CurrentIndex(),
		State: c.state,
	})
	c.publishLocked()
	return nil
}

// Position reports the playhead and length of the current track. Both are
// zero when no track is loaded on the device.
func (c *Controller) Position() (pos, length time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionLocked()
}

func (c *Controller) positionLocked() (pos, length time.Duration) {
	switch c.state {
	case StatePlaying, StatePaused, StateEnded:
		return c.device.Position()
	default:
		return 0, 0
	}
}

// SetVolume sets the linear output volume in [0, 1]. It is kept in the
// session and survives track changes.
func (c *Controller) SetVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errors.Wrapf(ErrInvalidVolume, "got %v", v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.device.SetVolume(v); err != nil {
		return errors.Wrap(err, "failed to set device volume")
	}
	c.session.Playback.Volume = v
	c.sendEventLocked(Event{
		Type:  EventVolumeChanged,
		Index: c.session.Queue.CurrentIndex(),
		State: c.state,
	})
	c.publishLocked()
	return nil
}

// Volume returns the linear output volume.
func (c *Controller) Volume() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Playback.Volume
}

// Stop stops playback, keeping the queue and current index.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return nil
	}
	c.stopLocked()
	return nil
}

// ResetSession stops playback and empties the session.
func (c *Controller) ResetSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state.Active() {
		c.stopLocked()
	}
	c.session.Reset()
	c.queueChangedLocked()
	return nil
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	SessionID    string
	State        State
	CurrentIndex int
	Current      *track.Track
	Queue        []track.Track
	Repeat       queue.RepeatMode
	Shuffle      bool
	Volume       float64
	// Position and Duration come from the device and are zero when no
	// track is loaded.
	Position time.Duration
	Duration time.Duration
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	q := c.session.Queue
	s := Snapshot{
		SessionID:    c.session.ID,
		State:        c.state,
		CurrentIndex: q.CurrentIndex(),
		Queue:        q.Entries(),
		Repeat:       c.session.Playback.Repeat,
		Shuffle:      c.session.Playback.Shuffle,
		Volume:       c.session.Playback.Volume,
	}
	s.Position, s.Duration = c.positionLocked()
	if t, ok := q.Current(); ok {
		s.Current = &t
	}
	return s
}

// GetState returns the current playback state.
func (c *Controller) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close stops playback, waits for in-flight loads, and closes the event channel.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state.Active() {
		c.stopLocked()
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.loads.Wait()

	close(c.publishCh)
	c.publishWg.Wait()

	c.mu.Lock()
	close(c.eventCh)
	c.mu.Unlock()
}

// startLoadLocked makes index current and resolves it in the background.
// Must be called with lock held.
func (c *Controller) startLoadLocked(index int) {
	c.releaseDeviceLocked()

	if err := c.session.Queue.SetCurrent(index); err != nil {
		zlog.Warn().Msgf("playback: cannot select index %d: %v", index, err)
		return
	}
	t, _ := c.session.Queue.Current()

	c.generation++
	gen := c.generation
	c.session.Playback.IsPlaying = false
	c.setStateLocked(StateLoading, EventLoading, &t)

	zlog.Debug().Msgf("playback: loading: index=%d track=%s generation=%d", index, t.Title, gen)

	c.loads.Add(1)
	go c.load(gen, t)
}

// load resolves t and hands it to the device if it is still wanted.
func (c *Controller) load(gen uint64, t track.Track) {
	defer c.loads.Done()

	lease, err := c.resolver.Acquire(c.ctx, t)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.currentLocked(gen, t) {
		zlog.Warn().Msgf("playback: discarding stale resolution: track=%s generation=%d", t.Title, gen)
		if lease != nil {
			lease.Release()
		}
		return
	}

	if err != nil {
		zlog.Error().Msgf("playback: failed to load track %s: %v", t.Title, err)
		c.failLocked(&t, err)
		return
	}

	if err := c.device.Play(lease.Payload(), c.onEndFunc(gen)); err != nil {
		lease.Release()
		zlog.Error().Msgf("playback: device rejected track %s: %v", t.Title, err)
		c.failLocked(&t, errors.Wrap(err, "failed to start device"))
		return
	}

	c.lease = lease
	c.session.Playback.IsPlaying = true
	c.setStateLocked(StatePlaying, EventTrackStarted, &t)
	zlog.Info().Msgf("playback: started: track=%s artist=%s cached=%t", t.Title, t.Artist, lease.Hit())
}

// currentLocked reports whether a load of t with gen is still the current one.
func (c *Controller) currentLocked(gen uint64, t track.Track) bool {
	if c.closed || gen != c.generation || c.state != StateLoading {
		return false
	}
	cur, ok := c.session.Queue.Current()
	return ok && cur.ID == t.ID
}

func (c *Controller) failLocked(t *track.Track, err error) {
	c.generation++
	c.session.Playback.IsPlaying = false
	c.state = StateIdle
	c.sendEventLocked(Event{
		Type:  EventLoadFailed,
		Track: t,
		Index: c.session.Queue.CurrentIndex(),
		State: c.state,
		Err:   err,
	})
	c.publishLocked()
}

func (c *Controller) onEndFunc(gen uint64) func() {
	return func() {
		c.onTrackEnd(gen)
	}
}

// onTrackEnd applies the end of track policy.
func (c *Controller) onTrackEnd(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.generation || (c.state != StatePlaying && c.state != StatePaused) {
		zlog.Debug().Msgf("playback: ignoring stale end of track: generation=%d current=%d", gen, c.generation)
		return
	}

	ended, _ := c.session.Queue.Current()
	c.setStateLocked(StateEnded, EventTrackEnded, &ended)

	q := c.session.Queue
	repeat := c.session.Playback.Repeat

	switch next, ok := q.Next(repeat); {
	case repeat == queue.RepeatOne:
		c.generation++
		err := c.device.Replay(c.onEndFunc(c.generation))
		if err == nil {
			c.session.Playback.IsPlaying = true
			c.setStateLocked(StatePlaying, EventTrackStarted, &ended)
			return
		}
		zlog.Warn().Msgf("playback: replay failed, stopping: %v", err)
	case ok:
		c.startLoadLocked(next)
		return
	}

	c.stopLocked()
	c.sendEventLocked(Event{
		Type:  EventQueueFinished,
		Index: q.CurrentIndex(),
		State: c.state,
	})
}

// stopLocked stops the device and returns to Idle, keeping the current index.
// Must be called with lock held.
func (c *Controller) stopLocked() {
	c.releaseDeviceLocked()
	c.generation++
	c.session.Playback.IsPlaying = false
	c.setStateLocked(StateIdle, EventStateChanged, nil)
}

// releaseDeviceLocked stops the device and releases the pinned record.
func (c *Controller) releaseDeviceLocked() {
	switch c.state {
	case StatePlaying, StatePaused, StateEnded:
		if err := c.device.Stop(); err != nil {
			zlog.Warn().Msgf("playback: failed to stop device: %v", err)
		}
	}
	if c.lease != nil {
		c.lease.Release()
		c.lease = nil
	}
}

func (c *Controller) setStateLocked(s State, eventType EventType, t *track.Track) {
	c.state = s
	c.sendEventLocked(Event{
		Type:  eventType,
		Track: t,
		Index: c.session.Queue.CurrentIndex(),
		State: s,
	})
	c.publishLocked()
}

func (c *Controller) queueChangedLocked() {
	c.sendEventLocked(Event{
		Type:  EventQueueChanged,
		Index: c.session.Queue.CurrentIndex(),
		State: c.state,
	})
	c.publishLocked()
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Debug().Msgf("playback: event channel full, dropping %s", e.Type)
	}
}

// publishLocked queues the now playing descriptor for publishers.
// Must be called with lock held.
func (c *Controller) publishLocked() {
	if c.closed || len(c.publishers) == 0 {
		return
	}
	select {
	case c.publishCh <- NewNowPlaying(c.snapshotLocked()):
	default:
		zlog.Warn().Msg("playback: publisher queue full, dropping now playing update")
	}
}

// publishLoop delivers descriptors outside the controller lock.
func (c *Controller) publishLoop() {
	defer c.publishWg.Done()
	for np := range c.publishCh {
		c.mu.RLock()
		publishers := make([]Publisher, len(c.publishers))
		copy(publishers, c.publishers)
		c.mu.RUnlock()

		for _, p := range publishers {
			p.Publish(np)
		}
	}
}
