package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotilite/internal/app/resolver"
	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/queue"
	"github.com/osa030/spotilite/internal/domain/track"
)

const waitTimeout = 2 * time.Second

type fakeDevice struct {
	mu       sync.Mutex
	plays    [][]byte
	ends     []func()
	replays  int
	pauses   int
	resumes  int
	stops    int
	playErr  error
	replayOK bool

	pos, length time.Duration
	seeks       []time.Duration
	volume      float64
	volumeErr   error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{replayOK: true, length: 3 * time.Minute}
}

func (d *fakeDevice) Play(payload []byte, onEnd func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return d.playErr
	}
	d.plays = append(d.plays, payload)
	d.ends = append(d.ends, onEnd)
	return nil
}

func (d *fakeDevice) Replay(onEnd func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.replayOK {
		return errors.New("replay failed")
	}
	d.replays++
	d.ends = append(d.ends, onEnd)
	return nil
}

func (d *fakeDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauses++
	return nil
}

func (d *fakeDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Seek(pos time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = min(pos, d.length)
	d.seeks = append(d.seeks, d.pos)
	return nil
}

func (d *fakeDevice) Position() (time.Duration, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos, d.length
}

func (d *fakeDevice) SetVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.volumeErr != nil {
		return d.volumeErr
	}
	d.volume = v
	return nil
}

func (d *fakeDevice) currentVolume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *fakeDevice) seekLog() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.seeks...)
}

// end fires the most recent end callback, as the device would at end of track.
func (d *fakeDevice) end() {
	d.mu.Lock()
	onEnd := d.ends[len(d.ends)-1]
	d.mu.Unlock()
	onEnd()
}

// endAt fires the i-th end callback ever registered.
func (d *fakeDevice) endAt(i int) {
	d.mu.Lock()
	onEnd := d.ends[i]
	d.mu.Unlock()
	onEnd()
}

func (d *fakeDevice) lastPlayed() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.plays) == 0 {
		return ""
	}
	return string(d.plays[len(d.plays)-1])
}

func (d *fakeDevice) counts() (plays, replays, stops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.plays), d.replays, d.stops
}

type fakeResolver struct {
	mu       sync.Mutex
	errs     map[string]error
	gates    map[string]chan struct{}
	released map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		released: make(map[string]int),
	}
}

func (r *fakeResolver) Acquire(ctx context.Context, t track.Track) (*resolver.Lease, error) {
	r.mu.Lock()
	gate := r.gates[t.ID]
	err := r.errs[t.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resolver.NewLease(t, []byte("audio-"+t.ID), func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.released[t.ID]++
	}), nil
}

func (r *fakeResolver) gate(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[id] = ch
	return ch
}

func (r *fakeResolver) releasedCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[id]
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []NowPlaying
}

func (p *recordingPublisher) Publish(np NowPlaying) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, np)
}

func (p *recordingPublisher) last() (NowPlaying, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return NowPlaying{}, false
	}
	return p.updates[len(p.updates)-1], true
}

func tr(id string) track.Track {
	return track.Track{ID: id, Title: "Title " + id, Artist: "Artist " + id, RemoteURL: "http://catalog/tracks/" + id}
}

type harness struct {
	c        *Controller
	device   *fakeDevice
	resolver *fakeResolver
}

func newHarness(t *testing.T, tracks ...track.Track) *harness {
	t.Helper()
	h := &harness{device: newFakeDevice(), resolver: newFakeResolver()}
	h.c = NewController(h.device, h.resolver, nil)
	t.Cleanup(h.c.Close)
	for _, tk := range tracks {
		require.NoError(t, h.c.Enqueue(tk))
	}
	return h
}

// waitFor drains events until one of type et arrives.
func (h *harness) waitFor(t *testing.T, et EventType) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-h.c.Events():
			require.True(t, ok, "event channel closed while waiting for %s", et)
			if e.Type == et {
				return e
			}
		case <-deadline:
			require.FailNowf(t, "timeout", "waiting for %s", et.String())
		}
	}
}

func (h *harness) playAndWait(t *testing.T, index int) {
	t.Helper()
	require.NoError(t, h.c.PlayAt(index))
	h.waitFor(t, EventTrackStarted)
}

func TestPlayAt_LoadsAndPlays(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))

	require.NoError(t, h.c.PlayAt(1))
	loading := h.waitFor(t, EventLoading)
	assert.Equal(t, StateLoading, loading.State)
	assert.Equal(t, 1, loading.Index)

	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, StatePlaying, started.State)
	require.NotNil(t, started.Track)
	assert.Equal(t, "b", started.Track.ID)

	assert.Equal(t, "audio-b", h.device.lastPlayed())
	snap := h.c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 1, snap.CurrentIndex)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.ID)

	err := h.c.PlayAt(5)
	assert.True(t, errors.Is(err, queue.ErrIndexOutOfRange))
}

func TestTrackEnd_RepeatOneReplays(t *testing.T) {
	h := newHarness(t, tr("a"))
	require.NoError(t, h.c.SetRepeat(queue.RepeatOne))
	h.playAndWait(t, 0)

	h.device.end()
	h.waitFor(t, EventTrackEnded)
	restarted := h.waitFor(t, EventTrackStarted)

	assert.Equal(t, 0, restarted.Index)
	assert.Equal(t, StatePlaying, h.c.GetState())
	plays, replays, _ := h.device.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, replays)
	assert.Equal(t, 0, h.c.Snapshot().CurrentIndex)

	// The loop continues on the next end.
	h.device.end()
	h.waitFor(t, EventTrackStarted)
	_, replays, _ = h.device.counts()
	assert.Equal(t, 2, replays)
}

func TestTrackEnd_RepeatAllWraps(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	require.NoError(t, h.c.SetRepeat(queue.RepeatAll))
	h.playAndWait(t, 1)

	h.device.end()
	loading := h.waitFor(t, EventLoading)
	assert.Equal(t, 0, loading.Index)
	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "a", started.Track.ID)
	assert.Equal(t, "audio-a", h.device.lastPlayed())
	assert.Equal(t, 0, h.c.Snapshot().CurrentIndex)
}

func TestTrackEnd_NoRepeatStops(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.playAndWait(t, 1)

	h.device.end()
	finished := h.waitFor(t, EventQueueFinished)

	assert.Equal(t, StateIdle, finished.State)
	assert.Equal(t, 1, finished.Index)
	snap := h.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Equal(t, 1, h.resolver.releasedCount("b"))
}

func TestTrackEnd_AdvancesWithinQueue(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.playAndWait(t, 0)

	h.device.end()
	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "b", started.Track.ID)
	assert.Equal(t, 1, h.resolver.releasedCount("a"))
}

func TestTrackEnd_ReplayFailureStops(t *testing.T) {
	h := newHarness(t, tr("a"))
	require.NoError(t, h.c.SetRepeat(queue.RepeatOne))
	h.playAndWait(t, 0)
	h.device.mu.Lock()
	h.device.replayOK = false
	h.device.mu.Unlock()

	h.device.end()
	h.waitFor(t, EventQueueFinished)
	assert.Equal(t, StateIdle, h.c.GetState())
}

func TestLoadFailure_GoesIdle(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.resolver.errs["b"] = failure.FetchFailed(nil, "catalog unreachable")

	require.NoError(t, h.c.PlayAt(1))
	failed := h.waitFor(t, EventLoadFailed)

	assert.Equal(t, StateIdle, failed.State)
	assert.True(t, errors.Is(failed.Err, failure.ErrFetchFailed))
	snap := h.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Len(t, snap.Queue, 2)
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Empty(t, h.device.lastPlayed())
}

func TestDevicePlayFailure_ReleasesLease(t *testing.T) {
	h := newHarness(t, tr("a"))
	h.device.playErr = errors.New("no output device")

	require.NoError(t, h.c.PlayAt(0))
	h.waitFor(t, EventLoadFailed)

	assert.Equal(t, StateIdle, h.c.GetState())
	assert.Equal(t, 1, h.resolver.releasedCount("a"))
}

func TestStaleResolutionDiscarded(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	gate := h.resolver.gate("a")

	require.NoError(t, h.c.PlayAt(0))
	h.waitFor(t, EventLoading)
	h.playAndWait(t, 1)

	close(gate)
	assert.Eventually(t, func() bool {
		return h.resolver.releasedCount("a") == 1
	}, waitTimeout, 5*time.Millisecond)

	plays, _, _ := h.device.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, "audio-b", h.device.lastPlayed())
	assert.Equal(t, 1, h.c.Snapshot().CurrentIndex)
	assert.Equal(t, StatePlaying, h.c.GetState())
}

func TestStaleEndCallbackIgnored(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"), tr("c"))
	h.playAndWait(t, 0)
	h.playAndWait(t, 2)

	// End callback of the first track arrives late.
	h.device.endAt(0)

	snap := h.c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 2, snap.CurrentIndex)
	plays, _, _ := h.device.counts()
	assert.Equal(t, 2, plays)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, tr("a"))

	assert.True(t, errors.Is(h.c.Pause(), ErrNotPlaying))
	h.playAndWait(t, 0)

	require.NoError(t, h.c.Pause())
	assert.Equal(t, StatePaused, h.c.GetState())
	assert.True(t, errors.Is(h.c.Pause(), ErrNotPlaying))

	require.NoError(t, h.c.Resume())
	assert.Equal(t, StatePlaying, h.c.GetState())

	require.NoError(t, h.c.TogglePause())
	assert.Equal(t, StatePaused, h.c.GetState())
	require.NoError(t, h.c.TogglePause())
	assert.Equal(t, StatePlaying, h.c.GetState())

	h.device.mu.Lock()
	assert.Equal(t, 2, h.device.pauses)
	assert.Equal(t, 2, h.device.resumes)
	h.device.mu.Unlock()
}

func TestResume_FromIdle(t *testing.T) {
	h := newHarness(t)
	assert.True(t, errors.Is(h.c.Resume(), ErrQueueEmpty))

	require.NoError(t, h.c.Enqueue(tr("a")))
	require.NoError(t, h.c.Resume())
	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "a", started.Track.ID)

	assert.True(t, errors.Is(h.c.Resume(), ErrNotPaused))
}

func TestEnqueueAndPlay(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.EnqueueAndPlay(tr("a")))
	h.waitFor(t, EventTrackStarted)
	require.NoError(t, h.c.EnqueueAndPlay(tr("b")))

	snap := h.c.Snapshot()
	assert.Len(t, snap.Queue, 2)
	assert.Equal(t, 0, snap.CurrentIndex)
	plays, _, _ := h.device.counts()
	assert.Equal(t, 1, plays)
}

func TestPlayNow_PrependsAndPlays(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.playAndWait(t, 1)

	require.NoError(t, h.c.PlayNow(tr("cached")))
	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "cached", started.Track.ID)

	snap := h.c.Snapshot()
	require.Len(t, snap.Queue, 3)
	assert.Equal(t, "cached", snap.Queue[0].ID)
	assert.Equal(t, 0, snap.CurrentIndex)
	assert.Equal(t, 1, h.resolver.releasedCount("b"))
}

func TestNextPrevious(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.playAndWait(t, 0)

	assert.True(t, errors.Is(h.c.Previous(), ErrNoPrevious))

	require.NoError(t, h.c.Next())
	started := h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "b", started.Track.ID)
	assert.True(t, errors.Is(h.c.Next(), ErrNoNext))

	require.NoError(t, h.c.SetRepeat(queue.RepeatAll))
	require.NoError(t, h.c.Next())
	started = h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "a", started.Track.ID)

	require.NoError(t, h.c.Previous())
	started = h.waitFor(t, EventTrackStarted)
	assert.Equal(t, "b", started.Track.ID)
}

func TestRemoveAt(t *testing.T) {
	t.Run("current entry stops playback", func(t *testing.T) {
		h := newHarness(t, tr("a"), tr("b"))
		h.playAndWait(t, 0)

		removed, err := h.c.RemoveAt(0)
		require.NoError(t, err)
		assert.Equal(t, "a", removed.ID)

		snap := h.c.Snapshot()
		assert.Equal(t, StateIdle, snap.State)
		assert.Equal(t, 0, snap.CurrentIndex)
		assert.Equal(t, "b", snap.Current.ID)
		assert.Equal(t, 1, h.resolver.releasedCount("a"))
		_, _, stops := h.device.counts()
		assert.Equal(t, 1, stops)
	})

	t.Run("other entry keeps playing", func(t *testing.T) {
		h := newHarness(t, tr("a"), tr("b"), tr("c"))
		h.playAndWait(t, 1)

		_, err := h.c.RemoveAt(0)
		require.NoError(t, err)

		snap := h.c.Snapshot()
		assert.Equal(t, StatePlaying, snap.State)
		assert.Equal(t, 0, snap.CurrentIndex)
		assert.Equal(t, "b", snap.Current.ID)
	})

	t.Run("loading entry discards its resolution", func(t *testing.T) {
		h := newHarness(t, tr("a"), tr("b"))
		gate := h.resolver.gate("a")
		require.NoError(t, h.c.PlayAt(0))
		h.waitFor(t, EventLoading)

		_, err := h.c.RemoveAt(0)
		require.NoError(t, err)
		close(gate)

		assert.Eventually(t, func() bool {
			return h.resolver.releasedCount("a") == 1
		}, waitTimeout, 5*time.Millisecond)
		assert.Equal(t, StateIdle, h.c.GetState())
		assert.Empty(t, h.device.lastPlayed())
	})

	t.Run("out of range", func(t *testing.T) {
		h := newHarness(t, tr("a"))
		_, err := h.c.RemoveAt(3)
		assert.True(t, errors.Is(err, queue.ErrIndexOutOfRange))
	})
}

func TestMoveTo_KeepsPlaying(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"), tr("c"))
	h.playAndWait(t, 0)

	require.NoError(t, h.c.MoveTo(0, 2))
	snap := h.c.Snapshot()
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.Equal(t, "a", snap.Current.ID)
	assert.Equal(t, StatePlaying, snap.State)
}

func TestSetShuffle_KeepsCurrentFirst(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"), tr("c"), tr("d"))
	h.playAndWait(t, 2)

	require.NoError(t, h.c.SetShuffle(true))
	snap := h.c.Snapshot()
	assert.True(t, snap.Shuffle)
	assert.Equal(t, 0, snap.CurrentIndex)
	assert.Equal(t, "c", snap.Queue[0].ID)
	assert.Len(t, snap.Queue, 4)
	assert.Equal(t, StatePlaying, snap.State)

	require.NoError(t, h.c.SetShuffle(false))
	assert.False(t, h.c.Snapshot().Shuffle)
}

func TestCycleRepeat(t *testing.T) {
	h := newHarness(t)

	for _, want := range []queue.RepeatMode{queue.RepeatAll, queue.RepeatOne, queue.RepeatNone} {
		got, err := h.c.CycleRepeat()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, h.c.Snapshot().Repeat)
	}
}

func TestStopAndResetSession(t *testing.T) {
	h := newHarness(t, tr("a"), tr("b"))
	h.playAndWait(t, 1)
	before := h.c.Snapshot().SessionID

	require.NoError(t, h.c.Stop())
	snap := h.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 1, snap.CurrentIndex)

	require.NoError(t, h.c.ResetSession())
	snap = h.c.Snapshot()
	assert.Empty(t, snap.Queue)
	assert.Equal(t, queue.NoSelection, snap.CurrentIndex)
	assert.NotEqual(t, before, snap.SessionID)
}

func TestPublisherReceivesNowPlaying(t *testing.T) {
	h := newHarness(t, tr("a"))
	pub := &recordingPublisher{}
	h.c.AddPublisher(pub)

	h.playAndWait(t, 0)
	assert.Eventually(t, func() bool {
		np, ok := pub.last()
		return ok && np.State == "playing"
	}, waitTimeout, 5*time.Millisecond)

	np, _ := pub.last()
	assert.Equal(t, "a", np.TrackID)
	assert.Equal(t, "Title a", np.Title)
	assert.Equal(t, 1, np.QueueLength)
	assert.Equal(t, "none", np.Repeat)
	assert.True(t, np.HasTrack())
}

func TestSeek(t *testing.T) {
	tests := []struct {
		name string
		to   time.Duration
		want time.Duration
	}{
		{name: "within track", to: 42 * time.Second, want: 42 * time.Second},
		{name: "negative clamps to start", to: -5 * time.Second, want: 0},
		{name: "past end clamps to length", to: time.Hour, want: 3 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tr("a"))
			h.playAndWait(t, 0)

			require.NoError(t, h.c.Seek(tt.to))
			e := h.waitFor(t, EventSeeked)
			assert.Equal(t, StatePlaying, e.State)

			pos, length := h.c.Position()
			assert.Equal(t, tt.want, pos)
			assert.Equal(t, 3*time.Minute, length)

			snap := h.c.Snapshot()
			assert.Equal(t, tt.want, snap.Position)
			assert.Equal(t, 3*time.Minute, snap.Duration)
		})
	}
}

func TestSeekBy(t *testing.T) {
	h := newHarness(t, tr("a"))
	h.playAndWait(t, 0)

	require.NoError(t, h.c.Seek(30*time.Second))
	require.NoError(t, h.c.SeekBy(10*time.Second))
	require.NoError(t, h.c.SeekBy(-time.Minute))

	assert.Equal(t, []time.Duration{30 * time.Second, 40 * time.Second, 0}, h.device.seekLog())
}

func TestSeek_RequiresLoadedTrack(t *testing.T) {
	h := newHarness(t, tr("a"))
	assert.True(t, errors.Is(h.c.Seek(time.Second), ErrNotPlaying))
	assert.True(t, errors.Is(h.c.SeekBy(time.Second), ErrNotPlaying))

	pos, length := h.c.Position()
	assert.Zero(t, pos)
	assert.Zero(t, length)

	h.playAndWait(t, 0)
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.Seek(time.Second), "paused tracks can seek")

	require.NoError(t, h.c.Stop())
	assert.True(t, errors.Is(h.c.Seek(time.Second), ErrNotPlaying))

	h.c.Close()
	assert.True(t, errors.Is(h.c.Seek(time.Second), ErrClosed))
}

func TestSetVolume(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		wantErr error
	}{
		{name: "half", volume: 0.5},
		{name: "mute", volume: 0},
		{name: "full", volume: 1},
		{name: "too loud", volume: 1.01, wantErr: ErrInvalidVolume},
		{name: "negative", volume: -0.5, wantErr: ErrInvalidVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tr("a"))
			assert.Equal(t, 1.0, h.device.currentVolume(), "session volume applied on start")

			err := h.c.SetVolume(tt.volume)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, 1.0, h.c.Volume())
				return
			}
			require.NoError(t, err)
			h.waitFor(t, EventVolumeChanged)
			assert.Equal(t, tt.volume, h.c.Volume())
			assert.Equal(t, tt.volume, h.device.currentVolume())
			assert.Equal(t, tt.volume, h.c.Snapshot().Volume)
		})
	}
}

func TestSetVolume_DeviceErrorKeepsVolume(t *testing.T) {
	h := newHarness(t)
	h.device.mu.Lock()
	h.device.volumeErr = errors.New("mixer gone")
	h.device.mu.Unlock()

	require.Error(t, h.c.SetVolume(0.3))
	assert.Equal(t, 1.0, h.c.Volume())
}

func TestSetVolume_SurvivesReset(t *testing.T) {
	h := newHarness(t, tr("a"))
	require.NoError(t, h.c.SetVolume(0.4))
	require.NoError(t, h.c.ResetSession())
	assert.Equal(t, 0.4, h.c.Volume())
}

func TestNowPlaying_CarriesPositionAndVolume(t *testing.T) {
	h := newHarness(t, tr("a"))
	pub := &recordingPublisher{}
	h.c.AddPublisher(pub)
	h.playAndWait(t, 0)

	require.NoError(t, h.c.SetVolume(0.75))
	require.NoError(t, h.c.Seek(90*time.Second))

	assert.Eventually(t, func() bool {
		np, ok := pub.last()
		return ok && np.PositionSeconds == 90
	}, waitTimeout, 5*time.Millisecond)

	np, _ := pub.last()
	assert.Equal(t, 0.75, np.Volume)
	assert.Equal(t, 180.0, np.DurationSeconds)
}

func TestClose(t *testing.T) {
	h := &harness{device: newFakeDevice(), resolver: newFakeResolver()}
	h.c = NewController(h.device, h.resolver, nil)
	require.NoError(t, h.c.Enqueue(tr("a")))
	h.resolver.gate("a")
	require.NoError(t, h.c.PlayAt(0))

	h.c.Close()
	h.c.Close()

	for range h.c.Events() {
	}
	assert.True(t, errors.Is(h.c.PlayAt(0), ErrClosed))
	assert.True(t, errors.Is(h.c.Enqueue(tr("b")), ErrClosed))
}
