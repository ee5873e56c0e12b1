// Package connect provides the Connect RPC control service of the player.
package connect

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/app/notification"
	"github.com/osa030/spotilite/internal/app/playback"
	"github.com/osa030/spotilite/internal/app/resolver"
	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/queue"
	"github.com/osa030/spotilite/internal/domain/track"
)

// ServiceName is the fully-qualified name of the player service.
const ServiceName = "spotilite.player.v1.PlayerService"

// Procedure paths of the player service.
const (
	StatusProcedure          = "/" + ServiceName + "/Status"
	SearchProcedure          = "/" + ServiceName + "/Search"
	EnqueueProcedure         = "/" + ServiceName + "/Enqueue"
	PlayNowProcedure         = "/" + ServiceName + "/PlayNow"
	PlayAtProcedure          = "/" + ServiceName + "/PlayAt"
	PauseProcedure           = "/" + ServiceName + "/Pause"
	ResumeProcedure          = "/" + ServiceName + "/Resume"
	NextProcedure            = "/" + ServiceName + "/Next"
	PreviousProcedure        = "/" + ServiceName + "/Previous"
	RemoveProcedure          = "/" + ServiceName + "/Remove"
	MoveProcedure            = "/" + ServiceName + "/Move"
	SetShuffleProcedure      = "/" + ServiceName + "/SetShuffle"
	SetRepeatProcedure       = "/" + ServiceName + "/SetRepeat"
	SeekProcedure            = "/" + ServiceName + "/Seek"
	SetVolumeProcedure       = "/" + ServiceName + "/SetVolume"
	ListCacheProcedure       = "/" + ServiceName + "/ListCache"
	RemoveCachedProcedure    = "/" + ServiceName + "/RemoveCached"
	ClearCacheProcedure      = "/" + ServiceName + "/ClearCache"
	PrefetchProcedure        = "/" + ServiceName + "/Prefetch"
	WatchNowPlayingProcedure = "/" + ServiceName + "/WatchNowPlaying"
)

// Player is the playback controller surface used by the service.
type Player interface {
	PlayAt(index int) error
	Enqueue(t track.Track) error
	EnqueueAndPlay(t track.Track) error
	PlayNow(t track.Track) error
	Pause() error
	Resume() error
	Next() error
	Previous() error
	RemoveAt(index int) (track.Track, error)
	MoveTo(from, to int) error
	SetShuffle(on bool) error
	SetRepeat(mode queue.RepeatMode) error
	CycleRepeat() (queue.RepeatMode, error)
	Seek(pos time.Duration) error
	SeekBy(offset time.Duration) error
	SetVolume(v float64) error
	Snapshot() playback.Snapshot
}

// Catalog looks tracks up on the catalog backend.
type Catalog interface {
	Search(ctx context.Context, query string) ([]track.Track, error)
	Track(ctx context.Context, id string) (track.Track, error)
}

// Cache reads the offline cache.
type Cache interface {
	Get(id string) (*track.CachedRecord, bool)
	List() []track.CachedRecord
}

// Governor manages the offline cache budget.
type Governor interface {
	CurrentUsage() int64
	Limit() int64
	Remove(id string) error
	Clear() error
}

// Prefetcher saves tracks for offline playback.
type Prefetcher interface {
	Prefetch(ctx context.Context, tracks []track.Track) []resolver.PrefetchResult
}

// Watchers hands out now playing subscriptions.
type Watchers interface {
	Subscribe(stream notification.Stream) (string, *playback.NowPlaying)
	Unsubscribe(subscriptionID string)
}

// Deps are the collaborators of PlayerService.
type Deps struct {
	Player     Player
	Catalog    Catalog
	Cache      Cache
	Governor   Governor
	Prefetcher Prefetcher
	Watchers   Watchers
}

// PlayerService implements the player control RPC.
type PlayerService struct {
	deps      Deps
	done      chan struct{}
	closeOnce sync.Once
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(deps Deps) *PlayerService {
	return &PlayerService{
		deps: deps,
		done: make(chan struct{}),
	}
}

// Close ends open WatchNowPlaying streams.
func (s *PlayerService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler returns the service path and its HTTP handler.
func (s *PlayerService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	unary(mux, StatusProcedure, s.Status, opts)
	unary(mux, SearchProcedure, s.Search, opts)
	unary(mux, EnqueueProcedure, s.Enqueue, opts)
	unary(mux, PlayNowProcedure, s.PlayNow, opts)
	unary(mux, PlayAtProcedure, s.PlayAt, opts)
	unary(mux, PauseProcedure, s.Pause, opts)
	unary(mux, ResumeProcedure, s.Resume, opts)
	unary(mux, NextProcedure, s.Next, opts)
	unary(mux, PreviousProcedure, s.Previous, opts)
	unary(mux, RemoveProcedure, s.Remove, opts)
	unary(mux, MoveProcedure, s.Move, opts)
	unary(mux, SetShuffleProcedure, s.SetShuffle, opts)
	unary(mux, SetRepeatProcedure, s.SetRepeat, opts)
	unary(mux, SeekProcedure, s.Seek, opts)
	unary(mux, SetVolumeProcedure, s.SetVolume, opts)
	unary(mux, ListCacheProcedure, s.ListCache, opts)
	unary(mux, RemoveCachedProcedure, s.RemoveCached, opts)
	unary(mux, ClearCacheProcedure, s.ClearCache, opts)
	unary(mux, PrefetchProcedure, s.Prefetch, opts)
	mux.Handle(WatchNowPlayingProcedure, connect.NewServerStreamHandler(
		WatchNowPlayingProcedure, s.WatchNowPlaying, opts...,
	))
	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](
	mux *http.ServeMux,
	procedure string,
	fn func(context.Context, *Req) (*Res, error),
	opts []connect.HandlerOption,
) {
	mux.Handle(procedure, connect.NewUnaryHandler(
		procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				zlog.Debug().Msgf("rpc: %s failed: %v", procedure, err)
				return nil, toConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}

// Status returns the playback state and cache usage.
func (s *PlayerService) Status(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	snap := s.deps.Player.Snapshot()
	res := &StatusResponse{
		SessionID:       snap.SessionID,
		State:           snap.State.String(),
		CurrentIndex:    snap.CurrentIndex,
		Queue:           toTracks(snap.Queue),
		Repeat:          snap.Repeat.String(),
		Shuffle:         snap.Shuffle,
		PositionSeconds: snap.Position.Seconds(),
		DurationSeconds: snap.Duration.Seconds(),
		Volume:          snap.Volume,
		CacheUsageBytes: s.deps.Governor.CurrentUsage(),
		CacheLimitBytes: s.deps.Governor.Limit(),
	}
	if snap.Current != nil {
		cur := toTrack(snap.Current)
		res.Current = &cur
		if res.DurationSeconds == 0 {
			res.DurationSeconds = cur.DurationSeconds
		}
	}
	return res, nil
}

// Search queries the catalog, falling back to the offline cache when the
// catalog is unreachable.
func (s *PlayerService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	tracks, err := s.deps.Catalog.Search(ctx, req.Query)
	if err == nil {
		return &SearchResponse{Tracks: toTracks(tracks)}, nil
	}
	if !errors.Is(err, failure.ErrFetchFailed) {
		return nil, err
	}

	zlog.Warn().Msgf("rpc: catalog unreachable, searching offline cache: %v", err)
	var cached []track.Track
	for _, rec := range s.deps.Cache.List() {
		t := rec.Track()
		if t.Matches(req.Query) {
			cached = append(cached, t)
		}
	}
	return &SearchResponse{Tracks: toTracks(cached), Offline: true}, nil
}

// Enqueue appends a track to the queue.
func (s *PlayerService) Enqueue(ctx context.Context, req *EnqueueRequest) (*StatusResponse, error) {
	t, err := s.lookup(ctx, req.TrackID)
	if err != nil {
		return nil, err
	}
	if req.Play {
		err = s.deps.Player.EnqueueAndPlay(t)
	} else {
		err = s.deps.Player.Enqueue(t)
	}
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, nil)
}

// PlayNow inserts a track at the head of the queue and plays it.
func (s *PlayerService) PlayNow(ctx context.Context, req *TrackRequest) (*StatusResponse, error) {
	t, err := s.lookup(ctx, req.TrackID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Player.PlayNow(t); err != nil {
		return nil, err
	}
	return s.Status(ctx, nil)
}

func (s *PlayerService) PlayAt(ctx context.Context, req *IndexRequest) (*StatusResponse, error) {
	return s.control(ctx, func() error { return s.deps.Player.PlayAt(req.Index) })
}

func (s *PlayerService) Pause(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return s.control(ctx, s.deps.Player.Pause)
}

func (s *PlayerService) Resume(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return s.control(ctx, s.deps.Player.Resume)
}

func (s *PlayerService) Next(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return s.control(ctx, s.deps.Player.Next)
}

func (s *PlayerService) Previous(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return s.control(ctx, s.deps.Player.Previous)
}

// Remove deletes a queue entry.
func (s *PlayerService) Remove(ctx context.Context, req *IndexRequest) (*RemoveResponse, error) {
	t, err := s.deps.Player.RemoveAt(req.Index)
	if err != nil {
		return nil, err
	}
	return &RemoveResponse{Removed: toTrack(&t)}, nil
}

func (s *PlayerService) Move(ctx context.Context, req *MoveRequest) (*StatusResponse, error) {
	return s.control(ctx, func() error { return s.deps.Player.MoveTo(req.From, req.To) })
}

func (s *PlayerService) SetShuffle(ctx context.Context, req *SetShuffleRequest) (*StatusResponse, error) {
	return s.control(ctx, func() error { return s.deps.Player.SetShuffle(req.Enabled) })
}

// SetRepeat sets or cycles the repeat mode.
func (s *PlayerService) SetRepeat(ctx context.Context, req *SetRepeatRequest) (*SetRepeatResponse, error) {
	if req.Cycle {
		mode, err := s.deps.Player.CycleRepeat()
		if err != nil {
			return nil, err
		}
		return &SetRepeatResponse{Mode: mode.String()}, nil
	}

	mode, err := queue.ParseRepeatMode(req.Mode)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidArgument)
	}
	if err := s.deps.Player.SetRepeat(mode); err != nil {
		return nil, err
	}
	return &SetRepeatResponse{Mode: mode.String()}, nil
}

// Seek moves the playhead of the current track, or by an offset when
// Relative is set.
func (s *PlayerService) Seek(ctx context.Context, req *SeekRequest) (*StatusResponse, error) {
	d := time.Duration(req.PositionSeconds * float64(time.Second))
	if req.Relative {
		return s.control(ctx, func() error { return s.deps.Player.SeekBy(d) })
	}
	if d < 0 {
		return nil, errors.Mark(errors.Newf("position %v is negative", req.PositionSeconds), ErrInvalidArgument)
	}
	return s.control(ctx, func() error { return s.deps.Player.Seek(d) })
}

// SetVolume sets the linear output volume in [0, 1].
func (s *PlayerService) SetVolume(ctx context.Context, req *SetVolumeRequest) (*StatusResponse, error) {
	return s.control(ctx, func() error { return s.deps.Player.SetVolume(req.Volume) })
}

// ListCache lists the offline cache, most recently used first.
func (s *PlayerService) ListCache(ctx context.Context, _ *Empty) (*ListCacheResponse, error) {
	records := s.deps.Cache.List()
	slices.SortFunc(records, func(a, b track.CachedRecord) int {
		if c := cmp.Compare(b.LastUsedEpochMs, a.LastUsedEpochMs); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	res := &ListCacheResponse{
		Records:         make([]CachedTrack, 0, len(records)),
		CacheUsageBytes: s.deps.Governor.CurrentUsage(),
		CacheLimitBytes: s.deps.Governor.Limit(),
	}
	for i := range records {
		res.Records = append(res.Records, toCachedTrack(&records[i]))
	}
	return res, nil
}

// RemoveCached deletes one record from the offline cache.
func (s *PlayerService) RemoveCached(ctx context.Context, req *TrackRequest) (*ListCacheResponse, error) {
	if _, ok := s.deps.Cache.Get(req.TrackID); !ok {
		return nil, errors.Wrapf(ErrNotCached, "track %s", req.TrackID)
	}
	if err := s.deps.Governor.Remove(req.TrackID); err != nil {
		return nil, err
	}
	return s.ListCache(ctx, nil)
}

// ClearCache deletes every record from the offline cache.
func (s *PlayerService) ClearCache(ctx context.Context, _ *Empty) (*ListCacheResponse, error) {
	if err := s.deps.Governor.Clear(); err != nil {
		return nil, err
	}
	return s.ListCache(ctx, nil)
}

// Prefetch saves tracks for offline playback. Each id gets its own result;
// lookup and fetch failures never abort the batch.
func (s *PlayerService) Prefetch(ctx context.Context, req *PrefetchRequest) (*PrefetchResponse, error) {
	var (
		tracks  []track.Track
		results []PrefetchResult
		slots   []int
	)
	if len(req.TrackIDs) == 0 {
		tracks = s.deps.Player.Snapshot().Queue
		results = make([]PrefetchResult, len(tracks))
		for i := range tracks {
			slots = append(slots, i)
		}
	} else {
		results = make([]PrefetchResult, len(req.TrackIDs))
		for i, id := range req.TrackIDs {
			t, err := s.lookup(ctx, id)
			if err != nil {
				results[i] = PrefetchResult{TrackID: id, Error: err.Error()}
				continue
			}
			tracks = append(tracks, t)
			slots = append(slots, i)
		}
	}

	for _, r := range s.deps.Prefetcher.Prefetch(ctx, tracks) {
		out := PrefetchResult{
			TrackID:   r.TrackID,
			Cached:    r.Err == nil,
			SizeBytes: int64(r.SizeBytes),
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		results[slots[r.Index]] = out
	}
	return &PrefetchResponse{Results: results}, nil
}

// WatchNowPlaying streams the now playing descriptor, starting with the
// current one, until the client goes away or the service closes.
func (s *PlayerService) WatchNowPlaying(
	ctx context.Context,
	_ *connect.Request[Empty],
	stream *connect.ServerStream[NowPlaying],
) error {
	adapter := &nowPlayingStreamAdapter{stream: stream}

	adapter.mu.Lock()
	subscriptionID, latest := s.deps.Watchers.Subscribe(adapter)
	defer s.deps.Watchers.Unsubscribe(subscriptionID)
	if latest == nil {
		np := playback.NewNowPlaying(s.deps.Player.Snapshot())
		latest = &np
	}
	err := stream.Send(latest)
	adapter.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

// lookup finds a track on the catalog, or in the offline cache when the
// catalog is unreachable.
func (s *PlayerService) lookup(ctx context.Context, id string) (track.Track, error) {
	if id == "" {
		return track.Track{}, errors.Mark(errors.New("track id is required"), ErrInvalidArgument)
	}
	t, err := s.deps.Catalog.Track(ctx, id)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, failure.ErrFetchFailed) {
		if rec, ok := s.deps.Cache.Get(id); ok {
			zlog.Info().Msgf("rpc: catalog unreachable, using cached track: id=%s", id)
			return rec.Track(), nil
		}
	}
	return track.Track{}, err
}

func (s *PlayerService) control(ctx context.Context, fn func() error) (*StatusResponse, error) {
	if err := fn(); err != nil {
		return nil, err
	}
	return s.Status(ctx, nil)
}

// nowPlayingStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized; the stream is not safe for concurrent use.
type nowPlayingStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[NowPlaying]
}

func (a *nowPlayingStreamAdapter) Send(np *playback.NowPlaying) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(np)
}
