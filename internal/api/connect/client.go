package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the player service.
type Client struct {
	status          *connect.Client[Empty, StatusResponse]
	search          *connect.Client[SearchRequest, SearchResponse]
	enqueue         *connect.Client[EnqueueRequest, StatusResponse]
	playNow         *connect.Client[TrackRequest, StatusResponse]
	playAt          *connect.Client[IndexRequest, StatusResponse]
	pause           *connect.Client[Empty, StatusResponse]
	resume          *connect.Client[Empty, StatusResponse]
	next            *connect.Client[Empty, StatusResponse]
	previous        *connect.Client[Empty, StatusResponse]
	remove          *connect.Client[IndexRequest, RemoveResponse]
	move            *connect.Client[MoveRequest, StatusResponse]
	setShuffle      *connect.Client[SetShuffleRequest, StatusResponse]
	setRepeat       *connect.Client[SetRepeatRequest, SetRepeatResponse]
	seek            *connect.Client[SeekRequest, StatusResponse]
	setVolume       *connect.Client[SetVolumeRequest, StatusResponse]
	listCache       *connect.Client[Empty, ListCacheResponse]
	removeCached    *connect.Client[TrackRequest, ListCacheResponse]
	clearCache      *connect.Client[Empty, ListCacheResponse]
	prefetch        *connect.Client[PrefetchRequest, PrefetchResponse]
	watchNowPlaying *connect.Client[Empty, NowPlaying]
}

// NewClient creates a client for the player service at baseURL. A non-empty
// token is sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewControlTokenSender(token)),
	}, opts...)

	return &Client{
		status:          connect.NewClient[Empty, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		search:          connect.NewClient[SearchRequest, SearchResponse](httpClient, baseURL+SearchProcedure, opts...),
		enqueue:         connect.NewClient[EnqueueRequest, StatusResponse](httpClient, baseURL+EnqueueProcedure, opts...),
		playNow:         connect.NewClient[TrackRequest, StatusResponse](httpClient, baseURL+PlayNowProcedure, opts...),
		playAt:          connect.NewClient[IndexRequest, StatusResponse](httpClient, baseURL+PlayAtProcedure, opts...),
		pause:           connect.NewClient[Empty, StatusResponse](httpClient, baseURL+PauseProcedure, opts...),
		resume:          connect.NewClient[Empty, StatusResponse](httpClient, baseURL+ResumeProcedure, opts...),
		next:            connect.NewClient[Empty, StatusResponse](httpClient, baseURL+NextProcedure, opts...),
		previous:        connect.NewClient[Empty, StatusResponse](httpClient, baseURL+PreviousProcedure, opts...),
		remove:          connect.NewClient[IndexRequest, RemoveResponse](httpClient, baseURL+RemoveProcedure, opts...),
		move:            connect.NewClient[MoveRequest, StatusResponse](httpClient, baseURL+MoveProcedure, opts...),
		setShuffle:      connect.NewClient[SetShuffleRequest, StatusResponse](httpClient, baseURL+SetShuffleProcedure, opts...),
		setRepeat:       connect.NewClient[SetRepeatRequest, SetRepeatResponse](httpClient, baseURL+SetRepeatProcedure, opts...),
		seek:            connect.NewClient[SeekRequest, StatusResponse](httpClient, baseURL+SeekProcedure, opts...),
		setVolume:       connect.NewClient[SetVolumeRequest, StatusResponse](httpClient, baseURL+SetVolumeProcedure, opts...),
		listCache:       connect.NewClient[Empty, ListCacheResponse](httpClient, baseURL+ListCacheProcedure, opts...),
		removeCached:    connect.NewClient[TrackRequest, ListCacheResponse](httpClient, baseURL+RemoveCachedProcedure, opts...),
		clearCache:      connect.NewClient[Empty, ListCacheResponse](httpClient, baseURL+ClearCacheProcedure, opts...),
		prefetch:        connect.NewClient[PrefetchRequest, PrefetchResponse](httpClient, baseURL+PrefetchProcedure, opts...),
		watchNowPlaying: connect.NewClient[Empty, NowPlaying](httpClient, baseURL+WatchNowPlayingProcedure, opts...),
	}
}

// NewDefaultClient creates a client using http.DefaultClient.
func NewDefaultClient(baseURL, token string) *Client {
	return NewClient(http.DefaultClient, baseURL, token)
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.status, &Empty{})
}

func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	return call(ctx, c.search, &SearchRequest{Query: query})
}

func (c *Client) Enqueue(ctx context.Context, trackID string, play bool) (*StatusResponse, error) {
	return call(ctx, c.enqueue, &EnqueueRequest{TrackID: trackID, Play: play})
}

func (c *Client) PlayNow(ctx context.Context, trackID string) (*StatusResponse, error) {
	return call(ctx, c.playNow, &TrackRequest{TrackID: trackID})
}

func (c *Client) PlayAt(ctx context.Context, index int) (*StatusResponse, error) {
	return call(ctx, c.playAt, &IndexRequest{Index: index})
}

func (c *Client) Pause(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.pause, &Empty{})
}

func (c *Client) Resume(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.resume, &Empty{})
}

func (c *Client) Next(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.next, &Empty{})
}

func (c *Client) Previous(ctx context.Context) (*StatusResponse, error) {
	return call(ctx, c.previous, &Empty{})
}

func (c *Client) Remove(ctx context.Context, index int) (*RemoveResponse, error) {
	return call(ctx, c.remove, &IndexRequest{Index: index})
}

func (c *Client) Move(ctx context.Context, from, to int) (*StatusResponse, error) {
	return call(ctx, c.move, &MoveRequest{From: from, To: to})
}

func (c *Client) SetShuffle(ctx context.Context, enabled bool) (*StatusResponse, error) {
	return call(ctx, c.setShuffle, &SetShuffleRequest{Enabled: enabled})
}

// SetRepeat sets mode. An empty mode advances the repeat cycle.
func (c *Client) SetRepeat(ctx context.Context, mode string) (*SetRepeatResponse, error) {
	return call(ctx, c.setRepeat, &SetRepeatRequest{Mode: mode, Cycle: mode == ""})
}

// Seek moves the playhead to seconds, or by seconds when relative is set.
func (c *Client) Seek(ctx context.Context, seconds float64, relative bool) (*StatusResponse, error) {
	return call(ctx, c.seek, &SeekRequest{PositionSeconds: seconds, Relative: relative})
}

func (c *Client) SetVolume(ctx context.Context, volume float64) (*StatusResponse, error) {
	return call(ctx, c.setVolume, &SetVolumeRequest{Volume: volume})
}

func (c *Client) ListCache(ctx context.Context) (*ListCacheResponse, error) {
	return call(ctx, c.listCache, &Empty{})
}

func (c *Client) RemoveCached(ctx context.Context, trackID string) (*ListCacheResponse, error) {
	return call(ctx, c.removeCached, &TrackRequest{TrackID: trackID})
}

func (c *Client) ClearCache(ctx context.Context) (*ListCacheResponse, error) {
	return call(ctx, c.clearCache, &Empty{})
}

func (c *Client) Prefetch(ctx context.Context, trackIDs []string) (*PrefetchResponse, error) {
	return call(ctx, c.prefetch, &PrefetchRequest{TrackIDs: trackIDs})
}

// WatchNowPlaying calls fn for every descriptor until ctx is done, the
// stream ends, or fn returns an error.
func (c *Client) WatchNowPlaying(ctx context.Context, fn func(*NowPlaying) error) error {
	stream, err := c.watchNowPlaying.CallServerStream(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
