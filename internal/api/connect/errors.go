package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/spotilite/internal/app/playback"
	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/queue"
	"github.com/osa030/spotilite/internal/infra/catalog"
)

var (
	// ErrNotCached is returned when a cached record is requested but absent.
	ErrNotCached = errors.New("track not cached")
	// ErrInvalidArgument marks malformed request fields.
	ErrInvalidArgument = errors.New("invalid argument")
)

// toConnectError maps domain errors to connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	return connect.NewError(codeOf(err), err)
}

func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, playback.ErrInvalidVolume):
		return connect.CodeInvalidArgument
	case errors.Is(err, queue.ErrIndexOutOfRange):
		return connect.CodeOutOfRange
	case errors.Is(err, catalog.ErrTrackNotFound), errors.Is(err, ErrNotCached):
		return connect.CodeNotFound
	case errors.Is(err, playback.ErrQueueEmpty),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused),
		errors.Is(err, playback.ErrNoNext),
		errors.Is(err, playback.ErrNoPrevious):
		return connect.CodeFailedPrecondition
	case errors.Is(err, playback.ErrClosed), errors.Is(err, failure.ErrFetchFailed):
		return connect.CodeUnavailable
	case errors.Is(err, failure.ErrStoreIOFailed):
		return connect.CodeInternal
	default:
		return connect.CodeUnknown
	}
}
