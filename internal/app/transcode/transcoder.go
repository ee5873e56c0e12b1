// Package transcode provides the audio re-encode capability applied before caching.
package transcode

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/domain/failure"
)

// Transcoder re-encodes an audio payload.
type Transcoder interface {
	// Name returns the transcoder name (used in config).
	Name() string
	// Transcode returns the re-encoded payload.
	Transcode(ctx context.Context, input []byte) ([]byte, error)
}

// Chain tries transcoders in order until one succeeds.
type Chain struct {
	transcoders []Transcoder
}

// NewChain creates a chain from transcoders.
func NewChain(transcoders ...Transcoder) *Chain {
	return &Chain{transcoders: transcoders}
}

// Len returns the number of transcoders in the chain.
func (c *Chain) Len() int {
	return len(c.transcoders)
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "chain"
}

// Transcode runs the first transcoder that succeeds.
// An empty chain returns the input unchanged. When every transcoder fails the
// error is marked ErrTranscodeFailed.
func (c *Chain) Transcode(ctx context.Context, input []byte) ([]byte, error) {
	if len(c.transcoders) == 0 {
		return input, nil
	}

	var lastErr error
	for i, t := range c.transcoders {
		out, err := t.Transcode(ctx, input)
		if err == nil && len(out) > 0 {
			zlog.Debug().Msgf("transcode: %s succeeded: input=%d output=%d", t.Name(), len(input), len(out))
			return out, nil
		}
		if err == nil {
			err = errors.Newf("%s produced no output", t.Name())
		}
		lastErr = err
		zlog.Debug().Msgf("transcode: %s failed, trying next: index=%d total=%d error=%v",
			t.Name(), i+1, len(c.transcoders), err)
	}

	return nil, failure.TranscodeFailed(lastErr, "all %d transcoders failed", len(c.transcoders))
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

// Name returns the transcoder name.
func (Passthrough) Name() string {
	return "passthrough"
}

// Transcode returns input.
func (Passthrough) Transcode(_ context.Context, input []byte) ([]byte, error) {
	return input, nil
}
