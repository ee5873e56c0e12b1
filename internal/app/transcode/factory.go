package transcode

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/infra/config"
)

// NewChainFromConfig creates a transcoder chain from configuration.
// An empty list yields an empty chain, which stores payloads as fetched.
func NewChainFromConfig(cfgs []config.TranscoderConfig) (*Chain, error) {
	var transcoders []Transcoder

	for i, tcfg := range cfgs {
		var t Transcoder
		var err error
		zlog.Debug().Msgf("creating transcoder: index=%d type=%s settings=%+v", i+1, tcfg.Type, tcfg.Settings)
		switch tcfg.Type {
		case "ffmpeg":
			t, err = NewFFmpeg(tcfg.Settings)

		case "passthrough":
			t = Passthrough{}

		default:
			return nil, errors.Newf("unsupported transcoder type: %s (transcoder index %d)", tcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create transcoder (index %d, type %s)", i, tcfg.Type)
		}

		transcoders = append(transcoders, t)
		zlog.Info().Msgf("registered transcoder: index=%d type=%s", i+1, tcfg.Type)
	}

	return NewChain(transcoders...), nil
}
