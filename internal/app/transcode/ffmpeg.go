package transcode

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegConfig represents the configuration for the ffmpeg transcoder.
type FFmpegConfig struct {
	BitrateKbps int    `yaml:"bitrate_kbps" mapstructure:"bitrate_kbps" default:"128" validate:"gte=32,lte=320"`
	Channels    int    `yaml:"channels" mapstructure:"channels" default:"1" validate:"oneof=1 2"`
	SampleRate  int    `yaml:"sample_rate" mapstructure:"sample_rate" validate:"omitempty,oneof=22050 32000 44100 48000"`
	BinaryPath  string `yaml:"binary_path" mapstructure:"binary_path"`
}

// FFmpeg re-encodes payloads to MP3 by piping them through ffmpeg.
type FFmpeg struct {
	config FFmpegConfig
}

// NewFFmpeg creates an ffmpeg transcoder from a settings map.
func NewFFmpeg(settings map[string]any) (*FFmpeg, error) {
	var config FFmpegConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode ffmpeg settings")
	}

	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "invalid ffmpeg settings")
	}

	return &FFmpeg{config: config}, nil
}

// Name returns the transcoder name.
func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// Config returns the effective configuration.
func (f *FFmpeg) Config() FFmpegConfig {
	return f.config
}

// Args returns the output arguments passed to ffmpeg.
func (f *FFmpeg) Args() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"map":      "0:a",
		"f":        "mp3",
		"ac":       f.config.Channels,
		"b:a":      fmt.Sprintf("%dk", f.config.BitrateKbps),
		"loglevel": "error",
	}
	if f.config.SampleRate > 0 {
		args["ar"] = f.config.SampleRate
	}
	return args
}

// Transcode pipes input through ffmpeg and returns the MP3 output.
// The ffmpeg process is killed if ctx is cancelled.
func (f *FFmpeg) Transcode(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, errors.New("empty input")
	}

	var stdout, stderr bytes.Buffer
	stream := ffmpeg.Input("pipe:0").
		Output("pipe:1", f.Args()).
		WithInput(bytes.NewReader(input)).
		WithOutput(&stdout, &stderr)
	if f.config.BinaryPath != "" {
		stream.SetFfmpegPath(f.config.BinaryPath)
	}

	cmd := stream.Compile()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, errors.Wrap(ctx.Err(), "ffmpeg cancelled")
	case err := <-done:
		if err != nil {
			return nil, errors.Wrapf(err, "ffmpeg failed: %s", strings.TrimSpace(stderr.String()))
		}
	}

	return stdout.Bytes(), nil
}
