package transcode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/infra/config"
)

type fakeTranscoder struct {
	name  string
	out   []byte
	err   error
	calls int
}

func (f *fakeTranscoder) Name() string { return f.name }

func (f *fakeTranscoder) Transcode(_ context.Context, _ []byte) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

func TestChain_Transcode(t *testing.T) {
	ctx := context.Background()
	input := []byte("original")

	t.Run("empty chain returns input", func(t *testing.T) {
		out, err := NewChain().Transcode(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, input, out)
	})

	t.Run("first success wins", func(t *testing.T) {
		first := &fakeTranscoder{name: "a", out: []byte("A")}
		second := &fakeTranscoder{name: "b", out: []byte("B")}

		out, err := NewChain(first, second).Transcode(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, []byte("A"), out)
		assert.Equal(t, 0, second.calls)
	})

	t.Run("falls through failures", func(t *testing.T) {
		first := &fakeTranscoder{name: "a", err: errors.New("boom")}
		empty := &fakeTranscoder{name: "b"}
		third := &fakeTranscoder{name: "c", out: []byte("C")}

		out, err := NewChain(first, empty, third).Transcode(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, []byte("C"), out)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, empty.calls)
	})

	t.Run("all fail is marked", func(t *testing.T) {
		first := &fakeTranscoder{name: "a", err: errors.New("boom")}

		_, err := NewChain(first).Transcode(ctx, input)
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrTranscodeFailed))
	})
}

func TestPassthrough(t *testing.T) {
	out, err := Passthrough{}.Transcode(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
}

func TestNewFFmpeg(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     FFmpegConfig
		wantErr  bool
	}{
		{
			name:     "defaults",
			settings: nil,
			want:     FFmpegConfig{BitrateKbps: 128, Channels: 1},
		},
		{
			name:     "explicit values",
			settings: map[string]any{"bitrate_kbps": 96, "channels": 2, "sample_rate": 22050},
			want:     FFmpegConfig{BitrateKbps: 96, Channels: 2, SampleRate: 22050},
		},
		{
			name:     "weakly typed",
			settings: map[string]any{"bitrate_kbps": "64"},
			want:     FFmpegConfig{BitrateKbps: 64, Channels: 1},
		},
		{
			name:     "bitrate out of range",
			settings: map[string]any{"bitrate_kbps": 8},
			wantErr:  true,
		},
		{
			name:     "bad channels",
			settings: map[string]any{"channels": 6},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFFmpeg(tt.settings)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Config())
		})
	}
}

func TestFFmpeg_Args(t *testing.T) {
	f, err := NewFFmpeg(map[string]any{"bitrate_kbps": 96, "sample_rate": 32000})
	require.NoError(t, err)

	args := f.Args()
	assert.Equal(t, "mp3", args["f"])
	assert.Equal(t, "96k", args["b:a"])
	assert.Equal(t, 1, args["ac"])
	assert.Equal(t, 32000, args["ar"])
}

func TestFFmpeg_TranscodeErrors(t *testing.T) {
	f, err := NewFFmpeg(map[string]any{"binary_path": filepath.Join(t.TempDir(), "no-ffmpeg")})
	require.NoError(t, err)

	_, err = f.Transcode(context.Background(), nil)
	require.Error(t, err)

	_, err = f.Transcode(context.Background(), []byte("audio"))
	require.Error(t, err)
}

func TestNewChainFromConfig(t *testing.T) {
	chain, err := NewChainFromConfig([]config.TranscoderConfig{
		{Type: "ffmpeg", Settings: map[string]any{"bitrate_kbps": 128}},
		{Type: "passthrough"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())

	chain, err = NewChainFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, chain.Len())

	_, err = NewChainFromConfig([]config.TranscoderConfig{{Type: "lame"}})
	require.Error(t, err)

	_, err = NewChainFromConfig([]config.TranscoderConfig{{Type: "ffmpeg", Settings: map[string]any{"channels": 9}}})
	require.Error(t, err)
}
