package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spotilite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Catalog.Addr)
	assert.Equal(t, "musicas", cfg.Catalog.MusicDir)
	assert.Equal(t, "covers", cfg.Catalog.CoverDir)
	assert.Equal(t, 80, cfg.Player.Cache.LimitMB)
	assert.Equal(t, int64(80*1024*1024), cfg.Player.CacheLimitBytes())
	assert.Equal(t, "http://localhost:3000", cfg.Player.CatalogURL)
	assert.Equal(t, 2, cfg.Player.Fetch.Retries)
	assert.Equal(t, 44100, cfg.Player.Audio.SampleRate)
	assert.Equal(t, 1.0, cfg.Player.Audio.Volume())
	assert.True(t, cfg.Player.MediaSessionEnabled())
	assert.Empty(t, cfg.Player.Transcoders)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
catalog:
  music_dir: /srv/music
  rescan_interval_sec: 5
player:
  media_session: false
  cache:
    limit_mb: 200
  transcoders:
    - type: ffmpeg
      settings:
        bitrate_kbps: 96
    - type: passthrough
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/music", cfg.Catalog.MusicDir)
	assert.Equal(t, 5, cfg.Catalog.RescanIntervalSec)
	assert.Equal(t, 200, cfg.Player.Cache.LimitMB)
	assert.False(t, cfg.Player.MediaSessionEnabled())
	require.Len(t, cfg.Player.Transcoders, 2)
	assert.Equal(t, "ffmpeg", cfg.Player.Transcoders[0].Type)
	assert.Equal(t, 96, cfg.Player.Transcoders[0].Settings["bitrate_kbps"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SPOTILITE_CACHE_LIMIT_MB", "12")
	t.Setenv("SPOTILITE_CATALOG_URL", "http://music.local:3000")
	t.Setenv("SPOTILITE_CONTROL_TOKEN", "secret")

	cfg, err := Load(writeConfig(t, "player:\n  cache:\n    limit_mb: 500\n"))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Player.Cache.LimitMB)
	assert.Equal(t, "http://music.local:3000", cfg.Player.CatalogURL)
	assert.Equal(t, "secret", cfg.Player.ControlToken)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("SPOTILITE_CACHE_LIMIT_MB", "lots")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPOTILITE_CACHE_LIMIT_MB")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "malformed yaml",
			content: "player: [",
			errMsg:  "failed to parse config file",
		},
		{
			name:    "unknown transcoder",
			content: "player:\n  transcoders:\n    - type: lame\n",
			errMsg:  "Type",
		},
		{
			name:    "cache limit too large",
			content: "player:\n  cache:\n    limit_mb: 1000000\n",
			errMsg:  "LimitMB",
		},
		{
			name:    "bad sample rate",
			content: "player:\n  audio:\n    sample_rate: 12345\n",
			errMsg:  "SampleRate",
		},
		{
			name:    "volume too high",
			content: "player:\n  audio:\n    volume_percent: 150\n",
			errMsg:  "VolumePercent",
		},
		{
			name:    "bad catalog url",
			content: "player:\n  catalog_url: not a url\n",
			errMsg:  "CatalogURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
