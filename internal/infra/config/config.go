// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Player  PlayerConfig  `yaml:"player"`
}

// CatalogConfig represents the catalog backend configuration.
type CatalogConfig struct {
	Addr              string `yaml:"addr" default:":3000"`
	MusicDir          string `yaml:"music_dir" default:"musicas" validate:"required"`
	CoverDir          string `yaml:"cover_dir" default:"covers" validate:"required"`
	PublicURL         string `yaml:"public_url" default:"http://localhost:3000" validate:"required,url"`
	RescanIntervalSec int    `yaml:"rescan_interval_sec" default:"30" validate:"gte=0"`
	ScanWorkers       int    `yaml:"scan_workers" default:"4" validate:"gte=1,lte=64"`
}

// PlayerConfig represents the player daemon configuration.
type PlayerConfig struct {
	Addr            string             `yaml:"addr" default:":3001"`
	CatalogURL      string             `yaml:"catalog_url" default:"http://localhost:3000" validate:"required,url"`
	ControlToken    string             `yaml:"control_token"`
	MediaSession    *bool              `yaml:"media_session" default:"true"`
	PrefetchWorkers int                `yaml:"prefetch_workers" default:"2" validate:"gte=1,lte=16"`
	Cache           CacheConfig        `yaml:"cache"`
	Fetch           FetchConfig        `yaml:"fetch"`
	Audio           AudioConfig        `yaml:"audio"`
	Transcoders     []TranscoderConfig `yaml:"transcoders" validate:"dive"`
}

// CacheConfig represents offline cache configuration.
type CacheConfig struct {
	Path    string `yaml:"path" default:"spotilite.db" validate:"required"`
	LimitMB int    `yaml:"limit_mb" default:"80" validate:"gte=1,lte=100000"`
}

// FetchConfig represents catalog fetch configuration.
type FetchConfig struct {
	Retries int `yaml:"retries" default:"2" validate:"gte=0,lte=10"`
}

// AudioConfig represents audio output configuration.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate" default:"44100" validate:"oneof=22050 32000 44100 48000"`
	BufferMs   int `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=2000"`
	// VolumePercent is the startup volume. Zero is replaced by the default.
	VolumePercent int `yaml:"volume_percent" default:"100" validate:"gte=0,lte=100"`
}

// TranscoderConfig represents a single transcoder in the chain.
type TranscoderConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=ffmpeg passthrough"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults. Environment variables take precedence
// over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case errors.Is(err, os.ErrNotExist):
		zlog.Info().Msgf("config file %s not found, using defaults", path)
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() error {
	if v := os.Getenv("SPOTILITE_CATALOG_URL"); v != "" {
		c.Player.CatalogURL = v
	}
	if v := os.Getenv("SPOTILITE_CONTROL_TOKEN"); v != "" {
		c.Player.ControlToken = v
	}
	if v := os.Getenv("SPOTILITE_MUSIC_DIR"); v != "" {
		c.Catalog.MusicDir = v
	}
	if v := os.Getenv("SPOTILITE_CACHE_LIMIT_MB"); v != "" {
		mb, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid SPOTILITE_CACHE_LIMIT_MB %q", v)
		}
		c.Player.Cache.LimitMB = mb
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// CacheLimitBytes returns the cache limit in bytes.
func (c *PlayerConfig) CacheLimitBytes() int64 {
	return int64(c.Cache.LimitMB) * 1024 * 1024
}

// MediaSessionEnabled reports whether the OS media session should be used.
func (c *PlayerConfig) MediaSessionEnabled() bool {
	return c.MediaSession == nil || *c.MediaSession
}

// RescanInterval returns the catalog rescan interval.
func (c *CatalogConfig) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalSec) * time.Second
}

// Volume returns the startup volume in [0, 1].
func (c *AudioConfig) Volume() float64 {
	return float64(c.VolumePercent) / 100
}

// AudioBuffer returns the audio output buffer length.
func (c *AudioConfig) AudioBuffer() time.Duration {
	return time.Duration(c.BufferMs) * time.Millisecond
}
