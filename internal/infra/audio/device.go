// Package audio plays MP3 payloads on the system speaker.
package audio

import (
	"bytes"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	zlog "github.com/rs/zerolog/log"
)

const resampleQuality = 4

// ErrNothingLoaded is returned by transport calls before a payload is played.
var ErrNothingLoaded = errors.New("no track loaded")

// ErrInvalidVolume is returned for volumes outside [0, 1].
var ErrInvalidVolume = errors.New("volume must be between 0 and 1")

// Output is the sink the device streams into.
type Output interface {
	Play(s ...beep.Streamer)
	Clear()
	Lock()
	Unlock()
}

// DecodeFunc decodes an MP3 stream.
type DecodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

// Config configures the audio device.
type Config struct {
	SampleRate int
	Buffer     time.Duration
}

// Option configures a Device.
type Option func(*Device)

// WithOutput replaces the system speaker. The speaker is not initialised.
func WithOutput(out Output) Option {
	return func(d *Device) {
		d.out = out
	}
}

// WithDecoder replaces the MP3 decoder.
func WithDecoder(decode DecodeFunc) Option {
	return func(d *Device) {
		d.decode = decode
	}
}

// Device implements playback.Device on top of beep.
type Device struct {
	mu     sync.Mutex
	out    Output
	decode DecodeFunc
	rate   beep.SampleRate

	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	gain   *effects.Volume
	volume float64
	gen    uint64
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

// New creates a device. Without WithOutput the system speaker is
// initialised once per process at cfg.SampleRate.
func New(cfg Config, opts ...Option) (*Device, error) {
	d := &Device{
		decode: mp3.Decode,
		rate:   beep.SampleRate(cfg.SampleRate),
		volume: 1,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.out == nil {
		speakerOnce.Do(func() {
			speakerErr = speaker.Init(d.rate, d.rate.N(cfg.Buffer))
		})
		if speakerErr != nil {
			return nil, errors.Wrap(speakerErr, "failed to initialize speaker")
		}
		d.out = speakerOutput{}
	}
	return d, nil
}

// Play decodes payload and starts it, replacing whatever was playing.
func (d *Device) Play(payload []byte, onEnd func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()

	stream, format, err := d.decode(io.NopCloser(bytes.NewReader(payload)))
	if err != nil {
		return errors.Wrap(err, "failed to decode payload")
	}
	d.stream = stream
	d.format = format
	d.startLocked(onEnd)

	zlog.Debug().Msgf("audio: playing: bytes=%d rate=%d channels=%d", len(payload), format.SampleRate, format.NumChannels)
	return nil
}

// Replay restarts the loaded payload from the beginning.
func (d *Device) Replay(onEnd func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return ErrNothingLoaded
	}

	d.gen++
	d.out.Clear()
	d.out.Lock()
	err := d.stream.Seek(0)
	d.out.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to rewind payload")
	}
	d.startLocked(onEnd)
	return nil
}

func (d *Device) Pause() error {
	return d.setPaused(true)
}

func (d *Device) Resume() error {
	return d.setPaused(false)
}

func (d *Device) setPaused(paused bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctrl == nil {
		return ErrNothingLoaded
	}
	d.out.Lock()
	d.ctrl.Paused = paused
	d.out.Unlock()
	return nil
}

// Seek moves the loaded payload to pos, clamped to its length.
func (d *Device) Seek(pos time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctrl == nil || d.stream == nil {
		return ErrNothingLoaded
	}
	n := d.format.SampleRate.N(pos)
	n = max(0, min(n, d.stream.Len()))

	d.out.Lock()
	err := d.stream.Seek(n)
	d.out.Unlock()
	if err != nil {
		return errors.Wrapf(err, "failed to seek to %s", pos)
	}
	return nil
}

// Position reports the playhead and the length of the loaded payload.
// Both are zero when nothing is loaded.
func (d *Device) Position() (pos, length time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil || d.format.SampleRate == 0 {
		return 0, 0
	}
	d.out.Lock()
	p, n := d.stream.Position(), d.stream.Len()
	d.out.Unlock()
	return d.format.SampleRate.D(p), d.format.SampleRate.D(n)
}

// SetVolume sets the linear output volume in [0, 1]. It applies to the
// current payload and every later one.
func (d *Device) SetVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errors.Wrapf(ErrInvalidVolume, "got %v", v)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
	if d.gain != nil {
		d.out.Lock()
		applyVolume(d.gain, v)
		d.out.Unlock()
	}
	return nil
}

// Volume returns the linear output volume.
func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// applyVolume maps a linear volume onto the base 2 gain of effects.Volume.
func applyVolume(g *effects.Volume, v float64) {
	g.Silent = v == 0
	if v > 0 {
		g.Volume = math.Log2(v)
	} else {
		g.Volume = 0
	}
}

// Stop silences the output and unloads the payload.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}

// Close is an alias of Stop.
func (d *Device) Close() error {
	return d.Stop()
}

func (d *Device) startLocked(onEnd func()) {
	var s beep.Streamer = d.stream
	if d.format.SampleRate != 0 && d.format.SampleRate != d.rate {
		s = beep.Resample(resampleQuality, d.format.SampleRate, d.rate, s)
	}

	d.gen++
	gen := d.gen
	d.ctrl = &beep.Ctrl{Streamer: s}
	d.gain = &effects.Volume{Streamer: d.ctrl, Base: 2}
	applyVolume(d.gain, d.volume)
	// The callback runs on the speaker goroutine with the speaker locked.
	d.out.Play(beep.Seq(d.gain, beep.Callback(func() {
		go d.finished(gen, onEnd)
	})))
}

func (d *Device) finished(gen uint64, onEnd func()) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.ctrl = nil
	d.gain = nil
	d.mu.Unlock()

	if onEnd != nil {
		onEnd()
	}
}

func (d *Device) stopLocked() {
	d.gen++
	d.out.Clear()
	d.ctrl = nil
	d.gain = nil
	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			zlog.Warn().Msgf("audio: failed to close stream: %v", err)
		}
		d.stream = nil
	}
}

type speakerOutput struct{}

func (speakerOutput) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerOutput) Clear()                  { speaker.Clear() }
func (speakerOutput) Lock()                   { speaker.Lock() }
func (speakerOutput) Unlock()                 { speaker.Unlock() }
