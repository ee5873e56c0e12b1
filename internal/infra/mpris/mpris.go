// Package mpris publishes the player on the D-Bus session bus as an MPRIS
// media player, so desktop media keys and widgets can drive it.
package mpris

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/app/playback"
)

const (
	BusName         = "org.mpris.MediaPlayer2.spotilite"
	objectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	noTrackPath     = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")
	trackPathPrefix = "/org/mpris/MediaPlayer2/spotilite/track/"

	positionInterval = time.Second
)

// Controls is the transport surface driven by media keys.
type Controls interface {
	Pause() error
	Resume() error
	TogglePause() error
	Next() error
	Previous() error
	Stop() error
	Seek(pos time.Duration) error
	SeekBy(offset time.Duration) error
	SetVolume(v float64) error
	Position() (pos, length time.Duration)
}

// Server owns the bus name and mirrors now playing into MPRIS properties.
// It implements playback.Publisher.
type Server struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	props   *prop.Properties
	trackID dbus.ObjectPath

	done     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
}

// Start connects to the session bus and exports the media player.
func Start(ctl Controls) (*Server, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to session bus")
	}

	s, err := export(conn, ctl)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "failed to request name %s", BusName)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, errors.Newf("name %s already taken", BusName)
	}

	s.trackPosition(ctl, positionInterval)
	zlog.Info().Msgf("mpris: exported %s", BusName)
	return s, nil
}

func export(conn *dbus.Conn, ctl Controls) (*Server, error) {
	s := &Server{conn: conn, trackID: noTrackPath}
	root := &rootObject{}
	player := &playerObject{ctl: ctl, current: s.currentTrack, seeked: s.seeked}

	if err := conn.Export(root, objectPath, rootInterface); err != nil {
		return nil, errors.Wrap(err, "failed to export root interface")
	}
	if err := conn.Export(player, objectPath, playerInterface); err != nil {
		return nil, errors.Wrap(err, "failed to export player interface")
	}

	props, err := prop.Export(conn, objectPath, initialProps(ctl))
	if err != nil {
		return nil, errors.Wrap(err, "failed to export properties")
	}
	s.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootInterface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(rootInterface),
			},
			{
				Name:       playerInterface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(playerInterface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, errors.Wrap(err, "failed to export introspection")
	}

	return s, nil
}

func initialProps(ctl Controls) prop.Map {
	readOnly := func(v any) *prop.Prop {
		return &prop.Prop{Value: v, Writable: false, Emit: prop.EmitTrue}
	}
	return prop.Map{
		rootInterface: {
			"CanQuit":             readOnly(false),
			"CanRaise":            readOnly(false),
			"HasTrackList":        readOnly(false),
			"Identity":            readOnly("Spotilite"),
			"SupportedUriSchemes": readOnly([]string{}),
			"SupportedMimeTypes":  readOnly([]string{"audio/mpeg"}),
		},
		playerInterface: {
			"PlaybackStatus": readOnly(playbackStatus(playback.StateIdle.String())),
			"LoopStatus":     readOnly("None"),
			"Shuffle":        readOnly(false),
			"Metadata":       readOnly(metadata(playback.NowPlaying{})),
			"Rate":           readOnly(1.0),
			"MinimumRate":    readOnly(1.0),
			"MaximumRate":    readOnly(1.0),
			"Volume": {
				Value:    1.0,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: volumeCallback(ctl),
			},
			"Position":       {Value: int64(0), Writable: false, Emit: prop.EmitFalse},
			"CanGoNext":      readOnly(false),
			"CanGoPrevious":  readOnly(false),
			"CanPlay":        readOnly(false),
			"CanPause":       readOnly(false),
			"CanSeek":        readOnly(true),
			"CanControl":     readOnly(true),
		},
	}
}

// Publish mirrors np into the player properties.
func (s *Server) Publish(np playback.NowPlaying) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackID = noTrackPath
	if np.HasTrack() {
		s.trackID = trackPath(np.TrackID)
	}
	if s.props == nil {
		return
	}
	for name, value := range playerProps(np) {
		s.props.SetMust(playerInterface, name, value)
	}
}

func (s *Server) currentTrack() dbus.ObjectPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackID
}

// seeked updates Position and emits the Seeked signal clients rely on to
// resync their progress bars.
func (s *Server) seeked(pos time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props == nil {
		return
	}
	s.props.SetMust(playerInterface, "Position", pos.Microseconds())
	if err := s.conn.Emit(objectPath, playerInterface+".Seeked", pos.Microseconds()); err != nil {
		zlog.Warn().Msgf("mpris: failed to emit Seeked: %v", err)
	}
}

func (s *Server) setPosition(pos time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props == nil {
		return
	}
	s.props.SetMust(playerInterface, "Position", pos.Microseconds())
}

// trackPosition refreshes Position every interval until Close. Position is
// never signalled, so clients poll it.
func (s *Server) trackPosition(ctl Controls, interval time.Duration) {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	done := s.done
	s.mu.Unlock()

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				pos, _ := ctl.Position()
				s.setPosition(pos)
			}
		}
	}()
}

// Close releases the bus name and the connection.
func (s *Server) Close() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		s.stopOnce.Do(func() { close(done) })
		s.loop.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		zlog.Warn().Msgf("mpris: failed to release name: %v", err)
	}
	err := s.conn.Close()
	s.conn = nil
	s.props = nil
	return err
}

func playerProps(np playback.NowPlaying) map[string]any {
	return map[string]any{
		"PlaybackStatus": playbackStatus(np.State),
		"LoopStatus":     loopStatus(np.Repeat),
		"Shuffle":        np.Shuffle,
		"Metadata":       metadata(np),
		"CanGoNext":      np.QueueLength > 0,
		"CanGoPrevious":  np.QueueLength > 0,
		"CanPlay":        np.QueueLength > 0,
		"CanPause":       np.HasTrack(),
		"Volume":         np.Volume,
		"Position":       int64(np.PositionSeconds * 1e6),
	}
}

// volumeCallback applies writes to the Volume property. MPRIS allows any
// double; values are clamped to the device range.
func volumeCallback(ctl Controls) func(*prop.Change) *dbus.Error {
	return func(c *prop.Change) *dbus.Error {
		v, ok := c.Value.(float64)
		if !ok {
			return prop.ErrInvalidArg
		}
		v = max(0, min(v, 1))
		if err := ctl.SetVolume(v); err != nil {
			zlog.Warn().Msgf("mpris: Volume write failed: %v", err)
			return dbus.MakeFailedError(err)
		}
		return nil
	}
}

func playbackStatus(state string) string {
	switch state {
	case playback.StatePlaying.String(), playback.StateLoading.String():
		return "Playing"
	case playback.StatePaused.String():
		return "Paused"
	default:
		return "Stopped"
	}
}

func loopStatus(repeat string) string {
	switch repeat {
	case "one":
		return "Track"
	case "all":
		return "Playlist"
	default:
		return "None"
	}
}

func metadata(np playback.NowPlaying) map[string]dbus.Variant {
	if !np.HasTrack() {
		return map[string]dbus.Variant{
			"mpris:trackid": dbus.MakeVariant(noTrackPath),
		}
	}

	md := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath(np.TrackID)),
		"xesam:title":   dbus.MakeVariant(np.Title),
		"xesam:artist":  dbus.MakeVariant([]string{np.Artist}),
		"xesam:album":   dbus.MakeVariant(np.Album),
	}
	if np.DurationSeconds > 0 {
		md["mpris:length"] = dbus.MakeVariant(int64(np.DurationSeconds * 1e6))
	}
	if np.CoverURL != "" {
		md["mpris:artUrl"] = dbus.MakeVariant(np.CoverURL)
	}
	return md
}

// trackPath builds an object path; ids are restricted to [A-Za-z0-9_].
func trackPath(id string) dbus.ObjectPath {
	var b strings.Builder
	b.WriteString(trackPathPrefix)
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return dbus.ObjectPath(b.String())
}

// rootObject implements org.mpris.MediaPlayer2.
type rootObject struct{}

func (rootObject) Raise() *dbus.Error { return nil }
func (rootObject) Quit() *dbus.Error  { return nil }

// playerObject implements org.mpris.MediaPlayer2.Player.
type playerObject struct {
	ctl     Controls
	current func() dbus.ObjectPath
	seeked  func(pos time.Duration)
}

func (p *playerObject) Play() *dbus.Error      { return p.call("Play", p.ctl.Resume) }
func (p *playerObject) Pause() *dbus.Error     { return p.call("Pause", p.ctl.Pause) }
func (p *playerObject) PlayPause() *dbus.Error { return p.call("PlayPause", p.ctl.TogglePause) }
func (p *playerObject) Next() *dbus.Error      { return p.call("Next", p.ctl.Next) }
func (p *playerObject) Previous() *dbus.Error  { return p.call("Previous", p.ctl.Previous) }
func (p *playerObject) Stop() *dbus.Error      { return p.call("Stop", p.ctl.Stop) }

// Seek moves the playhead by offset microseconds.
func (p *playerObject) Seek(offset int64) *dbus.Error {
	return p.call("Seek", func() error {
		if err := p.ctl.SeekBy(time.Duration(offset) * time.Microsecond); err != nil {
			return err
		}
		p.notifySeeked()
		return nil
	})
}

// SetPosition moves the playhead to position microseconds. Requests for a
// stale track id or a position outside the track are ignored.
func (p *playerObject) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	if p.current == nil || trackID != p.current() {
		zlog.Debug().Msgf("mpris: SetPosition ignored for stale track %s", trackID)
		return nil
	}
	pos := time.Duration(position) * time.Microsecond
	if _, length := p.ctl.Position(); pos < 0 || (length > 0 && pos > length) {
		zlog.Debug().Msgf("mpris: SetPosition ignored, out of range: %s", pos)
		return nil
	}
	return p.call("SetPosition", func() error {
		if err := p.ctl.Seek(pos); err != nil {
			return err
		}
		p.notifySeeked()
		return nil
	})
}

func (p *playerObject) notifySeeked() {
	if p.seeked == nil {
		return
	}
	pos, _ := p.ctl.Position()
	p.seeked(pos)
}

// call runs fn. Transport state errors are no-ops for media keys.
func (p *playerObject) call(method string, fn func() error) *dbus.Error {
	err := fn()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused),
		errors.Is(err, playback.ErrQueueEmpty),
		errors.Is(err, playback.ErrNoNext),
		errors.Is(err, playback.ErrNoPrevious):
		zlog.Debug().Msgf("mpris: %s ignored: %v", method, err)
		return nil
	default:
		zlog.Warn().Msgf("mpris: %s failed: %v", method, err)
		return dbus.MakeFailedError(err)
	}
}
