// Package main provides the player daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/spotilite/internal/api/connect"
	"github.com/osa030/spotilite/internal/app/cache"
	"github.com/osa030/spotilite/internal/app/notification"
	"github.com/osa030/spotilite/internal/app/playback"
	"github.com/osa030/spotilite/internal/app/resolver"
	"github.com/osa030/spotilite/internal/app/transcode"
	"github.com/osa030/spotilite/internal/infra/audio"
	"github.com/osa030/spotilite/internal/infra/blobstore"
	"github.com/osa030/spotilite/internal/infra/catalog"
	"github.com/osa030/spotilite/internal/infra/config"
	"github.com/osa030/spotilite/internal/infra/logger"
	"github.com/osa030/spotilite/internal/infra/mpris"
)

var (
	app        = kingpin.New("spotilite-player", "Spotilite offline-capable player daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/spotilite.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()
)

func init() {
	app.Command("start", "Start the player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	closer, err := logger.Init(logger.FromFlags(*verbose, *logfile))
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run player (defer ensures resources are released)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	pc := cfg.Player

	store, err := blobstore.Open(pc.Cache.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open offline cache")
	}
	defer store.Close()

	governor := cache.NewGovernor(store, pc.CacheLimitBytes())
	// The budget may have shrunk since the last run.
	report, err := governor.Enforce(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to enforce cache limit")
	}
	zlog.Info().Msgf("Offline cache ready: path=%s usage=%d limit=%d evicted=%d",
		pc.Cache.Path, report.AfterBytes, governor.Limit(), len(report.Evicted))

	catalogClient, err := catalog.New(catalog.Config{
		BaseURL: pc.CatalogURL,
		Retries: pc.Fetch.Retries,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create catalog client")
	}

	chain, err := transcode.NewChainFromConfig(pc.Transcoders)
	if err != nil {
		return errors.Wrap(err, "invalid transcoder config")
	}

	res := resolver.New(store, governor, catalogClient,
		resolver.WithTranscoder(chain),
		resolver.WithPrefetchWorkers(pc.PrefetchWorkers),
	)

	device, err := audio.New(audio.Config{
		SampleRate: pc.Audio.SampleRate,
		Buffer:     pc.Audio.AudioBuffer(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to open audio device")
	}
	defer device.Close()

	watchers := notification.NewManager()
	defer watchers.Close()

	session := playback.NewSession()
	session.Playback.Volume = pc.Audio.Volume()
	zlog.Info().Msgf("Session started: id=%s", session.ID)
	controller := playback.NewController(device, res, session, watchers)
	defer controller.Close()
	go logEvents(controller.Events())

	if pc.MediaSessionEnabled() {
		media, err := mpris.Start(controller)
		if err != nil {
			zlog.Warn().Msgf("Media session unavailable: %v", err)
		} else {
			controller.AddPublisher(media)
			defer media.Close()
		}
	}

	service := apiconnect.NewPlayerService(apiconnect.Deps{
		Player:     controller,
		Catalog:    catalogClient,
		Cache:      store,
		Governor:   governor,
		Prefetcher: res,
		Watchers:   watchers,
	})

	mux := http.NewServeMux()
	mux.Handle(service.Handler(
		connect.WithInterceptors(apiconnect.NewControlTokenInterceptor(pc.ControlToken)),
	))
	if pc.ControlToken == "" {
		zlog.Warn().Msg("No control token configured, control service is open")
	}

	server := &http.Server{
		Addr:              pc.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting control server: addr=%s catalog=%s", pc.Addr, pc.CatalogURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close watch streams first so Shutdown does not wait on them
	service.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Player stopped")
	return nil
}

// logEvents logs controller events until the channel closes.
func logEvents(events <-chan playback.Event) {
	for e := range events {
		ev := zlog.Debug()
		if e.Type == playback.EventLoadFailed {
			ev = zlog.Warn()
		}
		title := ""
		if e.Track != nil {
			title = e.Track.Title
		}
		ev.Msgf("player: event=%s state=%s index=%d title=%q error=%v", e.Type, e.State, e.Index, title, e.Err)
	}
}
