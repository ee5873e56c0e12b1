// Package main provides the catalog backend entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/api/rest"
	"github.com/osa030/spotilite/internal/app/library"
	"github.com/osa030/spotilite/internal/infra/config"
	"github.com/osa030/spotilite/internal/infra/logger"
	"github.com/osa030/spotilite/internal/infra/metadata"
)

var (
	app        = kingpin.New("spotilite-catalog", "Spotilite catalog backend")
	configPath = app.Flag("config", "Path to config file").Default("config/spotilite.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// list command
	listCmd = app.Command("list", "Scan the music directory, print the catalog and exit")
)

func init() {
	app.Command("start", "Start the catalog server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

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

	lib := library.New(library.Config{
		MusicDir:       cfg.Catalog.MusicDir,
		CoverDir:       cfg.Catalog.CoverDir,
		PublicURL:      cfg.Catalog.PublicURL,
		Workers:        cfg.Catalog.ScanWorkers,
		RescanInterval: cfg.Catalog.RescanInterval(),
	}, metadata.NewExtractor())

	if command == listCmd.FullCommand() {
		if err := printCatalog(lib); err != nil {
			zlog.Error().Msgf("List failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, lib); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, lib *library.Library) error {
	ctx := context.Background()

	entries, err := lib.Scan(ctx)
	if err != nil {
		return errors.Wrap(err, "initial scan failed")
	}
	zlog.Info().Msgf("Catalog scanned: tracks=%d dir=%s", len(entries), cfg.Catalog.MusicDir)

	if err := os.MkdirAll(cfg.Catalog.CoverDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create cover dir %s", cfg.Catalog.CoverDir)
	}

	server := &http.Server{
		Addr:              cfg.Catalog.Addr,
		Handler:           rest.NewCatalogHandler(lib, cfg.Catalog.CoverDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting catalog server: addr=%s public_url=%s", cfg.Catalog.Addr, cfg.Catalog.PublicURL)
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
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Catalog server stopped")
	return nil
}

// printCatalog prints the scanned catalog.
func printCatalog(lib *library.Library) error {
	entries, err := lib.Scan(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Catalog (%d tracks):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %4d  %-40s %-25s %-25s %6.1fs\n", e.ID, e.Title, e.Artist, e.Album, e.DurationSeconds)
	}
	return nil
}
