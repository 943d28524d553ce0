// Package main provides the Harmonia server entry point.
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
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/20Josy07/harmonia/internal/api/rest"
	"github.com/20Josy07/harmonia/internal/app/audio"
	"github.com/20Josy07/harmonia/internal/app/library"
	"github.com/20Josy07/harmonia/internal/app/lyricsvc"
	"github.com/20Josy07/harmonia/internal/app/notify"
	"github.com/20Josy07/harmonia/internal/app/player"
	"github.com/20Josy07/harmonia/internal/app/poller"
	"github.com/20Josy07/harmonia/internal/infra/config"
	"github.com/20Josy07/harmonia/internal/infra/logger"
	"github.com/20Josy07/harmonia/internal/infra/spotify"
	"github.com/20Josy07/harmonia/internal/infra/token"
)

var (
	app        = kingpin.New("harmonia-server", "Harmonia playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/harmonia.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	tokenPath, err := cfg.TokenPath()
	if err != nil {
		return err
	}
	store := token.NewStore(tokenPath)

	// Spotify is optional; without credentials the player runs local-only.
	var (
		remote   player.RemoteController
		spClient *spotify.Client
	)
	if cfg.SpotifyEnabled() {
		refresher := token.NewRefresher(store, token.RefresherConfig{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
		})
		spClient = spotify.New(refresher)
		remote = spClient
	} else {
		zlog.Info().Msg("Spotify credentials not configured, running local-only")
	}

	engine, err := audio.NewBeepEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	orch := player.New(player.Config{
		RestartThreshold:  time.Duration(cfg.Player.RestartThresholdSec) * time.Second,
		CommandSettle:     time.Duration(cfg.Player.CommandSettleMs) * time.Millisecond,
		DisableConceptual: cfg.Player.DisableConceptual,
		InitialVolume:     cfg.Player.InitialVolume,
	}, engine, remote)
	orch.Run()
	defer orch.Close()

	if spClient != nil {
		spClient.OnAuthLost(orch.HandleRemoteFailure)
	}

	lib, err := library.Load(cfg.Library.Manifest, cfg.Library.MusicDir)
	if err != nil {
		return err
	}

	provider, err := lyricsvc.NewProvider(cfg.Lyrics.Provider, cfg.Lyrics.Settings)
	if err != nil {
		return err
	}
	lyricsSvc := lyricsvc.NewService(provider)

	hub := notify.NewHub()
	defer hub.Close()

	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	go func() {
		for {
			select {
			case <-bridgeCtx.Done():
				return
			case ev := <-orch.Events():
				hub.Broadcast(ev)
			}
		}
	}()

	pol := poller.New(poller.Config{
		Interval:          time.Duration(cfg.Player.PollIntervalMs) * time.Millisecond,
		ImmersiveInterval: time.Duration(cfg.Player.ImmersivePollIntervalMs) * time.Millisecond,
	}, spClient, orch)
	if spClient != nil {
		pol.Run()
		defer pol.Close()

		// Resume the remote session when a persisted token exists.
		if tok, err := store.Load(); err == nil && tok != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := orch.Connect(ctx); err != nil {
					zlog.Warn().Msgf("Startup connect failed: %v", err)
				}
			}()
		}
	}

	handler := rest.NewHandler(orch, lib, lyricsSvc, store, hub, pol)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
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
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}
