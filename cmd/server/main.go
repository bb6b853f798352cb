// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/19player/internal/api/connect"
	"github.com/osa030/19player/internal/app/filter"
	"github.com/osa030/19player/internal/app/session"
	"github.com/osa030/19player/internal/domain/track"
	"github.com/osa030/19player/internal/infra/audio"
	"github.com/osa030/19player/internal/infra/config"
	"github.com/osa030/19player/internal/infra/lastfm"
	"github.com/osa030/19player/internal/infra/logger"
	"github.com/osa030/19player/internal/infra/spotify"
	"github.com/osa030/19player/internal/infra/store"
)

var (
	app        = kingpin.New("19player-server", "19player playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

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
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("server: loading config: path=%s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("server: failed to load config: %v", err)
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("server: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sessionMgr, err := session.NewManager(cfg, deps)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	mux := http.NewServeMux()
	path, handler := apiconnect.NewPlayerServiceHandler(
		apiconnect.NewPlayerService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)),
	)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("server: listening: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Give the listener a moment before running hooks
	time.Sleep(100 * time.Millisecond)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("server: received signal: signal=%s", sig)
	case <-sessionMgr.Done():
		zlog.Info().Msg("server: session ended, shutting down")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Close the session first so that notification streams end
	if err := sessionMgr.Close(); err != nil {
		zlog.Error().Err(err).Msg("server: failed to close session")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("server: failed to shutdown http server")
	}

	zlog.Info().Msg("server: stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// buildDeps creates the devices, store and catalog clients of the session.
// The returned cleanup releases whatever was opened.
func buildDeps(ctx context.Context, cfg *config.Config) (session.Deps, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				zlog.Warn().Err(err).Msg("server: cleanup failed")
			}
		}
	}
	fail := func(err error, msg string) (session.Deps, func(), error) {
		cleanup()
		return session.Deps{}, func() {}, errors.Wrap(err, msg)
	}

	var deps session.Deps

	// Local device
	sink, err := audio.OpenSink(cfg.Devices.Local.Sink)
	if err != nil {
		return fail(err, "failed to open audio sink")
	}
	closers = append(closers, sink)
	deps.Backends = append(deps.Backends, audio.NewLocalBackend(audio.Config{
		Name:    cfg.Devices.Local.Name,
		Sink:    sink,
		Tick:    cfg.Devices.Local.Tick(),
		Fetcher: audio.NewFetcher(cfg.Devices.Local.FetchTimeout()),
		Decode:  audio.DecodeMP3,
	}))

	// Spotify catalog and remote device
	if cfg.Spotify.Enabled() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fail(err, "failed to create Spotify client")
		}
		deps.Catalog = spotifyClient

		if dev := cfg.Devices.Spotify; dev.Enabled() {
			deps.Backends = append(deps.Backends, spotify.NewRemoteBackend(spotifyClient.Player(), spotify.RemoteConfig{
				Name:              dev.Name,
				DeviceName:        dev.DeviceName,
				PollInterval:      dev.PollInterval(),
				RequestsPerSecond: dev.RequestsPerSecond,
			}))
			zlog.Info().Msgf("server: remote device configured: name=%s device=%s", dev.Name, dev.DeviceName)
		}
	} else {
		zlog.Info().Msg("server: spotify not configured, search and playlist import disabled")
	}

	// Metadata enrichment
	if cfg.LastFM.Enabled() {
		lastfmClient, err := lastfm.New(lastfm.Config{
			APIKey:    cfg.LastFM.APIKey,
			CacheSize: cfg.LastFM.CacheSize,
			Timeout:   time.Duration(cfg.LastFM.TimeoutSec) * time.Second,
		})
		if err != nil {
			return fail(err, "failed to create Last.fm client")
		}
		deps.Enricher = lastfmClient
	}

	// History and playlists
	st, err := store.Open(cfg.Storage.Path, cfg.Storage.HistoryLimit)
	if err != nil {
		return fail(err, "failed to open store")
	}
	closers = append(closers, st)
	deps.Store = st

	return deps, cleanup, nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	env := filter.Env{CanPlay: func(t track.Track) bool { return true }}
	for _, name := range filter.Names() {
		f := registry[name](env)
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", name, f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("server: executing hooks: stage=%s count=%d", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("server: executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("server: failed to execute hook: %s", hook)
		}
	}
}
