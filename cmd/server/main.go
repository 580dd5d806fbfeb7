// Package main is the entry point for the fablab calendar sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fablab-manager/calendar-sync/internal/api"
	"github.com/fablab-manager/calendar-sync/internal/backend"
	"github.com/fablab-manager/calendar-sync/internal/calendar"
	"github.com/fablab-manager/calendar-sync/internal/config"
	"github.com/fablab-manager/calendar-sync/internal/logger"
	"github.com/fablab-manager/calendar-sync/internal/storage"
	"github.com/fablab-manager/calendar-sync/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

const serviceName = "fablab-calendar-sync"

var (
	addrFlag    string
	dataDirFlag string
	forceFlag   bool

	cfg *config.Config
	log zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "calendar-sync",
		Short:         "Keeps the manager calendar's formation cache in sync with the backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "HTTP server address (overrides FABLAB_CALENDAR_HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data", "", "Data directory for the SQLite cache (overrides FABLAB_CALENDAR_DATA_DIR)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the periodic refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle against the backend and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd.Context(), forceFlag)
		},
	}
	refreshCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Bypass the cache TTL")

	// Used by the container HEALTHCHECK.
	healthCmd := &cobra.Command{
		Use:   "health-check",
		Short: "Check the health endpoint of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthCheck(healthURL(cfg.HTTPAddr))
		},
	}

	rootCmd.AddCommand(serveCmd, refreshCmd, healthCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() error {
	log = logger.New(serviceName)

	c, err := config.New(log)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		c.HTTPAddr = addrFlag
	}
	if dataDirFlag != "" {
		c.DataDir = dataDirFlag
	}

	cfg = c
	log = log.Level(logger.ParseLevel(cfg.LogLevel))
	return nil
}

// services holds everything a command needs to run a refresh.
type services struct {
	db   *storage.DB
	sync *calendar.Synchronizer
}

func (s *services) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}

func openServices(ctx context.Context, opts ...calendar.Option) (*services, error) {
	db, err := storage.OpenInDataDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := storage.RunMigrations(ctx, db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	static := calendar.DefaultStaticEvents()
	if cfg.StaticEventsFile != "" {
		static, err = calendar.LoadStaticEvents(cfg.StaticEventsFile)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Str("file", cfg.StaticEventsFile).Int("count", len(static)).Msg("static events loaded")
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.FormationsPath, cfg.BackendTimeout,
		backend.WithLogger(log))
	opts = append([]calendar.Option{
		calendar.WithStaticEvents(static),
		calendar.WithCacheTTL(cfg.CacheTTL),
	}, opts...)

	return &services{
		db:   db,
		sync: calendar.NewSynchronizer(client, storage.NewCacheRepository(db), log, opts...),
	}, nil
}

func runServe(ctx context.Context) error {
	log.Info().Str("version", version).Msg("starting calendar sync server")

	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	svc, err := openServices(ctx, calendar.WithPublisher(websocket.NewEventBroadcaster(hub)))
	if err != nil {
		return err
	}
	defer svc.Close()

	scheduler := calendar.NewScheduler(log)
	scheduler.Start()
	defer scheduler.Stop()

	view := calendar.NewView(svc.sync, scheduler, cfg.RefreshInterval, log)
	outcome, err := view.Activate(ctx)
	if err != nil {
		return fmt.Errorf("activating calendar view: %w", err)
	}
	log.Info().Str("outcome", string(outcome)).Int("events", len(svc.sync.Events())).Msg("initial refresh done")

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(svc.db, hub, view, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-serverErr:
		view.Deactivate()
		return fmt.Errorf("server error: %w", err)
	}

	view.Deactivate()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func runRefresh(ctx context.Context, force bool) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	outcome := svc.sync.Refresh(ctx, force)
	snap := svc.sync.Snapshot()
	fmt.Printf("outcome=%s events=%d source=%s hash=%s\n", outcome, len(snap.Events), snap.Source, snap.Hash)

	switch outcome {
	case calendar.OutcomeFetchFailed, calendar.OutcomeCacheWriteFailed, calendar.OutcomeDiscarded:
		return fmt.Errorf("refresh did not complete: %s", outcome)
	}
	return nil
}

// healthURL turns a listen address such as ":8099" or "0.0.0.0:8099" into the
// local health endpoint.
func healthURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	} else if strings.HasPrefix(host, "0.0.0.0:") {
		host = "localhost" + strings.TrimPrefix(host, "0.0.0.0")
	}
	return "http://" + host + "/api/health"
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: unexpected status %s", resp.Status)
	}
	return nil
}
