package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/devsync/internal/config"
	"github.com/gluk-w/devsync/internal/credentials"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/handlers"
	"github.com/gluk-w/devsync/internal/inventory"
	"github.com/gluk-w/devsync/internal/logging"
	"github.com/gluk-w/devsync/internal/middleware"
	"github.com/gluk-w/devsync/internal/natspub"
	"github.com/gluk-w/devsync/internal/pool"
	"github.com/gluk-w/devsync/internal/scheduler"
	"github.com/gluk-w/devsync/internal/session"
	"github.com/gluk-w/devsync/internal/sshsession"
	"github.com/gluk-w/devsync/internal/telemetry"
)

var version = "dev"

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--exec":
			os.Exit(runExec(os.Args[2:], os.Stdout, os.Stderr))
		case "--import":
			os.Exit(runImport(os.Args[2:]))
		}
	}

	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Cfg

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Path: cfg.LogPath, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Logging init: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()
	logger := logging.WithComponent("main")

	if err := database.Init(cfg.DatabaseDriver, cfg.DatabasePath()); err != nil {
		logger.Fatal().Err(err).Msg("Database init failed")
	}
	defer database.Close()
	store := database.NewDeviceStore(database.DB)

	ctx := context.Background()
	if _, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:    "devsync",
		ServiceVersion: version,
		Endpoint:       cfg.OTelMetricsEndpoint,
		Insecure:       cfg.OTelInsecure,
	}); err != nil && !errors.Is(err, telemetry.ErrMetricsDisabled) {
		logger.Warn().Err(err).Msg("Metrics export disabled")
	}

	factory, err := sshsession.NewFactory(sshsession.Config{
		KnownHostsPath: cfg.SSHKnownHosts,
		PrivateKeyPath: cfg.SSHPrivateKey,
		DialTimeout:    cfg.OpenTimeout,
		Logger:         logging.Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("SSH factory init failed")
	}
	if cfg.SSHKnownHosts == "" {
		logger.Warn().Msg("DEVSYNC_SSH_KNOWN_HOSTS is not set; device host keys are not verified")
	}

	var validator session.HostValidator = session.SyntaxValidator{}
	if cfg.ResolveHostnames {
		validator = session.DNSValidator{}
	}

	creds := credentials.NewManager()
	engine := pool.New(pool.Config{
		Registry:             store,
		Credentials:          creds,
		Factory:              factory,
		Validator:            validator,
		Logger:               logging.Logger(),
		Workers:              cfg.ReconcileWorkers,
		AuthFailureThreshold: cfg.AuthFailureThreshold,
		OpenTimeout:          cfg.OpenTimeout,
		ProbeTimeout:         cfg.ProbeTimeout,
		CloseTimeout:         cfg.CloseTimeout,
		CommandTimeout:       cfg.CommandTimeout,
	})
	handlers.Engine = engine
	handlers.Devices = store

	var publisher *natspub.Publisher
	if cfg.NATSURL != "" {
		publisher, err = natspub.Connect(cfg.NATSURL, cfg.NATSSubject, logging.Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("Connection events will not be published")
		} else {
			engine.OnEvent(publisher.Listener())
			logger.Info().Str("subject", cfg.NATSSubject).Msg("Publishing connection events to NATS")
		}
	}

	if cfg.InventoryPath != "" {
		if res, err := importInventory(ctx, cfg.InventoryPath, store, creds); err != nil {
			logger.Error().Err(err).Str("path", cfg.InventoryPath).Msg("Inventory import failed")
		} else {
			logger.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("Inventory imported")
		}
	}

	sched, err := scheduler.New(engine, cfg.ReconcileInterval, logging.Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("Scheduler init failed")
	}
	sched.Start(ctx)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(cfg.APIToken))

		r.Get("/devices", handlers.ListDevices)
		r.Post("/devices", handlers.CreateDevice)
		r.Get("/devices/{hostname}/status", handlers.GetDeviceStatus)
		r.Get("/devices/{hostname}/events", handlers.GetDeviceEvents)
		r.Delete("/devices/{hostname}", handlers.DeleteDevice)

		r.Post("/commands", handlers.ExecCommand)
		r.Post("/commands/fanout", handlers.FanoutCommand)

		r.Post("/reconcile", handlers.TriggerReconcile)
		r.Get("/reconcile/last", handlers.GetLastReconcile)

		r.Get("/events/stream", handlers.StreamEvents)

		r.Get("/server-logs", handlers.GetServerLogs)
		r.Delete("/server-logs", handlers.ClearServerLogs)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-sigCtx.Done()
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown")
	}
	sched.Stop()
	if err := engine.CloseAll(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Some sessions did not close cleanly")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("NATS drain")
		}
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics shutdown")
	}
	logger.Info().Msg("Server stopped")
}

func importInventory(ctx context.Context, path string, store inventory.Store, sealer inventory.Sealer) (inventory.Result, error) {
	f, err := inventory.Load(path)
	if err != nil {
		return inventory.Result{}, err
	}
	return inventory.Import(ctx, f, store, sealer)
}
