// Package main provides the catalog daemon: it keeps the local plugin
// catalog in sync with the registry, requests automatic updates and serves
// the catalog over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/sketchpacks/plugin-catalog/pkg/api"
	"github.com/sketchpacks/plugin-catalog/pkg/cache"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
	"github.com/sketchpacks/plugin-catalog/pkg/config"
	"github.com/sketchpacks/plugin-catalog/pkg/db"
	"github.com/sketchpacks/plugin-catalog/pkg/lifecycle"
	"github.com/sketchpacks/plugin-catalog/pkg/registry"
	"github.com/sketchpacks/plugin-catalog/pkg/scheduler"
)

var version = "dev"

// outcomeQueueSize buffers lifecycle events between the API and the recorder.
const outcomeQueueSize = 64

func main() {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides server.listen)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Initialize glog for fatal startup errors
	_ = flag.Set("logtostderr", "true")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		glog.Fatalf("Invalid log level %q: %v", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}

	logger.Info("starting catalog daemon",
		"version", version,
		"environment", cfg.Environment,
		"registry", cfg.Registry.APIURL,
		"database", cfg.Database.Type,
		"listen", cfg.Server.Listen,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(cfg.Database.Type, cfg.Database.DSN, db.Options{})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.Error("database close error", "error", err)
		}
	}()

	cacheManager := cache.NewManager(cfg.CacheConfig())
	store := catalog.NewStore(gormDB,
		catalog.WithStoreLogger(logger),
		catalog.WithChangeHook(cacheManager.InvalidatePlugins),
	)
	locker, err := db.NewMigrationLocker(gormDB, db.MigrationLockName)
	if err != nil {
		glog.Fatalf("Failed to prepare migration lock: %v", err)
	}
	if err := locker.WithLock(ctx, func() error { return store.AutoMigrate(ctx) }); err != nil {
		glog.Fatalf("Failed to migrate catalog tables: %v", err)
	}

	client := registry.NewClient(cfg.Registry.APIURL,
		registry.WithCatalogPath(cfg.Registry.CatalogPath),
		registry.WithHTTPClient(&http.Client{Timeout: cfg.Registry.Timeout}),
		registry.WithUserAgent(fmt.Sprintf("catalogd/%s", version)),
		registry.WithLogger(logger),
	)
	engine := catalog.NewEngine(store, client, catalog.WithEngineLogger(logger))

	notifier := setupNotifier(cfg.Lifecycle, logger)

	sched := scheduler.New(engine, store, notifier, cfg.SchedulerConfig(), logger)
	if cfg.Scheduler.Enabled {
		sched.Start()
	} else {
		logger.Info("update scheduler disabled")
	}

	// outlives ctx so events accepted during shutdown are still recorded
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	outcomes := make(chan lifecycle.Outcome, outcomeQueueSize)
	go lifecycle.NewRecorder(store, logger).Run(recorderCtx, outcomes)

	apiServer := api.NewServer(store, engine,
		api.WithCache(cacheManager),
		api.WithOutcomes(outcomes),
		api.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("catalog daemon ready", "listen", cfg.Server.Listen)

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// waits for an in-flight tick
	sched.Stop()
	stopRecorder()

	logger.Info("catalog daemon stopped")
}

// setupNotifier returns the webhook notifier when a lifecycle manager URL is
// configured. Otherwise install requests go to an in-process bus whose
// consumer logs them.
func setupNotifier(cfg config.LifecycleConfig, logger *slog.Logger) scheduler.Notifier {
	if cfg.WebhookURL != "" {
		logger.Info("delivering install requests by webhook", "url", cfg.WebhookURL)
		return lifecycle.NewWebhookNotifier(cfg.WebhookURL, nil, logger)
	}

	bus := lifecycle.NewChannelBus(0)
	// drains for the life of the process so an in-flight tick never blocks
	// shutdown on a full buffer
	go func() {
		for req := range bus.Requests() {
			logger.Info("install requested",
				"id", req.Plugin.ID,
				"name", req.Plugin.DisplayName(),
				"version", req.Plugin.Version)
		}
	}()
	logger.Info("no lifecycle webhook configured, install requests are logged only")
	return bus
}
