package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rowwatch/rowwatch/internal/api"
	"github.com/rowwatch/rowwatch/internal/catalog"
	"github.com/rowwatch/rowwatch/internal/config"
	"github.com/rowwatch/rowwatch/internal/health"
	"github.com/rowwatch/rowwatch/internal/metrics"
	"github.com/rowwatch/rowwatch/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults and environment only when empty)")
	flag.Parse()

	slog.Info("rowwatch starting...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"path", *configPath,
		"db", cfg.Database.Path,
		"refresh", cfg.Dashboard.RefreshInterval)

	// Open the database
	st, err := store.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "err", err)
		os.Exit(1)
	}
	slog.Info("database opened", "path", st.Path())

	// Initialize components
	m := metrics.New()
	cat := catalog.New(st)
	hc := health.NewChecker(st, m, cfg.HealthCheck)

	// Start health checker
	hc.Start()

	// Start HTTP server
	apiServer := api.NewServer(cat, st, hc, m, cfg)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		slog.Error("failed to start HTTP server", "err", err)
		os.Exit(1)
	}

	// Set up config hot-reload
	var configWatcher *config.Watcher
	if *configPath != "" {
		configWatcher, err = config.NewWatcher(*configPath, func(newCfg *config.Config) {
			slog.Info("reloading configuration...")
			if newCfg.Database.Path != cfg.Database.Path {
				slog.Warn("database path change requires a restart",
					"current", cfg.Database.Path, "configured", newCfg.Database.Path)
			}
			apiServer.UpdateDashboard(newCfg.Dashboard)
			cat.Invalidate()
		})
		if err != nil {
			slog.Warn("config hot-reload not available", "err", err)
		}
	}

	slog.Info("rowwatch ready",
		"bind", cfg.Listen.APIBind,
		"port", cfg.Listen.APIPort)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	// Graceful shutdown with timeout
	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		apiServer.Stop()
		hc.Stop()
		st.Close()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("rowwatch stopped")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}
