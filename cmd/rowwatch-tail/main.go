package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rowwatch/rowwatch/internal/client"
	"github.com/rowwatch/rowwatch/internal/dashboard"
	"github.com/rowwatch/rowwatch/internal/tui"
)

const settingsTimeout = 5 * time.Second

func main() {
	server := flag.String("server", "http://127.0.0.1:5000", "rowwatch server URL")
	interval := flag.Duration("interval", 0, "polling interval (0 asks the server)")
	logPath := flag.String("log", "", "write logs to this file (discarded when empty)")
	flag.Parse()

	if err := run(*server, *interval, *logPath); err != nil {
		fmt.Fprintln(os.Stderr, "rowwatch-tail:", err)
		os.Exit(1)
	}
}

func run(server string, interval time.Duration, logPath string) error {
	// The terminal belongs to the dashboard, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	c, err := client.New(server, &http.Client{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval <= 0 {
		interval = serverInterval(ctx, c)
	}
	logger.Info("rowwatch-tail starting", "server", server, "interval", interval)

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("creating screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}
	defer screen.Fini()

	view := tui.New(screen)
	ctrl := dashboard.New(c, view, dashboard.Options{
		Interval: interval,
		Logger:   logger,
	})
	logger.Debug("dashboard controller ready", "interval", ctrl.Interval())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		// Quitting from the keyboard stops the controller too.
		defer cancel()
		return view.Run(gctx, ctrl)
	})

	err = g.Wait()
	logger.Info("rowwatch-tail stopped", "err", err)
	return err
}

// serverInterval asks the server for its refresh interval, falling back to
// dashboard.DefaultInterval.
func serverInterval(ctx context.Context, c *client.Client) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, settingsTimeout)
	defer cancel()

	s, err := c.Settings(ctx)
	if err != nil || s.RefreshMillis <= 0 {
		slog.Warn("using default polling interval", "interval", dashboard.DefaultInterval, "err", err)
		return dashboard.DefaultInterval
	}
	return time.Duration(s.RefreshMillis) * time.Millisecond
}
