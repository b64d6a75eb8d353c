package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mirage/capture"
	"github.com/zsiec/mirage/internal/config"
	"github.com/zsiec/mirage/internal/server"
	"github.com/zsiec/mirage/internal/source"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := cfg.LogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	provider := selectProvider(cfg.Capture.Provider)

	slog.Info("mirage starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"provider", provider.Kind(),
		"captureFPS", cfg.Capture.MaxFPS,
		"streamFPS", cfg.Stream.MaxFPS,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	registry := source.NewRegistry(provider, source.Options{
		CaptureInterval:   time.Second / time.Duration(cfg.Capture.MaxFPS),
		DiscoveryInterval: time.Duration(cfg.Capture.DiscoveryIntervalSec * float64(time.Second)),
	}, nil)

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr(),
		ProviderKind:   provider.Kind(),
		StreamInterval: time.Second / time.Duration(cfg.Stream.MaxFPS),
		JPEGQuality:    cfg.Stream.JPEGQuality,
	}, registry, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// selectProvider picks the capture backend. The display backend needs at
// least one attached display; without one we fall back to the mock
// pattern source so the server stays usable.
func selectProvider(kind string) capture.Provider {
	if kind == "mock" {
		return capture.NewMockProvider()
	}

	display := capture.NewDisplayProvider()
	if _, err := display.Sources(); err != nil {
		slog.Warn("display capture unavailable, falling back to mock provider", "error", err)
		return capture.NewMockProvider()
	}
	return display
}
