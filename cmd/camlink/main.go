// Command camlink connects to a live MJPEG camera feed and republishes it
// as observable state: a JSON status API, JPEG snapshots, a WebSocket
// event stream, and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/camlink/camlink/internal/api"
	"github.com/camlink/camlink/internal/certs"
	"github.com/camlink/camlink/internal/config"
	"github.com/camlink/camlink/internal/feed"
	"github.com/camlink/camlink/internal/metrics"
)

var version = "dev"

func main() {
	cfgPath := envOr("CONFIG", "configs/camlink.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	level := logLevel(cfg.Logging.Level)
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := metrics.New()
	registry := m.Register()

	client := feed.New(feed.Options{
		Provider: cfg.Feed.Provider,
		Metrics:  m,
	})
	defer client.Close()

	var cert *certs.CertInfo
	if cfg.API.TLS {
		cert, err = certs.Generate(0)
		if err != nil {
			slog.Error("failed to generate cert", "error", err)
			os.Exit(1)
		}
		slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64())
	}

	apiSrv := api.NewServer(api.ServerConfig{
		Addr:            fmt.Sprintf(":%d", cfg.API.Port),
		Feed:            client,
		Registry:        registry,
		Cert:            cert,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	})

	slog.Info("camlink starting",
		"version", version,
		"api_port", cfg.API.Port,
		"feed_url", cfg.Feed.URL,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	if cfg.Feed.URL != "" {
		client.Start(cfg.Feed.URL)
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
