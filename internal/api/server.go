// Package api exposes the feed client over HTTP: a JSON status endpoint,
// a JPEG snapshot of the latest frame, a WebSocket pushing state changes,
// start/stop controls, and Prometheus metrics. Everything it serves is
// derived from the client's published state; it never reaches into
// buffers or retry bookkeeping.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camlink/camlink/internal/certs"
	"github.com/camlink/camlink/internal/feed"
)

// Feed is the subset of the feed client the API consumes. An interface so
// handler tests can run against a stub.
type Feed interface {
	State() feed.State
	Subscribe() (<-chan feed.State, func())
	Stats() feed.SessionStats
	Start(url string)
	Stop()
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Addr            string
	Feed            Feed
	Registry        *prometheus.Registry
	Cert            *certs.CertInfo // nil serves plain HTTP
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server is the HTTP status API.
type Server struct {
	log             *slog.Logger
	router          *gin.Engine
	addr            string
	feed            Feed
	cert            *certs.CertInfo
	shutdownTimeout time.Duration
	upgrader        websocket.Upgrader
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		log:             log.With("component", "api"),
		router:          router,
		addr:            cfg.Addr,
		feed:            cfg.Feed,
		cert:            cfg.Cert,
		shutdownTimeout: cfg.ShutdownTimeout,
		upgrader: websocket.Upgrader{
			// The dashboard is served from another origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/snapshot.jpg", s.handleSnapshot)
		api.GET("/events", s.handleEvents)
		api.POST("/feed/start", s.handleFeedStart)
		api.POST("/feed/stop", s.handleFeedStop)
	}

	if cfg.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	scheme := "http"
	if s.cert != nil {
		scheme = "https"
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{s.cert.TLSCert},
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", s.addr, "scheme", scheme)
		var err error
		if s.cert != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
		return <-errCh
	}
}
