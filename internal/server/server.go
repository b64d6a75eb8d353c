// Package server exposes the registry over HTTP and WebSocket: a REST
// listing API, per-client binary frame streams, and a JSON control
// channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zsiec/mirage/internal/source"
)

// shutdownTimeout bounds graceful HTTP shutdown after ctx cancellation.
const shutdownTimeout = 5 * time.Second

// Config holds the server parameters, fixed at construction.
type Config struct {
	Addr string
	// ProviderKind is reported as the "type" of every listed source.
	ProviderKind string
	// StreamInterval is the minimum time between frames per stream session.
	StreamInterval time.Duration
	// JPEGQuality is the compression quality for outgoing frames.
	JPEGQuality int
}

// Server is the HTTP/WebSocket front end. It holds the registry it was
// given; it never owns capture sessions itself.
type Server struct {
	log      *slog.Logger
	cfg      Config
	registry *source.Registry
	engine   *gin.Engine
	upgrader websocket.Upgrader

	viewerMu sync.Mutex
	viewers  map[string]int
}

// New creates a Server around the registry. If log is nil, slog.Default()
// is used.
func New(cfg Config, registry *source.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second / 60
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsAllowAll())

	s := &Server{
		log:      log.With("component", "server"),
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		viewers: make(map[string]int),
	}

	engine.GET("/api/sources", s.handleSources)
	engine.GET("/api/captures", s.handleCaptures)
	engine.GET("/ws/stream/*source", s.handleStream)
	engine.GET("/ws/control", s.handleControl)
	return s
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown error", "error", err)
		}
	}()

	s.log.Info("listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// sourceInfo is the JSON shape of one listed source.
type sourceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	App  string `json:"app"`
	Type string `json:"type"`
}

func (s *Server) sourceInfos() []sourceInfo {
	listed := s.registry.List()
	infos := make([]sourceInfo, len(listed))
	for i, src := range listed {
		infos[i] = sourceInfo{ID: src.ID, Name: src.Name, App: src.App, Type: s.cfg.ProviderKind}
	}
	return infos
}

func (s *Server) handleSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": s.sourceInfos()})
}

// captureStatus augments the registry snapshot with the number of
// connected stream sessions per source.
type captureStatus struct {
	source.CaptureInfo
	Viewers int `json:"viewers"`
}

func (s *Server) handleCaptures(c *gin.Context) {
	snapshot := s.registry.Snapshot()
	statuses := make([]captureStatus, len(snapshot))

	s.viewerMu.Lock()
	for i, info := range snapshot {
		statuses[i] = captureStatus{CaptureInfo: info, Viewers: s.viewers[info.SourceID]}
	}
	s.viewerMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"captures": statuses})
}

func (s *Server) addViewer(sourceID string) {
	s.viewerMu.Lock()
	s.viewers[sourceID]++
	s.viewerMu.Unlock()
}

func (s *Server) removeViewer(sourceID string) {
	s.viewerMu.Lock()
	if s.viewers[sourceID]--; s.viewers[sourceID] <= 0 {
		delete(s.viewers, sourceID)
	}
	s.viewerMu.Unlock()
}

// ViewerCount returns the number of stream sessions attached to a source.
func (s *Server) ViewerCount(sourceID string) int {
	s.viewerMu.Lock()
	defer s.viewerMu.Unlock()
	return s.viewers[sourceID]
}

func corsAllowAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
