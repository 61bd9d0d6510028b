// Package api serves the quota snapshot over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/j-veylop/antigravity-quota-monitor/internal/config"
	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services"
)

const (
	correlationHeader = "X-Correlation-ID"
	correlationKey    = "correlation_id"
	refreshTimeout    = 2 * time.Minute
	readHeaderTimeout = 10 * time.Second
)

// Server represents the HTTP API server.
type Server struct {
	router      *gin.Engine
	handler     http.Handler
	manager     *services.Manager
	hub         *Hub
	metrics     *metrics.Metrics
	httpServer  *http.Server
	unsubscribe func()
	staticDir   string
	addr        string
}

// NewServer creates the API server and starts pushing manager updates to
// WebSocket clients.
func NewServer(cfg *config.Config, mgr *services.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:    gin.New(),
		manager:   mgr,
		metrics:   mgr.Metrics(),
		staticDir: cfg.StaticDir,
		addr:      cfg.ListenAddr(),
	}
	s.hub = NewHub(cfg.CORSOrigins, s.metrics)

	s.router.Use(gin.Recovery())
	s.router.Use(metrics.Middleware(s.metrics))
	s.router.Use(loggingMiddleware())

	s.setupRoutes()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	updates, unsubscribe := mgr.Subscribe()
	s.unsubscribe = unsubscribe
	go s.hub.Run(updates)

	return s
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// loggingMiddleware tags each request with a correlation id and logs its
// completion.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		c.Set(correlationKey, correlationID)
		c.Header(correlationHeader, correlationID)

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
			"correlation_id", correlationID,
		}
		if len(c.Errors) > 0 {
			logger.Error("request error", append(attrs, "error", c.Errors.String())...)
			return
		}
		logger.Debug("request completed", attrs...)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/accounts", s.handleAccounts)
		api.POST("/accounts/refresh", s.handleRefresh)
	}

	s.router.NoRoute(s.handleNoRoute)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.manager.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"accounts":  stats.Accounts,
		"active":    stats.Active,
		"polling":   stats.Polling,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Snapshot())
}

// handleRefresh runs the batch detached from the request so a client
// disconnect does not discard accounts already fetched.
func (s *Server) handleRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), refreshTimeout)
	defer cancel()

	c.JSON(http.StatusOK, s.manager.Refresh(ctx))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request, s.manager.InitialUpdate())
}

// handleNoRoute serves the dashboard bundle with an index.html fallback for
// client-side routes.
func (s *Server) handleNoRoute(c *gin.Context) {
	reqPath := c.Request.URL.Path
	if s.staticDir == "" || strings.HasPrefix(reqPath, "/api/") || c.Request.Method != http.MethodGet {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	root, err := filepath.Abs(s.staticDir)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	file := filepath.Join(root, filepath.Clean("/"+filepath.FromSlash(reqPath)))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}
	c.File(filepath.Join(root, "index.html"))
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("starting HTTP server", "addr", s.addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, waits for in-flight requests and
// disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("initiating graceful shutdown")

	s.unsubscribe()
	s.hub.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	return nil
}
