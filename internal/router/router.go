// Package router wires the HTTP surface and owns the server lifecycle.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/handlers"
)

// SetupRouter creates the Gin engine with all routes registered.
func SetupRouter(chat *handlers.ChatHandler, admin *handlers.AdminHandler) *gin.Engine {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/health", admin.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/query", chat.Query)
	}

	adminGroup := r.Group("/admin")
	{
		adminGroup.GET("/circuit-breakers", admin.CircuitBreakers)
		adminGroup.GET("/cache/stats", admin.CacheStats)
		adminGroup.POST("/reindex", admin.Reindex)
	}

	return r
}

// Router wraps the Gin engine with server lifecycle management.
type Router struct {
	engine *gin.Engine
	server *http.Server
	log    *logrus.Logger

	mu      sync.RWMutex
	running bool
}

// Option configures the Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

// WithGinMode sets the Gin mode (debug, release, test).
func WithGinMode(mode string) Option {
	return func(r *Router) {
		gin.SetMode(mode)
	}
}

// New creates a Router around a configured engine.
func New(engine *gin.Engine, opts ...Option) *Router {
	router := &Router{
		engine: engine,
		log:    logrus.New(),
	}
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start starts the HTTP server and blocks until it stops.
func (r *Router) Start(addr string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("router is already running")
	}

	r.server = &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	r.running = true
	r.mu.Unlock()

	r.log.WithField("addr", addr).Info("Starting HTTP server")

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.log.Info("Shutting down HTTP server...")

	if err := r.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is currently serving.
func (r *Router) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
