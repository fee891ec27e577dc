// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package server exposes the dispatcher state over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/dispatch"
	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

// Source is the dispatcher state served by the Server.
type Source interface {
	PendingKeys() []string
	Pending(key string) []kvstore.Reason
	Stats() dispatch.Stats
}

// Config configures the HTTP server.
type Config struct {
	Address         string
	StoreName       string
	GinMode         string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TracerProvider enables request spans when set.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Address:         ":9464",
		GinMode:         gin.ReleaseMode,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves health, metrics and pending-change endpoints.
type Server struct {
	config  Config
	source  Source
	metrics http.Handler
	router  *gin.Engine

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// New builds the router. metricsHandler may be nil, in which case
// /metrics is not registered.
func New(config Config, source Source, metricsHandler http.Handler) *Server {
	defaults := DefaultConfig()
	if config.GinMode == "" {
		config.GinMode = defaults.GinMode
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	gin.SetMode(config.GinMode)

	s := &Server{
		config:  config,
		source:  source,
		metrics: metricsHandler,
		router:  gin.New(),
	}
	s.router.Use(recovery(), requestLogger())
	if config.TracerProvider != nil {
		s.router.Use(tracingMiddleware(config.TracerProvider))
	}
	if len(config.CORSOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: config.CORSOrigins,
			AllowMethods: []string{http.MethodGet},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthPath is the liveness endpoint.
const HealthPath = "/healthz"

func (s *Server) routes() {
	s.router.GET(HealthPath, s.health)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
	v1 := s.router.Group("/v1")
	v1.GET("/pending", s.listPending)
	v1.GET("/pending/*key", s.getPending)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.GetLogger().Error("status server stopped", zap.Error(err))
		}
	}()

	logger.GetLogger().Info("status server listening", zap.String("address", s.addr))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down, waiting for in-flight requests up to the
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.GetLogger().Error("panic recovered",
					zap.Any("error", p),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.GetLogger().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
