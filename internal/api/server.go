// Package api exposes the kernel's inspection and control surface over
// HTTP. It is a debug window into the simulated board: process listings,
// restart and stop controls, kernel attributes, Prometheus metrics, and a
// WebSocket tail of console output.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/api/middleware"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/infrastructure/config"
	"github.com/kestrel-os/kestrel/internal/kernel"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	kernel  *kernel.Kernel
	console *capsule.Console
	log     *zap.Logger
}

// NewServer creates the inspection server. console may be nil when the
// board has no console capsule; the stream endpoint then reports 404.
func NewServer(cfg config.ServerConfig, k *kernel.Kernel, console *capsule.Console, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit {
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}

	s := &Server{
		router:  router,
		kernel:  k,
		console: console,
		log:     log,
	}

	router.GET("/", s.root)
	router.GET("/health", s.health)

	router.GET("/processes", s.listProcesses)
	router.GET("/processes/:id", s.getProcess)
	router.POST("/processes/:id/restart", s.restartProcess)
	router.POST("/processes/:id/stop", s.stopProcess)

	router.GET("/kernel/attrs", s.kernelAttrs)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	router.GET("/ws/console", s.streamConsole)

	s.httpSrv = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
	}
	return s
}

// Router returns the underlying gin engine, used by handler tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("inspection API listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
