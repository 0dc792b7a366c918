package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/config"
	"github.com/browserwarden/warden/internal/correlation"
	"github.com/browserwarden/warden/internal/logging"
	"github.com/browserwarden/warden/internal/middleware"
	"github.com/browserwarden/warden/internal/monitor"
	"github.com/browserwarden/warden/internal/monitoring"
	"github.com/browserwarden/warden/internal/patterns"
	"github.com/browserwarden/warden/internal/report"
)

// Deps carries the assembled engine components the server exposes.
type Deps struct {
	Config     *config.Config
	Logger     *logging.Logger
	Library    *patterns.Library
	Monitors   map[string]*monitor.Monitor
	Aggregator *correlation.Aggregator
	Tabs       *correlation.TabWatcher
	Hub        *report.Hub
	Fanout     *report.Fanout
	Store      *report.Store
	Metrics    *monitoring.Metrics
}

// Server wraps the HTTP server over the detection engine.
type Server struct {
	deps   Deps
	router *gin.Engine
	http   *http.Server
	logger *logging.Logger
}

// New builds the router and handler set. It does not start listening.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	logger := deps.Logger.Named("server")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	if deps.Config != nil && deps.Config.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: deps.Config.RateLimit.RequestsPerSecond,
			Burst:             deps.Config.RateLimit.Burst,
		}))
	}

	h := newHandlers(deps, logger)

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/events/:monitor", h.AnalyzeEvent)
	router.POST("/tabs/events", h.TabEvent)

	router.GET("/monitors", h.ListMonitors)
	router.GET("/monitors/:monitor/stats", h.MonitorStats)
	router.GET("/monitors/:monitor/history", h.MonitorHistory)
	router.PATCH("/monitors/:monitor/settings", h.UpdateSettings)
	router.PATCH("/monitors/:monitor/thresholds", h.UpdateThresholds)

	router.GET("/threats", h.ListThreats)
	router.GET("/stats", h.Stats)
	router.GET("/export/audit", h.ExportAudit)
	router.POST("/rules/reload", h.ReloadRules)

	if deps.Hub != nil {
		router.GET("/stream", func(c *gin.Context) {
			deps.Hub.Serve(c.Writer, c.Request)
		})
	}

	return &Server{deps: deps, router: router, logger: logger}
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts listening and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
