// Package httpapi exposes the FOIA Coach REST API over gin
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/muckrock/foia-coach-api/internal/coach"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/config"
	"github.com/muckrock/foia-coach-api/internal/ingest"
	"github.com/muckrock/foia-coach-api/internal/knowledge"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
	"github.com/muckrock/foia-coach-api/internal/observability"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

const requestIDKey = "request_id"

// Dependencies are the collaborators the handlers need
type Dependencies struct {
	Coach      *coach.Service
	Repo       *knowledge.Repo
	Storage    *knowledge.Storage
	Providers  *rag.ProviderCache
	Dispatcher ingest.Dispatcher
	Upload     config.UploadConfig
	Monitoring config.MonitoringConfig
	Logger     *logging.Logger
}

// Handler serves the API routes
type Handler struct {
	coach      *coach.Service
	repo       *knowledge.Repo
	storage    *knowledge.Storage
	providers  *rag.ProviderCache
	dispatcher ingest.Dispatcher
	upload     config.UploadConfig
	logger     *logging.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithName("http")

	h := &Handler{
		coach:      deps.Coach,
		repo:       deps.Repo,
		storage:    deps.Storage,
		providers:  deps.Providers,
		dispatcher: deps.Dispatcher,
		upload:     deps.Upload,
		logger:     logger,
	}

	r := gin.New()
	r.Use(gin.LoggerWithWriter(logger))
	r.Use(gin.RecoveryWithWriter(logger))
	r.Use(RequestID())
	r.Use(otelgin.Middleware(observability.TracerName))
	r.Use(metrics())

	r.GET("/healthz", h.Healthz)
	if deps.Monitoring.Enabled {
		r.GET(deps.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/query", h.Query)
		v1.POST("/query/stream", h.QueryStream)

		resources := v1.Group("/resources")
		{
			resources.GET("", h.ListResources)
			resources.POST("", h.CreateResource)
			resources.GET("/:id", h.GetResource)
			resources.DELETE("/:id", h.DeleteResource)
			resources.POST("/:id/uploads", h.InitiateUpload)
		}

		v1.GET("/providers", h.Providers)
	}
	return r
}

// RequestID propagates or assigns an X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.RecordHTTPRequest(route, c.Writer.Status())
	}
}

// Healthz reports whether the database is reachable
func (h *Handler) Healthz(c *gin.Context) {
	if err := ping(c.Request.Context(), h.repo.DB()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Providers lists every provider with its configuration check
func (h *Handler) Providers(c *gin.Context) {
	def, _ := h.providers.Resolve("")
	c.JSON(http.StatusOK, gin.H{
		"default":   def,
		"providers": h.providers.Providers(),
	})
}

// Server runs the router with timeouts and graceful shutdown
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewServer wraps handler in an http.Server configured from cfg
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.GetReadTimeout(),
			WriteTimeout:      cfg.GetWriteTimeout(),
		},
		shutdownTimeout: cfg.GetShutdownTimeout(),
		logger:          logger.WithName("http"),
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoKV("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
