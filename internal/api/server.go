package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-edge/protolink-panel/internal/health"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP server for the REST API, health and metrics.
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewRouter builds the gin engine with every route installed.
func NewRouter(
	handler *Handler,
	checker *health.HealthChecker,
	metricsReg *metrics.Registry,
	mwConfig MiddlewareConfig,
	logger zerolog.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	mw := NewMiddleware(mwConfig, logger)
	engine.Use(mw.RequestLogger(), gin.Recovery(), mw.CORS(), mw.LimitRequestBody())

	if checker != nil {
		engine.GET("/health", gin.WrapF(checker.HealthHandler))
		engine.GET("/health/live", gin.WrapF(checker.LivenessHandler))
		engine.GET("/health/ready", gin.WrapF(checker.ReadinessHandler))
	}
	if metricsReg != nil {
		engine.GET("/metrics", gin.WrapH(metricsReg.Handler()))
	}

	InstallHandler(engine.Group("/api"), handler, mw.RequireAPIKey())
	return engine
}

// NewServer creates an HTTP server for the given router.
func NewServer(config ServerConfig, router http.Handler, logger zerolog.Logger) *Server {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		config: config,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger.With().Str("component", "http-server").Logger(),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
