package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nexus-edge/protolink-panel/pkg/logging"
	"github.com/rs/zerolog"
)

// MiddlewareConfig holds HTTP security settings.
type MiddlewareConfig struct {
	// APIKey is required on mutating requests when non-empty
	APIKey string
	// AllowedOrigins empty allows any origin
	AllowedOrigins     []string
	MaxRequestBodySize int64
}

// Middleware provides the gin middleware chain.
type Middleware struct {
	config MiddlewareConfig
	logger zerolog.Logger
}

// NewMiddleware creates a new middleware with the given configuration.
func NewMiddleware(config MiddlewareConfig, logger zerolog.Logger) *Middleware {
	return &Middleware{
		config: config,
		logger: logger.With().Str("component", "api-middleware").Logger(),
	}
}

// RequestLogger logs every request with a request ID.
func (m *Middleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		path := c.Request.URL.Path
		c.Next()

		logger := logging.WithRequestContext(m.logger, requestID, c.Request.Method, path)
		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled HTTP request")
	}
}

// CORS adds CORS headers and answers preflight requests.
func (m *Middleware) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowedOrigin := ""
		if len(m.config.AllowedOrigins) == 0 {
			allowedOrigin = "*"
		} else {
			for _, o := range m.config.AllowedOrigins {
				if o == "*" || o == origin {
					allowedOrigin = origin
					break
				}
			}
		}

		if allowedOrigin == "" {
			m.logger.Warn().Str("origin", origin).Msg("CORS: origin not allowed")
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LimitRequestBody caps request body size.
func (m *Middleware) LimitRequestBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.config.MaxRequestBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, m.config.MaxRequestBodySize)
		}
		c.Next()
	}
}

// RequireAPIKey rejects requests without the configured key.
// It is a no-op when no key is configured.
func (m *Middleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.config.APIKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}
		if apiKey != m.config.APIKey {
			m.logger.Warn().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("remote", c.ClientIP()).
				Msg("Authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
