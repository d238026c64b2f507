// Package api provides the HTTP surface of the control panel.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/nexus-edge/protolink-panel/internal/service"
	"github.com/nexus-edge/protolink-panel/internal/trend"
	"github.com/rs/zerolog"
)

// Panel is the control surface the handlers drive.
type Panel interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error
	SetCoil(ctx context.Context, index int, value bool) error
	ToggleCoil(ctx context.Context, index int) (bool, error)
	ReadSignal(ctx context.Context, signal domain.Signal) (domain.SignalValue, error)
	Display() domain.Display
	LastSnapshot() (domain.DeviceSnapshot, bool)
	Trend(channel int) (trend.Window, error)
	Stats() service.PollingStatsSnapshot
	TransportStatus() service.TransportStatus
}

// Handler serves the panel REST API.
type Handler struct {
	panel   Panel
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CoilRequest is the body of PUT /api/coils/:index.
type CoilRequest struct {
	Value *bool `json:"value"`
}

// CoilResponse reports the relay value after a command.
type CoilResponse struct {
	Coil  int  `json:"coil"`
	Value bool `json:"value"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Display   domain.Display               `json:"display"`
	Polling   service.PollingStatsSnapshot `json:"polling"`
	Transport service.TransportStatus      `json:"transport"`
}

// NewHandler creates the REST handler.
func NewHandler(panel Panel, logger zerolog.Logger, metricsReg *metrics.Registry) *Handler {
	return &Handler{
		panel:   panel,
		logger:  logger.With().Str("component", "api").Logger(),
		metrics: metricsReg,
	}
}

// InstallHandler registers the panel routes. Mutating routes go through
// the given guard chain.
func InstallHandler(group *gin.RouterGroup, h *Handler, guard ...gin.HandlerFunc) {
	group.GET("/state", h.getState)
	group.GET("/snapshot", h.getSnapshot)
	group.GET("/trend/:channel", h.getTrend)
	group.GET("/signals", h.listSignals)
	group.GET("/signals/:name", h.readSignal)

	mutating := group.Group("", guard...)
	mutating.POST("/connect", h.connect)
	mutating.POST("/disconnect", h.disconnect)
	mutating.PUT("/coils/:index", h.setCoil)
	mutating.POST("/coils/:index/toggle", h.toggleCoil)
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{
		Display:   h.panel.Display(),
		Polling:   h.panel.Stats(),
		Transport: h.panel.TransportStatus(),
	})
}

func (h *Handler) getSnapshot(c *gin.Context) {
	snap, ok := h.panel.LastSnapshot()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getTrend(c *gin.Context) {
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		h.fail(c, domain.ErrInvalidChannel)
		return
	}
	window, err := h.panel.Trend(channel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, window)
}

func (h *Handler) listSignals(c *gin.Context) {
	c.JSON(http.StatusOK, domain.Registers())
}

func (h *Handler) readSignal(c *gin.Context) {
	value, err := h.panel.ReadSignal(c.Request.Context(), domain.Signal(c.Param("name")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, value)
}

func (h *Handler) connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Port == 0 {
		req.Port = domain.DefaultPort
	}

	err := h.panel.Connect(c.Request.Context(), req.Host, req.Port)
	h.record(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.panel.Display())
}

func (h *Handler) disconnect(c *gin.Context) {
	err := h.panel.Disconnect()
	h.record(err)
	if err != nil {
		// the panel is disconnected regardless
		h.logger.Warn().Err(err).Msg("Error closing device connection")
	}
	c.JSON(http.StatusOK, h.panel.Display())
}

func (h *Handler) setCoil(c *gin.Context) {
	index, ok := coilIndex(c)
	if !ok {
		h.fail(c, domain.ErrInvalidCoilIndex)
		return
	}

	var req CoilRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "body must be {\"value\": true|false}"})
		return
	}

	err := h.panel.SetCoil(c.Request.Context(), index, *req.Value)
	h.record(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CoilResponse{Coil: index + 1, Value: *req.Value})
}

func (h *Handler) toggleCoil(c *gin.Context) {
	index, ok := coilIndex(c)
	if !ok {
		h.fail(c, domain.ErrInvalidCoilIndex)
		return
	}

	value, err := h.panel.ToggleCoil(c.Request.Context(), index)
	h.record(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CoilResponse{Coil: index + 1, Value: value})
}

// coilIndex converts the 1-based path parameter to a relay index.
func coilIndex(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("index"))
	if err != nil || !domain.ValidCoilIndex(n-1) {
		return 0, false
	}
	return n - 1, true
}

func (h *Handler) record(err error) {
	if h.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	h.metrics.RecordCommand("http", result)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// StatusFor maps panel errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownSignal):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfig),
		errors.Is(err, domain.ErrInvalidCoilIndex),
		errors.Is(err, domain.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCircuitBreakerOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConnectionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrConnect),
		errors.Is(err, domain.ErrPoll),
		errors.Is(err, domain.ErrWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
