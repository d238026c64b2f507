package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// Controller is the part of the Panel driven by remote commands.
type Controller interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error
	SetCoil(ctx context.Context, index int, value bool) error
	ToggleCoil(ctx context.Context, index int) (bool, error)
}

// CommandKind names a remote operator command.
type CommandKind string

const (
	CommandSetCoil    CommandKind = "set_coil"
	CommandToggleCoil CommandKind = "toggle_coil"
	CommandConnect    CommandKind = "connect"
	CommandDisconnect CommandKind = "disconnect"
)

// CommandHandler executes operator commands received via MQTT.
// Commands are queued and executed one at a time by a single worker.
type CommandHandler struct {
	mqttClient   mqtt.Client
	controller   Controller
	logger       zerolog.Logger
	metrics      *metrics.Registry
	config       CommandConfig
	stats        *CommandStats
	running      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	commandQueue chan Command
}

// CommandConfig holds configuration for the command handler.
type CommandConfig struct {
	// TopicPrefix is the root of all topics, e.g. "protolink/panel"
	TopicPrefix string

	// WriteTimeout bounds the execution of one command
	WriteTimeout time.Duration

	// QoS is the MQTT QoS level for command and response messages
	QoS byte

	// EnableAcknowledgement determines if responses are published
	EnableAcknowledgement bool

	// QueueSize is the number of commands buffered before new ones are rejected
	QueueSize int
}

// DefaultCommandConfig returns sensible defaults for command handling.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		TopicPrefix:           "protolink/panel",
		WriteTimeout:          5 * time.Second,
		QoS:                   1,
		EnableAcknowledgement: true,
		QueueSize:             32,
	}
}

// CommandStats tracks command handling statistics.
type CommandStats struct {
	CommandsReceived  atomic.Uint64
	CommandsSucceeded atomic.Uint64
	CommandsFailed    atomic.Uint64
	CommandsRejected  atomic.Uint64
}

// Command is one queued operator intent.
type Command struct {
	RequestID string      `json:"request_id,omitempty"`
	Kind      CommandKind `json:"kind"`
	Coil      int         `json:"coil,omitempty"` // 1-based relay number
	Value     bool        `json:"value,omitempty"`
	Host      string      `json:"host,omitempty"`
	Port      int         `json:"port,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// CommandResponse is published after a command has been executed.
type CommandResponse struct {
	RequestID string      `json:"request_id"`
	Kind      CommandKind `json:"kind"`
	Coil      int         `json:"coil,omitempty"`
	Value     *bool       `json:"value,omitempty"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Duration  float64     `json:"duration_ms"`
}

// coilPayload is the JSON form accepted on coil set topics.
type coilPayload struct {
	RequestID string `json:"request_id"`
	Value     *bool  `json:"value"`
}

// NewCommandHandler creates a new command handler. metricsReg may be nil.
func NewCommandHandler(
	mqttClient mqtt.Client,
	controller Controller,
	config CommandConfig,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *CommandHandler {
	// Apply defaults
	if config.TopicPrefix == "" {
		config.TopicPrefix = "protolink/panel"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}

	return &CommandHandler{
		mqttClient:   mqttClient,
		controller:   controller,
		logger:       logger.With().Str("component", "command-handler").Logger(),
		metrics:      metricsReg,
		config:       config,
		stats:        &CommandStats{},
		commandQueue: make(chan Command, config.QueueSize),
	}
}

// SubscribedTopics returns the MQTT topic filters this handler subscribes to.
func (h *CommandHandler) SubscribedTopics() []string {
	return []string{
		h.config.TopicPrefix + "/cmd/coil/+/set",
		h.config.TopicPrefix + "/cmd/coil/+/toggle",
		h.config.TopicPrefix + "/cmd/connect",
		h.config.TopicPrefix + "/cmd/disconnect",
	}
}

// Start starts the worker and subscribes to command topics.
func (h *CommandHandler) Start() error {
	if h.running.Load() {
		return nil
	}

	h.logger.Info().
		Str("topic_prefix", h.config.TopicPrefix).
		Msg("Starting command handler")

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.processCommandQueue(ctx)

	handlers := []mqtt.MessageHandler{
		h.handleCoilSet,
		h.handleCoilToggle,
		h.handleConnect,
		h.handleDisconnect,
	}
	topics := h.SubscribedTopics()
	for i, topic := range topics {
		token := h.mqttClient.Subscribe(topic, h.config.QoS, handlers[i])
		if token.Wait() && token.Error() != nil {
			// Roll back partial subscriptions.
			if i > 0 {
				h.mqttClient.Unsubscribe(topics[:i]...).WaitTimeout(h.config.WriteTimeout)
			}
			cancel()
			h.wg.Wait()
			return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
		}
	}

	h.running.Store(true)
	h.logger.Info().Strs("topics", h.SubscribedTopics()).Msg("Command handler started")
	return nil
}

// Stop unsubscribes and waits for queued commands to drain.
func (h *CommandHandler) Stop() error {
	if !h.running.Load() {
		return nil
	}

	h.mqttClient.Unsubscribe(h.SubscribedTopics()...)
	h.cancel()
	h.wg.Wait()
	h.running.Store(false)

	h.logger.Info().Msg("Command handler stopped")
	return nil
}

// Stats returns a snapshot of command handling statistics.
func (h *CommandHandler) Stats() map[string]uint64 {
	return map[string]uint64{
		"commands_received":  h.stats.CommandsReceived.Load(),
		"commands_succeeded": h.stats.CommandsSucceeded.Load(),
		"commands_failed":    h.stats.CommandsFailed.Load(),
		"commands_rejected":  h.stats.CommandsRejected.Load(),
	}
}

// processCommandQueue executes commands in arrival order.
func (h *CommandHandler) processCommandQueue(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			h.drainCommandQueue()
			return
		case cmd := <-h.commandQueue:
			h.execute(ctx, cmd)
		}
	}
}

// drainCommandQueue answers commands still queued at shutdown.
func (h *CommandHandler) drainCommandQueue() {
	for {
		select {
		case cmd := <-h.commandQueue:
			h.sendResponse(cmd, nil, errors.New("service shutting down"), 0)
			h.stats.CommandsRejected.Add(1)
		default:
			return
		}
	}
}

// handleCoilSet handles {prefix}/cmd/coil/{n}/set.
// Payload: true, false, on, off, 1, 0, toggle, or {"value": bool, "request_id": "..."}.
func (h *CommandHandler) handleCoilSet(_ mqtt.Client, msg mqtt.Message) {
	h.stats.CommandsReceived.Add(1)

	coil, ok := h.coilFromTopic(msg.Topic())
	if !ok {
		return
	}

	cmd := Command{Kind: CommandSetCoil, Coil: coil, Timestamp: time.Now()}
	payload := strings.TrimSpace(string(msg.Payload()))

	var body coilPayload
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &body); err != nil || body.Value == nil {
			h.reject(cmd, msg.Topic(), "invalid coil payload")
			return
		}
		cmd.RequestID = body.RequestID
		cmd.Value = *body.Value
	} else {
		switch strings.ToLower(payload) {
		case "true", "on", "1":
			cmd.Value = true
		case "false", "off", "0":
			cmd.Value = false
		case "toggle":
			cmd.Kind = CommandToggleCoil
		default:
			h.reject(cmd, msg.Topic(), "invalid coil payload")
			return
		}
	}

	h.enqueue(cmd)
}

// handleCoilToggle handles {prefix}/cmd/coil/{n}/toggle. The payload is
// an optional request id.
func (h *CommandHandler) handleCoilToggle(_ mqtt.Client, msg mqtt.Message) {
	h.stats.CommandsReceived.Add(1)

	coil, ok := h.coilFromTopic(msg.Topic())
	if !ok {
		return
	}
	h.enqueue(Command{
		RequestID: strings.TrimSpace(string(msg.Payload())),
		Kind:      CommandToggleCoil,
		Coil:      coil,
		Timestamp: time.Now(),
	})
}

// handleConnect handles {prefix}/cmd/connect with {"host": "...", "port": 502}.
func (h *CommandHandler) handleConnect(_ mqtt.Client, msg mqtt.Message) {
	h.stats.CommandsReceived.Add(1)

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.reject(Command{Kind: CommandConnect}, msg.Topic(), "invalid connect payload")
		return
	}
	cmd.Kind = CommandConnect
	if cmd.Port == 0 {
		cmd.Port = domain.DefaultPort
	}
	cmd.Timestamp = time.Now()
	h.enqueue(cmd)
}

// handleDisconnect handles {prefix}/cmd/disconnect.
func (h *CommandHandler) handleDisconnect(_ mqtt.Client, msg mqtt.Message) {
	h.stats.CommandsReceived.Add(1)
	h.enqueue(Command{
		RequestID: strings.TrimSpace(string(msg.Payload())),
		Kind:      CommandDisconnect,
		Timestamp: time.Now(),
	})
}

// coilFromTopic extracts the relay number from .../coil/{n}/{action}.
func (h *CommandHandler) coilFromTopic(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		h.reject(Command{}, topic, "invalid command topic")
		return 0, false
	}
	coil, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || !domain.ValidCoilIndex(coil-1) {
		h.reject(Command{Kind: CommandSetCoil}, topic, domain.ErrInvalidCoilIndex.Error())
		return 0, false
	}
	return coil, true
}

func (h *CommandHandler) reject(cmd Command, topic, reason string) {
	h.logger.Warn().
		Str("topic", topic).
		Str("reason", reason).
		Msg("Command rejected")
	h.stats.CommandsRejected.Add(1)
	if h.metrics != nil {
		h.metrics.RecordCommand("mqtt", "rejected")
	}
	h.sendResponse(cmd, nil, errors.New(reason), 0)
}

// enqueue queues a command without blocking the MQTT callback.
func (h *CommandHandler) enqueue(cmd Command) {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	select {
	case h.commandQueue <- cmd:
	default:
		h.logger.Warn().
			Str("request_id", cmd.RequestID).
			Str("kind", string(cmd.Kind)).
			Msg("Command rejected: queue full (back-pressure)")
		h.stats.CommandsRejected.Add(1)
		if h.metrics != nil {
			h.metrics.RecordCommand("mqtt", "rejected")
		}
		h.sendResponse(cmd, nil, errors.New("command queue full, try again later"), 0)
	}
}

// execute runs one command against the controller and publishes the result.
func (h *CommandHandler) execute(parent context.Context, cmd Command) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(parent, h.config.WriteTimeout)
	defer cancel()

	var (
		value *bool
		err   error
	)
	switch cmd.Kind {
	case CommandSetCoil:
		err = h.controller.SetCoil(ctx, cmd.Coil-1, cmd.Value)
		v := cmd.Value
		value = &v
	case CommandToggleCoil:
		var v bool
		v, err = h.controller.ToggleCoil(ctx, cmd.Coil-1)
		value = &v
	case CommandConnect:
		err = h.controller.Connect(ctx, cmd.Host, cmd.Port)
	case CommandDisconnect:
		err = h.controller.Disconnect()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Kind)
	}

	result := "success"
	if err != nil {
		result = "error"
		h.stats.CommandsFailed.Add(1)
		h.logger.Error().
			Err(err).
			Str("request_id", cmd.RequestID).
			Str("kind", string(cmd.Kind)).
			Int("coil", cmd.Coil).
			Msg("Command failed")
	} else {
		h.stats.CommandsSucceeded.Add(1)
		h.logger.Debug().
			Str("request_id", cmd.RequestID).
			Str("kind", string(cmd.Kind)).
			Int("coil", cmd.Coil).
			Dur("duration", time.Since(startTime)).
			Msg("Command succeeded")
	}
	if h.metrics != nil {
		h.metrics.RecordCommand("mqtt", result)
	}

	h.sendResponse(cmd, value, err, time.Since(startTime))
}

// sendResponse publishes the outcome to {prefix}/cmd/response/{kind}.
func (h *CommandHandler) sendResponse(cmd Command, value *bool, cmdErr error, duration time.Duration) {
	if !h.config.EnableAcknowledgement {
		return
	}

	response := CommandResponse{
		RequestID: cmd.RequestID,
		Kind:      cmd.Kind,
		Coil:      cmd.Coil,
		Value:     value,
		Success:   cmdErr == nil,
		Timestamp: time.Now(),
		Duration:  float64(duration.Microseconds()) / 1000,
	}
	if cmdErr != nil {
		response.Error = cmdErr.Error()
	}

	payload, err := json.Marshal(response)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}

	kind := string(cmd.Kind)
	if kind == "" {
		kind = "unknown"
	}
	topic := fmt.Sprintf("%s/cmd/response/%s", h.config.TopicPrefix, kind)
	token := h.mqttClient.Publish(topic, h.config.QoS, false, payload)
	if !token.WaitTimeout(h.config.WriteTimeout) {
		h.logger.Warn().Str("topic", topic).Msg("Timed out publishing response")
		return
	}
	if token.Error() != nil {
		h.logger.Error().Err(token.Error()).Msg("Failed to publish response")
	}
}
