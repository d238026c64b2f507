// Package mqtt publishes panel state to an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// Status payloads on {prefix}/status. Offline is the broker-side will.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Publisher mirrors snapshots and connection state to MQTT. Publishing
// never blocks the caller. Snapshots go through a bounded drop-oldest
// buffer; the retained state is held in a single slot that only a newer
// state replaces. One worker drains both, state first.
type Publisher struct {
	config    Config
	client    pahomqtt.Client
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	logger    zerolog.Logger
	metrics   *metrics.Registry
	mu        sync.RWMutex
	connected atomic.Bool
	buffer    chan *BufferedMessage
	state     atomic.Pointer[BufferedMessage]
	stateSet  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	stats     *PublisherStats
}

// Config holds MQTT publisher configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
	TLSCAFile      string
	BufferSize     int
	PublishTimeout time.Duration
	TopicPrefix    string
}

// BufferedMessage represents a message waiting to be published.
type BufferedMessage struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Timestamp time.Time
}

// PublisherStats tracks publisher performance metrics.
type PublisherStats struct {
	MessagesPublished atomic.Uint64
	MessagesFailed    atomic.Uint64
	MessagesDropped   atomic.Uint64
	BytesSent         atomic.Uint64
	ReconnectCount    atomic.Uint64
}

// StatePayload is published retained on {prefix}/state.
type StatePayload struct {
	State     domain.ConnectionState `json:"state"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "protolink-panel",
		CleanSession:   true,
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		BufferSize:     256,
		PublishTimeout: 2 * time.Second,
		TopicPrefix:    "protolink/panel",
	}
}

// NewPublisher creates a new MQTT publisher.
func NewPublisher(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) *Publisher {
	defaults := DefaultConfig()
	if config.BufferSize == 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = defaults.KeepAlive
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaults.TopicPrefix
	}

	return &Publisher{
		config:    config,
		newClient: pahomqtt.NewClient,
		logger:    logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics:   metricsReg,
		buffer:    make(chan *BufferedMessage, config.BufferSize),
		stateSet:  make(chan struct{}, 1),
		stats:     &PublisherStats{},
	}
}

// Topic returns {prefix}/{suffix}.
func (p *Publisher) Topic(suffix string) string {
	return p.config.TopicPrefix + "/" + suffix
}

// Connect establishes the connection to the MQTT broker and starts the
// buffer worker.
func (p *Publisher) Connect(ctx context.Context) error {
	opts, err := p.clientOptions()
	if err != nil {
		return err
	}

	client := p.newClient(opts)

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("Connecting to MQTT broker")

	token := client.Connect()

	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.config.ConnectTimeout)
	}()

	select {
	case success := <-connectDone:
		if !success {
			return fmt.Errorf("%w: connection timeout", domain.ErrMQTTConnectionFailed)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.mu.Lock()
	p.client = client
	p.done = make(chan struct{})
	p.mu.Unlock()

	// the on-connect handler may not have fired yet
	p.connected.Store(true)

	p.wg.Add(1)
	go p.processBuffer(p.done)

	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

func (p *Publisher) clientOptions() (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetCleanSession(p.config.CleanSession)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.config.ReconnectDelay)
	opts.SetWill(p.Topic("status"), StatusOffline, p.config.QoS, true)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	if p.config.TLSEnabled {
		tlsConfig, err := p.createTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)
	return opts, nil
}

// Disconnect publishes the offline status and disconnects.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()

	if done == nil {
		return
	}

	p.logger.Info().Msg("Disconnecting from MQTT broker")
	close(done)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		token := p.client.Publish(p.Topic("status"), p.config.QoS, true, []byte(StatusOffline))
		token.WaitTimeout(p.config.PublishTimeout)
		p.client.Disconnect(250)
	}

	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// PublishSnapshot queues a snapshot for {prefix}/snapshot.
func (p *Publisher) PublishSnapshot(snap domain.DeviceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	return p.enqueue(p.Topic("snapshot"), payload, false)
}

// PublishState queues a retained connection state message. It replaces a
// state that has not been sent yet and is never evicted by snapshots.
func (p *Publisher) PublishState(state domain.ConnectionState, endpoint domain.Endpoint) error {
	payload, err := json.Marshal(StatePayload{
		State:     state,
		Endpoint:  endpoint.String(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	msg := &BufferedMessage{
		Topic:     p.Topic("state"),
		Payload:   payload,
		QoS:       p.config.QoS,
		Retained:  true,
		Timestamp: time.Now(),
	}
	if p.state.Swap(msg) != nil {
		p.logger.Debug().Msg("Superseded unsent state message")
	}
	select {
	case p.stateSet <- struct{}{}:
	default:
	}
	return nil
}

// PendingState returns the state message not yet handed to the broker.
func (p *Publisher) PendingState() (*BufferedMessage, bool) {
	msg := p.state.Load()
	return msg, msg != nil
}

// enqueue adds a message to the buffer, dropping the oldest when full.
func (p *Publisher) enqueue(topic string, payload []byte, retained bool) error {
	msg := &BufferedMessage{
		Topic:     topic,
		Payload:   payload,
		QoS:       p.config.QoS,
		Retained:  retained,
		Timestamp: time.Now(),
	}

	select {
	case p.buffer <- msg:
		return nil
	default:
	}

	select {
	case <-p.buffer:
		p.stats.MessagesDropped.Add(1)
		p.logger.Warn().Msg("Buffer full, dropped oldest message")
	default:
	}

	select {
	case p.buffer <- msg:
		return nil
	default:
		p.stats.MessagesDropped.Add(1)
		return domain.ErrMQTTBufferFull
	}
}

// processBuffer publishes buffered messages while connected.
func (p *Publisher) processBuffer(done chan struct{}) {
	defer p.wg.Done()

	for {
		// state takes priority over queued snapshots
		select {
		case <-p.stateSet:
			if !p.waitConnected(done) {
				return
			}
			p.publishState()
			continue
		default:
		}

		select {
		case <-done:
			p.drainBuffer()
			return
		case <-p.stateSet:
			if !p.waitConnected(done) {
				return
			}
			p.publishState()
		case msg := <-p.buffer:
			if !p.waitConnected(done) {
				return
			}
			p.publishBuffered(msg)
		}
	}
}

// waitConnected blocks until the broker connection is up. It returns false
// when done is closed first.
func (p *Publisher) waitConnected(done chan struct{}) bool {
	for !p.connected.Load() {
		select {
		case <-done:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return true
}

// publishState sends the pending state. A failed publish puts it back,
// unless a newer state arrived meanwhile, for the next reconnect to send.
func (p *Publisher) publishState() {
	msg := p.state.Swap(nil)
	if msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()
	if err := p.publishRaw(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retained); err != nil {
		p.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Failed to publish state")
		p.state.CompareAndSwap(nil, msg)
	}
}

// drainBuffer publishes what is left, bounded by one publish timeout each.
func (p *Publisher) drainBuffer() {
	if p.connected.Load() {
		p.publishState()
	}
	for {
		select {
		case msg := <-p.buffer:
			if !p.connected.Load() {
				p.stats.MessagesDropped.Add(1)
				continue
			}
			p.publishBuffered(msg)
		default:
			return
		}
	}
}

func (p *Publisher) publishBuffered(msg *BufferedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()
	if err := p.publishRaw(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retained); err != nil {
		p.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Failed to publish message")
	}
}

// publishRaw publishes a payload and waits for the broker acknowledgement.
func (p *Publisher) publishRaw(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return domain.ErrMQTTNotConnected
	}

	start := time.Now()
	token := client.Publish(topic, qos, retained, payload)

	publishDone := make(chan bool, 1)
	go func() {
		publishDone <- token.WaitTimeout(p.config.PublishTimeout)
	}()

	var err error
	select {
	case success := <-publishDone:
		if !success {
			err = fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		} else if token.Error() != nil {
			err = fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
		}
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, ctx.Err())
	}

	latency := time.Since(start).Seconds()
	if p.metrics != nil {
		p.metrics.RecordMQTTPublish(err == nil, latency)
	}
	if err != nil {
		p.stats.MessagesFailed.Add(1)
		return err
	}

	p.stats.MessagesPublished.Add(1)
	p.stats.BytesSent.Add(uint64(len(payload)))
	return nil
}

// createTLSConfig creates TLS configuration for secure connections.
func (p *Publisher) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if p.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(p.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if p.config.TLSCertFile != "" && p.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(p.config.TLSCertFile, p.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// onConnect announces the panel as online, also after reconnects.
func (p *Publisher) onConnect(client pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")
	client.Publish(p.Topic("status"), p.config.QoS, true, []byte(StatusOnline))

	if p.state.Load() != nil {
		select {
		case p.stateSet <- struct{}{}:
		default:
		}
	}
}

func (p *Publisher) onConnectionLost(_ pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	p.stats.ReconnectCount.Add(1)
	p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
}

// IsConnected returns true if the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() map[string]uint64 {
	return map[string]uint64{
		"messages_published": p.stats.MessagesPublished.Load(),
		"messages_failed":    p.stats.MessagesFailed.Load(),
		"messages_dropped":   p.stats.MessagesDropped.Load(),
		"bytes_sent":         p.stats.BytesSent.Load(),
		"reconnect_count":    p.stats.ReconnectCount.Load(),
	}
}

// BufferSize returns the current number of buffered messages.
func (p *Publisher) BufferSize() int {
	return len(p.buffer)
}

// HealthCheck implements the health.Checker interface.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}

// Client returns the underlying MQTT client.
// The command handler subscribes through it.
func (p *Publisher) Client() pahomqtt.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}
