package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// ConnectionManager owns the single device connection and its state.
// Open and Close are not safe to call concurrently with each other or with
// transport use; the Panel serialises them under its operation lock.
type ConnectionManager struct {
	dialer  domain.Dialer
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu        sync.RWMutex
	endpoint  domain.Endpoint
	transport domain.Transport
	listeners []func(domain.ConnectionState)

	state     atomic.Int32
	connectAt atomic.Int64 // unix nanoseconds of the last successful Open
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(dialer domain.Dialer, logger zerolog.Logger, metricsReg *metrics.Registry) *ConnectionManager {
	return &ConnectionManager{
		dialer:  dialer,
		logger:  logger.With().Str("component", "connection-manager").Logger(),
		metrics: metricsReg,
	}
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func (m *ConnectionManager) OnStateChange(fn func(domain.ConnectionState)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Open connects to endpoint, closing any existing transport first.
// On failure the manager is Disconnected and the error wraps domain.ErrConnect.
func (m *ConnectionManager) Open(ctx context.Context, endpoint domain.Endpoint) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}

	if m.Transport() != nil || m.State() != domain.StateDisconnected {
		if err := m.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Error closing previous connection")
		}
	}

	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()

	m.setState(domain.StateConnecting)
	m.logger.Info().Str("endpoint", endpoint.String()).Msg("Connecting to device")

	transport, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		m.setState(domain.StateDisconnected)
		if !errors.Is(err, domain.ErrConnect) {
			err = fmt.Errorf("%w: %w", domain.ErrConnect, err)
		}
		m.logger.Error().Err(err).Str("endpoint", endpoint.String()).Msg("Connection failed")
		return err
	}

	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()
	m.connectAt.Store(time.Now().UnixNano())

	m.setState(domain.StateConnected)
	m.logger.Info().Str("endpoint", endpoint.String()).Msg("Connected to device")
	return nil
}

// Close releases the transport. The manager always ends Disconnected; the
// transport's close error is returned but does not block the transition.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	transport := m.transport
	m.transport = nil
	m.mu.Unlock()

	var err error
	if transport != nil {
		if err = transport.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Error closing transport")
		}
	}

	m.setState(domain.StateDisconnected)
	return err
}

// State returns the current connection state without blocking on I/O.
func (m *ConnectionManager) State() domain.ConnectionState {
	return domain.ConnectionState(m.state.Load())
}

// Endpoint returns the endpoint of the current or last connection.
func (m *ConnectionManager) Endpoint() domain.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

// Transport returns the open transport, or nil when not Connected.
func (m *ConnectionManager) Transport() domain.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.State() != domain.StateConnected {
		return nil
	}
	return m.transport
}

// ConnectedSince returns when the current connection was opened.
func (m *ConnectionManager) ConnectedSince() (time.Time, bool) {
	if m.State() != domain.StateConnected {
		return time.Time{}, false
	}
	return time.Unix(0, m.connectAt.Load()), true
}

func (m *ConnectionManager) setState(state domain.ConnectionState) {
	prev := domain.ConnectionState(m.state.Swap(int32(state)))
	if prev == state {
		return
	}

	if m.metrics != nil {
		m.metrics.SetConnectionState(state)
	}
	m.logger.Debug().
		Str("from", prev.String()).
		Str("to", state.String()).
		Msg("Connection state changed")

	m.mu.RLock()
	listeners := append([]func(domain.ConnectionState){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}
