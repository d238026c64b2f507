package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Dialer opens Modbus TCP connections. Repeated connect failures open a
// circuit breaker so that operators get an immediate error instead of
// waiting for another timeout against an unreachable host.
type Dialer struct {
	config  DialerConfig
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewDialer creates a new Dialer. metricsReg may be nil.
func NewDialer(config DialerConfig, logger zerolog.Logger, metricsReg *metrics.Registry) *Dialer {
	if config.UnitID == 0 {
		config.UnitID = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.BreakerOpenTimeout == 0 {
		config.BreakerOpenTimeout = 10 * time.Second
	}

	d := &Dialer{
		config:  config,
		logger:  logger.With().Str("component", "modbus-dialer").Logger(),
		metrics: metricsReg,
	}
	if config.BreakerMaxFailures > 0 {
		d.breaker = d.createCircuitBreaker()
	}
	return d
}

// createCircuitBreaker trips after BreakerMaxFailures consecutive connect failures.
func (d *Dialer) createCircuitBreaker() *gobreaker.CircuitBreaker {
	maxFailures := d.config.BreakerMaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "modbus-connect",
		MaxRequests: 1,
		Timeout:     d.config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			d.logger.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Modbus circuit breaker state changed")
		},
	})
}

// Dial connects to the endpoint and returns a ready transport.
func (d *Dialer) Dial(ctx context.Context, endpoint domain.Endpoint) (domain.Transport, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	if d.breaker == nil {
		return d.connect(ctx, endpoint)
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		return d.connect(ctx, endpoint)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrConnect, domain.ErrCircuitBreakerOpen)
		}
		return nil, err
	}
	return result.(*Client), nil
}

// BreakerState returns the breaker state name, or "disabled".
func (d *Dialer) BreakerState() string {
	if d.breaker == nil {
		return "disabled"
	}
	return d.breaker.State().String()
}

func (d *Dialer) connect(ctx context.Context, endpoint domain.Endpoint) (*Client, error) {
	client, err := NewClient(ClientConfig{
		Address:     endpoint.Address(),
		UnitID:      d.config.UnitID,
		Timeout:     d.config.Timeout,
		IdleTimeout: d.config.IdleTimeout,
	}, d.logger)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	start := time.Now()
	err = client.Connect(connectCtx)
	if d.metrics != nil {
		d.metrics.RecordConnection(err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("endpoint", endpoint.String()).Msg("Failed to connect")
		return nil, err
	}

	d.logger.Info().
		Str("endpoint", endpoint.String()).
		Dur("latency", time.Since(start)).
		Msg("Opened Modbus connection")
	return client, nil
}
