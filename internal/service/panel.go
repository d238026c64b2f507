package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/adapter/modbus"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/nexus-edge/protolink-panel/internal/trend"
	"github.com/rs/zerolog"
)

// Panel is the controller behind every operator surface. It owns the
// connection, runs the poll cadence and routes relay commands.
//
// Every transport call (connect, poll cycle, coil write, on-demand read) runs
// under opMu, so a write completes before the next cycle starts and a cycle
// never overlaps another. Connect and Disconnect are serialised by
// lifecycleMu so that at most one cadence goroutine exists.
type Panel struct {
	config  PollingConfig
	dialer  domain.Dialer
	conn    *ConnectionManager
	display *DisplayState
	writer  *CoilWriter
	poller  *Poller
	logger  zerolog.Logger
	metrics *metrics.Registry

	opMu        sync.Mutex
	lifecycleMu sync.Mutex

	cadenceMu sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	subsMu       sync.RWMutex
	snapshotSubs []func(domain.DeviceSnapshot)
	stateSubs    []func(domain.ConnectionState)

	lastSnapshot atomic.Pointer[domain.DeviceSnapshot]
}

// NewPanel wires a Panel around dialer. metricsReg may be nil.
func NewPanel(config PollingConfig, dialer domain.Dialer, logger zerolog.Logger, metricsReg *metrics.Registry) *Panel {
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}
	if config.TrendCapacity <= 0 {
		config.TrendCapacity = trend.DefaultCapacity
	}

	p := &Panel{
		config:  config,
		dialer:  dialer,
		display: NewDisplayState(config.TrendCapacity),
		logger:  logger.With().Str("component", "panel").Logger(),
		metrics: metricsReg,
	}
	p.conn = NewConnectionManager(dialer, logger, metricsReg)
	p.writer = NewCoilWriter(p.display, p.conn, logger, metricsReg)
	p.poller = NewPoller(config, p.writer, logger, metricsReg)
	p.conn.OnStateChange(p.handleStateChange)
	return p
}

// Connect validates the endpoint, replaces any existing connection and
// starts polling. Errors wrap domain.ErrConfig or domain.ErrConnect.
func (p *Panel) Connect(ctx context.Context, host string, port int) error {
	endpoint, err := domain.NewEndpoint(host, port)
	if err != nil {
		return err
	}

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.stopCadence()

	p.opMu.Lock()
	if p.conn.State() != domain.StateDisconnected {
		if err := p.teardownLocked(); err != nil {
			p.logger.Warn().Err(err).Msg("Error closing previous connection")
		}
	}
	err = p.conn.Open(ctx, endpoint)
	p.opMu.Unlock()
	if err != nil {
		return err
	}

	p.startCadence()
	return nil
}

// Disconnect stops polling, closes the transport and resets the display.
// The panel is Disconnected afterwards even when closing reports an error.
func (p *Panel) Disconnect() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.stopCadence()

	p.opMu.Lock()
	defer p.opMu.Unlock()

	err := p.teardownLocked()
	if err != nil {
		p.logger.Warn().Err(err).Msg("Disconnect reported an error")
	} else {
		p.logger.Info().Msg("Disconnected")
	}
	return err
}

// Close disconnects. It is used on process shutdown.
func (p *Panel) Close() error {
	return p.Disconnect()
}

// OnSnapshot registers fn to receive every successful poll result.
// fn runs on the polling goroutine after the cycle has released the
// operation lock. It may call SetCoil or the read accessors but not
// Connect or Disconnect, which wait for the polling goroutine.
func (p *Panel) OnSnapshot(fn func(domain.DeviceSnapshot)) {
	p.subsMu.Lock()
	p.snapshotSubs = append(p.snapshotSubs, fn)
	p.subsMu.Unlock()
}

// OnStateChange registers fn to receive connection state transitions.
// fn must not block or call back into the Panel.
func (p *Panel) OnStateChange(fn func(domain.ConnectionState)) {
	p.subsMu.Lock()
	p.stateSubs = append(p.stateSubs, fn)
	p.subsMu.Unlock()
}

// SetCoil requests relay index (0-3) be set to value.
func (p *Panel) SetCoil(ctx context.Context, index int, value bool) error {
	if !domain.ValidCoilIndex(index) {
		return domain.ErrInvalidCoilIndex
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.writer.SetCoil(ctx, OriginOperator, index, value)
}

// ToggleCoil inverts the displayed state of relay index and returns the
// displayed state afterwards.
func (p *Panel) ToggleCoil(ctx context.Context, index int) (bool, error) {
	if !domain.ValidCoilIndex(index) {
		return false, domain.ErrInvalidCoilIndex
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()
	err := p.writer.SetCoil(ctx, OriginOperator, index, !p.display.Relay(index))
	return p.display.Relay(index), err
}

// ReadSignal reads any mapped signal on demand. A failed read is returned
// but does not drop the connection.
func (p *Panel) ReadSignal(ctx context.Context, signal domain.Signal) (domain.SignalValue, error) {
	if _, ok := domain.Lookup(signal); !ok {
		return domain.SignalValue{}, domain.ErrUnknownSignal
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.SignalValue{}, err
	}
	transport := p.conn.Transport()
	if transport == nil {
		return domain.SignalValue{}, domain.ErrNotConnected
	}
	return p.poller.ReadSignal(transport, signal)
}

// ConnectionState returns the current state without blocking on I/O.
func (p *Panel) ConnectionState() domain.ConnectionState {
	return p.conn.State()
}

// Endpoint returns the endpoint of the current or last connection.
func (p *Panel) Endpoint() domain.Endpoint {
	return p.conn.Endpoint()
}

// Display returns what a presentation layer should render.
func (p *Panel) Display() domain.Display {
	return p.display.Snapshot()
}

// LastSnapshot returns the most recent successful poll result of the
// current connection. It reports false while Disconnected.
func (p *Panel) LastSnapshot() (domain.DeviceSnapshot, bool) {
	if snap := p.lastSnapshot.Load(); snap != nil {
		return *snap, true
	}
	return domain.DeviceSnapshot{}, false
}

// Trend returns the trend window of analog channel 1 or 2.
func (p *Panel) Trend(channel int) (trend.Window, error) {
	buf, err := p.display.Trend(channel)
	if err != nil {
		return trend.Window{}, err
	}
	return buf.Snapshot(trendName(channel)), nil
}

// Stats returns polling statistics.
func (p *Panel) Stats() PollingStatsSnapshot {
	return p.poller.Stats()
}

// TransportStatus describes the device link for diagnostics.
type TransportStatus struct {
	Endpoint       string                      `json:"endpoint,omitempty"`
	Breaker        string                      `json:"breaker,omitempty"`
	ConnectedSince *time.Time                  `json:"connected_since,omitempty"`
	Client         *modbus.ClientStatsSnapshot `json:"client,omitempty"`
}

// breakerReporter is implemented by dialers with a connect circuit breaker.
type breakerReporter interface {
	BreakerState() string
}

// clientStatsReporter is implemented by transports that keep I/O counters.
type clientStatsReporter interface {
	Stats() modbus.ClientStatsSnapshot
}

// TransportStatus reports the breaker state and, while connected, the
// connection time and client counters. It never blocks on I/O.
func (p *Panel) TransportStatus() TransportStatus {
	status := TransportStatus{
		Endpoint: p.conn.Endpoint().String(),
		Breaker:  p.breakerState(),
	}
	if since, ok := p.conn.ConnectedSince(); ok {
		status.ConnectedSince = &since
	}
	if client, ok := p.conn.Transport().(clientStatsReporter); ok {
		stats := client.Stats()
		status.Client = &stats
	}
	return status
}

// HealthCheck reports ready only while the device is connected.
func (p *Panel) HealthCheck(ctx context.Context) error {
	if p.conn.State() != domain.StateConnected {
		if breaker := p.breakerState(); breaker != "" {
			return fmt.Errorf("%w (connect breaker %s)", domain.ErrNotConnected, breaker)
		}
		return domain.ErrNotConnected
	}
	return nil
}

func (p *Panel) breakerState() string {
	if b, ok := p.dialer.(breakerReporter); ok {
		return b.BreakerState()
	}
	return ""
}

func (p *Panel) startCadence() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.cadenceMu.Lock()
	p.cancel, p.done = cancel, done
	p.cadenceMu.Unlock()

	go p.cadence(ctx, done)
}

// stopCadence cancels the polling goroutine and waits for it to exit.
func (p *Panel) stopCadence() {
	p.cadenceMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.cadenceMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Panel) cadence(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.logger.Debug().Dur("interval", p.config.Interval).Msg("Starting poll cadence")

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Initial poll
	if !p.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one cycle and publishes its result. It returns false when the
// cadence must stop.
func (p *Panel) tick(ctx context.Context) bool {
	start := time.Now()
	snap, ok := p.runCycle(ctx)
	if !ok {
		return false
	}

	// time.Ticker drops ticks while the receiver is busy
	if elapsed := time.Since(start); elapsed > p.config.Interval {
		p.poller.recordSkipped(uint64(elapsed / p.config.Interval))
	}

	p.lastSnapshot.Store(&snap)

	p.subsMu.RLock()
	subs := append([]func(domain.DeviceSnapshot){}, p.snapshotSubs...)
	p.subsMu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
	return true
}

func (p *Panel) runCycle(ctx context.Context) (domain.DeviceSnapshot, bool) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if ctx.Err() != nil {
		return domain.DeviceSnapshot{}, false
	}
	transport := p.conn.Transport()
	if transport == nil {
		return domain.DeviceSnapshot{}, false
	}

	snap, err := p.poller.Cycle(ctx, transport, p.display)
	if err != nil {
		if ctx.Err() != nil {
			// Disconnect in progress; it tears down.
			return domain.DeviceSnapshot{}, false
		}
		p.logger.Error().Err(err).Msg("Poll failed, disconnecting")
		if cerr := p.teardownLocked(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("Error closing connection after poll failure")
		}
		return domain.DeviceSnapshot{}, false
	}
	return snap, true
}

// teardownLocked discards the last snapshot, closes the transport, forces
// Disconnected and clears the display. Callers hold opMu.
func (p *Panel) teardownLocked() error {
	p.lastSnapshot.Store(nil)
	err := p.conn.Close()
	p.display.Reset()
	if p.metrics != nil {
		p.metrics.ResetReadings()
	}
	return err
}

func (p *Panel) handleStateChange(state domain.ConnectionState) {
	p.display.SetConnection(state, p.conn.Endpoint())

	p.subsMu.RLock()
	subs := append([]func(domain.ConnectionState){}, p.stateSubs...)
	p.subsMu.RUnlock()
	for _, fn := range subs {
		fn(state)
	}
}

func trendName(channel int) string {
	if channel == 1 {
		return "ch1"
	}
	return "ch2"
}
