// Package service provides the polling engine, the write coordinator and
// the Panel controller that ties them to the device connection.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/adapter/modbus"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// PollingConfig holds configuration for the polling engine.
type PollingConfig struct {
	Interval      time.Duration
	WordOrder     domain.WordOrder
	TrendCapacity int
}

// PollingStats tracks polling statistics.
type PollingStats struct {
	TotalCycles   atomic.Uint64
	SuccessCycles atomic.Uint64
	FailedCycles  atomic.Uint64
	SkippedTicks  atomic.Uint64 // ticks dropped while a cycle was running
	LastDuration  atomic.Int64  // nanoseconds
}

// PollingStatsSnapshot is a point-in-time copy of PollingStats.
type PollingStatsSnapshot struct {
	TotalCycles    uint64  `json:"total_cycles"`
	SuccessCycles  uint64  `json:"success_cycles"`
	FailedCycles   uint64  `json:"failed_cycles"`
	SkippedTicks   uint64  `json:"skipped_ticks"`
	LastDurationMs float64 `json:"last_duration_ms"`
}

// Poller runs one read cycle against the device.
type Poller struct {
	config    PollingConfig
	registers domain.RegisterMap
	writer    *CoilWriter
	logger    zerolog.Logger
	metrics   *metrics.Registry
	stats     *PollingStats
}

// NewPoller creates a Poller. Relay states read from the device are applied
// through writer with OriginPoll.
func NewPoller(config PollingConfig, writer *CoilWriter, logger zerolog.Logger, metricsReg *metrics.Registry) *Poller {
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}
	if config.WordOrder == "" {
		config.WordOrder = domain.WordOrderHighLow
	}

	return &Poller{
		config:    config,
		registers: domain.ProtolinkMap(),
		writer:    writer,
		logger:    logger.With().Str("component", "poller").Logger(),
		metrics:   metricsReg,
		stats:     &PollingStats{},
	}
}

// analogChannels are read in order at the start of every cycle.
var analogChannels = [...]domain.Signal{domain.SignalAI1MilliAmps, domain.SignalAI2MilliAmps}

// Cycle reads both analog currents, the discrete inputs and the relay bank,
// applying each to sink as it arrives. The first failure aborts the cycle
// and is returned as a *domain.PollError.
func (p *Poller) Cycle(ctx context.Context, transport domain.Transport, sink Sink) (domain.DeviceSnapshot, error) {
	start := time.Now()
	p.stats.TotalCycles.Add(1)
	snap := domain.DeviceSnapshot{Timestamp: start}

	// Step 1: analog inputs
	for i, signal := range analogChannels {
		if err := ctx.Err(); err != nil {
			return snap, p.fail(&domain.PollError{Step: domain.PollStepAnalog, Signal: signal, Err: err})
		}
		v, err := p.readFloat(transport, p.registers.MustLookup(signal))
		if err != nil {
			return snap, p.fail(&domain.PollError{Step: domain.PollStepAnalog, Signal: signal, Err: err})
		}
		sink.ApplyAnalog(i+1, start, v)
		if i == 0 {
			snap.Ch1MilliAmps = v
		} else {
			snap.Ch2MilliAmps = v
		}
		if p.metrics != nil {
			p.metrics.UpdateAnalog(i+1, v)
		}
	}

	// Step 2: discrete inputs
	if err := ctx.Err(); err != nil {
		return snap, p.fail(&domain.PollError{Step: domain.PollStepDigitalInputs, Err: err})
	}
	di, err := p.readBank(transport, p.registers.MustLookup(domain.SignalDigitalInputs))
	if err != nil {
		return snap, p.fail(&domain.PollError{Step: domain.PollStepDigitalInputs, Signal: domain.SignalDigitalInputs, Err: err})
	}
	sink.ApplyDigitalInputs(di)
	snap.DigitalIn = di

	// Step 3: relays, reconciled without echoing writes
	if err := ctx.Err(); err != nil {
		return snap, p.fail(&domain.PollError{Step: domain.PollStepDigitalOutputs, Err: err})
	}
	do, err := p.readBank(transport, p.registers.MustLookup(domain.SignalRelays))
	if err != nil {
		return snap, p.fail(&domain.PollError{Step: domain.PollStepDigitalOutputs, Signal: domain.SignalRelays, Err: err})
	}
	for i, v := range do {
		if err := p.writer.SetCoil(ctx, OriginPoll, i, v); err != nil {
			return snap, p.fail(&domain.PollError{Step: domain.PollStepDigitalOutputs, Signal: domain.SignalRelays, Err: err})
		}
	}
	snap.DigitalOut = do

	duration := time.Since(start)
	p.stats.SuccessCycles.Add(1)
	p.stats.LastDuration.Store(duration.Nanoseconds())
	if p.metrics != nil {
		p.metrics.RecordPollSuccess(duration.Seconds())
		p.metrics.UpdateBank("di", di)
		p.metrics.UpdateBank("do", do)
	}

	p.logger.Trace().
		Float32("ch1_ma", snap.Ch1MilliAmps).
		Float32("ch2_ma", snap.Ch2MilliAmps).
		Dur("duration", duration).
		Msg("Poll cycle complete")
	return snap, nil
}

// ReadSignal reads one mapped signal outside the cycle.
func (p *Poller) ReadSignal(transport domain.Transport, signal domain.Signal) (domain.SignalValue, error) {
	reg, ok := p.registers.Lookup(signal)
	if !ok {
		return domain.SignalValue{}, fmt.Errorf("%w: %q", domain.ErrUnknownSignal, signal)
	}

	value := domain.SignalValue{Signal: signal, Encoding: reg.Encoding, Timestamp: time.Now()}
	var err error
	switch reg.Encoding {
	case domain.EncodingFloat32:
		var f float32
		if f, err = p.readFloat(transport, reg); err == nil {
			v := float64(f)
			value.Value = &v
		}
	case domain.EncodingRawInt:
		var regs []uint16
		if regs, err = transport.ReadInputRegisters(reg.Address, 1); err == nil {
			if len(regs) != 1 {
				err = fmt.Errorf("%w: want 1 register, got %d", domain.ErrInvalidDataLength, len(regs))
			} else {
				v := float64(modbus.DecodeInt16(regs[0]))
				value.Value = &v
			}
		}
	case domain.EncodingBit:
		value.Bits, err = p.readBits(transport, reg)
	}
	if err != nil {
		return domain.SignalValue{}, &domain.PollError{Step: domain.PollStepOnDemand, Signal: signal, Err: err}
	}
	return value, nil
}

// Stats returns a copy of the polling statistics.
func (p *Poller) Stats() PollingStatsSnapshot {
	return PollingStatsSnapshot{
		TotalCycles:    p.stats.TotalCycles.Load(),
		SuccessCycles:  p.stats.SuccessCycles.Load(),
		FailedCycles:   p.stats.FailedCycles.Load(),
		SkippedTicks:   p.stats.SkippedTicks.Load(),
		LastDurationMs: float64(p.stats.LastDuration.Load()) / 1e6,
	}
}

// recordSkipped counts ticks that fired while a cycle was running.
func (p *Poller) recordSkipped(n uint64) {
	if n == 0 {
		return
	}
	p.stats.SkippedTicks.Add(n)
	if p.metrics != nil {
		for i := uint64(0); i < n; i++ {
			p.metrics.RecordPollSkipped()
		}
	}
	p.logger.Debug().Uint64("skipped", n).Msg("Poll ticks skipped: cycle overran interval")
}

func (p *Poller) fail(err *domain.PollError) error {
	p.stats.FailedCycles.Add(1)
	if p.metrics != nil {
		p.metrics.RecordPollError(err.Step)
	}
	return err
}

func (p *Poller) readFloat(transport domain.Transport, reg domain.Register) (float32, error) {
	regs, err := transport.ReadInputRegisters(reg.Address, reg.Count)
	if err != nil {
		return 0, err
	}
	pair, err := modbus.RegisterPair(regs)
	if err != nil {
		return 0, err
	}
	return modbus.DecodeFloat32(pair, p.config.WordOrder), nil
}

func (p *Poller) readBits(transport domain.Transport, reg domain.Register) ([]bool, error) {
	var (
		bits []bool
		err  error
	)
	switch reg.Region {
	case domain.RegionDiscreteInput:
		bits, err = transport.ReadDiscreteInputs(reg.Address, reg.Count)
	case domain.RegionCoil:
		bits, err = transport.ReadCoils(reg.Address, reg.Count)
	default:
		return nil, fmt.Errorf("%w: %s is not a bit region", domain.ErrUnknownSignal, reg.Region)
	}
	if err != nil {
		return nil, err
	}
	if len(bits) < int(reg.Count) {
		return nil, fmt.Errorf("%w: want %d bits, got %d", domain.ErrInvalidDataLength, reg.Count, len(bits))
	}
	return bits, nil
}

func (p *Poller) readBank(transport domain.Transport, reg domain.Register) ([domain.BankSize]bool, error) {
	bits, err := p.readBits(transport, reg)
	if err != nil {
		return [domain.BankSize]bool{}, err
	}
	return modbus.Bank(bits), nil
}
