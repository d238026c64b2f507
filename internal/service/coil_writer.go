package service

import (
	"context"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/rs/zerolog"
)

// Origin says where a relay change came from.
type Origin int

const (
	// OriginOperator changes are written to the device.
	OriginOperator Origin = iota
	// OriginPoll changes reflect the device and are never written back.
	OriginPoll
)

func (o Origin) String() string {
	if o == OriginPoll {
		return "poll"
	}
	return "operator"
}

// TransportSource yields the open transport, or nil when disconnected.
type TransportSource interface {
	Transport() domain.Transport
}

// CoilWriter applies relay changes to the display and, for operator
// changes on an open connection, to the device.
// Callers serialise SetCoil with other transport use.
type CoilWriter struct {
	display RelayDisplay
	conn    TransportSource
	relays  domain.Register
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewCoilWriter creates a writer for the relay bank of the register map.
func NewCoilWriter(display RelayDisplay, conn TransportSource, logger zerolog.Logger, metricsReg *metrics.Registry) *CoilWriter {
	return &CoilWriter{
		display: display,
		conn:    conn,
		relays:  domain.MustLookup(domain.SignalRelays),
		logger:  logger.With().Str("component", "coil-writer").Logger(),
		metrics: metricsReg,
	}
}

// SetCoil sets relay index to value.
//
// Poll-originated changes update the display only. Operator changes with no
// open connection revert the display and return nil. Otherwise one
// single-coil write is issued; on failure a *domain.WriteError is returned
// and the display keeps the requested value until the next poll.
func (w *CoilWriter) SetCoil(ctx context.Context, origin Origin, index int, value bool) error {
	if !domain.ValidCoilIndex(index) {
		return domain.ErrInvalidCoilIndex
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prev := w.display.Relay(index)
	w.display.SetRelay(index, value)

	if origin == OriginPoll {
		if prev != value && w.metrics != nil {
			w.metrics.RecordSuppressedWrite()
		}
		return nil
	}

	transport := w.conn.Transport()
	if transport == nil {
		w.display.SetRelay(index, prev)
		w.logger.Debug().
			Int("coil", index+1).
			Msg("Not connected, relay change reverted")
		return nil
	}

	address := w.relays.Address + uint16(index)
	if err := transport.WriteSingleCoil(address, value); err != nil {
		if w.metrics != nil {
			w.metrics.RecordCoilWrite(false)
		}
		w.logger.Error().
			Err(err).
			Int("coil", index+1).
			Bool("value", value).
			Msg("Coil write failed")
		return &domain.WriteError{Index: index, Value: value, Err: err}
	}

	if w.metrics != nil {
		w.metrics.RecordCoilWrite(true)
	}
	w.logger.Info().
		Int("coil", index+1).
		Bool("value", value).
		Msg("Relay set")
	return nil
}
