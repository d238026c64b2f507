package service

import (
	"context"
	"testing"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoilWriter_PollOriginNeverWrites(t *testing.T) {
	transport := newFakeTransport()
	display := NewDisplayState(0)
	reg := metrics.NewRegistry()
	w := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), reg)

	require.NoError(t, w.SetCoil(context.Background(), OriginPoll, 1, true))

	assert.True(t, display.Relay(1))
	assert.Empty(t, transport.coilWrites())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.SuppressedWrite))

	// unchanged value is not counted
	require.NoError(t, w.SetCoil(context.Background(), OriginPoll, 1, true))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.SuppressedWrite))
}

func TestCoilWriter_DisconnectedReverts(t *testing.T) {
	display := NewDisplayState(0)
	display.SetRelay(0, true)
	w := NewCoilWriter(display, staticSource{}, zerolog.Nop(), nil)

	err := w.SetCoil(context.Background(), OriginOperator, 0, false)
	assert.NoError(t, err)
	assert.True(t, display.Relay(0), "display must return to its prior value")

	err = w.SetCoil(context.Background(), OriginOperator, 2, true)
	assert.NoError(t, err)
	assert.False(t, display.Relay(2))
}

func TestCoilWriter_OperatorWrites(t *testing.T) {
	transport := newFakeTransport()
	display := NewDisplayState(0)
	reg := metrics.NewRegistry()
	w := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), reg)

	for i := 0; i < domain.BankSize; i++ {
		require.NoError(t, w.SetCoil(context.Background(), OriginOperator, i, true))
	}
	require.NoError(t, w.SetCoil(context.Background(), OriginOperator, 3, false))

	assert.Equal(t, []coilWrite{
		{Address: 0, Value: true},
		{Address: 1, Value: true},
		{Address: 2, Value: true},
		{Address: 3, Value: true},
		{Address: 3, Value: false},
	}, transport.coilWrites())
	assert.Equal(t, [domain.BankSize]bool{true, true, true, false}, display.Snapshot().DigitalOut)
	assert.Equal(t, 5.0, testutil.ToFloat64(reg.CoilWrites.WithLabelValues("success")))
}

func TestCoilWriter_Idempotent(t *testing.T) {
	transport := newFakeTransport()
	display := NewDisplayState(0)
	w := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), nil)

	require.NoError(t, w.SetCoil(context.Background(), OriginOperator, 1, true))
	require.NoError(t, w.SetCoil(context.Background(), OriginOperator, 1, true))

	assert.True(t, display.Relay(1))
	assert.Len(t, transport.coilWrites(), 2)
}

func TestCoilWriter_WriteFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failWrite = errInjected
	display := NewDisplayState(0)
	reg := metrics.NewRegistry()
	w := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), reg)

	err := w.SetCoil(context.Background(), OriginOperator, 2, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWrite)
	assert.ErrorIs(t, err, errInjected)

	var writeErr *domain.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 2, writeErr.Index)
	assert.True(t, writeErr.Value)
	assert.Contains(t, err.Error(), "relay 3")

	// the next poll reconciles the display
	assert.True(t, display.Relay(2))
	assert.False(t, transport.isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CoilWrites.WithLabelValues("error")))
}

func TestCoilWriter_InvalidIndex(t *testing.T) {
	w := NewCoilWriter(NewDisplayState(0), staticSource{}, zerolog.Nop(), nil)

	for _, index := range []int{-1, 4, 100} {
		err := w.SetCoil(context.Background(), OriginOperator, index, true)
		assert.ErrorIs(t, err, domain.ErrInvalidCoilIndex, "index %d", index)
	}
}

func TestCoilWriter_CancelledContext(t *testing.T) {
	transport := newFakeTransport()
	display := NewDisplayState(0)
	w := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.SetCoil(ctx, OriginOperator, 0, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, display.Relay(0))
	assert.Empty(t, transport.coilWrites())
}

func TestOrigin_String(t *testing.T) {
	assert.Equal(t, "operator", OriginOperator.String())
	assert.Equal(t, "poll", OriginPoll.String())
}
