package service

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollFixture struct {
	transport *fakeTransport
	display   *DisplayState
	poller    *Poller
	metrics   *metrics.Registry
}

func newPollFixture(order domain.WordOrder) *pollFixture {
	transport := newFakeTransport()
	display := NewDisplayState(0)
	reg := metrics.NewRegistry()
	writer := NewCoilWriter(display, staticSource{transport}, zerolog.Nop(), reg)
	return &pollFixture{
		transport: transport,
		display:   display,
		poller:    NewPoller(PollingConfig{WordOrder: order}, writer, zerolog.Nop(), reg),
		metrics:   reg,
	}
}

func TestPoller_CycleDecodesAnalog(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	// AI1 mA at input registers 2-3 reads 0x4048 0xF5C3
	f.transport.setRegisters(2, 0x4048, 0xF5C3)
	f.transport.setFloat(12, 12.5, domain.WordOrderHighLow)

	snap, err := f.poller.Cycle(context.Background(), f.transport, f.display)
	require.NoError(t, err)

	assert.InDelta(t, 3.14, snap.Ch1MilliAmps, 1e-6)
	assert.Equal(t, float32(12.5), snap.Ch2MilliAmps)

	display := f.display.Snapshot()
	assert.Equal(t, "3.14", display.Ch1.String())
	assert.Equal(t, "12.50", display.Ch2.String())

	buf, err := f.display.Trend(1)
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())
	assert.InDelta(t, 3.14, buf.Points()[0].Value, 1e-6)
	assert.Equal(t, snap.Timestamp, buf.Points()[0].Timestamp)
}

func TestPoller_WordOrder(t *testing.T) {
	tests := []struct {
		name  string
		order domain.WordOrder
	}{
		{"high-low", domain.WordOrderHighLow},
		{"low-high", domain.WordOrderLowHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPollFixture(tt.order)
			f.transport.setFloat(2, 4.25, tt.order)
			f.transport.setFloat(12, 19.75, tt.order)

			snap, err := f.poller.Cycle(context.Background(), f.transport, f.display)
			require.NoError(t, err)
			assert.Equal(t, float32(4.25), snap.Ch1MilliAmps)
			assert.Equal(t, float32(19.75), snap.Ch2MilliAmps)
		})
	}
}

func TestPoller_CycleDigitalInputs(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	f.transport.setDiscrete([domain.BankSize]bool{true, false, true, false})

	snap, err := f.poller.Cycle(context.Background(), f.transport, f.display)
	require.NoError(t, err)

	want := [domain.BankSize]bool{true, false, true, false}
	assert.Equal(t, want, snap.DigitalIn)
	assert.Equal(t, want, f.display.Snapshot().DigitalIn)
}

func TestPoller_CycleReconcilesRelaysWithoutWriting(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	f.transport.setCoils([domain.BankSize]bool{false, true, false, true})
	f.display.SetRelay(0, true)

	snap, err := f.poller.Cycle(context.Background(), f.transport, f.display)
	require.NoError(t, err)

	want := [domain.BankSize]bool{false, true, false, true}
	assert.Equal(t, want, snap.DigitalOut)
	assert.Equal(t, want, f.display.Snapshot().DigitalOut)
	assert.Empty(t, f.transport.coilWrites())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SuppressedWrite))
}

func TestPoller_CycleFailures(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*fakeTransport)
		step   domain.PollStep
	}{
		{"analog", func(f *fakeTransport) { f.failInput = errInjected }, domain.PollStepAnalog},
		{"discrete inputs", func(f *fakeTransport) { f.failDiscrete = errInjected }, domain.PollStepDigitalInputs},
		{"coils", func(f *fakeTransport) { f.failCoils = errInjected }, domain.PollStepDigitalOutputs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPollFixture(domain.WordOrderHighLow)
			f.transport.fail(tt.inject)

			_, err := f.poller.Cycle(context.Background(), f.transport, f.display)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPoll)
			assert.ErrorIs(t, err, errInjected)

			var pollErr *domain.PollError
			require.ErrorAs(t, err, &pollErr)
			assert.Equal(t, tt.step, pollErr.Step)

			stats := f.poller.Stats()
			assert.Equal(t, uint64(1), stats.TotalCycles)
			assert.Equal(t, uint64(1), stats.FailedCycles)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PollErrors.WithLabelValues(string(tt.step))))
		})
	}
}

func TestPoller_CoilFailureKeepsEarlierSteps(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	f.transport.setFloat(2, 8, domain.WordOrderHighLow)
	f.transport.setDiscrete([domain.BankSize]bool{true, true, false, false})
	f.transport.failCoils = errInjected

	_, err := f.poller.Cycle(context.Background(), f.transport, f.display)
	require.Error(t, err)

	// steps 1 and 2 were applied before the failure
	display := f.display.Snapshot()
	assert.Equal(t, "8.00", display.Ch1.String())
	assert.Equal(t, [domain.BankSize]bool{true, true, false, false}, display.DigitalIn)
}

func TestPoller_CancelledContext(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.poller.Cycle(ctx, f.transport, f.display)
	assert.ErrorIs(t, err, domain.ErrPoll)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_Stats(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	for i := 0; i < 3; i++ {
		_, err := f.poller.Cycle(context.Background(), f.transport, f.display)
		require.NoError(t, err)
	}
	f.poller.recordSkipped(2)

	stats := f.poller.Stats()
	assert.Equal(t, uint64(3), stats.TotalCycles)
	assert.Equal(t, uint64(3), stats.SuccessCycles)
	assert.Equal(t, uint64(2), stats.SkippedTicks)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.PollsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PollsSkipped))
}

func TestPoller_ReadSignal(t *testing.T) {
	f := newPollFixture(domain.WordOrderHighLow)
	f.transport.setFloat(20, 1234.5, domain.WordOrderHighLow)
	f.transport.setRegisters(4, 0xFFFE)
	f.transport.setCoils([domain.BankSize]bool{true, false, false, true})

	v, err := f.poller.ReadSignal(f.transport, domain.SignalScale1)
	require.NoError(t, err)
	require.NotNil(t, v.Value)
	assert.Equal(t, 1234.5, *v.Value)
	assert.Equal(t, domain.EncodingFloat32, v.Encoding)

	v, err = f.poller.ReadSignal(f.transport, domain.SignalAI1Scaled)
	require.NoError(t, err)
	require.NotNil(t, v.Value)
	assert.Equal(t, -2.0, *v.Value)

	v, err = f.poller.ReadSignal(f.transport, domain.SignalRelays)
	require.NoError(t, err)
	assert.Nil(t, v.Value)
	assert.Equal(t, []bool{true, false, false, true}, v.Bits)
	assert.WithinDuration(t, time.Now(), v.Timestamp, time.Second)

	_, err = f.poller.ReadSignal(f.transport, domain.Signal("nope"))
	assert.ErrorIs(t, err, domain.ErrUnknownSignal)

	f.transport.fail(func(ft *fakeTransport) { ft.failInput = errInjected })
	_, err = f.poller.ReadSignal(f.transport, domain.SignalAI2Raw)
	var pollErr *domain.PollError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, domain.PollStepOnDemand, pollErr.Step)
}
