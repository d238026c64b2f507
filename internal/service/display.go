package service

import (
	"math"
	"sync"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/trend"
)

// Sink receives decoded values during a poll cycle.
type Sink interface {
	ApplyAnalog(channel int, ts time.Time, milliAmps float32)
	ApplyDigitalInputs(bits [domain.BankSize]bool)
}

// RelayDisplay is the relay bank as the operator sees it.
type RelayDisplay interface {
	Relay(index int) bool
	SetRelay(index int, value bool)
}

// DisplayState is the goroutine-safe model behind every presentation layer.
// It implements Sink and RelayDisplay.
type DisplayState struct {
	mu      sync.RWMutex
	display domain.Display
	trends  [2]*trend.Buffer
}

// NewDisplayState creates an empty display with two trend buffers.
func NewDisplayState(trendCapacity int) *DisplayState {
	return &DisplayState{
		trends: [2]*trend.Buffer{
			trend.NewBuffer(trendCapacity),
			trend.NewBuffer(trendCapacity),
		},
	}
}

// ApplyAnalog updates a channel reading and appends to its trend.
// Non-finite values show as no data and are not trended.
func (d *DisplayState) ApplyAnalog(channel int, ts time.Time, milliAmps float32) {
	buf, err := d.Trend(channel)
	if err != nil {
		return
	}

	reading := domain.NewReading(milliAmps)
	if f := float64(milliAmps); math.IsNaN(f) || math.IsInf(f, 0) {
		reading = domain.Reading{}
	} else {
		buf.Append(ts, f)
	}

	d.mu.Lock()
	if channel == 1 {
		d.display.Ch1 = reading
	} else {
		d.display.Ch2 = reading
	}
	d.display.UpdatedAt = ts
	d.mu.Unlock()
}

// ApplyDigitalInputs replaces the discrete input bank.
func (d *DisplayState) ApplyDigitalInputs(bits [domain.BankSize]bool) {
	d.mu.Lock()
	d.display.DigitalIn = bits
	d.mu.Unlock()
}

// Relay returns the displayed state of a relay.
func (d *DisplayState) Relay(index int) bool {
	if !domain.ValidCoilIndex(index) {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.display.DigitalOut[index]
}

// SetRelay sets the displayed state of a relay.
func (d *DisplayState) SetRelay(index int, value bool) {
	if !domain.ValidCoilIndex(index) {
		return
	}
	d.mu.Lock()
	d.display.DigitalOut[index] = value
	d.mu.Unlock()
}

// SetConnection records the connection state and endpoint shown to the operator.
func (d *DisplayState) SetConnection(state domain.ConnectionState, endpoint domain.Endpoint) {
	d.mu.Lock()
	d.display.State = state
	d.display.Endpoint = endpoint.String()
	d.mu.Unlock()
}

// Reset clears both banks and invalidates the numeric readings.
// Trend history is kept.
func (d *DisplayState) Reset() {
	d.mu.Lock()
	d.display.Ch1 = domain.Reading{}
	d.display.Ch2 = domain.Reading{}
	d.display.DigitalIn = [domain.BankSize]bool{}
	d.display.DigitalOut = [domain.BankSize]bool{}
	d.mu.Unlock()
}

// Snapshot returns a copy of the display.
func (d *DisplayState) Snapshot() domain.Display {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.display
}

// Trend returns the buffer of analog channel 1 or 2.
func (d *DisplayState) Trend(channel int) (*trend.Buffer, error) {
	if channel < 1 || channel > len(d.trends) {
		return nil, domain.ErrInvalidChannel
	}
	return d.trends[channel-1], nil
}
