package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/protolink-panel/internal/adapter/modbus"
	"github.com/nexus-edge/protolink-panel/internal/domain"
)

var errInjected = errors.New("injected failure")

type coilWrite struct {
	Address uint16
	Value   bool
}

// fakeTransport is an in-memory device. Set fail* fields to inject errors.
type fakeTransport struct {
	mu       sync.Mutex
	input    [32]uint16
	discrete [domain.BankSize]bool
	coils    [domain.BankSize]bool
	writes   []coilWrite
	closed   bool

	failInput    error
	failDiscrete error
	failCoils    error
	failWrite    error
	failClose    error
	delay        time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	ops         atomic.Uint64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) setFloat(address uint16, v float32, order domain.WordOrder) {
	regs := modbus.EncodeFloat32(v, order)
	f.mu.Lock()
	f.input[address], f.input[address+1] = regs[0], regs[1]
	f.mu.Unlock()
}

func (f *fakeTransport) setRegisters(address uint16, regs ...uint16) {
	f.mu.Lock()
	copy(f.input[address:], regs)
	f.mu.Unlock()
}

func (f *fakeTransport) setDiscrete(bits [domain.BankSize]bool) {
	f.mu.Lock()
	f.discrete = bits
	f.mu.Unlock()
}

func (f *fakeTransport) setCoils(bits [domain.BankSize]bool) {
	f.mu.Lock()
	f.coils = bits
	f.mu.Unlock()
}

func (f *fakeTransport) fail(set func(*fakeTransport)) {
	f.mu.Lock()
	set(f)
	f.mu.Unlock()
}

func (f *fakeTransport) coilWrites() []coilWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]coilWrite(nil), f.writes...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) enter() func() {
	f.ops.Add(1)
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeTransport) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInput != nil {
		return nil, f.failInput
	}
	return append([]uint16(nil), f.input[address:address+quantity]...), nil
}

func (f *fakeTransport) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDiscrete != nil {
		return nil, f.failDiscrete
	}
	return append([]bool(nil), f.discrete[address:address+quantity]...), nil
}

func (f *fakeTransport) ReadCoils(address, quantity uint16) ([]bool, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCoils != nil {
		return nil, f.failCoils
	}
	return append([]bool(nil), f.coils[address:address+quantity]...), nil
}

func (f *fakeTransport) WriteSingleCoil(address uint16, value bool) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	f.writes = append(f.writes, coilWrite{Address: address, Value: value})
	f.coils[address] = value
	return nil
}

func (f *fakeTransport) Stats() modbus.ClientStatsSnapshot {
	return modbus.ClientStatsSnapshot{
		Address:   "fake",
		ReadCount: f.ops.Load(),
		Connected: !f.isClosed(),
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.failClose
}

// fakeDialer hands out transport, or fails with err.
type fakeDialer struct {
	mu        sync.Mutex
	transport *fakeTransport
	err       error
	dials     int
	endpoints []domain.Endpoint
	breaker   string
}

func (d *fakeDialer) BreakerState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.breaker == "" {
		return "closed"
	}
	return d.breaker
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint domain.Endpoint) (domain.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.endpoints = append(d.endpoints, endpoint)
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// staticSource is a TransportSource with a fixed transport.
type staticSource struct {
	transport domain.Transport
}

func (s staticSource) Transport() domain.Transport {
	return s.transport
}

// recorder collects values from callbacks.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
