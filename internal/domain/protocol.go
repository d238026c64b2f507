package domain

import "context"

// Transport is an open Modbus connection to the device.
// Implementations are not required to be safe for concurrent use;
// callers serialise access.
type Transport interface {
	// ReadInputRegisters reads quantity 16-bit input registers (FC04).
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)

	// ReadDiscreteInputs reads quantity discrete inputs (FC02).
	ReadDiscreteInputs(address, quantity uint16) ([]bool, error)

	// ReadCoils reads quantity coils (FC01).
	ReadCoils(address, quantity uint16) ([]bool, error)

	// WriteSingleCoil writes one coil (FC05).
	WriteSingleCoil(address uint16, value bool) error

	// Close releases the connection.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint Endpoint) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint Endpoint) (Transport, error) {
	return f(ctx, endpoint)
}
