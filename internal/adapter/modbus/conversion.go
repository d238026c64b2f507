// Package modbus provides data conversion utilities for Modbus communication.
package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nexus-edge/protolink-panel/internal/domain"
)

// DecodeFloat32 reassembles an IEEE-754 float from two registers.
// With WordOrderHighLow the first register holds the most significant word.
func DecodeFloat32(regs [2]uint16, order domain.WordOrder) float32 {
	hi, lo := regs[0], regs[1]
	if order == domain.WordOrderLowHigh {
		hi, lo = lo, hi
	}
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(v float32, order domain.WordOrder) [2]uint16 {
	bits := math.Float32bits(v)
	hi, lo := uint16(bits>>16), uint16(bits)
	if order == domain.WordOrderLowHigh {
		return [2]uint16{lo, hi}
	}
	return [2]uint16{hi, lo}
}

// DecodeInt16 interprets one register as a signed 16-bit value.
func DecodeInt16(reg uint16) int16 {
	return int16(reg)
}

// RegisterPair checks that exactly two registers were returned.
func RegisterPair(regs []uint16) ([2]uint16, error) {
	if len(regs) != 2 {
		return [2]uint16{}, fmt.Errorf("%w: want 2 registers, got %d", domain.ErrInvalidDataLength, len(regs))
	}
	return [2]uint16{regs[0], regs[1]}, nil
}

// Bank copies the first domain.BankSize bits into a fixed array.
// Missing bits read as false.
func Bank(bits []bool) [domain.BankSize]bool {
	var out [domain.BankSize]bool
	copy(out[:], bits)
	return out
}

// bytesToRegisters converts a big-endian register payload.
func bytesToRegisters(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) < int(quantity)*2 {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidDataLength, int(quantity)*2, len(data))
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return regs, nil
}

// unpackBits expands a coil/discrete-input payload, LSB of the first byte first.
func unpackBits(data []byte, quantity uint16) ([]bool, error) {
	if len(data) < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidDataLength, (int(quantity)+7)/8, len(data))
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// coilValue is the FC05 payload for a coil state.
func coilValue(on bool) uint16 {
	if on {
		return 0xFF00
	}
	return 0x0000
}
