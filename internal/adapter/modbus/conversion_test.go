package modbus

import (
	"math"
	"testing"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFloat32(t *testing.T) {
	tests := []struct {
		name  string
		regs  [2]uint16
		order domain.WordOrder
		want  float32
	}{
		{"pi high-low", [2]uint16{0x4048, 0xF5C3}, domain.WordOrderHighLow, 3.14},
		{"pi low-high", [2]uint16{0xF5C3, 0x4048}, domain.WordOrderLowHigh, 3.14},
		{"zero", [2]uint16{0, 0}, domain.WordOrderHighLow, 0},
		{"4 mA", [2]uint16{0x4080, 0x0000}, domain.WordOrderHighLow, 4},
		{"20 mA", [2]uint16{0x41A0, 0x0000}, domain.WordOrderHighLow, 20},
		{"negative", [2]uint16{0xBF80, 0x0000}, domain.WordOrderHighLow, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFloat32(tt.regs, tt.order)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestDecodeFloat32_NaN(t *testing.T) {
	got := DecodeFloat32([2]uint16{0x7FC0, 0x0000}, domain.WordOrderHighLow)
	assert.True(t, math.IsNaN(float64(got)))
}

func TestEncodeFloat32_RoundTrip(t *testing.T) {
	for _, order := range []domain.WordOrder{domain.WordOrderHighLow, domain.WordOrderLowHigh} {
		for _, v := range []float32{0, 3.14, 12.5, -273.15, math.MaxFloat32} {
			assert.Equal(t, v, DecodeFloat32(EncodeFloat32(v, order), order), "order %s value %v", order, v)
		}
	}
	assert.Equal(t, [2]uint16{0x4048, 0xF5C3}, EncodeFloat32(3.14, domain.WordOrderHighLow))
}

func TestDecodeInt16(t *testing.T) {
	assert.Equal(t, int16(-1), DecodeInt16(0xFFFF))
	assert.Equal(t, int16(1000), DecodeInt16(1000))
}

func TestRegisterPair(t *testing.T) {
	pair, err := RegisterPair([]uint16{1, 2})
	require.NoError(t, err)
	assert.Equal(t, [2]uint16{1, 2}, pair)

	_, err = RegisterPair([]uint16{1})
	assert.ErrorIs(t, err, domain.ErrInvalidDataLength)
}

func TestBank(t *testing.T) {
	assert.Equal(t, [4]bool{true, false, true, false}, Bank([]bool{true, false, true, false, true}))
	assert.Equal(t, [4]bool{true, false, false, false}, Bank([]bool{true}))
}

func TestBytesToRegisters(t *testing.T) {
	regs, err := bytesToRegisters([]byte{0x40, 0x48, 0xF5, 0xC3}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x4048, 0xF5C3}, regs)

	_, err = bytesToRegisters([]byte{0x40}, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidDataLength)
}

func TestUnpackBits(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		quantity uint16
		want     []bool
	}{
		{"alternating", []byte{0x05}, 4, []bool{true, false, true, false}},
		{"all on", []byte{0x0F}, 4, []bool{true, true, true, true}},
		{"high bits ignored", []byte{0xF0}, 4, []bool{false, false, false, false}},
		{"second byte", []byte{0x00, 0x01}, 9, []bool{false, false, false, false, false, false, false, false, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unpackBits(tt.data, tt.quantity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := unpackBits(nil, 4)
	assert.ErrorIs(t, err, domain.ErrInvalidDataLength)
}

func TestCoilValue(t *testing.T) {
	assert.Equal(t, uint16(0xFF00), coilValue(true))
	assert.Equal(t, uint16(0x0000), coilValue(false))
}
