package modbus

import (
	"math"
	"testing"

	"github.com/nexus-edge/protolink-panel/internal/domain"
)

func FuzzFloat32WordOrder(f *testing.F) {
	f.Add(uint16(0x4048), uint16(0xF5C3))
	f.Add(uint16(0x0000), uint16(0x0000))
	f.Add(uint16(0x7FC0), uint16(0x0000)) // NaN
	f.Add(uint16(0xFF80), uint16(0x0000)) // -Inf

	f.Fuzz(func(t *testing.T, a, b uint16) {
		for _, order := range []domain.WordOrder{domain.WordOrderHighLow, domain.WordOrderLowHigh} {
			v := DecodeFloat32([2]uint16{a, b}, order)
			if got := EncodeFloat32(v, order); got != [2]uint16{a, b} {
				t.Fatalf("%s: %04X %04X decoded to %v re-encoded as %04X", order, a, b, v, got)
			}
		}

		hl := DecodeFloat32([2]uint16{a, b}, domain.WordOrderHighLow)
		lh := DecodeFloat32([2]uint16{b, a}, domain.WordOrderLowHigh)
		if math.Float32bits(hl) != math.Float32bits(lh) {
			t.Fatalf("swapped registers disagree: %v vs %v", hl, lh)
		}
	})
}

func FuzzUnpackBits(f *testing.F) {
	f.Add([]byte{0x05}, uint16(4))
	f.Add([]byte{}, uint16(1))
	f.Add([]byte{0xFF, 0x01}, uint16(9))

	f.Fuzz(func(t *testing.T, data []byte, quantity uint16) {
		if quantity > 2000 {
			quantity %= 2000
		}
		bits, err := unpackBits(data, quantity)
		if err != nil {
			if len(data) >= (int(quantity)+7)/8 {
				t.Fatalf("unexpected error for %d bytes, quantity %d: %v", len(data), quantity, err)
			}
			return
		}
		if len(bits) != int(quantity) {
			t.Fatalf("got %d bits, want %d", len(bits), quantity)
		}
		for i, on := range bits {
			if want := data[i/8]>>(i%8)&1 == 1; on != want {
				t.Fatalf("bit %d = %t, want %t", i, on, want)
			}
		}
	})
}
