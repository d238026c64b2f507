package domain_test

import (
	"testing"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtolinkMap(t *testing.T) {
	tests := []struct {
		signal   domain.Signal
		region   domain.Region
		address  uint16
		count    uint16
		encoding domain.Encoding
	}{
		{domain.SignalAI1MilliAmps, domain.RegionInputRegister, 2, 2, domain.EncodingFloat32},
		{domain.SignalAI2MilliAmps, domain.RegionInputRegister, 12, 2, domain.EncodingFloat32},
		{domain.SignalAI1Scaled, domain.RegionInputRegister, 4, 1, domain.EncodingRawInt},
		{domain.SignalDigitalInputs, domain.RegionDiscreteInput, 0, 4, domain.EncodingBit},
		{domain.SignalRelays, domain.RegionCoil, 0, 4, domain.EncodingBit},
	}

	for _, tt := range tests {
		t.Run(string(tt.signal), func(t *testing.T) {
			r, ok := domain.Lookup(tt.signal)
			require.True(t, ok)
			assert.Equal(t, tt.signal, r.Signal)
			assert.Equal(t, tt.region, r.Region)
			assert.Equal(t, tt.address, r.Address)
			assert.Equal(t, tt.count, r.Count)
			assert.Equal(t, tt.encoding, r.Encoding)
		})
	}

	_, ok := domain.Lookup("ai3_ma")
	assert.False(t, ok)
}

func TestRegisterMap_Registers(t *testing.T) {
	regs := domain.Registers()
	require.Len(t, regs, len(domain.ProtolinkMap()))

	// input registers first, ascending address
	assert.Equal(t, domain.SignalAI1Raw, regs[0].Signal)
	for i := 1; i < len(regs); i++ {
		if regs[i].Region == regs[i-1].Region {
			assert.Less(t, regs[i-1].Address, regs[i].Address)
		}
	}
	assert.Equal(t, domain.SignalRelays, regs[len(regs)-1].Signal)

	signals := domain.ProtolinkMap().Signals()
	assert.Equal(t, domain.SignalAI1Raw, signals[0])
}

func TestRegisterMap_MustLookupPanics(t *testing.T) {
	assert.Panics(t, func() { domain.MustLookup("missing") })
	assert.NotPanics(t, func() { domain.MustLookup(domain.SignalRelays) })
}

func TestProtolinkMap_CopiesDoNotLeak(t *testing.T) {
	m := domain.ProtolinkMap()
	m[domain.SignalAI1MilliAmps] = domain.Register{Signal: domain.SignalAI1MilliAmps, Address: 99}
	delete(m, domain.SignalRelays)

	regs := domain.Registers()
	regs[0].Address = 42

	r, ok := domain.Lookup(domain.SignalAI1MilliAmps)
	require.True(t, ok)
	assert.Equal(t, uint16(2), r.Address)
	assert.Equal(t, domain.RegionInputRegister, r.Region)

	_, ok = domain.Lookup(domain.SignalRelays)
	assert.True(t, ok)
	assert.Equal(t, uint16(0), domain.Registers()[0].Address)
	assert.Len(t, domain.ProtolinkMap(), 10)
}
