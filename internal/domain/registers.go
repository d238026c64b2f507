package domain

import "sort"

// Region is a Modbus address space.
type Region string

const (
	RegionCoil          Region = "coil"           // Read/Write, 1 bit
	RegionDiscreteInput Region = "discrete_input" // Read-only, 1 bit
	RegionInputRegister Region = "input_register" // Read-only, 16 bits
)

// Encoding describes how the registers of a signal are decoded.
type Encoding string

const (
	EncodingFloat32 Encoding = "float32" // two registers, word order applies
	EncodingRawInt  Encoding = "raw_int" // one register, signed 16 bit
	EncodingBit     Encoding = "bit"     // one bit per point
)

// Signal is the logical name of a mapped point.
type Signal string

const (
	SignalAI1Raw        Signal = "ai1_raw"
	SignalAI1MilliAmps  Signal = "ai1_ma"
	SignalAI1Scaled     Signal = "ai1_scaled"
	SignalAI2Raw        Signal = "ai2_raw"
	SignalAI2MilliAmps  Signal = "ai2_ma"
	SignalAI2Scaled     Signal = "ai2_scaled"
	SignalScale1        Signal = "scale1"
	SignalScale2        Signal = "scale2"
	SignalDigitalInputs Signal = "digital_inputs"
	SignalRelays        Signal = "relays"
)

// Register locates a signal in the device address space.
// Address is the 0-based offset within Region.
type Register struct {
	Signal   Signal   `json:"signal" yaml:"signal"`
	Region   Region   `json:"region" yaml:"region"`
	Address  uint16   `json:"address" yaml:"address"`
	Count    uint16   `json:"count" yaml:"count"`
	Encoding Encoding `json:"encoding" yaml:"encoding"`
}

// RegisterMap is a fixed table of signal locations.
type RegisterMap map[Signal]Register

// BankSize is the number of discrete inputs and relays on the device.
const BankSize = 4

// protolinkMap is the register map of the Protolink I/O module.
// Offsets are device specific; 30003 in the vendor manual is input register 2.
// It is read through copies only.
var protolinkMap = RegisterMap{
	// 30001-30006: AI1
	SignalAI1Raw:       {SignalAI1Raw, RegionInputRegister, 0, 2, EncodingFloat32},
	SignalAI1MilliAmps: {SignalAI1MilliAmps, RegionInputRegister, 2, 2, EncodingFloat32},
	SignalAI1Scaled:    {SignalAI1Scaled, RegionInputRegister, 4, 1, EncodingRawInt},

	// 30011-30016: AI2
	SignalAI2Raw:       {SignalAI2Raw, RegionInputRegister, 10, 2, EncodingFloat32},
	SignalAI2MilliAmps: {SignalAI2MilliAmps, RegionInputRegister, 12, 2, EncodingFloat32},
	SignalAI2Scaled:    {SignalAI2Scaled, RegionInputRegister, 14, 1, EncodingRawInt},

	// 30021-30024: weighing channels
	SignalScale1: {SignalScale1, RegionInputRegister, 20, 2, EncodingFloat32},
	SignalScale2: {SignalScale2, RegionInputRegister, 22, 2, EncodingFloat32},

	// 10001-10004 and 00001-00004
	SignalDigitalInputs: {SignalDigitalInputs, RegionDiscreteInput, 0, BankSize, EncodingBit},
	SignalRelays:        {SignalRelays, RegionCoil, 0, BankSize, EncodingBit},
}

// Lookup returns the register for a signal.
func (m RegisterMap) Lookup(s Signal) (Register, bool) {
	r, ok := m[s]
	return r, ok
}

// MustLookup returns the register for a signal known at compile time.
func (m RegisterMap) MustLookup(s Signal) Register {
	r, ok := m[s]
	if !ok {
		panic("domain: signal not in register map: " + string(s))
	}
	return r
}

// Registers returns the table ordered by region and address.
func (m RegisterMap) Registers() []Register {
	out := make([]Register, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region > out[j].Region
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Signals returns the mapped signal names in table order.
func (m RegisterMap) Signals() []Signal {
	regs := m.Registers()
	out := make([]Signal, len(regs))
	for i, r := range regs {
		out[i] = r.Signal
	}
	return out
}

// ProtolinkMap returns a copy of the Protolink register map. Changes to the
// copy do not affect the table used for polling.
func ProtolinkMap() RegisterMap {
	out := make(RegisterMap, len(protolinkMap))
	for k, v := range protolinkMap {
		out[k] = v
	}
	return out
}

// Lookup resolves a signal in the Protolink map.
func Lookup(s Signal) (Register, bool) {
	return protolinkMap.Lookup(s)
}

// MustLookup resolves a signal known at compile time in the Protolink map.
func MustLookup(s Signal) Register {
	return protolinkMap.MustLookup(s)
}

// Registers returns the Protolink map ordered by region and address.
func Registers() []Register {
	return protolinkMap.Registers()
}
