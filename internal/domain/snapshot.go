package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// NoDataText is rendered for a channel without a current value.
const NoDataText = "--.--"

// DeviceSnapshot is the decoded result of one successful poll cycle.
type DeviceSnapshot struct {
	Ch1MilliAmps float32        `json:"ch1_ma"`
	Ch2MilliAmps float32        `json:"ch2_ma"`
	DigitalIn    [BankSize]bool `json:"digital_in"`
	DigitalOut   [BankSize]bool `json:"digital_out"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Reading is a numeric display value. The zero Reading means "no data".
type Reading struct {
	Value float32 `json:"value"`
	Valid bool    `json:"valid"`
}

// NewReading returns a valid reading.
func NewReading(v float32) Reading {
	return Reading{Value: v, Valid: true}
}

func (r Reading) String() string {
	if !r.Valid || math.IsNaN(float64(r.Value)) || math.IsInf(float64(r.Value), 0) {
		return NoDataText
	}
	return fmt.Sprintf("%.2f", r.Value)
}

// Display is the state a presentation layer renders.
type Display struct {
	State      ConnectionState `json:"state"`
	Endpoint   string          `json:"endpoint,omitempty"`
	Ch1        Reading         `json:"ch1"`
	Ch2        Reading         `json:"ch2"`
	DigitalIn  [BankSize]bool  `json:"digital_in"`
	DigitalOut [BankSize]bool  `json:"digital_out"`
	UpdatedAt  time.Time       `json:"updated_at,omitempty"`
}

// ValidCoilIndex reports whether i addresses a relay.
func ValidCoilIndex(i int) bool {
	return i >= 0 && i < BankSize
}

// snapshotJSON carries analog values as pointers so that NaN and Inf,
// which a faulty transmitter can report, encode as null.
type snapshotJSON struct {
	Ch1MilliAmps *float32       `json:"ch1_ma"`
	Ch2MilliAmps *float32       `json:"ch2_ma"`
	DigitalIn    [BankSize]bool `json:"digital_in"`
	DigitalOut   [BankSize]bool `json:"digital_out"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (s DeviceSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Ch1MilliAmps: finite(s.Ch1MilliAmps),
		Ch2MilliAmps: finite(s.Ch2MilliAmps),
		DigitalIn:    s.DigitalIn,
		DigitalOut:   s.DigitalOut,
		Timestamp:    s.Timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A null value decodes as zero.
func (s *DeviceSnapshot) UnmarshalJSON(data []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = DeviceSnapshot{DigitalIn: v.DigitalIn, DigitalOut: v.DigitalOut, Timestamp: v.Timestamp}
	if v.Ch1MilliAmps != nil {
		s.Ch1MilliAmps = *v.Ch1MilliAmps
	}
	if v.Ch2MilliAmps != nil {
		s.Ch2MilliAmps = *v.Ch2MilliAmps
	}
	return nil
}

func finite(v float32) *float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &v
}

// SignalValue is the result of an on-demand read of one mapped signal.
// Value is set for numeric encodings, Bits for bit encodings.
type SignalValue struct {
	Signal    Signal    `json:"signal"`
	Encoding  Encoding  `json:"encoding"`
	Value     *float64  `json:"value,omitempty"`
	Bits      []bool    `json:"bits,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
