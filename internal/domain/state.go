package domain

import (
	"fmt"
	"strings"
)

// ConnectionState is the state of the device connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state as its name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// WordOrder selects which of two registers carries the high half of a 32-bit value.
type WordOrder string

const (
	WordOrderHighLow WordOrder = "high_low" // first register = most significant word
	WordOrderLowHigh WordOrder = "low_high" // first register = least significant word
)

// ParseWordOrder accepts the names used in device manuals.
func ParseWordOrder(s string) (WordOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "high_low", "highlow", "high-low", "big_endian", "abcd":
		return WordOrderHighLow, nil
	case "low_high", "lowhigh", "low-high", "word_swap", "mid_little", "cdab":
		return WordOrderLowHigh, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", ErrConfig, ErrInvalidWordOrder, s)
	}
}
