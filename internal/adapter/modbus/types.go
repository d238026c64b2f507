// Package modbus provides types and utilities for Modbus TCP communication.
package modbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
)

// Client is an open Modbus TCP connection to a single device.
// It implements domain.Transport.
type Client struct {
	config    ClientConfig
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	logger    zerolog.Logger
	opMu      sync.Mutex // Serializes all Modbus operations - goburrow client is NOT thread-safe
	closed    atomic.Bool
	lastError atomic.Value // stores error
	lastUsed  atomic.Int64 // unix nanoseconds
	stats     *ClientStats
}

// ClientConfig holds configuration for a Modbus client.
type ClientConfig struct {
	// Address is the host:port of the device
	Address string

	// UnitID is the Modbus unit identifier (1-247)
	UnitID byte

	// Timeout is the connection and response timeout
	Timeout time.Duration

	// IdleTimeout closes the socket after this long without traffic
	IdleTimeout time.Duration
}

// ClientStats tracks client performance metrics.
type ClientStats struct {
	ReadCount      atomic.Uint64
	WriteCount     atomic.Uint64
	ErrorCount     atomic.Uint64
	TotalReadTime  atomic.Int64 // nanoseconds
	TotalWriteTime atomic.Int64 // nanoseconds
}

// DialerConfig holds configuration for the Dialer.
type DialerConfig struct {
	// UnitID is the fixed unit identifier used for every connection
	UnitID byte

	// Timeout is the connect and response timeout
	Timeout time.Duration

	// IdleTimeout is passed to the TCP handler
	IdleTimeout time.Duration

	// BreakerMaxFailures is the number of consecutive failed connects that
	// opens the circuit breaker. Zero disables the breaker.
	BreakerMaxFailures uint32

	// BreakerOpenTimeout is how long the breaker stays open
	BreakerOpenTimeout time.Duration
}

// DefaultDialerConfig returns a DialerConfig with sensible defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		UnitID:             1,
		Timeout:            2 * time.Second,
		IdleTimeout:        60 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 10 * time.Second,
	}
}

// ClientStatsSnapshot is a point-in-time copy of ClientStats.
type ClientStatsSnapshot struct {
	Address        string    `json:"address"`
	ReadCount      uint64    `json:"read_count"`
	WriteCount     uint64    `json:"write_count"`
	ErrorCount     uint64    `json:"error_count"`
	AvgReadTimeMs  float64   `json:"avg_read_time_ms"`
	AvgWriteTimeMs float64   `json:"avg_write_time_ms"`
	Connected      bool      `json:"connected"`
	LastUsed       time.Time `json:"last_used"`
	LastError      string    `json:"last_error,omitempty"`
}
