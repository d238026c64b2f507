// Package modbus provides the Modbus TCP transport used to talk to the device.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/rs/zerolog"
)

// NewClient creates an unconnected Modbus client with the given configuration.
func NewClient(config ClientConfig, logger zerolog.Logger) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: modbus address is required", domain.ErrConfig)
	}
	if config.UnitID == 0 || config.UnitID > 247 {
		return nil, fmt.Errorf("%w: %w: %d", domain.ErrConfig, domain.ErrInvalidUnitID, config.UnitID)
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	c := &Client{
		config: config,
		logger: logger.With().Str("device_address", config.Address).Logger(),
		stats:  &ClientStats{},
	}
	c.closed.Store(true)
	c.touch()
	return c, nil
}

// Connect opens the TCP connection to the device.
func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.closed.Load() {
		return nil
	}

	c.logger.Debug().Msg("Connecting to Modbus device")

	handler := modbus.NewTCPClientHandler(c.config.Address)
	handler.Timeout = c.config.Timeout
	handler.SlaveId = c.config.UnitID
	handler.IdleTimeout = c.config.IdleTimeout

	// Use context for connection timeout
	connectDone := make(chan error, 1)
	go func() {
		connectDone <- handler.Connect()
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.lastError.Store(err)
			return fmt.Errorf("%w: %v", domain.ErrConnect, err)
		}
	case <-ctx.Done():
		// A late success would leak the socket.
		go func() {
			if err := <-connectDone; err == nil {
				_ = handler.Close()
			}
		}()
		return fmt.Errorf("%w: %w: %v", domain.ErrConnect, domain.ErrConnectionTimeout, ctx.Err())
	}

	c.handler = handler
	c.client = modbus.NewClient(handler)
	c.closed.Store(false)
	c.touch()

	c.logger.Info().Msg("Connected to Modbus device")
	return nil
}

// Close closes the connection. The client is unusable afterwards.
func (c *Client) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	var err error
	if c.handler != nil {
		err = c.handler.Close()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Error closing Modbus connection")
		}
	}
	c.handler = nil
	c.client = nil

	c.logger.Debug().Msg("Disconnected from Modbus device")
	return err
}

// IsConnected returns true until Close is called.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// ReadInputRegisters reads input registers (function code 0x04).
func (c *Client) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	var regs []uint16
	err := c.read(func(client modbus.Client) error {
		data, err := client.ReadInputRegisters(address, quantity)
		if err != nil {
			return err
		}
		regs, err = bytesToRegisters(data, quantity)
		return err
	})
	return regs, err
}

// ReadDiscreteInputs reads discrete inputs (function code 0x02).
func (c *Client) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	var bits []bool
	err := c.read(func(client modbus.Client) error {
		data, err := client.ReadDiscreteInputs(address, quantity)
		if err != nil {
			return err
		}
		bits, err = unpackBits(data, quantity)
		return err
	})
	return bits, err
}

// ReadCoils reads coils (function code 0x01).
func (c *Client) ReadCoils(address, quantity uint16) ([]bool, error) {
	var bits []bool
	err := c.read(func(client modbus.Client) error {
		data, err := client.ReadCoils(address, quantity)
		if err != nil {
			return err
		}
		bits, err = unpackBits(data, quantity)
		return err
	})
	return bits, err
}

// WriteSingleCoil writes a boolean value to a coil (function code 0x05).
func (c *Client) WriteSingleCoil(address uint16, value bool) error {
	startTime := time.Now()
	defer func() {
		c.stats.TotalWriteTime.Add(time.Since(startTime).Nanoseconds())
	}()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.touch()

	if c.closed.Load() || c.client == nil {
		return domain.ErrNotConnected
	}

	if _, err := c.client.WriteSingleCoil(address, coilValue(value)); err != nil {
		c.stats.ErrorCount.Add(1)
		c.lastError.Store(err)
		return c.translateModbusError(err)
	}

	c.stats.WriteCount.Add(1)
	c.logger.Debug().
		Uint16("address", address).
		Bool("value", value).
		Msg("Successfully wrote coil")
	return nil
}

// read runs one read operation under the operation lock.
func (c *Client) read(op func(modbus.Client) error) error {
	startTime := time.Now()
	defer func() {
		c.stats.TotalReadTime.Add(time.Since(startTime).Nanoseconds())
	}()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.touch()

	if c.closed.Load() || c.client == nil {
		return domain.ErrNotConnected
	}

	if err := op(c.client); err != nil {
		c.stats.ErrorCount.Add(1)
		c.lastError.Store(err)
		if errors.Is(err, domain.ErrInvalidDataLength) {
			return err
		}
		return c.translateModbusError(err)
	}

	c.stats.ReadCount.Add(1)
	return nil
}

// translateModbusError converts Modbus library errors to readable errors.
func (c *Client) translateModbusError(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("modbus exception %d (%s) on function 0x%02X", mbErr.ExceptionCode, exceptionText(mbErr.ExceptionCode), mbErr.FunctionCode)
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, err)
	}
	return err
}

// exceptionText names a Modbus exception code.
func exceptionText(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave device busy"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}

// isTimeout checks if the error is a timeout error.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (c *Client) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}
