package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the registered Modbus TCP port.
const DefaultPort = 502

// Endpoint is the address of the device.
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// NewEndpoint validates operator input and returns an Endpoint.
// Errors wrap ErrConfig.
func NewEndpoint(host string, port int) (Endpoint, error) {
	ep := Endpoint{Host: strings.TrimSpace(host), Port: port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// ParseEndpoint parses "host:port" or a bare host (DefaultPort is used).
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port given
		return NewEndpoint(s, DefaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w: %q", ErrConfig, ErrInvalidPort, portStr)
	}
	return NewEndpoint(host, port)
}

// Validate checks host and port.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: %w", ErrConfig, ErrInvalidHost)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: %w: %d", ErrConfig, ErrInvalidPort, e.Port)
	}
	return nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if e.Host == "" {
		return ""
	}
	return e.Address()
}
