// Package domain contains core business entities.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the presentation layer.
var (
	ErrConnect = errors.New("connect failed")
	ErrPoll    = errors.New("poll failed")
	ErrWrite   = errors.New("coil write failed")
	ErrConfig  = errors.New("invalid configuration")
)

// Configuration errors.
var (
	ErrInvalidHost      = errors.New("host is required")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
	ErrInvalidWordOrder = errors.New("unknown word order")
	ErrInvalidUnitID    = errors.New("invalid unit ID")
)

// Connection errors.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// Read/Write errors.
var (
	ErrInvalidDataLength = errors.New("invalid data length")
	ErrInvalidCoilIndex  = errors.New("coil index out of range")
	ErrUnknownSignal     = errors.New("unknown signal")
	ErrInvalidChannel    = errors.New("analog channel must be 1 or 2")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("MQTT connection failed")
	ErrMQTTPublishFailed    = errors.New("MQTT publish failed")
	ErrMQTTNotConnected     = errors.New("MQTT client not connected")
	ErrMQTTBufferFull       = errors.New("MQTT message buffer full")
)

// PollStep names the stage of a poll cycle.
type PollStep string

const (
	PollStepAnalog         PollStep = "analog"
	PollStepDigitalInputs  PollStep = "digital_inputs"
	PollStepDigitalOutputs PollStep = "digital_outputs"
	PollStepOnDemand       PollStep = "on_demand"
)

// PollError reports the step at which a poll cycle was aborted.
type PollError struct {
	Step   PollStep
	Signal Signal
	Err    error
}

func (e *PollError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s: %s (%s): %v", ErrPoll, e.Step, e.Signal, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrPoll, e.Step, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPoll) hold for every PollError.
func (e *PollError) Is(target error) bool { return target == ErrPoll }

// WriteError reports a failed single-coil write.
type WriteError struct {
	Index int
	Value bool
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: relay %d -> %t: %v", ErrWrite, e.Index+1, e.Value, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
