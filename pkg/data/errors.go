package data

import (
	"errors"
	"fmt"

	"github.com/portablefn/fnharness/internal/pipe"
)

var (
	// ErrCancelled matches every error returned by Accept or AwaitCompletion
	// after the queue has been cancelled; the cancellation cause is wrapped.
	ErrCancelled = pipe.ErrCancelled

	// ErrObserverClosed is the cancellation cause used by Close. It is allocated
	// once and carries no stack.
	ErrObserverClosed = errors.New("inbound observer closed")

	ErrUnknownEndpoint     = errors.New("unknown inbound endpoint")
	ErrEndpointAlreadyDone = errors.New("inbound endpoint already done")
	ErrDecodeFailure       = errors.New("inbound decode failure")
	ErrSinkFailure         = errors.New("inbound receiver failure")
	ErrInvalidCapacity     = errors.New("queue capacity must be greater than zero")

	errNoProgress = errors.New("coder consumed no bytes")
)

// DecodeError reports a coder failure on an endpoint's payload.
type DecodeError struct {
	InstructionID string
	Endpoint      string
	Err           error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode element for instruction %s and endpoint %s: %v", e.InstructionID, e.Endpoint, e.Err)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SinkError reports a receiver failure on a decoded value.
type SinkError struct {
	InstructionID string
	Endpoint      string
	Err           error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("receiver failed for instruction %s and endpoint %s: %v", e.InstructionID, e.Endpoint, e.Err)
}

func (e *SinkError) Is(target error) bool {
	return target == ErrSinkFailure
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func unknownDataEndpoint(instructionID, transformID string) error {
	return fmt.Errorf("%w: unable to find inbound data receiver for instruction %s and transform %s",
		ErrUnknownEndpoint, instructionID, transformID)
}

func unknownTimerEndpoint(instructionID, transformID, timerFamilyID string) error {
	return fmt.Errorf("%w: unable to find inbound timer receiver for instruction %s, transform %s, and timer family %s",
		ErrUnknownEndpoint, instructionID, transformID, timerFamilyID)
}

func dataAfterDone(instructionID, transformID string) error {
	return fmt.Errorf("%w: received data after inbound data receiver is done for instruction %s and transform %s",
		ErrEndpointAlreadyDone, instructionID, transformID)
}

func timerAfterDone(instructionID, transformID, timerFamilyID string) error {
	return fmt.Errorf("%w: received timer after inbound timer receiver is done for instruction %s, transform %s, and timer family %s",
		ErrEndpointAlreadyDone, instructionID, transformID, timerFamilyID)
}
