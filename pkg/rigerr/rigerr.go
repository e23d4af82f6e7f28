// Unified error handling for the HeliCal rig controller
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package rigerr

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// ErrBusTransaction is a stepper bus write or read that was not fully
	// acknowledged. Fatal to the in-flight command; the owning axis group
	// must be halted rather than left partially applied.
	ErrBusTransaction ErrorCode = "BUS_TRANSACTION"

	// ErrInvalidArgument covers step modes, encoder indexes and numeric
	// parse failures. Rejected locally, queue continues.
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrRange covers feed, current and RPM values outside documented
	// bounds. Rejected locally with a message, no state change.
	ErrRange ErrorCode = "RANGE"

	// ErrProtocolTimeout is a serial response deadline that expired.
	ErrProtocolTimeout ErrorCode = "PROTOCOL_TIMEOUT"

	// ErrCancelled is the abort flag observed mid-wait.
	ErrCancelled ErrorCode = "CANCELLED"

	// Transport lifecycle faults
	ErrNotConnected ErrorCode = "NOT_CONNECTED"
	ErrIO           ErrorCode = "IO"

	// ErrCommand covers interpreter-level command rejections
	ErrCommand ErrorCode = "COMMAND"
)

// RigError is the unified error type for the rig controller
type RigError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Component identifies the originating component (bus address,
	// axis label, serial op)
	Component string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *RigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RigError) Unwrap() error {
	return e.Err
}

// SetComponent sets the originating component
func (e *RigError) SetComponent(component string) *RigError {
	e.Component = component
	return e
}

// SetContext adds additional context
func (e *RigError) SetContext(key string, value interface{}) *RigError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new RigError
func New(code ErrorCode, message string) *RigError {
	return &RigError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *RigError {
	return &RigError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// BusTransaction creates an error for a bus transaction that was not
// fully acknowledged.
func BusTransaction(component, operation string, err error) *RigError {
	return Wrap(err, ErrBusTransaction, fmt.Sprintf("%s not acknowledged", operation)).
		SetComponent(component)
}

// InvalidArgument creates an error for a locally rejected argument.
func InvalidArgument(what string, value interface{}) *RigError {
	return New(ErrInvalidArgument, fmt.Sprintf("invalid %s: %v", what, value))
}

// Range creates an error for a value outside its documented bounds.
func Range(what string, value, min, max float64) *RigError {
	return New(ErrRange, fmt.Sprintf("%s %v outside range [%v, %v]", what, value, min, max))
}

// ProtocolTimeout creates an error for an expired serial response deadline.
func ProtocolTimeout(operation string, err error) *RigError {
	return Wrap(err, ErrProtocolTimeout, fmt.Sprintf("%s: response deadline exceeded", operation)).
		SetComponent(operation)
}

// Cancelled creates an error for an abort observed mid-wait.
func Cancelled(during string) *RigError {
	return New(ErrCancelled, fmt.Sprintf("aborted during %s", during))
}

// NotConnected creates an error for an operation on a closed transport.
func NotConnected(component string) *RigError {
	return New(ErrNotConnected, "not connected").SetComponent(component)
}

// IO creates an error for a transport read/write fault.
func IO(component string, err error) *RigError {
	return Wrap(err, ErrIO, err.Error()).SetComponent(component)
}

// Command creates an interpreter-level command rejection.
func Command(message string) *RigError {
	return New(ErrCommand, message)
}

// Is checks whether err (or anything it wraps) carries the given code.
func Is(err error, code ErrorCode) bool {
	var re *RigError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsBusTransaction reports whether err is a bus transaction failure.
func IsBusTransaction(err error) bool {
	return Is(err, ErrBusTransaction)
}

// IsCancelled reports whether err is an abort cancellation.
func IsCancelled(err error) bool {
	return Is(err, ErrCancelled)
}

// IsTimeout reports whether err is a protocol response timeout.
func IsTimeout(err error) bool {
	return Is(err, ErrProtocolTimeout)
}

// IsRange reports whether err is a range rejection.
func IsRange(err error) bool {
	return Is(err, ErrRange)
}

// IsInvalidArgument reports whether err is an argument rejection.
func IsInvalidArgument(err error) bool {
	return Is(err, ErrInvalidArgument)
}

// IsLocal reports whether err is a local rejection that leaves the
// command queue running (bad arguments and out-of-range values).
func IsLocal(err error) bool {
	return IsInvalidArgument(err) || IsRange(err) || Is(err, ErrCommand)
}
