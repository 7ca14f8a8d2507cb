// Package silaerr carries SiLA's structured error taxonomy across a transport whose
// failure model is one status code plus one free-form string.
//
// Every cross-boundary error is one of four kinds:
//
//   - *ValidationError: an inbound parameter failed a constraint.
//   - *DefinedExecutionError: a failure declared in a command's contract.
//   - *UndefinedExecutionError: anything else escaping device logic. Only the message
//     survives; the original Go type never crosses the process boundary.
//   - *FrameworkError: a fault in the RPC machinery itself, one of five fixed types.
//
// On the wire an error is an Envelope, protobuf-encoded, base64'd and placed in the
// detail string of a codes.Aborted failure. Detect reverses that on the client.
package silaerr

import (
	"errors"
	"fmt"
)

// Kind names the branch of the taxonomy an error belongs to.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindDefinedExecution
	KindUndefinedExecution
	KindFramework
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindDefinedExecution:
		return "DefinedExecutionError"
	case KindUndefinedExecution:
		return "UndefinedExecutionError"
	case KindFramework:
		return "FrameworkError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is implemented only by the four error types in this package.
type Error interface {
	error
	Kind() Kind
	// Detail is the human-readable message carried on the wire.
	Detail() string
	sealed()
}

// ValidationError reports a constraint violation on an inbound parameter.
type ValidationError struct {
	// Parameter is the fully qualified identifier of the offending parameter.
	Parameter string
	Message   string
}

func NewValidationError(parameter, message string) *ValidationError {
	return &ValidationError{Parameter: parameter, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Parameter, e.Message)
}
func (e *ValidationError) Kind() Kind     { return KindValidation }
func (e *ValidationError) Detail() string { return e.Message }
func (*ValidationError) sealed()          {}

// DefinedExecutionError is a failure declared as part of a command's contract.
// Identifier resolves against that command's error catalog on the client.
type DefinedExecutionError struct {
	Identifier string
	Message    string

	// Cause is local only. Servers set it to the error being reported, clients get it
	// from a Catalog. It never goes on the wire.
	Cause error
}

func NewDefinedExecutionError(identifier, message string) *DefinedExecutionError {
	return &DefinedExecutionError{Identifier: identifier, Message: message}
}

func (e *DefinedExecutionError) Error() string {
	return fmt.Sprintf("defined execution error %s: %s", e.Identifier, e.Message)
}
func (e *DefinedExecutionError) Kind() Kind     { return KindDefinedExecution }
func (e *DefinedExecutionError) Detail() string { return e.Message }
func (e *DefinedExecutionError) Unwrap() error  { return e.Cause }
func (*DefinedExecutionError) sealed()          {}

// UndefinedExecutionError is any other failure escaping device-control logic.
type UndefinedExecutionError struct {
	Message string
}

func NewUndefinedExecutionError(message string) *UndefinedExecutionError {
	return &UndefinedExecutionError{Message: message}
}

func (e *UndefinedExecutionError) Error() string {
	return "undefined execution error: " + e.Message
}
func (e *UndefinedExecutionError) Kind() Kind     { return KindUndefinedExecution }
func (e *UndefinedExecutionError) Detail() string { return e.Message }
func (*UndefinedExecutionError) sealed()          {}

// FrameworkErrorType enumerates the protocol-level faults. Values match the SiLA
// FrameworkError.ErrorType enum numbers.
type FrameworkErrorType int32

const (
	CommandExecutionNotAccepted FrameworkErrorType = iota
	InvalidCommandExecutionUUID
	CommandExecutionNotFinished
	InvalidMetadata
	NoMetadataAllowed
)

func (t FrameworkErrorType) Valid() bool {
	return t >= CommandExecutionNotAccepted && t <= NoMetadataAllowed
}

func (t FrameworkErrorType) String() string {
	switch t {
	case CommandExecutionNotAccepted:
		return "COMMAND_EXECUTION_NOT_ACCEPTED"
	case InvalidCommandExecutionUUID:
		return "INVALID_COMMAND_EXECUTION_UUID"
	case CommandExecutionNotFinished:
		return "COMMAND_EXECUTION_NOT_FINISHED"
	case InvalidMetadata:
		return "INVALID_METADATA"
	case NoMetadataAllowed:
		return "NO_METADATA_ALLOWED"
	default:
		return fmt.Sprintf("FrameworkErrorType(%d)", int32(t))
	}
}

// FrameworkError is a fault in the RPC machinery rather than in device logic.
type FrameworkError struct {
	Type    FrameworkErrorType
	Message string
}

func NewFrameworkError(t FrameworkErrorType, message string) *FrameworkError {
	return &FrameworkError{Type: t, Message: message}
}

func (e *FrameworkError) Error() string {
	return fmt.Sprintf("framework error %s: %s", e.Type, e.Message)
}
func (e *FrameworkError) Kind() Kind     { return KindFramework }
func (e *FrameworkError) Detail() string { return e.Message }
func (*FrameworkError) sealed()          {}

// As reports whether err's chain holds a SiLA error and returns it.
func As(err error) (Error, bool) {
	var se Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Wrap converts an error returned by device logic into a SiLA error.
// SiLA errors anywhere in the chain are returned as-is; everything else becomes an
// UndefinedExecutionError carrying only err.Error().
func Wrap(err error) Error {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	return NewUndefinedExecutionError(err.Error())
}
