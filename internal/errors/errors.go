package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16

	// Execution pipeline failures. Validation, resolution and busy are
	// reported without touching the result store; approval, encoding and
	// dispatch are recorded as error results for the action key.
	CodeValidation Code = 20
	CodeResolution Code = 21
	CodeApproval   Code = 22
	CodeEncoding   Code = 23
	CodeDecoding   Code = 24
	CodeDispatch   Code = 25
	CodeBusy       Code = 26

	CodeSigner     Code = 30
	CodeSimulation Code = 31
	CodeTimeout    Code = 32
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the snake_case label used in error envelopes and API responses.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeUnavailable:
		return "rpc_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeResolution:
		return "resolution_error"
	case CodeApproval:
		return "approval_error"
	case CodeEncoding:
		return "encoding_error"
	case CodeDecoding:
		return "decoding_error"
	case CodeDispatch:
		return "dispatch_error"
	case CodeBusy:
		return "action_busy"
	case CodeSigner:
		return "signer_error"
	case CodeSimulation:
		return "simulation_failed"
	case CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}
