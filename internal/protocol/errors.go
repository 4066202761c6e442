// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure reported to a participant.
type ErrorCode string

const (
	CodeProtocol       ErrorCode = "protocol_error"
	CodeAuth           ErrorCode = "auth_error"
	CodeCapacity       ErrorCode = "capacity_error"
	CodeTurn           ErrorCode = "turn_error"
	CodeRuleViolation  ErrorCode = "rule_violation"
	CodeReplayRejected ErrorCode = "replay_rejected"
	CodeConnectionLost ErrorCode = "connection_lost"
	CodeTimeout        ErrorCode = "timeout"
)

// Error is the domain error carried in `error` envelopes.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrTurn) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrProtocol       = &Error{Code: CodeProtocol}
	ErrAuth           = &Error{Code: CodeAuth}
	ErrCapacity       = &Error{Code: CodeCapacity}
	ErrTurn           = &Error{Code: CodeTurn}
	ErrRuleViolation  = &Error{Code: CodeRuleViolation}
	ErrReplayRejected = &Error{Code: CodeReplayRejected}
	ErrConnectionLost = &Error{Code: CodeConnectionLost}
	ErrTimeout        = &Error{Code: CodeTimeout}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, defaulting to protocol_error for foreign errors.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeProtocol
}

// MessageOf returns the human readable part of err.
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
