package wire

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge    = errors.New("wire: payload too large")
	ErrUnknownMessageType = errors.New("wire: unknown message type")
	ErrMalformed          = errors.New("wire: malformed data")
	ErrTruncated          = errors.New("wire: truncated data")
)

// ValidationError reports why a value was rejected at the wire boundary.
// It always wraps one of the sentinels above so callers can use errors.Is.
type ValidationError struct {
	Op     string // encode or decode step, e.g. "decode envelope"
	Field  string // offending field, empty when the whole value is at fault
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wire: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("wire: %s: field=%s: %s", e.Op, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(op, field string, sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Field: field, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
