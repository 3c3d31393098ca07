package library

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRecord   = errors.New("malformed record")
	ErrStoreCorruption   = errors.New("store corruption")
	ErrStaleWrite        = errors.New("stale write: record changed since it was read")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateRequest  = errors.New("request already pending")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrCopyOnLoan        = errors.New("copy is already on loan")
	ErrNotFound          = errors.New("not found")
	ErrUnknownReference  = errors.New("unknown reference")
	ErrInvalidField      = errors.New("invalid field")
	ErrNotAuthorized     = errors.New("not authorized")
)

// RecordError reports a line that could not be decoded. Line is 1-based and
// zero when the error was raised outside a resource scan.
type RecordError struct {
	Class  Class
	Line   int
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	where := e.Class.String()
	if e.Line > 0 {
		where = fmt.Sprintf("%s line %d", where, e.Line)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: field %s: %s", ErrMalformedRecord, where, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformedRecord, where, e.Reason)
}

func (e *RecordError) Unwrap() error { return ErrMalformedRecord }
