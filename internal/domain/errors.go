package domain

import (
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotInitialized = fmt.Errorf("component not initialized")
	ErrInvalidConfig  = fmt.Errorf("invalid configuration")
	ErrNoSuchLine     = fmt.Errorf("gpio line not found")
	ErrLineBusy       = fmt.Errorf("gpio line already requested")
	ErrLineNotArmed   = fmt.Errorf("gpio line not armed for edge detection")
	ErrActuation      = fmt.Errorf("lock actuation failed")
	ErrBusUnavailable = fmt.Errorf("message bus unavailable")
	ErrNotSubscribed  = fmt.Errorf("not subscribed to topic")
	ErrUnknownCommand = fmt.Errorf("unknown command action")
	ErrStoreClosed    = fmt.Errorf("audit store closed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Lock.SetState")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
