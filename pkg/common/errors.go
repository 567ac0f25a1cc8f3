package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch core. Callers branch on these with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidTransition   = errors.New("invalid ride status transition")
	ErrNoDriversAvailable  = errors.New("no drivers available")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below minimum")
	ErrNoVerifiedMethod    = errors.New("no verified payout method")
	ErrGatewayFailure      = errors.New("payment gateway failure")
	ErrDuplicateCredit     = errors.New("ride already credited")
)

// Error is an application error carrying one of the sentinel kinds above,
// a human-readable message, and an optional underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

// Is reports whether the error matches the given sentinel kind.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an application error of the given kind.
func NewError(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Common error constructors

func NewValidationError(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

func NewInvalidTransitionError(from, to string) *Error {
	return &Error{
		Kind:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot transition ride from %s to %s", from, to),
	}
}

func NewNoDriversAvailableError(message string) *Error {
	return &Error{Kind: ErrNoDriversAvailable, Message: message}
}

func NewConflictError(message string) *Error {
	return &Error{Kind: ErrConcurrencyConflict, Message: message}
}

func NewInsufficientBalanceError(message string) *Error {
	return &Error{Kind: ErrInsufficientBalance, Message: message}
}

func NewBelowMinimumError(message string) *Error {
	return &Error{Kind: ErrBelowMinimum, Message: message}
}

func NewNoVerifiedMethodError(message string) *Error {
	return &Error{Kind: ErrNoVerifiedMethod, Message: message}
}

func NewGatewayError(message string, err error) *Error {
	return &Error{Kind: ErrGatewayFailure, Message: message, Err: err}
}

func NewDuplicateCreditError(message string) *Error {
	return &Error{Kind: ErrDuplicateCredit, Message: message}
}
