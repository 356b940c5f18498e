package common

import "errors"

// Error taxonomy shared by the pricing, catalog and surcharge packages.
var (
	// ErrInvalidInput reports a malformed request: missing product type, empty cart,
	// empty surcharge batch or a non-positive identifier.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports that a product, product type or surcharge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable reports a transport, non-success status or decode failure
	// while talking to a remote dependency.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvariantViolation reports a state the service never produces on its own.
	ErrInvariantViolation = errors.New("invariant violation")
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// AsAppError extracts the AppError carried by err, if any.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
