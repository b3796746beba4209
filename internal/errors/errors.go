// Package errors provides the error taxonomy shared by the grimoire engine,
// its storage backends and the oracle boundary.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCoolingDown       = errors.New("still cooling down")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNoCreature        = errors.New("no creature adopted")
	ErrTooTired          = errors.New("creature is too tired")
	ErrNotSorted         = errors.New("not sorted into a house")
	ErrTimeout           = errors.New("operation timed out")
	ErrAuthFailure       = errors.New("authentication failed")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrUnavailable       = errors.New("service unavailable")
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// CooldownError rejects an action whose gate has not opened yet.
// Remaining is computed at rejection time from the stored boundary.
type CooldownError struct {
	Action    string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s (%s remaining)", e.Action, ErrCoolingDown, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCoolingDown }

// InsufficientFundsError carries the balance and the price that failed.
type InsufficientFundsError struct {
	Balance int
	Cost    int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: balance %d, cost %d", ErrInsufficientFunds, e.Balance, e.Cost)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
