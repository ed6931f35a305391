package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the mirror
	ErrJobNotFound = errors.New("job not found")

	// ErrReconciliationRace is returned when an event references a job the mirror has not seen yet
	ErrReconciliationRace = errors.New("event references unknown job")

	// ErrStaleTransition is returned when a guarded status write does not match the current status
	ErrStaleTransition = errors.New("transition not allowed from current status")

	// ErrWalletResolution is returned when no custodial wallet can be resolved for an actor
	ErrWalletResolution = errors.New("custodial wallet not found")

	// ErrConfirmationTimeout is returned when a submitted transaction is not mined in time
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrTransactionReverted is returned when a transaction is mined with a failed status
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrInvalidAmount is returned for negative or over-precise USDC amounts
	ErrInvalidAmount = errors.New("invalid USDC amount")

	// ErrInvalidAddress is returned when an account identifier is not a hex address
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidEvent is returned when a decoded event is missing required fields
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidArgument is returned for out-of-range operation parameters
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConfigurationError reports a missing or malformed address or credential
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// TxError carries the transaction hash and revert reason of a failed on-chain write.
// Err is ErrConfirmationTimeout or ErrTransactionReverted.
type TxError struct {
	TxHash string
	Reason string
	Err    error
}

func (e *TxError) Error() string {
	msg := e.Err.Error()
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// RetryableError wraps transient errors that should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked as transient
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
