package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dashboard-sync/src/logger"

	"github.com/cenkalti/backoff/v4"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrBusy is returned when a bulk command is issued while another is in flight.
	ErrBusy = errors.New("another bulk command is in progress")

	// ErrEmptySymbol is returned when a symbol normalizes to the empty string.
	ErrEmptySymbol = errors.New("symbol is empty")
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type DashboardError struct {
	Message string
	Cause   error
}

func (e *DashboardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DashboardError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks
type ConfigurationError struct{ DashboardError }
type NetworkError struct{ DashboardError }
type DecodeError struct{ DashboardError }

// CommandError reports a start/stop/flatten command the backend rejected.
type CommandError struct {
	DashboardError
	Command string
	Symbols []string
}

// -----------------------------------------------------------------------------

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{DashboardError{Message: message, Cause: cause}}
}

func NewNetworkError(operation string, cause error) *NetworkError {
	return &NetworkError{DashboardError{Message: fmt.Sprintf("%s failed", operation), Cause: cause}}
}

func NewDecodeError(operation string, cause error) *DecodeError {
	return &DecodeError{DashboardError{Message: fmt.Sprintf("%s: malformed payload", operation), Cause: cause}}
}

func NewCommandError(command string, symbols []string, cause error) *CommandError {
	return &CommandError{
		DashboardError: DashboardError{Message: fmt.Sprintf("command %s failed", command), Cause: cause},
		Command:        command,
		Symbols:        symbols,
	}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries+1 times with exponential backoff
// starting at baseDelay. Errors wrapped with backoff.Permanent stop immediately.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, log *logger.Logger, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = baseDelay
	expo.MaxInterval = 30 * time.Second
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx)

	attempt := 0
	notify := func(err error, next time.Duration) {
		attempt++
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt, maxRetries+1, operation, err, next)
		}
	}

	return backoff.RetryNotify(fn, policy, notify)
}
