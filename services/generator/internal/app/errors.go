package app

import (
	"errors"
	"fmt"
	"time"

	"postcraft/pkg/domain"
	"postcraft/services/generator/internal/ledger"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
	ErrPersistence         = errors.New("persistence failure")
	ErrNotFound            = errors.New("generation not found")
	ErrForbidden           = errors.New("generation forbidden")
	// ErrGenerationPending rejects deleting a job whose credit is still reserved.
	ErrGenerationPending = errors.New("generation still pending")

	errSwept = errors.New("generation closed by sweeper before it finished")
)

// RetryAfterError carries the wait hint of a throttled call.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// GenerationFailedError reports a job that failed after its credit was
// reserved.
type GenerationFailedError struct {
	GenerationID string
	Stage        domain.Stage
	Refunded     bool
	// RefundQueued is set when the inline refund failed and was deferred.
	RefundQueued bool
	Err          error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation %s failed at %s: %v", e.GenerationID, e.Stage, e.Err)
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }
