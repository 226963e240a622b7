package service

import (
	"fmt"

	"github.com/pkg/errors"

	"example.com/backstage/services/stocktake/internal/models"
)

// Validation failures. Each rejection is synchronous, names its reason, and
// leaves the counting unchanged. There are no retryable failure modes in this
// core; every error is a caller-input or state-precondition violation.
var (
	// ErrInvalidPhase is returned when the phase number is not 1, 2 or 3
	ErrInvalidPhase = errors.New("phase number must be 1, 2 or 3")
	// ErrNotAssignedCounter is returned when the actor is not the counter assigned to the phase
	ErrNotAssignedCounter = errors.New("actor is not the counter assigned to this phase")
	// ErrPhaseNotActive is returned when the counting is not in the phase's in-progress status
	ErrPhaseNotActive = errors.New("counting is not in this phase's in-progress status")
	// ErrCountAlreadySubmitted is returned on a repeated submission for the same item and phase
	ErrCountAlreadySubmitted = errors.New("a count was already submitted for this item and phase")
	// ErrNoPhaseThreeCounter is returned when a third count is requested without a configured counter
	ErrNoPhaseThreeCounter = errors.New("no phase-3 counter is configured")
	// ErrCountingTerminal is returned when cancelling an already finalized or cancelled counting
	ErrCountingTerminal = errors.New("counting is already finalized or cancelled")
	// ErrItemNotInCounting is returned when the item does not belong to the counting
	ErrItemNotInCounting = errors.New("item does not belong to this counting")
	// ErrItemNotDisputed is returned when a third count targets an already resolved item
	ErrItemNotDisputed = errors.New("item is not part of the third count subset")
	// ErrEmptySnapshot is returned when the scope resolves to no items
	ErrEmptySnapshot = errors.New("scope resolved to an empty stock snapshot")
	// ErrNotACounter is returned by the counter view when the actor has no assignment
	ErrNotACounter = errors.New("actor is not a counter on this counting")
)

// ValidationError is a caller-input rejection with its own message
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// InvalidTransitionError is raised whenever a requested status change is not
// in the closed transition table. Unlisted pairs are rejected, never coerced.
type InvalidTransitionError struct {
	From models.CountingStatus
	To   models.CountingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid counting transition: %s -> %s", e.From, e.To)
}

// UnresolvedItemsError is returned by Finalize when items are still pending
type UnresolvedItemsError struct {
	Count int64
}

func (e *UnresolvedItemsError) Error() string {
	return fmt.Sprintf("cannot finalize: %d items still pending resolution", e.Count)
}

// IsValidationError reports whether err is one of the typed domain rejections,
// as opposed to an infrastructure failure
func IsValidationError(err error) bool {
	switch errors.Cause(err).(type) {
	case *InvalidTransitionError, *UnresolvedItemsError, *ValidationError:
		return true
	}
	switch errors.Cause(err) {
	case ErrInvalidPhase, ErrNotAssignedCounter, ErrPhaseNotActive,
		ErrCountAlreadySubmitted, ErrNoPhaseThreeCounter, ErrCountingTerminal,
		ErrItemNotInCounting, ErrItemNotDisputed, ErrEmptySnapshot, ErrNotACounter:
		return true
	}
	return false
}
