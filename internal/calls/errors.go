package calls

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound              = errors.New("call not found")
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
	ErrQueueNotConfigured    = errors.New("job queue not configured")
	ErrInvalidInput          = errors.New("invalid call")

	// ErrAlreadyProcessing means another execution holds an unexpired claim on the call.
	ErrAlreadyProcessing = errors.New("call is already processing")
)

// LeaseHeldError is a rejected claim. It matches ErrAlreadyProcessing.
type LeaseHeldError struct {
	CallID int64
	// Remaining is how long the current claim stays valid. Zero when the
	// holder finished between the claim attempt and the lookup.
	Remaining time.Duration
}

func (e *LeaseHeldError) Error() string {
	return fmt.Sprintf("call %d is already processing (lease expires in %s)", e.CallID, e.Remaining.Round(time.Second))
}

func (e *LeaseHeldError) Is(target error) bool { return target == ErrAlreadyProcessing }

func leaseHeld(id int64, status string, updatedAt, now time.Time, lease time.Duration) *LeaseHeldError {
	remaining := time.Duration(0)
	if status == StatusProcessing {
		remaining = updatedAt.Add(lease).Sub(now)
	}
	if remaining < 0 {
		remaining = 0
	}
	return &LeaseHeldError{CallID: id, Remaining: remaining}
}
