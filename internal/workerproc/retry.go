package workerproc

import (
	"errors"
	"time"

	"callqa-backend/internal/calls"
)

const (
	DefaultMaxAttempts = 4
	DefaultRetryDelay  = 60 * time.Second
)

// Action is what the dispatcher should do with a failed delivery.
type Action int

const (
	// ActionAck removes a delivery that succeeded.
	ActionAck Action = iota
	// ActionRetry redelivers after the policy delay.
	ActionRetry
	// ActionDrop removes a delivery that failed for good.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds redelivery of failed jobs.
type RetryPolicy struct {
	// MaxAttempts counts the first delivery.
	MaxAttempts int
	// Delay returns the wait before the given attempt (2 for the first retry).
	Delay func(attempt int) time.Duration
}

// DefaultRetryPolicy retries three times, a minute apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: FixedDelay(DefaultRetryDelay)}
}

// FixedDelay waits d before every retry.
func FixedDelay(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Decide classifies the outcome of delivery number attempt.
//
// A claim held by another execution is retried once its lease can have run
// out, regardless of attempt, so a crashed holder's call is taken over.
func (p RetryPolicy) Decide(err error, attempt int) (Action, time.Duration) {
	if err == nil {
		return ActionAck, 0
	}
	if errors.Is(err, calls.ErrAlreadyProcessing) {
		delay := p.delay(attempt)
		var held *calls.LeaseHeldError
		if errors.As(err, &held) && held.Remaining > delay {
			delay = held.Remaining
		}
		return ActionRetry, delay
	}
	if IsPermanent(err) {
		return ActionDrop, 0
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if attempt >= maxAttempts {
		return ActionDrop, 0
	}
	return ActionRetry, p.delay(attempt)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := DefaultRetryDelay
	if p.Delay != nil {
		delay = p.Delay(attempt + 1)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	var empty ErrEmptyBody
	var decode ErrDecode
	var missing ErrMissingCallID
	switch {
	case errors.Is(err, calls.ErrNotFound),
		errors.As(err, &empty),
		errors.As(err, &decode),
		errors.As(err, &missing):
		return true
	default:
		return false
	}
}
