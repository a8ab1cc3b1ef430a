package model

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind is the explicit error taxonomy. It is carried on the job
// record and drives retry behavior; it is never inferred from the Go error
// type alone.
type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureRateLimited FailureKind = "rate_limited"
	FailureTimeout     FailureKind = "timeout"
)

// ClassifiedError wraps a handler error with its failure class. Handlers
// that know better than the default classification return one of these.
type ClassifiedError struct {
	Class FailureKind
	// RetryAfter is a provider-supplied backoff hint for rate-limited
	// failures. Quota windows are measured in minutes, not seconds, so
	// this overrides the kind's fixed retry delay when set.
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient marks err as retryable (network blips, momentary upstream
// unavailability).
func Transient(err error) error {
	return &ClassifiedError{Class: FailureTransient, Err: err}
}

// Permanent marks err as terminal (malformed payload, missing data).
func Permanent(err error) error {
	return &ClassifiedError{Class: FailurePermanent, Err: err}
}

// RateLimited marks err as a quota failure with an optional provider hint.
func RateLimited(err error, retryAfter time.Duration) error {
	return &ClassifiedError{Class: FailureRateLimited, RetryAfter: retryAfter, Err: err}
}

// Classify extracts the failure class from err. Unclassified errors
// default to transient: retrying a genuinely broken job burns its retry
// budget and lands in error anyway, while failing a recoverable one loses
// work.
func Classify(err error) (FailureKind, time.Duration) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, ce.RetryAfter
	}
	return FailureTransient, 0
}

// Outcome is the result of one execution attempt, reported back to the
// job store.
type Outcome struct {
	Success    bool
	Failure    FailureKind
	Reason     string
	RetryAfter time.Duration
	// Terminal forces error status regardless of remaining attempts.
	Terminal bool
}
