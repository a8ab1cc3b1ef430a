package model

import (
	"time"

	"crm-job-engine/internal/domain"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Job is the unit of asynchronous work. All queries partition by UserID;
// BatchID correlates jobs created by one sync run and is what dependency
// checks key on.
type Job struct {
	ID       string
	UserID   string
	Kind     JobKind
	Status   JobStatus
	Payload  []byte
	Priority int
	Attempts int
	BatchID  string
	// ClaimedBy holds the node ID while the job is processing, so claims
	// of a dead node can be released.
	ClaimedBy string
	// Structured failure context carried for the UI; a stack trace alone
	// is not actionable there.
	FailureKind   FailureKind
	FailureReason string
	FailedAt      *time.Time
	// NotBefore delays the next attempt past the kind's fixed retry
	// delay, set from provider retry-after hints on rate limits.
	NotBefore *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob validates and constructs a queued job.
func NewJob(userID string, kind JobKind, payload []byte, batchID string) (*Job, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	spec, ok := kind.Spec()
	if !ok {
		return nil, domain.ErrUnknownKind
	}
	if int64(len(payload)) > spec.MaxPayloadBytes {
		return nil, domain.ErrPayloadTooLarge
	}
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Status:    JobStatusQueued,
		Payload:   payload,
		BatchID:   batchID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

// InBackoff reports whether a previously failed job is still inside its
// retry delay window at the given instant.
func (j *Job) InBackoff(now time.Time) bool {
	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return true
	}
	if j.Attempts == 0 {
		return false
	}
	spec, ok := j.Kind.Spec()
	if !ok {
		return true
	}
	return now.Sub(j.UpdatedAt) < spec.RetryDelay
}

// AttemptsExhausted reports whether the job has already used up its retry
// budget. Such jobs should already be in error status; the readiness check
// treats this as a defensive filter.
func (j *Job) AttemptsExhausted() bool {
	spec, ok := j.Kind.Spec()
	if !ok {
		return true
	}
	return j.Attempts > spec.MaxRetries
}

// MarkProcessing transitions queued -> processing.
func (j *Job) MarkProcessing(nodeID string, now time.Time) error {
	if j.Status != JobStatusQueued {
		return domain.ErrInvalidTransition
	}
	j.Status = JobStatusProcessing
	j.ClaimedBy = nodeID
	j.UpdatedAt = now
	return nil
}

// MarkDone transitions processing -> done and clears failure context.
func (j *Job) MarkDone(now time.Time) error {
	if j.Status != JobStatusProcessing {
		return domain.ErrInvalidTransition
	}
	j.Status = JobStatusDone
	j.ClaimedBy = ""
	j.FailureKind = ""
	j.FailureReason = ""
	j.FailedAt = nil
	j.UpdatedAt = now
	return nil
}

// MarkFailed records a failed execution attempt. The job re-queues unless
// the failure is terminal or the retry budget is spent.
func (j *Job) MarkFailed(fk FailureKind, reason string, terminal bool, retryAfter time.Duration, now time.Time) error {
	if j.Status != JobStatusProcessing {
		return domain.ErrInvalidTransition
	}
	j.Attempts++
	j.ClaimedBy = ""
	j.FailureKind = fk
	j.FailureReason = reason
	t := now
	j.FailedAt = &t
	j.UpdatedAt = now
	j.NotBefore = nil
	if retryAfter > 0 {
		nb := now.Add(retryAfter)
		j.NotBefore = &nb
	}

	spec, _ := j.Kind.Spec()
	if terminal || j.Attempts > spec.MaxRetries {
		j.Status = JobStatusError
	} else {
		j.Status = JobStatusQueued
	}
	return nil
}
