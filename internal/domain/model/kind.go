package model

import "time"

// JobKind identifies the type of work a job performs. Every kind has a
// static KindSpec entry; jobs with an unregistered kind are rejected at
// creation time rather than discovered stringly at dispatch.
type JobKind string

const (
	KindGmailSync      JobKind = "google_gmail_sync"
	KindCalendarSync   JobKind = "google_calendar_sync"
	KindNormalizeEmail JobKind = "normalize_google_email"
	KindNormalizeEvent JobKind = "normalize_google_event"
	KindExtractContact JobKind = "extract_contacts"
	KindEmbed          JobKind = "embed"
	KindInsight        JobKind = "insight"
)

// Phase buckets kinds into the pipeline ordering:
// ingestion -> normalization -> extraction -> processing.
type Phase string

const (
	PhaseIngestion     Phase = "ingestion"
	PhaseNormalization Phase = "normalization"
	PhaseExtraction    Phase = "extraction"
	PhaseProcessing    Phase = "processing"
)

// KindSpec is the static per-kind configuration: pipeline position,
// retry policy, execution deadline and payload bound.
type KindSpec struct {
	Phase      Phase
	DependsOn  []JobKind
	MaxRetries int
	RetryDelay time.Duration
	// Timeout is the hard cap for a single execution attempt. It is
	// deliberately per kind: a large mailbox sync legitimately runs for
	// minutes while a normalize step should never.
	Timeout time.Duration
	// Idempotent controls how an execution timeout is classified. A
	// non-idempotent kind may have produced side effects before the
	// deadline, so its timeouts are terminal instead of retried.
	Idempotent      bool
	MaxPayloadBytes int64
}

const defaultMaxPayloadBytes = 5 << 20 // 5MB

var kindSpecs = map[JobKind]KindSpec{
	KindGmailSync: {
		Phase:           PhaseIngestion,
		MaxRetries:      3,
		RetryDelay:      time.Minute,
		Timeout:         10 * time.Minute,
		Idempotent:      true,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	},
	KindCalendarSync: {
		Phase:           PhaseIngestion,
		MaxRetries:      3,
		RetryDelay:      time.Minute,
		Timeout:         5 * time.Minute,
		Idempotent:      true,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	},
	KindNormalizeEmail: {
		Phase:           PhaseNormalization,
		DependsOn:       []JobKind{KindGmailSync},
		MaxRetries:      3,
		RetryDelay:      30 * time.Second,
		Timeout:         2 * time.Minute,
		Idempotent:      true,
		MaxPayloadBytes: 1 << 20,
	},
	KindNormalizeEvent: {
		Phase:           PhaseNormalization,
		DependsOn:       []JobKind{KindCalendarSync},
		MaxRetries:      3,
		RetryDelay:      30 * time.Second,
		Timeout:         2 * time.Minute,
		Idempotent:      true,
		MaxPayloadBytes: 1 << 20,
	},
	KindExtractContact: {
		Phase:           PhaseExtraction,
		DependsOn:       []JobKind{KindNormalizeEmail},
		MaxRetries:      3,
		RetryDelay:      30 * time.Second,
		Timeout:         3 * time.Minute,
		Idempotent:      true,
		MaxPayloadBytes: 1 << 20,
	},
	KindEmbed: {
		Phase:           PhaseProcessing,
		DependsOn:       []JobKind{KindExtractContact},
		MaxRetries:      5,
		RetryDelay:      time.Minute,
		Timeout:         90 * time.Second,
		Idempotent:      true,
		MaxPayloadBytes: 1 << 20,
	},
	KindInsight: {
		Phase:      PhaseProcessing,
		DependsOn:  []JobKind{KindEmbed},
		MaxRetries: 2,
		RetryDelay: 2 * time.Minute,
		Timeout:    5 * time.Minute,
		// Insight generation surfaces suggestions to the user; a
		// duplicate is worse than a gap, so timeouts are not retried.
		Idempotent:      false,
		MaxPayloadBytes: 1 << 20,
	},
}

// Spec returns the static configuration for k.
func (k JobKind) Spec() (KindSpec, bool) {
	s, ok := kindSpecs[k]
	return s, ok
}

func (k JobKind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Root walks the dependency declarations down to the ingestion kind that
// ultimately feeds k. Circuit-breaker suspension is keyed by this root so
// one failing sync suspends its whole chain.
func (k JobKind) Root() JobKind {
	seen := map[JobKind]bool{}
	cur := k
	for {
		if seen[cur] {
			return cur
		}
		seen[cur] = true
		spec, ok := kindSpecs[cur]
		if !ok || len(spec.DependsOn) == 0 {
			return cur
		}
		cur = spec.DependsOn[0]
	}
}

// Kinds returns all registered kinds in no particular order.
func Kinds() []JobKind {
	out := make([]JobKind, 0, len(kindSpecs))
	for k := range kindSpecs {
		out = append(out, k)
	}
	return out
}

// ClampMaxPayload lowers every kind's payload bound to at most ceiling
// bytes. Used by config loading as a deployment-wide cap; kinds with a
// tighter bound keep it.
func ClampMaxPayload(ceiling int64) {
	if ceiling <= 0 {
		return
	}
	for k, spec := range kindSpecs {
		if spec.MaxPayloadBytes > ceiling {
			spec.MaxPayloadBytes = ceiling
			kindSpecs[k] = spec
		}
	}
}

// OverrideKindTimeout replaces the execution deadline for a kind. Used by
// config loading so deployments can tune deadlines without a rebuild.
func OverrideKindTimeout(k JobKind, timeout time.Duration) bool {
	spec, ok := kindSpecs[k]
	if !ok || timeout <= 0 {
		return false
	}
	spec.Timeout = timeout
	kindSpecs[k] = spec
	return true
}
