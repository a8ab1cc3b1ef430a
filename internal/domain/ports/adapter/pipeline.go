package adapter

import (
	"context"
	"time"
)

// The pipeline adapters are the seams to the excluded application layer:
// the engine schedules and supervises, the adapters do the domain work
// (talk to Gmail, write normalized rows, call embedding providers). Each
// returns a classified error (model.Transient / model.Permanent /
// model.RateLimited) when it can tell; plain errors default to transient.

// MailMessage is the minimal reference to one ingested message.
type MailMessage struct {
	MessageID  string
	ThreadID   string
	ReceivedAt time.Time
}

// MailSource lists new messages for a user since a checkpoint.
type MailSource interface {
	ListNewMessages(ctx context.Context, userID string, since time.Time) ([]MailMessage, error)
}

// CalendarEvent is the minimal reference to one ingested event.
type CalendarEvent struct {
	EventID  string
	StartsAt time.Time
}

type CalendarSource interface {
	ListNewEvents(ctx context.Context, userID string, since time.Time) ([]CalendarEvent, error)
}

// Normalizer turns one raw message or event into normalized CRM rows.
type Normalizer interface {
	NormalizeEmail(ctx context.Context, userID, messageID string) error
	NormalizeEvent(ctx context.Context, userID, eventID string) error
}

// ContactExtractor mines a normalized message for contact candidates and
// returns the contact IDs it touched.
type ContactExtractor interface {
	Extract(ctx context.Context, userID, messageID string) ([]string, error)
}

// Embedder computes and stores an embedding for a contact's interaction
// history.
type Embedder interface {
	Embed(ctx context.Context, userID, contactID string) error
}

// InsightGenerator produces AI insights for a contact. Not idempotent:
// generated suggestions are user-visible.
type InsightGenerator interface {
	Generate(ctx context.Context, userID, contactID string) error
}
