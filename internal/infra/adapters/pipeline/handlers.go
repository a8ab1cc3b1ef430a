package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/adapter"
	"crm-job-engine/internal/infra/worker"
	"crm-job-engine/internal/usecase"

	"github.com/rs/zerolog"
)

// Payload schemas, one per kind. Fan-out jobs carry the minimal reference
// their handler needs; the normalized data itself lives in the CRM store
// behind the adapters.

type syncPayload struct {
	Since time.Time `json:"since"`
}

type messagePayload struct {
	MessageID string `json:"message_id"`
}

type eventPayload struct {
	EventID string `json:"event_id"`
}

type contactPayload struct {
	ContactID string `json:"contact_id"`
}

// Handlers wires the pipeline kinds to their adapters. Each stage performs
// its side effect through an adapter port and emits the follow-on jobs into
// the same batch, so dependency checks line up per sync run.
type Handlers struct {
	mail      adapter.MailSource
	calendar  adapter.CalendarSource
	normalize adapter.Normalizer
	extract   adapter.ContactExtractor
	embed     adapter.Embedder
	insight   adapter.InsightGenerator
	enqueue   usecase.EnqueueUseCase
	log       *zerolog.Logger
}

func NewHandlers(
	mail adapter.MailSource,
	calendar adapter.CalendarSource,
	normalize adapter.Normalizer,
	extract adapter.ContactExtractor,
	embed adapter.Embedder,
	insight adapter.InsightGenerator,
	enqueue usecase.EnqueueUseCase,
	logger *zerolog.Logger,
) *Handlers {
	l := logger.With().Str("component", "Pipeline").Logger()
	return &Handlers{
		mail:      mail,
		calendar:  calendar,
		normalize: normalize,
		extract:   extract,
		embed:     embed,
		insight:   insight,
		enqueue:   enqueue,
		log:       &l,
	}
}

// RegisterAll binds every pipeline kind into the registry.
func (h *Handlers) RegisterAll(reg *worker.Registry) error {
	bindings := map[model.JobKind]worker.Handler{
		model.KindGmailSync:      worker.HandlerFunc(h.handleGmailSync),
		model.KindCalendarSync:   worker.HandlerFunc(h.handleCalendarSync),
		model.KindNormalizeEmail: worker.HandlerFunc(h.handleNormalizeEmail),
		model.KindNormalizeEvent: worker.HandlerFunc(h.handleNormalizeEvent),
		model.KindExtractContact: worker.HandlerFunc(h.handleExtractContacts),
		model.KindEmbed:          worker.HandlerFunc(h.handleEmbed),
		model.KindInsight:        worker.HandlerFunc(h.handleInsight),
	}
	for kind, handler := range bindings {
		if err := reg.Register(kind, handler); err != nil {
			return fmt.Errorf("register %s: %w", kind, err)
		}
	}
	return nil
}

func (h *Handlers) handleGmailSync(ctx context.Context, job *model.Job) error {
	var p syncPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	messages, err := h.mail.ListNewMessages(ctx, job.UserID, p.Since)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, m := range messages {
		if err := h.emit(ctx, job, model.KindNormalizeEmail, messagePayload{MessageID: m.MessageID}); err != nil {
			return err
		}
	}
	h.log.Debug().Str("user_id", job.UserID).Int("messages", len(messages)).Msg("gmail sync fanned out")
	return nil
}

func (h *Handlers) handleCalendarSync(ctx context.Context, job *model.Job) error {
	var p syncPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	events, err := h.calendar.ListNewEvents(ctx, job.UserID, p.Since)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	for _, e := range events {
		if err := h.emit(ctx, job, model.KindNormalizeEvent, eventPayload{EventID: e.EventID}); err != nil {
			return err
		}
	}
	h.log.Debug().Str("user_id", job.UserID).Int("events", len(events)).Msg("calendar sync fanned out")
	return nil
}

func (h *Handlers) handleNormalizeEmail(ctx context.Context, job *model.Job) error {
	var p messagePayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	if err := h.normalize.NormalizeEmail(ctx, job.UserID, p.MessageID); err != nil {
		return fmt.Errorf("normalize email %s: %w", p.MessageID, err)
	}

	return h.emit(ctx, job, model.KindExtractContact, messagePayload{MessageID: p.MessageID})
}

func (h *Handlers) handleNormalizeEvent(ctx context.Context, job *model.Job) error {
	var p eventPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	if err := h.normalize.NormalizeEvent(ctx, job.UserID, p.EventID); err != nil {
		return fmt.Errorf("normalize event %s: %w", p.EventID, err)
	}
	return nil
}

func (h *Handlers) handleExtractContacts(ctx context.Context, job *model.Job) error {
	var p messagePayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	contactIDs, err := h.extract.Extract(ctx, job.UserID, p.MessageID)
	if err != nil {
		return fmt.Errorf("extract contacts from %s: %w", p.MessageID, err)
	}

	for _, id := range contactIDs {
		if err := h.emit(ctx, job, model.KindEmbed, contactPayload{ContactID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) handleEmbed(ctx context.Context, job *model.Job) error {
	var p contactPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	if err := h.embed.Embed(ctx, job.UserID, p.ContactID); err != nil {
		return fmt.Errorf("embed contact %s: %w", p.ContactID, err)
	}

	return h.emit(ctx, job, model.KindInsight, contactPayload{ContactID: p.ContactID})
}

func (h *Handlers) handleInsight(ctx context.Context, job *model.Job) error {
	var p contactPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}

	if err := h.insight.Generate(ctx, job.UserID, p.ContactID); err != nil {
		return fmt.Errorf("generate insight for %s: %w", p.ContactID, err)
	}
	return nil
}

// emit enqueues a follow-on job in the same batch as its predecessor.
func (h *Handlers) emit(ctx context.Context, from *model.Job, kind model.JobKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.Permanent(fmt.Errorf("encode %s payload: %w", kind, err))
	}
	if _, err := h.enqueue.Enqueue(ctx, from.UserID, kind, raw, from.BatchID); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// decodePayload unmarshals a job payload. A malformed payload cannot be
// fixed by retrying, so the failure is classified permanent.
func decodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return model.Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}
