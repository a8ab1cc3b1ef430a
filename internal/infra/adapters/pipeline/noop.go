package pipeline

import (
	"context"
	"fmt"
	"time"

	"crm-job-engine/internal/domain/ports/adapter"
)

var (
	_ adapter.MailSource       = (*NoopAdapters)(nil)
	_ adapter.CalendarSource   = (*NoopAdapters)(nil)
	_ adapter.Normalizer       = (*NoopAdapters)(nil)
	_ adapter.ContactExtractor = (*NoopAdapters)(nil)
	_ adapter.Embedder         = (*NoopAdapters)(nil)
	_ adapter.InsightGenerator = (*NoopAdapters)(nil)
)

// NoopAdapters implements every pipeline port for local/dev runs. It
// simulates small processing delays and produces a fixed fan-out so the
// whole chain can be exercised without Google or AI credentials.
type NoopAdapters struct {
	// Delay per simulated call; zero means no artificial latency.
	Delay time.Duration
}

func NewNoopAdapters(delay time.Duration) *NoopAdapters {
	return &NoopAdapters{Delay: delay}
}

func (n *NoopAdapters) pause(ctx context.Context) error {
	if n.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(n.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *NoopAdapters) ListNewMessages(ctx context.Context, userID string, since time.Time) ([]adapter.MailMessage, error) {
	if err := n.pause(ctx); err != nil {
		return nil, err
	}
	out := make([]adapter.MailMessage, 0, 3)
	for i := 0; i < 3; i++ {
		out = append(out, adapter.MailMessage{
			MessageID:  fmt.Sprintf("noop-msg-%s-%d", userID, i),
			ThreadID:   fmt.Sprintf("noop-thread-%d", i),
			ReceivedAt: since,
		})
	}
	return out, nil
}

func (n *NoopAdapters) ListNewEvents(ctx context.Context, userID string, since time.Time) ([]adapter.CalendarEvent, error) {
	if err := n.pause(ctx); err != nil {
		return nil, err
	}
	return []adapter.CalendarEvent{
		{EventID: fmt.Sprintf("noop-event-%s-0", userID), StartsAt: since},
	}, nil
}

func (n *NoopAdapters) NormalizeEmail(ctx context.Context, userID, messageID string) error {
	return n.pause(ctx)
}

func (n *NoopAdapters) NormalizeEvent(ctx context.Context, userID, eventID string) error {
	return n.pause(ctx)
}

func (n *NoopAdapters) Extract(ctx context.Context, userID, messageID string) ([]string, error) {
	if err := n.pause(ctx); err != nil {
		return nil, err
	}
	return []string{"noop-contact-" + messageID}, nil
}

func (n *NoopAdapters) Embed(ctx context.Context, userID, contactID string) error {
	return n.pause(ctx)
}

func (n *NoopAdapters) Generate(ctx context.Context, userID, contactID string) error {
	return n.pause(ctx)
}
