//go:build !integration

package resource

import (
	"bytes"
	"errors"
	"testing"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"

	"github.com/rs/zerolog"
)

func newTestManager(ceilingMB int, evict func() int) *Manager {
	l := zerolog.Nop()
	return NewManager(ceilingMB, evict, &l)
}

func TestValidatePayload(t *testing.T) {
	m := newTestManager(1024, nil)

	t.Run("accepts payload within the kind bound", func(t *testing.T) {
		if err := m.ValidatePayload(model.KindEmbed, []byte(`{"contact_id":"c-1"}`)); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	})

	t.Run("rejects oversized payload", func(t *testing.T) {
		spec, _ := model.KindEmbed.Spec()
		payload := bytes.Repeat([]byte("x"), int(spec.MaxPayloadBytes)+1)
		if err := m.ValidatePayload(model.KindEmbed, payload); !errors.Is(err, domain.ErrPayloadTooLarge) {
			t.Fatalf("expected ErrPayloadTooLarge, got: %v", err)
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		if err := m.ValidatePayload(model.JobKind("bogus"), nil); !errors.Is(err, domain.ErrUnknownKind) {
			t.Fatalf("expected ErrUnknownKind, got: %v", err)
		}
	})
}

func TestGetMemoryUsage(t *testing.T) {
	t.Run("reports heap usage against the ceiling", func(t *testing.T) {
		m := newTestManager(1024, nil)
		usage := m.GetMemoryUsage()
		if usage.HeapUsedMB <= 0 {
			t.Error("expected a positive heap reading")
		}
		if usage.UsagePercent < 0 || usage.UsagePercent > 100000 {
			t.Errorf("implausible usage percent: %f", usage.UsagePercent)
		}
	})

	t.Run("tiny ceiling flags approaching limit", func(t *testing.T) {
		m := newTestManager(1, nil)
		usage := m.GetMemoryUsage()
		if !usage.ApproachingLimit {
			t.Error("expected a 1MB ceiling to be flagged as under pressure")
		}
	})
}

func TestForceCleanup(t *testing.T) {
	evicted := 0
	m := newTestManager(1024, func() int {
		evicted++
		return 42
	})

	if freed := m.ForceCleanup(); freed != 42 {
		t.Errorf("expected freed count from evict hook, got %d", freed)
	}
	if evicted != 1 {
		t.Errorf("expected one eviction call, got %d", evicted)
	}

	// No hook wired: cleanup still succeeds.
	if freed := newTestManager(1024, nil).ForceCleanup(); freed != 0 {
		t.Errorf("expected zero freed without a hook, got %d", freed)
	}
}
