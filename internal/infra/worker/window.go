package worker

import (
	"sync"
	"time"

	"crm-job-engine/internal/domain/model"
)

// metricsWindow keeps a fixed-size ring of recent execution samples. The
// throttle reads a snapshot after each cycle.
type metricsWindow struct {
	mu      sync.Mutex
	samples []sample
	next    int
	filled  bool
}

type sample struct {
	success  bool
	duration time.Duration
}

func newMetricsWindow(size int) *metricsWindow {
	if size <= 0 {
		size = 50
	}
	return &metricsWindow{samples: make([]sample, size)}
}

func (w *metricsWindow) observe(success bool, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = sample{success: success, duration: duration}
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *metricsWindow) snapshot() model.WindowMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return model.WindowMetrics{}
	}
	var failures int
	var total time.Duration
	for i := 0; i < n; i++ {
		s := w.samples[i]
		if !s.success {
			failures++
		}
		total += s.duration
	}
	return model.WindowMetrics{
		Samples:      n,
		ErrorRate:    float64(failures) / float64(n),
		AvgExecution: total / time.Duration(n),
	}
}
