package resource

import (
	"os"
	"runtime"
	"runtime/debug"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// approachingLimitPercent is the hard-valve threshold: above this share
// of the configured ceiling the runner dispatches reduced batches.
const approachingLimitPercent = 80.0

// Manager exposes process resource pressure to the runner and validates
// payload bounds on job creation.
type Manager struct {
	ceilingMB float64
	proc      *process.Process
	// evict lets callers hook cache eviction into ForceCleanup.
	evict func() int
	log   *zerolog.Logger
}

func NewManager(ceilingMB int, evict func() int, logger *zerolog.Logger) *Manager {
	l := logger.With().Str("component", "ResourceManager").Logger()
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// RSS reporting degrades to zero; heap stats still work.
		l.Warn().Err(err).Msg("could not open process handle for RSS stats")
		proc = nil
	}
	return &Manager{
		ceilingMB: float64(ceilingMB),
		proc:      proc,
		evict:     evict,
		log:       &l,
	}
}

// GetMemoryUsage returns the current pressure reading. Heap numbers come
// from the Go runtime (no external library can see another allocator);
// RSS comes from the OS via gopsutil.
func (m *Manager) GetMemoryUsage() model.MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	heapUsedMB := float64(ms.HeapAlloc) / (1 << 20)
	heapTotalMB := float64(ms.HeapSys) / (1 << 20)

	var rssMB float64
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
			rssMB = float64(info.RSS) / (1 << 20)
		}
	}

	usagePercent := 0.0
	if m.ceilingMB > 0 {
		usagePercent = heapUsedMB / m.ceilingMB * 100
	}

	return model.MemoryUsage{
		HeapUsedMB:       heapUsedMB,
		HeapTotalMB:      heapTotalMB,
		RSSMB:            rssMB,
		UsagePercent:     usagePercent,
		ApproachingLimit: usagePercent > approachingLimitPercent,
	}
}

// ForceCleanup triggers cache eviction and returns memory to the OS.
// Best-effort: the freed count reflects evicted entries, not bytes.
func (m *Manager) ForceCleanup() int {
	freed := 0
	if m.evict != nil {
		freed = m.evict()
	}
	debug.FreeOSMemory()
	m.log.Info().Int("freed", freed).Msg("forced cleanup")
	return freed
}

// ValidatePayload enforces the per-kind payload bound.
func (m *Manager) ValidatePayload(kind model.JobKind, payload []byte) error {
	spec, ok := kind.Spec()
	if !ok {
		return domain.ErrUnknownKind
	}
	if int64(len(payload)) > spec.MaxPayloadBytes {
		return domain.ErrPayloadTooLarge
	}
	return nil
}
