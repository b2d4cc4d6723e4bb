package async

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/exportd/errors"
)

// Stats is a snapshot of pool activity and host memory.
type Stats struct {
	WorkersActive int           `json:"workers_active"`
	WorkersTotal  int           `json:"workers_total"`
	TasksQueued   int           `json:"tasks_queued"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Panicked      int64         `json:"panicked"`
	Uptime        time.Duration `json:"uptime"`
	MemoryUsedGB  float64       `json:"memory_used_gb"`
	MemoryTotalGB float64       `json:"memory_total_gb"`
	MemoryPercent float64       `json:"memory_percent"`
}

// memoryStats is swapped in tests.
var memoryStats = func() (total, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

const gib = 1024 * 1024 * 1024

// Stats returns current pool counters. Memory fields stay zero when the
// host does not report them.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		WorkersActive: p.active,
		WorkersTotal:  p.workers,
		TasksQueued:   len(p.queue),
		Completed:     p.completed,
		Failed:        p.failed,
		Panicked:      p.panicked,
	}
	if !p.startTime.IsZero() {
		s.Uptime = time.Since(p.startTime)
	}
	p.mu.Unlock()

	if total, available, err := memoryStats(); err == nil && total > 0 {
		s.MemoryTotalGB = float64(total) / gib
		s.MemoryUsedGB = float64(total-available) / gib
		s.MemoryPercent = s.MemoryUsedGB / s.MemoryTotalGB * 100
	}
	return s
}

// Each worker holds at most one fetch batch plus CSV buffers.
const memoryPerWorkerGB = 0.25

// checkMemoryPressure returns a warning when the configured workers could
// not all hold a batch in the memory currently available.
func (p *Pool) checkMemoryPressure() string {
	_, available, err := memoryStats()
	if err != nil {
		return ""
	}
	availableGB := float64(available) / gib
	if need := float64(p.workers) * memoryPerWorkerGB; need > availableGB {
		return fmt.Sprintf("%d workers may need %.1fGB but only %.1fGB is available", p.workers, need, availableGB)
	}
	return ""
}
