package platform

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSampler periodically measures this process's CPU and memory usage.
// It prefers process-level measurement via gopsutil and falls back to host
// virtual memory stats if the process handle can't be obtained.
type ResourceSampler struct {
	proc *process.Process
}

// NewResourceSampler constructs a sampler bound to the current process.
func NewResourceSampler() *ResourceSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &ResourceSampler{}
	}
	return &ResourceSampler{proc: proc}
}

// MemoryMB returns resident memory usage in megabytes.
func (r *ResourceSampler) MemoryMB() float64 {
	if r.proc != nil {
		if info, err := r.proc.MemoryInfo(); err == nil {
			return float64(info.RSS) / 1024 / 1024
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		return float64(vmem.Used) / 1024 / 1024
	}
	return 0
}

// CPUPercent returns CPU usage as a percentage of one core, measured over
// the given interval (blocks for the duration of interval).
func (r *ResourceSampler) CPUPercent(interval time.Duration) float64 {
	if r.proc == nil {
		return 0
	}
	pct, err := r.proc.Percent(interval)
	if err != nil {
		return 0
	}
	return pct
}
