// Package limits implements admission control (C13): a single ingest rate
// limiter shared by every caller of AllowIngest (limits are not kept per
// source), and a connection-admission guard driven by live CPU, memory, and
// goroutine pressure.
package limits

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ssefanout/gateway/internal/platform"
)

// GuardConfig carries the static thresholds a Guard enforces.
type GuardConfig struct {
	MaxConnections     int
	MaxGoroutines      int
	MemoryLimit        int64
	CPURejectThreshold float64
	MaxIngestRate      int
}

// Guard enforces connection admission and ingest-rate limits against live
// resource state. Its CPU/memory readings are refreshed by a periodic
// Sample call driven from the lifecycle package; ShouldAcceptConnection
// reads the
// last sampled values rather than measuring synchronously, so admission
// checks never block on a syscall.
type Guard struct {
	cfg    GuardConfig
	logger zerolog.Logger

	sampler *platform.ResourceSampler

	ingestLimiter *rate.Limiter

	connections   atomic.Int64
	lastCPU       atomic.Uint64 // float64 bits
	lastMemoryMB  atomic.Uint64 // float64 bits
}

// NewGuard builds a Guard. The ingest limiter's burst allowance is twice
// its sustained rate, matching the teacher's Kafka/broadcast limiter
// sizing.
func NewGuard(cfg GuardConfig, sampler *platform.ResourceSampler, logger zerolog.Logger) *Guard {
	return &Guard{
		cfg:           cfg,
		logger:        logger,
		sampler:       sampler,
		ingestLimiter: rate.NewLimiter(rate.Limit(cfg.MaxIngestRate), cfg.MaxIngestRate*2),
	}
}

// Sample refreshes the guard's view of current CPU/memory usage. Call
// periodically (e.g. every 15s) from a background task.
func (g *Guard) Sample(cpuPercent, memoryMB float64) {
	g.lastCPU.Store(math.Float64bits(cpuPercent))
	g.lastMemoryMB.Store(math.Float64bits(memoryMB))
}

// SampleFromPlatform measures current CPU (blocking for interval) and
// memory via the guard's ResourceSampler and records the result. Intended
// to be called on a ticker from the lifecycle package.
func (g *Guard) SampleFromPlatform(cpuInterval time.Duration) {
	cpu := g.sampler.CPUPercent(cpuInterval)
	mem := g.sampler.MemoryMB()
	g.Sample(cpu, mem)
}

// ShouldAcceptConnection reports whether a new SSE connection may be
// admitted, checking in order: hard connection cap, CPU emergency brake,
// memory emergency brake, goroutine cap.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	conns := g.connections.Load()
	if int(conns) >= g.cfg.MaxConnections {
		return false, fmt.Sprintf("at max connections (%d)", g.cfg.MaxConnections)
	}

	cpu := math.Float64frombits(g.lastCPU.Load())
	if cpu > g.cfg.CPURejectThreshold {
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", cpu, g.cfg.CPURejectThreshold)
	}

	memMB := math.Float64frombits(g.lastMemoryMB.Load())
	if g.cfg.MemoryLimit > 0 && int64(memMB*1024*1024) > g.cfg.MemoryLimit {
		return false, "memory limit exceeded"
	}

	if goros := runtime.NumGoroutine(); goros > g.cfg.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, g.cfg.MaxGoroutines)
	}

	return true, ""
}

// ConnectionOpened/ConnectionClosed track the live count fed into
// ShouldAcceptConnection. Call exactly once per connection lifecycle.
func (g *Guard) ConnectionOpened() { g.connections.Add(1) }
func (g *Guard) ConnectionClosed() { g.connections.Add(-1) }

// AllowIngest reports whether an ingested message may proceed, applying
// the configured sustained-rate/burst ingest limit.
func (g *Guard) AllowIngest() bool {
	return g.ingestLimiter.Allow()
}

// Stats returns a snapshot of the guard's counters, thresholds and last
// samples. The /stats and /health handlers do not include it.
func (g *Guard) Stats() map[string]any {
	return map[string]any{
		"connections":          g.connections.Load(),
		"max_connections":      g.cfg.MaxConnections,
		"cpu_percent":          math.Float64frombits(g.lastCPU.Load()),
		"cpu_reject_threshold": g.cfg.CPURejectThreshold,
		"memory_mb":            math.Float64frombits(g.lastMemoryMB.Load()),
		"memory_limit_bytes":   g.cfg.MemoryLimit,
		"goroutines":           runtime.NumGoroutine(),
		"max_goroutines":       g.cfg.MaxGoroutines,
	}
}
