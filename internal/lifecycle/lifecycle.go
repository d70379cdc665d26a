// Package lifecycle implements the gateway's background tasks and
// graceful shutdown sequencing (C8): the heartbeat ticker, the
// dead-connection sweeper, resource sampling, and a bounded drain on
// shutdown.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/limits"
	"github.com/ssefanout/gateway/internal/metrics"
	"github.com/ssefanout/gateway/internal/registry"
)

// Intervals bundles the background task cadences. Zero values fall back to
// the spec's defaults.
type Intervals struct {
	Heartbeat      time.Duration // default 30s
	Sweep          time.Duration // default 30s
	ResourceSample time.Duration // default 15s
}

func (in Intervals) withDefaults() Intervals {
	if in.Heartbeat <= 0 {
		in.Heartbeat = 30 * time.Second
	}
	if in.Sweep <= 0 {
		in.Sweep = 30 * time.Second
	}
	if in.ResourceSample <= 0 {
		in.ResourceSample = 15 * time.Second
	}
	return in
}

// Runner owns the gateway's long-running background goroutines and drives
// graceful shutdown. One cancellation signal (ctx) reaches every task and
// the HTTP listener; Drain then waits for connections to close or a grace
// period to expire, whichever comes first.
type Runner struct {
	registry *registry.Registry
	guard    *limits.Guard
	logger   zerolog.Logger

	wg sync.WaitGroup
}

// New builds a Runner. guard may be nil if admission control / resource
// sampling is disabled.
func New(reg *registry.Registry, guard *limits.Guard, logger zerolog.Logger) *Runner {
	return &Runner{registry: reg, guard: guard, logger: logger}
}

// Start launches every background task as a goroutine tied to ctx. It
// returns immediately; call Wait (after cancelling ctx) to wait for them to
// stop.
func (r *Runner) Start(ctx context.Context, intervals Intervals) {
	intervals = intervals.withDefaults()

	r.wg.Add(1)
	go r.runHeartbeat(ctx, intervals.Heartbeat)

	r.wg.Add(1)
	go r.runSweeper(ctx, intervals.Sweep)

	if r.guard != nil {
		r.wg.Add(1)
		go r.runResourceSampler(ctx, intervals.ResourceSample)
	}
}

func (r *Runner) runHeartbeat(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.registry.SendHeartbeat()
			metrics.HeartbeatTicksTotal.Inc()
		}
	}
}

func (r *Runner) runSweeper(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.registry.CleanupDead(); n > 0 {
				r.logger.Debug().Int("swept", n).Msg("dead connections swept")
			}
		}
	}
}

func (r *Runner) runResourceSampler(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// CPUPercent blocks for a fraction of interval to measure a
			// delta; capped well under the tick itself so sampling never
			// backs up behind a slow measurement.
			r.guard.SampleFromPlatform(interval / 3)
		}
	}
}

// Drain waits up to gracePeriod for the registry to empty, polling once a
// second, then returns regardless of remaining connections — callers are
// expected to close the HTTP listener and cancel ctx before calling Drain
// so no further connections can arrive.
func (r *Runner) Drain(gracePeriod time.Duration) {
	deadline := time.NewTimer(gracePeriod)
	defer deadline.Stop()
	check := time.NewTicker(time.Second)
	defer check.Stop()

	for {
		select {
		case <-deadline.C:
			if remaining := r.registry.Count(); remaining > 0 {
				r.logger.Warn().Int("remaining_connections", remaining).Msg("grace period expired, shutting down with connections still open")
			}
			return
		case <-check.C:
			if remaining := r.registry.Count(); remaining == 0 {
				r.logger.Info().Msg("all connections drained")
				return
			}
		}
	}
}

// Wait blocks until every background task launched by Start has returned
// (i.e. until ctx has been cancelled and each task observed it).
func (r *Runner) Wait() {
	r.wg.Wait()
}
