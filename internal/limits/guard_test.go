package limits

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/platform"
)

func newTestGuard(cfg GuardConfig) *Guard {
	return NewGuard(cfg, platform.NewResourceSampler(), zerolog.Nop())
}

func TestGuard_RejectsAtMaxConnections(t *testing.T) {
	g := newTestGuard(GuardConfig{
		MaxConnections:     1,
		MaxGoroutines:      1000000,
		CPURejectThreshold: 100,
		MaxIngestRate:      1000,
	})

	g.ConnectionOpened()
	accept, reason := g.ShouldAcceptConnection()
	if accept {
		t.Fatalf("expected rejection at max connections, got reason=%q", reason)
	}

	g.ConnectionClosed()
	accept, _ = g.ShouldAcceptConnection()
	if !accept {
		t.Fatal("expected acceptance after closing the connection")
	}
}

func TestGuard_RejectsOnCPUOverload(t *testing.T) {
	g := newTestGuard(GuardConfig{
		MaxConnections:     1000,
		MaxGoroutines:      1000000,
		CPURejectThreshold: 50,
		MaxIngestRate:      1000,
	})

	g.Sample(90, 0)
	accept, reason := g.ShouldAcceptConnection()
	if accept {
		t.Fatalf("expected rejection at high CPU, got reason=%q", reason)
	}

	g.Sample(10, 0)
	accept, _ = g.ShouldAcceptConnection()
	if !accept {
		t.Fatal("expected acceptance once CPU drops below threshold")
	}
}

func TestGuard_IngestRateLimit(t *testing.T) {
	g := newTestGuard(GuardConfig{
		MaxConnections:     1000,
		MaxGoroutines:      1000000,
		CPURejectThreshold: 100,
		MaxIngestRate:      1,
	})

	allowed := 0
	for i := 0; i < 5; i++ {
		if g.AllowIngest() {
			allowed++
		}
	}
	if allowed == 0 || allowed == 5 {
		t.Fatalf("expected burst-then-limit behavior, got %d/5 allowed", allowed)
	}
}
