package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/registry"
)

func TestRunner_HeartbeatReachesSubscribers(t *testing.T) {
	reg := registry.New("inst-1")
	r := New(reg, nil, zerolog.Nop())

	sub := reg.SubscribeHeartbeat()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, Intervals{Heartbeat: 10 * time.Millisecond, Sweep: time.Hour})

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected a heartbeat tick")
	}

	cancel()
	r.Wait()
}

func TestRunner_SweeperRemovesDeadConnections(t *testing.T) {
	reg := registry.New("inst-1")
	r := New(reg, nil, zerolog.Nop())

	c, _ := reg.Register("x", "", "")
	c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, Intervals{Heartbeat: time.Hour, Sweep: 10 * time.Millisecond})

	deadline := time.Now().Add(time.Second)
	for reg.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Count() != 0 {
		t.Fatal("expected sweeper to remove the dead connection")
	}

	cancel()
	r.Wait()
}

func TestRunner_DrainReturnsOnceEmpty(t *testing.T) {
	reg := registry.New("inst-1")
	r := New(reg, nil, zerolog.Nop())

	c, _ := reg.Register("x", "", "")
	go func() {
		time.Sleep(20 * time.Millisecond)
		reg.Unregister(c.ID())
	}()

	start := time.Now()
	r.Drain(5 * time.Second)
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected Drain to return well before its grace period once connections emptied")
	}
}
