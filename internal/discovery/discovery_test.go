package discovery

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T, selfID string) (*Registry, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, selfID, "10.0.0.1:8080", 30*time.Second, 60*time.Second), client, mr
}

func TestRegistry_RegisterAndList(t *testing.T) {
	ctx := context.Background()
	r, _, mr := newTestRegistry(t, "inst-a")
	defer mr.Close()

	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}

	instances, err := r.Instances(ctx)
	if err != nil {
		t.Fatalf("Instances: %v", err)
	}
	if len(instances) != 1 || instances[0].ID != "inst-a" {
		t.Fatalf("expected exactly inst-a registered, got %+v", instances)
	}
}

func TestRegistry_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	a, client, mr := newTestRegistry(t, "inst-a")
	defer mr.Close()
	b := New(client, "inst-b", "10.0.0.2:8080", 30*time.Second, 60*time.Second)

	if err := a.Bind(ctx, "room"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// B cannot release A's binding.
	if err := b.Release(ctx, "room"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	owner, ok, err := a.InstanceFor(ctx, "room")
	if err != nil || !ok || owner != "inst-a" {
		t.Fatalf("expected binding to survive foreign release, got owner=%q ok=%v err=%v", owner, ok, err)
	}

	// A can release its own binding.
	if err := a.Release(ctx, "room"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	_, ok, err = a.InstanceFor(ctx, "room")
	if err != nil || ok {
		t.Fatalf("expected binding removed after self-release, ok=%v err=%v", ok, err)
	}
}

func TestRegistry_DeregisterRemovesFromSet(t *testing.T) {
	ctx := context.Background()
	r, _, mr := newTestRegistry(t, "inst-a")
	defer mr.Close()

	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Deregister(ctx); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	instances, err := r.Instances(ctx)
	if err != nil {
		t.Fatalf("Instances: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected no instances after deregister, got %+v", instances)
	}
}

func TestRegistry_StatusComposesBindingAndInstance(t *testing.T) {
	ctx := context.Background()
	r, client, mr := newTestRegistry(t, "inst-a")
	defer mr.Close()

	offline, err := r.Status(ctx, "room")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if offline.Online {
		t.Fatalf("expected offline status before any binding, got %+v", offline)
	}

	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Bind(ctx, "room"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	status, err := r.Status(ctx, "room")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Online || status.InstanceID != "inst-a" || status.InstanceAddress != "10.0.0.1:8080" {
		t.Fatalf("expected online status naming inst-a, got %+v", status)
	}

	// A binding surviving past its instance's expired hash reports offline.
	client.Del(ctx, instanceKeyPrefix+"inst-a")
	status, err = r.Status(ctx, "room")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Online {
		t.Fatalf("expected offline status once the instance record is gone, got %+v", status)
	}
}

func TestRegistry_HeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	r, _, mr := newTestRegistry(t, "inst-a")
	defer mr.Close()

	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	before, _ := r.Instances(ctx)

	// last_seen is stored as RFC3339, so it only advances across a second.
	time.Sleep(1100 * time.Millisecond)
	if err := r.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	after, _ := r.Instances(ctx)

	if !after[0].LastSeen.After(before[0].LastSeen) {
		t.Fatalf("expected last_seen to advance: before=%v after=%v", before[0].LastSeen, after[0].LastSeen)
	}
}
