package replay

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/event"
)

func newTestRemoteStore(t *testing.T) (*RemoteStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := NewRemoteStore(context.Background(), RemoteStoreConfig{
		RedisURL:   "redis://" + mr.Addr(),
		Capacity:   3,
		BatchSize:  100,
		FlushEvery: 5 * time.Millisecond,
		OpTimeout:  200 * time.Millisecond,
		QueueSize:  10000,
		ChannelTTL: time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRemoteStore: %v", err)
	}
	return s, mr
}

func TestRemoteStore_AvailableAfterConnect(t *testing.T) {
	s, mr := newTestRemoteStore(t)
	defer mr.Close()

	if !s.IsAvailable() {
		t.Fatalf("expected store to report available against a live miniredis")
	}
}

func TestRemoteStore_WriteThenReplay(t *testing.T) {
	s, mr := newTestRemoteStore(t)
	defer mr.Close()

	var ids []string
	for _, data := range []string{"A", "B", "C"} {
		id := s.GenerateID()
		s.Store("room", id, event.Message(data))
		ids = append(ids, id)
	}

	waitForBatch(t, func() bool {
		return len(s.GetAfter("room", "")) == 0 && s.GetAfter("room", ids[0]) != nil
	})

	got := s.GetAfter("room", ids[0])
	if len(got) != 2 {
		t.Fatalf("expected 2 events after ids[0], got %d", len(got))
	}
	for i, want := range []string{"B", "C"} {
		text, _ := got[i].Text()
		if text != want {
			t.Fatalf("position %d: want %s got %s", i, want, text)
		}
	}
}

func TestRemoteStore_EmptyCursorReturnsNoBacklog(t *testing.T) {
	s, mr := newTestRemoteStore(t)
	defer mr.Close()

	id := s.GenerateID()
	s.Store("room", id, event.Message("a"))
	waitForBatch(t, func() bool { return true })

	if got := s.GetAfter("room", ""); got != nil {
		t.Fatalf("expected nil backlog for empty cursor, got %v", got)
	}
}

func waitForBatch(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
