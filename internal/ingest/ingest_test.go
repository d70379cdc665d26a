package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/replay"
)

type fakeFanout struct {
	channelSends []struct {
		channel string
		ev      event.Event
	}
	broadcasts []event.Event
}

func (f *fakeFanout) SendToChannel(channelID string, ev event.Event) int {
	f.channelSends = append(f.channelSends, struct {
		channel string
		ev      event.Event
	}{channelID, ev})
	return 1
}

func (f *fakeFanout) Broadcast(ev event.Event) int {
	f.broadcasts = append(f.broadcasts, ev)
	return 1
}

func TestDispatcher_ChannelMessagePersistsAndFansOut(t *testing.T) {
	fanout := &fakeFanout{}
	store := replay.NewMemoryStore(100)
	d := New(fanout, store, "test")

	d.Handle(IncomingMessage{Channel: "room", EventType: "message", Data: "hi"})

	if len(fanout.channelSends) != 1 {
		t.Fatalf("expected 1 channel send, got %d", len(fanout.channelSends))
	}
	sent := fanout.channelSends[0].ev
	if sent.StreamID() == "" {
		t.Fatal("expected a stream id to be assigned")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(store.GetAfter("room", "0-0")) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected event to be persisted asynchronously")
}

func TestDispatcher_BroadcastSkipsPersistence(t *testing.T) {
	fanout := &fakeFanout{}
	store := replay.NewMemoryStore(100)
	d := New(fanout, store, "test")

	d.Handle(IncomingMessage{EventType: "message", Data: "hi"})

	if len(fanout.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(fanout.broadcasts))
	}
	if len(fanout.channelSends) != 0 {
		t.Fatalf("expected no channel sends for a broadcast")
	}
	if got := store.GetAfter("room", "0-0"); len(got) != 0 {
		t.Fatalf("expected nothing persisted for a broadcast, got %v", got)
	}
}

func TestMemSource_DeliversUntilCancel(t *testing.T) {
	src := NewMemSource(4)
	ctx, cancel := context.WithCancel(context.Background())

	var got []IncomingMessage
	done := make(chan struct{})
	go func() {
		_ = src.Run(ctx, func(msg IncomingMessage) { got = append(got, msg) })
		close(done)
	}()

	src.Inbox <- IncomingMessage{EventType: "message", Data: "a"}
	src.Inbox <- IncomingMessage{EventType: "message", Data: "b"}

	deadline := time.Now().Add(time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if len(got) != 2 {
		t.Fatalf("expected 2 delivered messages, got %d", len(got))
	}
}
