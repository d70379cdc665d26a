// Package ingest implements the ingestion dispatcher (C5) and its
// pluggable upstream Source interface (C14): callers feed IncomingMessage
// values in from whatever transport they front, and the dispatcher
// performs stream-id assignment, synchronous fan-out, and fire-and-forget
// persistence.
package ingest

import (
	"context"

	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/metrics"
	"github.com/ssefanout/gateway/internal/replay"
)

// IncomingMessage is the shape every Source produces, regardless of its
// upstream transport.
type IncomingMessage struct {
	Channel   string // empty means broadcast to every connection
	EventType string
	Data      string
	ID        string
}

// Fanout is the subset of *registry.Registry the dispatcher depends on —
// narrowed to a small interface so this package does not need to import
// registry and so tests can supply a fake.
type Fanout interface {
	SendToChannel(channelID string, ev event.Event) int
	Broadcast(ev event.Event) int
}

// Dispatcher applies the C5 ingestion rules to every IncomingMessage it is
// handed: realtime fan-out first, persistence second and asynchronous.
type Dispatcher struct {
	registry Fanout
	store    replay.Store
	adapter  string
}

// New builds a Dispatcher. adapterLabel is attached to ingestion metrics
// (e.g. "nats", "test").
func New(registry Fanout, store replay.Store, adapterLabel string) *Dispatcher {
	return &Dispatcher{registry: registry, store: store, adapter: adapterLabel}
}

// Handle applies one incoming message: build the Event, and either fan out
// to a channel (persisting asynchronously) or broadcast (skipping
// persistence entirely). Realtime delivery always happens before the
// persistence call is even issued, so clients never wait on the store.
func (d *Dispatcher) Handle(msg IncomingMessage) {
	ev := event.NewRaw(msg.EventType, msg.Data)
	if msg.ID != "" {
		ev = ev.WithID(msg.ID)
	}

	metrics.IngestMessagesTotal.WithLabelValues(d.adapter).Inc()

	if msg.Channel == "" {
		d.registry.Broadcast(ev)
		return
	}

	streamID := d.store.GenerateID()
	ev = ev.WithStreamID(streamID)

	d.registry.SendToChannel(msg.Channel, ev)

	go d.store.Store(msg.Channel, streamID, ev)
}

// Source is an upstream ingestion adapter. Run blocks, delivering messages
// to handle until ctx is cancelled or the upstream connection is lost; it
// never stores the Dispatcher or registry as state, only the arguments
// passed to it, to avoid capturing gateway internals as hidden shared
// state.
type Source interface {
	Run(ctx context.Context, handle func(IncomingMessage)) error
	Name() string
}
