package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ssefanout/gateway/internal/gatewayerr"
	"github.com/ssefanout/gateway/internal/metrics"
)

// natsWireMessage is the JSON shape expected on every subject under the
// configured prefix. channel is taken from the body only; an empty or absent
// channel makes the message a broadcast, whatever subject it arrived on.
type natsWireMessage struct {
	Channel   string `json:"channel"`
	EventType string `json:"event_type"`
	Data      string `json:"data"`
	ID        string `json:"id"`
}

// NATSSource subscribes to core NATS subjects "<prefix>.>" and translates
// each message body into an IncomingMessage.
type NATSSource struct {
	url    string
	prefix string
}

// NewNATSSource builds an adapter for the given server URL and subject
// prefix (subjects subscribed: "<prefix>.>").
func NewNATSSource(url, prefix string) *NATSSource {
	return &NATSSource{url: url, prefix: prefix}
}

func (s *NATSSource) Name() string { return "nats" }

// Run connects, subscribes, and blocks delivering messages to handle until
// ctx is cancelled or the connection is permanently lost. It never retains
// handle or any caller state beyond this call.
func (s *NATSSource) Run(ctx context.Context, handle func(IncomingMessage)) error {
	closed := make(chan struct{})
	nc, err := nats.Connect(s.url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }))
	if err != nil {
		return fmt.Errorf("%w: nats connect: %v", gatewayerr.ErrSourceError, err)
	}
	defer nc.Close()

	subject := s.prefix + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var wire natsWireMessage
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			metrics.IngestErrorsTotal.WithLabelValues("nats").Inc()
			return
		}
		handle(IncomingMessage{
			Channel:   wire.Channel,
			EventType: wire.EventType,
			Data:      wire.Data,
			ID:        wire.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: nats subscribe %s: %v", gatewayerr.ErrSourceError, subject, err)
	}
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		return fmt.Errorf("%w: nats connection closed", gatewayerr.ErrSourceError)
	}
}
