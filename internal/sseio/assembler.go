package sseio

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/gatewayerr"
	"github.com/ssefanout/gateway/internal/registry"
	"github.com/ssefanout/gateway/internal/replay"
)

// KeepAliveInterval is the fixed cadence of the transport-level keep-alive
// comment, independent of the heartbeat event stream.
const KeepAliveInterval = 10 * time.Second

// Hooks are optional callbacks fired around the connection's lifecycle.
// Either may be nil.
type Hooks struct {
	OnConnect    func(channelID, connectionID, instanceID string)
	OnDisconnect func(channelID, connectionID string)
}

// Subscribe composes and drives one subscriber's full SSE stream: register,
// replay, then a fair-merged realtime/heartbeat suffix framed onto w. It
// blocks until ctx is cancelled or a write fails, and always runs the
// registry unregister cleanup exactly once before returning, regardless of
// which path ends the stream.
func Subscribe(
	ctx context.Context,
	w io.Writer,
	reg *registry.Registry,
	store replay.Store,
	instanceID string,
	channelID string,
	lastEventID string,
	clientIP, userAgent string,
	hooks Hooks,
	logger zerolog.Logger,
) error {
	conn, realtime := reg.Register(channelID, clientIP, userAgent)

	var cleanupOnce bool
	cleanup := func() {
		if cleanupOnce {
			return
		}
		cleanupOnce = true
		reg.Unregister(conn.ID())
		if hooks.OnDisconnect != nil {
			hooks.OnDisconnect(channelID, conn.ID())
		}
	}
	defer cleanup()
	defer func() {
		if r := recover(); r != nil {
			cleanup()
			panic(r)
		}
	}()

	if hooks.OnConnect != nil {
		hooks.OnConnect(channelID, conn.ID(), instanceID)
	}

	fw := newFrameWriter(w)

	if lastEventID != "" && !replay.IsValidCursor(lastEventID) {
		logger.Warn().Str("channel_id", channelID).Str("last_event_id", lastEventID).
			Err(gatewayerr.ErrMalformedReplayCursor).Msg("rejecting malformed replay cursor, serving no backlog")
	}

	backlog := store.GetAfter(channelID, lastEventID)
	if len(backlog) > 0 {
		logger.Debug().Str("channel_id", channelID).Int("count", len(backlog)).Msg("serving replay backlog")
	}
	for _, ev := range backlog {
		if err := fw.writeEvent(ev); err != nil {
			return err
		}
	}

	hb := reg.SubscribeHeartbeat()
	defer hb.Close()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-realtime:
			if !ok {
				return nil
			}
			if err := fw.writeEvent(ev); err != nil {
				return err
			}
		case ts, ok := <-hb.C:
			if !ok {
				return nil
			}
			if err := fw.writeEvent(event.Heartbeat(ts)); err != nil {
				return err
			}
		case <-keepAlive.C:
			if err := fw.writeKeepAlive(); err != nil {
				return err
			}
		}
	}
}
