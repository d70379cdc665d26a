package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/gatewayerr"
	"github.com/ssefanout/gateway/internal/metrics"
)

// Registry is the concurrent connection hub: a by-id map, a by-channel
// membership index, and a shared heartbeat broadcaster. All mutating
// operations are safe under concurrent callers.
type Registry struct {
	instanceID string

	mu     sync.RWMutex
	byID   map[string]*Connection
	byChan *channelIndex

	heartbeat *heartbeatHub

	logger zerolog.Logger
}

// New creates an empty registry. instanceID is recorded on every connection
// registered through it (used by the multi-instance service-discovery
// layer, otherwise informational).
func New(instanceID string) *Registry {
	return &Registry{
		instanceID: instanceID,
		byID:       make(map[string]*Connection),
		byChan:     newChannelIndex(),
		heartbeat:  newHeartbeatHub(),
		logger:     zerolog.Nop(),
	}
}

// WithLogger attaches a structured logger used to report dispatch failures.
// Returns the receiver so callers can chain it onto New.
func (r *Registry) WithLogger(logger zerolog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register allocates a connection id, inserts it into both maps, and
// returns the connection handle plus the receive end of its outbound queue.
func (r *Registry) Register(channelID, clientIP, userAgent string) (*Connection, <-chan event.Event) {
	c, recv := Open(channelID, r.instanceID, clientIP, userAgent)

	r.mu.Lock()
	r.byID[c.id] = c
	r.mu.Unlock()

	r.byChan.add(channelID, c)
	return c, recv
}

// Unregister removes a connection from both maps. Idempotent and safe under
// concurrent callers.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	c.Close()
	r.byChan.remove(c.channelID, c)
}

// SendToChannel snapshots the channel's connection list, then attempts to
// enqueue a copy of ev to each. It returns the number of successful
// enqueues. Targets that fail to enqueue are unregistered.
//
// For any single caller invoking SendToChannel serially, two events sent
// one after another are enqueued, to every connection registered at the
// time of each call, in that order — the snapshot is read fresh on every
// call and each connection's queue preserves FIFO order.
func (r *Registry) SendToChannel(channelID string, ev event.Event) int {
	targets := r.byChan.snapshot(channelID)
	sent := 0
	var dead []*Connection
	for _, c := range targets {
		if c.Send(ev) {
			sent++
			metrics.FanoutSentTotal.WithLabelValues(channelID).Inc()
		} else {
			dead = append(dead, c)
			metrics.FanoutDroppedTotal.WithLabelValues(channelID).Inc()
			r.logger.Debug().Err(gatewayerr.ErrTransientDispatchFailure).
				Str("channel_id", channelID).Str("connection_id", c.id).
				Msg("dropping event, connection queue full")
		}
	}
	for _, c := range dead {
		r.Unregister(c.id)
	}
	return sent
}

// SendToConnection enqueues ev directly to a single connection. On failure
// the connection is unregistered and false is returned.
func (r *Registry) SendToConnection(id string, ev event.Event) bool {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if c.Send(ev) {
		metrics.FanoutSentTotal.WithLabelValues(c.channelID).Inc()
		return true
	}
	metrics.FanoutDroppedTotal.WithLabelValues(c.channelID).Inc()
	r.logger.Debug().Err(gatewayerr.ErrTransientDispatchFailure).
		Str("channel_id", c.channelID).Str("connection_id", id).
		Msg("dropping event, connection queue full")
	r.Unregister(id)
	return false
}

// Broadcast sends ev to every registered connection regardless of channel.
// It returns the number of successful enqueues.
func (r *Registry) Broadcast(ev event.Event) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	var dead []*Connection
	for _, c := range targets {
		if c.Send(ev) {
			sent++
			metrics.FanoutSentTotal.WithLabelValues(c.channelID).Inc()
		} else {
			dead = append(dead, c)
			metrics.FanoutDroppedTotal.WithLabelValues(c.channelID).Inc()
			r.logger.Debug().Err(gatewayerr.ErrTransientDispatchFailure).
				Str("channel_id", c.channelID).Str("connection_id", c.id).
				Msg("dropping event, connection queue full")
		}
	}
	for _, c := range dead {
		r.Unregister(c.id)
	}
	return sent
}

// SendHeartbeat publishes the current millisecond timestamp to every live
// heartbeat subscription. Best-effort and lossy.
func (r *Registry) SendHeartbeat() {
	r.heartbeat.publish(time.Now().UnixMilli())
}

// SubscribeHeartbeat creates a fresh heartbeat subscription observing
// subsequent ticks only. Callers must Close it when done.
func (r *Registry) SubscribeHeartbeat() *HeartbeatSub {
	return r.heartbeat.subscribe()
}

// CleanupDead scans all connections and unregisters any that are no longer
// active (their stream goroutine has gone away without calling Unregister,
// e.g. a panic elsewhere left the receiver dropped).
func (r *Registry) CleanupDead() int {
	r.mu.RLock()
	var dead []*Connection
	for _, c := range r.byID {
		if !c.IsActive() {
			dead = append(dead, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range dead {
		r.Unregister(c.id)
	}
	return len(dead)
}

// ConnectionInfo is the read-only view of a connection used by /stats.
type ConnectionInfo struct {
	ID          string
	ChannelID   string
	ConnectedAt time.Time
	IsActive    bool
}

// List returns a snapshot of all currently registered connections.
func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, ConnectionInfo{
			ID:          c.id,
			ChannelID:   c.channelID,
			ConnectedAt: c.meta.ConnectedAt,
			IsActive:    c.IsActive(),
		})
	}
	return out
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ChannelCount returns the number of connections registered on a channel.
func (r *Registry) ChannelCount(channelID string) int {
	return r.byChan.count(channelID)
}
