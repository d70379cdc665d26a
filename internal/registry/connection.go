// Package registry implements the connection registry and fan-out engine
// (C2, C3): per-connection bounded queues, the channel membership index,
// and the shared heartbeat signal.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ssefanout/gateway/internal/event"
)

// OutboundQueueCapacity is the fixed capacity of every connection's
// outbound event queue.
const OutboundQueueCapacity = 100

// Metadata carries the non-identifying attributes recorded at connect time.
type Metadata struct {
	ConnectedAt time.Time
	InstanceID  string
	ClientIP    string
	UserAgent   string
}

// Connection is a client handle shared between exactly two roles: the
// dispatcher, which produces into outbound, and the stream assembler, which
// consumes from it. It is shared by pointer: every holder of the same
// *Connection sees the same queue, id and closed state.
type Connection struct {
	id        string
	channelID string
	outbound  chan event.Event
	meta      Metadata

	closeOnce sync.Once
	closed    chan struct{}
}

// Open creates a fresh Connection and returns the handle plus the receive
// end of its outbound queue. The receive end and the handle's send side
// share one channel; is_active is exactly "the receive end hasn't been
// dropped", modeled here as "Close hasn't been called".
func Open(channelID, instanceID, clientIP, userAgent string) (*Connection, <-chan event.Event) {
	c := &Connection{
		id:        uuid.NewString(),
		channelID: channelID,
		outbound:  make(chan event.Event, OutboundQueueCapacity),
		meta: Metadata{
			ConnectedAt: time.Now(),
			InstanceID:  instanceID,
			ClientIP:    clientIP,
			UserAgent:   userAgent,
		},
		closed: make(chan struct{}),
	}
	return c, c.outbound
}

// ID returns the connection's process-wide unique identifier.
func (c *Connection) ID() string { return c.id }

// ChannelID returns the channel this connection is registered on.
func (c *Connection) ChannelID() string { return c.channelID }

// Metadata returns the connection's recorded metadata.
func (c *Connection) Metadata() Metadata { return c.meta }

// IsActive reports whether the consumer side is still attached.
func (c *Connection) IsActive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Send attempts a non-blocking enqueue of ev. It returns false if the queue
// is full or the connection has been closed; callers must treat false as
// grounds to unregister the connection.
func (c *Connection) Send(ev event.Event) bool {
	if !c.IsActive() {
		return false
	}
	select {
	case c.outbound <- ev:
		return true
	default:
		return false
	}
}

// Close marks the connection inactive. Idempotent — only the first call has
// effect. It does not close the outbound channel itself: the stream
// assembler is the sole reader and simply stops reading from it, avoiding a
// send-on-closed-channel race with a concurrent dispatcher.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
