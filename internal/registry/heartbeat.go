package registry

import "sync"

// HeartbeatSub is a live subscription to the heartbeat hub. Receive ticks
// from C; call Close exactly once when the subscriber goes away.
type HeartbeatSub struct {
	C    <-chan int64
	hub  *heartbeatHub
	ch   chan int64
	once sync.Once
}

// Close drops this subscription. Idempotent.
func (s *HeartbeatSub) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.ch)
	})
}

// heartbeatHub is a process-wide, lossy broadcast of millisecond
// timestamps. Each subscription is a small buffered channel created at
// subscribe time; it only observes ticks published after it subscribes.
// Slow subscribers miss intermediate ticks by design — there is no
// buffering beyond each subscriber's own channel.
type heartbeatHub struct {
	mu   sync.Mutex
	subs map[chan int64]struct{}
}

func newHeartbeatHub() *heartbeatHub {
	return &heartbeatHub{subs: make(map[chan int64]struct{})}
}

// subscribe creates a fresh subscription observing subsequent ticks only.
func (h *heartbeatHub) subscribe() *HeartbeatSub {
	ch := make(chan int64, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return &HeartbeatSub{C: ch, hub: h, ch: ch}
}

func (h *heartbeatHub) unsubscribe(ch chan int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// publish best-effort delivers ts to every current subscriber. A subscriber
// whose buffer is already full (didn't drain the previous tick) misses this
// one.
func (h *heartbeatHub) publish(ts int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- ts:
		default:
		}
	}
}
