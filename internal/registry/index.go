package registry

import (
	"sync"
	"sync/atomic"
)

// channelIndex maps channel_id to an ordered set of connections, held as a
// copy-on-write slice behind an atomic.Value so that snapshot (the hot path,
// hit once per fan-out) holds the lock only for the map lookup and reads the
// slice itself without it.
type channelIndex struct {
	mu      sync.Mutex // guards the entries map and every slot update
	entries map[string]*atomic.Value
}

func newChannelIndex() *channelIndex {
	return &channelIndex{entries: make(map[string]*atomic.Value)}
}

func (idx *channelIndex) add(channelID string, c *Connection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot, ok := idx.entries[channelID]
	if !ok {
		slot = &atomic.Value{}
		idx.entries[channelID] = slot
	}

	var current []*Connection
	if v := slot.Load(); v != nil {
		current = v.([]*Connection)
	}
	next := make([]*Connection, len(current), len(current)+1)
	copy(next, current)
	next = append(next, c)
	slot.Store(next)
}

func (idx *channelIndex) remove(channelID string, c *Connection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot, ok := idx.entries[channelID]
	if !ok {
		return
	}
	v := slot.Load()
	if v == nil {
		return
	}
	current := v.([]*Connection)

	for i, existing := range current {
		if existing == c {
			next := make([]*Connection, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(idx.entries, channelID)
			} else {
				slot.Store(next)
			}
			return
		}
	}
}

// snapshot returns the current connection list for a channel. The returned
// slice is immutable and safe to range over without holding any lock.
func (idx *channelIndex) snapshot(channelID string) []*Connection {
	idx.mu.Lock()
	slot, ok := idx.entries[channelID]
	idx.mu.Unlock()
	if !ok {
		return nil
	}
	v := slot.Load()
	if v == nil {
		return nil
	}
	return v.([]*Connection)
}

func (idx *channelIndex) count(channelID string) int {
	return len(idx.snapshot(channelID))
}
