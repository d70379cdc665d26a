package replay

import (
	"sync"

	"github.com/ssefanout/gateway/internal/event"
)

// entry pairs a stored event with its stream id and parsed cursor.
type entry struct {
	id     string
	parsed parsedStreamID
	ev     event.Event
}

// MemoryStore is the in-memory Store implementation: one capped ordered
// slice per channel. Channels hold independent logs; all operations, on any
// channel, are linearized through the store's single mutex.
type MemoryStore struct {
	capacity int
	idGen    idGenerator

	mu       sync.Mutex
	channels map[string][]entry
}

// NewMemoryStore builds an in-memory store retaining at most capacity
// entries per channel.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{
		capacity: capacity,
		channels: make(map[string][]entry),
	}
}

func (s *MemoryStore) GenerateID() string { return s.idGen.next() }

func (s *MemoryStore) Store(channelID, streamID string, ev event.Event) {
	parsed, ok := parseStreamID(streamID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.channels[channelID], entry{id: streamID, parsed: parsed, ev: ev})
	if len(log) > s.capacity {
		log = log[len(log)-s.capacity:]
	}
	s.channels[channelID] = log
}

func (s *MemoryStore) GetAfter(channelID, afterID string) []event.Event {
	if afterID == "" {
		return nil
	}
	cursor, ok := parseStreamID(afterID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	log := s.channels[channelID]
	s.mu.Unlock()

	var out []event.Event
	for _, e := range log {
		if cursor.less(e.parsed) {
			out = append(out, e.ev)
		}
	}
	if len(out) > s.capacity {
		out = out[len(out)-s.capacity:]
	}
	return out
}

func (s *MemoryStore) IsAvailable() bool { return true }

func (s *MemoryStore) Name() string { return "memory" }
