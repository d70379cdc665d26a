package replay

import (
	"testing"

	"github.com/ssefanout/gateway/internal/event"
)

func TestMemoryStore_IDMonotonicity(t *testing.T) {
	s := NewMemoryStore(100)
	prev := ""
	for i := 0; i < 50; i++ {
		id := s.GenerateID()
		if prev != "" {
			p, _ := parseStreamID(prev)
			c, _ := parseStreamID(id)
			if !p.less(c) {
				t.Fatalf("expected %s < %s", prev, id)
			}
		}
		prev = id
	}
}

func TestMemoryStore_ReplayExclusivity(t *testing.T) {
	s := NewMemoryStore(100)
	ids := make([]string, 0, 5)
	for _, data := range []string{"e1", "e2", "e3", "e4", "e5"} {
		id := s.GenerateID()
		s.Store("room", id, event.Message(data))
		ids = append(ids, id)
	}

	got := s.GetAfter("room", ids[1])
	if len(got) != 3 {
		t.Fatalf("expected 3 events after ids[1], got %d", len(got))
	}
	for i, want := range []string{"e3", "e4", "e5"} {
		text, _ := got[i].Text()
		if text != want {
			t.Fatalf("position %d: want %s, got %s", i, want, text)
		}
	}
}

func TestMemoryStore_EmptyCursorReturnsNoBacklog(t *testing.T) {
	s := NewMemoryStore(100)
	id := s.GenerateID()
	s.Store("room", id, event.Message("a"))

	if got := s.GetAfter("room", ""); got != nil {
		t.Fatalf("expected nil backlog for empty cursor, got %v", got)
	}
}

func TestMemoryStore_MalformedCursorReturnsEmpty(t *testing.T) {
	s := NewMemoryStore(100)
	id := s.GenerateID()
	s.Store("room", id, event.Message("a"))

	if got := s.GetAfter("room", "not-a-stream-id"); got != nil {
		t.Fatalf("expected empty backlog for malformed cursor, got %v", got)
	}
}

func TestMemoryStore_CapEnforcement(t *testing.T) {
	s := NewMemoryStore(3)
	var ids []string
	for _, data := range []string{"e1", "e2", "e3", "e4", "e5"} {
		id := s.GenerateID()
		s.Store("room", id, event.Message(data))
		ids = append(ids, id)
	}

	got := s.GetAfter("room", ids[0])
	if len(got) > 3 {
		t.Fatalf("expected at most 3 events retained, got %d", len(got))
	}
	want := []string{"e3", "e4", "e5"}
	if len(got) != len(want) {
		t.Fatalf("expected suffix %v, got %d events", want, len(got))
	}
	for i, w := range want {
		text, _ := got[i].Text()
		if text != w {
			t.Fatalf("position %d: want %s got %s", i, w, text)
		}
	}
}

func TestMemoryStore_IndependentChannels(t *testing.T) {
	s := NewMemoryStore(100)
	idA := s.GenerateID()
	s.Store("a", idA, event.Message("on-a"))
	idB := s.GenerateID()
	s.Store("b", idB, event.Message("on-b"))

	if got := s.GetAfter("a", ""); got != nil {
		t.Fatalf("unexpected backlog on empty cursor: %v", got)
	}
	gotA := s.GetAfter("a", "0-0")
	if len(gotA) != 1 {
		t.Fatalf("expected 1 event on channel a, got %d", len(gotA))
	}
}
