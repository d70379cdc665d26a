package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/ingest"
	"github.com/ssefanout/gateway/internal/registry"
	"github.com/ssefanout/gateway/internal/replay"
)

func newTestServer() http.Handler {
	reg := registry.New("inst-1")
	store := replay.NewMemoryStore(100)
	disp := ingest.New(reg, store, "test")
	return New(Deps{
		Registry:   reg,
		Store:      store,
		Dispatcher: disp,
		InstanceID: "inst-1",
		Logger:     zerolog.Nop(),
	})
}

func TestHandleSend_BroadcastReachesSubscriber(t *testing.T) {
	reg := registry.New("inst-1")
	store := replay.NewMemoryStore(100)
	disp := ingest.New(reg, store, "test")
	h := New(Deps{Registry: reg, Store: store, Dispatcher: disp, InstanceID: "inst-1", Logger: zerolog.Nop()})

	_, recv := reg.Register("room", "", "")

	body := bytes.NewBufferString(`{"event_type":"message","data":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/send", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.SentCount != 1 {
		t.Fatalf("expected success with 1 sent, got %+v", resp)
	}

	select {
	case <-recv:
	default:
		t.Fatal("expected event enqueued to subscriber")
	}
}

func TestHandleSend_RejectsMissingEventType(t *testing.T) {
	h := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"data":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConnect_RequiresChannelID(t *testing.T) {
	h := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/sse/connect", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConnect_StreamsSSEFrames(t *testing.T) {
	reg := registry.New("inst-1")
	store := replay.NewMemoryStore(100)
	disp := ingest.New(reg, store, "test")
	h := New(Deps{Registry: reg, Store: store, Dispatcher: disp, InstanceID: "inst-1", Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sse/connect?channel_id=room", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for reg.ChannelCount("room") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.ChannelCount("room") != 1 {
		t.Fatal("expected subscriber registered on channel room")
	}

	disp.Handle(ingest.IncomingMessage{Channel: "room", EventType: "message", Data: "hi"})

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(rec.Body.String(), "data: hi") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(rec.Body.String(), "data: hi") {
		t.Fatalf("expected SSE body to contain the dispatched event, got: %s", rec.Body.String())
	}

	cancel()
	<-done
}

func TestHandleStats_ReportsConnections(t *testing.T) {
	reg := registry.New("inst-1")
	store := replay.NewMemoryStore(100)
	disp := ingest.New(reg, store, "test")
	h := New(Deps{Registry: reg, Store: store, Dispatcher: disp, InstanceID: "inst-1", Logger: zerolog.Nop()})

	reg.Register("room", "", "")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalConnections != 1 {
		t.Fatalf("expected 1 connection, got %d", resp.TotalConnections)
	}
}

func TestHandleChannelStatus_OfflineWithoutDiscovery(t *testing.T) {
	h := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/channels/status?channel_id=room", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp channelStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Online {
		t.Fatalf("expected offline status with no discovery configured, got %+v", resp)
	}
}

func TestHandleChannelStatus_RequiresChannelID(t *testing.T) {
	h := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/channels/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	h := newTestServer()

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
