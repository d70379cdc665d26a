// Package httpapi implements the HTTP surface (C7): the SSE subscribe
// endpoint, the admin send endpoint, stats, and health/ready/metrics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/discovery"
	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/ingest"
	"github.com/ssefanout/gateway/internal/limits"
	"github.com/ssefanout/gateway/internal/metrics"
	"github.com/ssefanout/gateway/internal/registry"
	"github.com/ssefanout/gateway/internal/replay"
	"github.com/ssefanout/gateway/internal/sseio"
)

// AuthHook runs before a subscribe request is admitted. Returning ok=false
// means the hook has already written its own response to w; the handler
// must not write anything further.
type AuthHook func(w http.ResponseWriter, r *http.Request) (ok bool)

// Server wires the registry, replay store, dispatcher, and admission guard
// into the gateway's HTTP surface.
type Server struct {
	registry   *registry.Registry
	store      replay.Store
	dispatcher *ingest.Dispatcher
	guard      *limits.Guard
	discovery  *discovery.Registry
	instanceID string
	auth       AuthHook
	hooks      sseio.Hooks
	logger     zerolog.Logger
}

// Deps bundles Server's collaborators.
type Deps struct {
	Registry   *registry.Registry
	Store      replay.Store
	Dispatcher *ingest.Dispatcher
	Guard      *limits.Guard
	Discovery  *discovery.Registry // optional, nil in single-instance mode
	InstanceID string
	Auth       AuthHook // optional
	Hooks      sseio.Hooks
	Logger     zerolog.Logger
}

// New builds a Server and returns an http.Handler exposing its routes.
func New(deps Deps) http.Handler {
	s := &Server{
		registry:   deps.Registry,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		guard:      deps.Guard,
		discovery:  deps.Discovery,
		instanceID: deps.InstanceID,
		auth:       deps.Auth,
		hooks:      deps.Hooks,
		logger:     deps.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse/connect", s.handleConnect)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/channels/status", s.handleChannelStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil && !s.auth(w, r) {
		return
	}

	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}

	if s.guard != nil {
		if accept, reason := s.guard.ShouldAcceptConnection(); !accept {
			metrics.ConnectionsFailed.WithLabelValues(reason).Inc()
			http.Error(w, reason, http.StatusServiceUnavailable)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientIP := clientIPFromRequest(r)
	userAgent := r.Header.Get("User-Agent")
	lastEventID := r.Header.Get("Last-Event-ID")

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	if s.guard != nil {
		s.guard.ConnectionOpened()
	}
	start := time.Now()
	defer func() {
		metrics.ConnectionsActive.Dec()
		metrics.ConnectionDuration.Observe(time.Since(start).Seconds())
		if s.guard != nil {
			s.guard.ConnectionClosed()
		}
	}()

	_ = sseio.Subscribe(r.Context(), w, s.registry, s.store, s.instanceID, channelID, lastEventID, clientIP, userAgent, s.hooks, s.logger)
}

// clientIPFromRequest resolves client_ip per §6: the first comma-separated
// value of X-Forwarded-For, falling back to the connection's remote addr.
func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	return r.RemoteAddr
}

type sendRequest struct {
	ChannelID string `json:"channel_id"`
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

type sendResponse struct {
	Success   bool `json:"success"`
	SentCount int  `json:"sent_count"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventType == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return
	}

	if s.guard != nil && !s.guard.AllowIngest() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	ev := event.New(req.EventType, req.Data)
	sent := 0
	if req.ChannelID == "" {
		sent = s.registry.Broadcast(ev)
	} else {
		streamID := s.store.GenerateID()
		ev = ev.WithStreamID(streamID)
		sent = s.registry.SendToChannel(req.ChannelID, ev)
		go s.store.Store(req.ChannelID, streamID, ev)
	}

	writeJSON(w, http.StatusOK, sendResponse{Success: true, SentCount: sent})
}

type connectionView struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ConnectedAt time.Time `json:"connected_at"`
	IsActive    bool      `json:"is_active"`
}

type statsResponse struct {
	TotalConnections int              `json:"total_connections"`
	Connections      []connectionView `json:"connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := statsResponse{TotalConnections: len(list), Connections: make([]connectionView, 0, len(list))}
	for _, c := range list {
		out.Connections = append(out.Connections, connectionView{
			ID:          c.ID,
			ChannelID:   c.ChannelID,
			ConnectedAt: c.ConnectedAt,
			IsActive:    c.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type channelStatusResponse struct {
	Online          bool   `json:"online"`
	InstanceID      string `json:"instance_id,omitempty"`
	InstanceAddress string `json:"instance_address,omitempty"`
}

// handleChannelStatus answers the service-discovery status(channel) query:
// offline when multi-instance discovery isn't configured or the channel
// has no current binding, otherwise the instance currently serving it.
func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}

	if s.discovery == nil {
		writeJSON(w, http.StatusOK, channelStatusResponse{Online: false})
		return
	}

	status, err := s.discovery.Status(r.Context(), channelID)
	if err != nil {
		http.Error(w, "discovery lookup failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, channelStatusResponse{
		Online:          status.Online,
		InstanceID:      status.InstanceID,
		InstanceAddress: status.InstanceAddress,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.guard != nil {
		if accept, _ := s.guard.ShouldAcceptConnection(); !accept {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
