package deskhost

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var signalingLog = logging.L("signaling")

// offerRequest/offerResponse are the Signaling Adapter's single-exchange
// JSON contract over POST /api/offer.
type offerRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type offerResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// SignalingAdapter exposes the host's HTTP control surface: the one-shot
// SDP offer/answer exchange and an operator-facing status stream. Each
// /api/events connection runs its own independent broadcast loop; the
// adapter itself holds no per-connection state.
type SignalingAdapter struct {
	transport *PeerTransport
	metrics   *StreamMetrics

	upgrader websocket.Upgrader
}

// NewSignalingAdapter constructs an adapter bound to one transport and its
// metrics aggregator.
func NewSignalingAdapter(transport *PeerTransport, metrics *StreamMetrics) *SignalingAdapter {
	return &SignalingAdapter{
		transport: transport,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Single-operator local control UI: same-origin is not assumed,
			// since the UI may be served from a different local port.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes registers the adapter's handlers on mux.
func (s *SignalingAdapter) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/offer", s.handleOffer)
	mux.HandleFunc("/api/events", s.handleEvents)
}

// handleOffer implements §4.7: accept one POST {sdp, type:"offer"}, hand the
// SDP to the transport, rewrite the answer's a=setup:actpass to
// a=setup:active (the host always answers and takes the active DTLS role), and
// return {sdp, type:"answer"}.
func (s *SignalingAdapter) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		signalingLog.Warn("malformed offer request", "error", err)
		http.Error(w, "malformed offer", http.StatusBadRequest)
		return
	}
	if req.Type != "offer" || req.SDP == "" {
		http.Error(w, "expected {sdp, type: offer}", http.StatusBadRequest)
		return
	}

	local, err := s.transport.SetRemote(req.SDP)
	if err != nil {
		signalingLog.Error("failed to apply offer", "error", err)
		http.Error(w, "failed to negotiate", http.StatusInternalServerError)
		return
	}
	local = rewriteSetupActive(local)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offerResponse{SDP: local, Type: "answer"})
}

// rewriteSetupActive rewrites every a=setup:actpass line to a=setup:active.
// pion defaults the answer to actpass (willing to be either DTLS role); this
// host is never embedded behind a reverse negotiation, so it always takes
// the active role rather than waiting to be told.
func rewriteSetupActive(sdp string) string {
	lines := strings.Split(sdp, "\n")
	for i, line := range lines {
		if strings.Contains(line, "a=setup:actpass") {
			lines[i] = strings.Replace(line, "a=setup:actpass", "a=setup:active", 1)
		}
	}
	return strings.Join(lines, "\n")
}

// statusEvent is one broadcast frame over the operator status stream.
type statusEvent struct {
	Type      string          `json:"type"`
	State     string          `json:"state"`
	Metrics   MetricsSnapshot `json:"metrics"`
	Timestamp time.Time       `json:"timestamp"`
}

const eventsBroadcastInterval = 1 * time.Second

// handleEvents upgrades GET /api/events to a websocket and streams a
// one-second-cadence status snapshot to the operator's local control UI.
// Not part of the WebRTC media path — purely a status/live-reload surface.
func (s *SignalingAdapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		signalingLog.Warn("events upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain and discard anything the client sends; the stream is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsBroadcastInterval)
	defer ticker.Stop()
	for range ticker.C {
		ev := statusEvent{
			Type:      "status",
			State:     s.transport.State().String(),
			Metrics:   s.metrics.Snapshot(),
			Timestamp: time.Now(),
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

const writeWait = 10 * time.Second

// Serve runs an HTTP server exposing the adapter's routes on addr until ctx
// is canceled.
func Serve(ctx context.Context, addr string, adapter *SignalingAdapter) error {
	mux := http.NewServeMux()
	adapter.Routes(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
