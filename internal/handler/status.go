package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/params"
	"github.com/mfcabral/streambridge/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status surface is a localhost control plane; the relay page loads
	// from a different local port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type statusResponse struct {
	State        string         `json:"state"`
	StreamID     string         `json:"stream_id"`
	WhipURL      string         `json:"whip_url"`
	WhepURL      string         `json:"whep_url"`
	Capabilities map[string]any `json:"capabilities"`
}

// Status handles GET /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.machine.Snapshot()
	resp := statusResponse{
		State:        string(snap.State),
		StreamID:     snap.StreamID,
		WhipURL:      snap.WhipURL,
		WhepURL:      snap.WhepURL,
		Capabilities: h.store.Capabilities(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Events handles GET /events: upgrades to a WebSocket and streams bus events
// as JSON until the client disconnects.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("events upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	// Read pump: discard inbound frames, detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// Start handles POST /start: schedules session start on the control loop.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	h.machine.Do(func() { h.machine.Start() })
	h.accepted(w)
}

// Stop handles POST /stop.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.machine.Do(h.machine.Stop)
	h.accepted(w)
}

// Reset handles POST /reset: forces the session back to IDLE from any state.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.machine.Do(h.machine.Reset)
	h.accepted(w)
}

// Login handles POST /login: begins the browser handshake and returns the
// URL the host should open.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	url, err := h.flow.BeginLogin()
	if err != nil {
		h.logger.Error("begin login failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"auth_url": url})
}

// SetParams handles POST /params: a JSON object of parameter name → value.
// Hot parameters changed while streaming are handed to the coalescer; cold
// parameters are rejected while a stream is live.
func (h *Handlers) SetParams(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	streaming := h.machine.State() == session.StateStreaming && h.machine.StreamID() != ""

	for name, raw := range body {
		if streaming && !params.IsHot(name) {
			http.Error(w, fmt.Sprintf("parameter %q cannot change while streaming", name), http.StatusConflict)
			return
		}
		if err := h.applyParam(name, raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if streaming {
			h.coalescer.OnParameterChanged(name)
		}
	}
	h.accepted(w)
}

func (h *Handlers) applyParam(name string, raw json.RawMessage) error {
	if name == "Stepschedule" {
		var steps []int
		if err := json.Unmarshal(raw, &steps); err != nil {
			return fmt.Errorf("parameter %q: expected integer list", name)
		}
		h.store.SetStepSchedule(steps)
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("parameter %q: %v", name, err)
	}
	return h.store.Set(name, value)
}

// ResetParams handles POST /params/reset: restores all schema defaults.
func (h *Handlers) ResetParams(w http.ResponseWriter, r *http.Request) {
	h.store.Reset()
	h.accepted(w)
}

func (h *Handlers) accepted(w http.ResponseWriter) {
	snap := h.machine.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(snap)
}
