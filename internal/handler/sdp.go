package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/signal"
)

// SubmitWHIP handles POST /whip: body is a raw SDP offer, response is 202
// with a correlation id for polling.
func (h *Handlers) SubmitWHIP(w http.ResponseWriter, r *http.Request) {
	h.submitOffer(w, r, signal.KindWHIP)
}

// SubmitWHEP handles POST /whep with the same shape as /whip.
func (h *Handlers) SubmitWHEP(w http.ResponseWriter, r *http.Request) {
	h.submitOffer(w, r, signal.KindWHEP)
}

func (h *Handlers) submitOffer(w http.ResponseWriter, r *http.Request, kind signal.Kind) {
	offer, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	id, err := h.proxy.SubmitOffer(kind, string(offer))
	if err != nil {
		switch {
		case errors.Is(err, signal.ErrNoTarget):
			http.Error(w, "No WHIP URL available", http.StatusBadRequest)
		case errors.Is(err, signal.ErrTargetNotReady):
			http.Error(w, "No WHEP URL available yet", http.StatusNotFound)
		case errors.Is(err, signal.ErrInvalidOffer):
			http.Error(w, "Invalid SDP offer", http.StatusBadRequest)
		default:
			h.logger.Error("submit offer failed", zap.Error(err))
			http.Error(w, "submit failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// WHIPResult handles GET /whip/result/{id}.
func (h *Handlers) WHIPResult(w http.ResponseWriter, r *http.Request) {
	h.pollResult(w, r, signal.KindWHIP)
}

// WHEPResult handles GET /whep/result/{id}.
func (h *Handlers) WHEPResult(w http.ResponseWriter, r *http.Request) {
	h.pollResult(w, r, signal.KindWHEP)
}

func (h *Handlers) pollResult(w http.ResponseWriter, r *http.Request, kind signal.Kind) {
	id := chi.URLParam(r, "id")

	result, err := h.proxy.PollResult(kind, id)
	if err != nil {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}

	switch result.Status {
	case signal.StatusPending:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	case signal.StatusReady:
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(result.Answer))
	default:
		http.Error(w, result.ErrDetail, http.StatusInternalServerError)
	}
}
