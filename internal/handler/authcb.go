package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mfcabral/streambridge/internal/auth"
)

// AuthCallback handles the browser login callback. The query carries the
// short-lived token and the CSRF state nonce. On success the browser is
// redirected to the remote success page; failures get a small HTML body,
// never a stack trace.
func (h *Handlers) AuthCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	state := r.URL.Query().Get("state")

	err := h.flow.HandleCallback(r.Context(), token, state)
	if err == nil {
		http.Redirect(w, r, h.successURL, http.StatusFound)
		return
	}

	code := http.StatusInternalServerError
	if errors.Is(err, auth.ErrNoToken) || errors.Is(err, auth.ErrInvalidState) {
		code = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, "<html><body><h1>Error: %s</h1></body></html>", err.Error())
}
