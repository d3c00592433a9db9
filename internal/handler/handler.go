// Package handler exposes the bridge's three HTTP listeners: the status/
// control surface, the CORS-open SDP proxy, and the auth callback.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/auth"
	"github.com/mfcabral/streambridge/internal/eventbus"
	"github.com/mfcabral/streambridge/internal/params"
	"github.com/mfcabral/streambridge/internal/session"
	"github.com/mfcabral/streambridge/internal/signal"
)

// maxOfferBytes bounds inbound SDP offer bodies.
const maxOfferBytes = 1 << 20

// Handlers holds dependencies for all three listeners.
type Handlers struct {
	logger     *zap.Logger
	machine    *session.Machine
	proxy      *signal.Proxy
	coalescer  *params.Coalescer
	store      *params.Store
	flow       *auth.Flow
	bus        *eventbus.Bus
	successURL string
}

// New creates the handler set.
func New(logger *zap.Logger, machine *session.Machine, proxy *signal.Proxy, coalescer *params.Coalescer, store *params.Store, flow *auth.Flow, bus *eventbus.Bus, successURL string) *Handlers {
	return &Handlers{
		logger:     logger,
		machine:    machine,
		proxy:      proxy,
		coalescer:  coalescer,
		store:      store,
		flow:       flow,
		bus:        bus,
		successURL: successURL,
	}
}

// StatusRouter serves the status/control surface: session snapshot, the
// events feed, parameter updates, lifecycle controls, and metrics.
func (h *Handlers) StatusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	r.Get("/events", h.Events)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/start", h.Start)
	r.Post("/stop", h.Stop)
	r.Post("/reset", h.Reset)
	r.Post("/login", h.Login)
	r.Post("/params", h.SetParams)
	r.Post("/params/reset", h.ResetParams)

	return r
}

// SDPRouter serves the WHIP/WHEP exchange proxy used by the media peer.
func (h *Handlers) SDPRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/whip", h.SubmitWHIP)
	r.Get("/whip/result/{id}", h.WHIPResult)
	r.Post("/whep", h.SubmitWHEP)
	r.Get("/whep/result/{id}", h.WHEPResult)

	return r
}

// AuthRouter serves the browser login callback.
func (h *Handlers) AuthRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/callback", h.AuthCallback)

	return r
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Server wraps an http.Server with the read/write timeouts shared by all
// three listeners.
func Server(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
}
