// Package signal bridges synchronous inbound SDP offers to asynchronous
// remote WHIP/WHEP exchanges. Each submission gets a correlation id the
// caller polls; the remote round trip runs on the worker pool so the inbound
// request cycle never blocks on network I/O.
package signal

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/metrics"
	"github.com/mfcabral/streambridge/internal/session"
	"github.com/mfcabral/streambridge/internal/worker"
)

// Kind selects the exchange direction.
type Kind string

const (
	KindWHIP Kind = "whip"
	KindWHEP Kind = "whep"
)

// playbackURLHeader is the response header the ingest endpoint uses to hand
// back the playback (WHEP) URL out-of-band.
const playbackURLHeader = "Livepeer-Playback-Url"

const (
	whipExchangeTimeout = 10 * time.Second
	whepExchangeTimeout = 5 * time.Second
)

var (
	// ErrNoTarget means no WHIP URL is configured for the session.
	ErrNoTarget = errors.New("no target available")
	// ErrTargetNotReady means the WHEP URL has not arrived yet.
	ErrTargetNotReady = errors.New("target not ready yet")
	// ErrNotFound means the correlation id is unknown (never created, or
	// already delivered).
	ErrNotFound = errors.New("request not found")
	// ErrInvalidOffer means the submitted body is not a parseable SDP offer.
	ErrInvalidOffer = errors.New("invalid sdp offer")
)

// ExchangeStatus is the lifecycle of one exchange record.
type ExchangeStatus int

const (
	StatusPending ExchangeStatus = iota
	StatusReady
	StatusError
)

type exchange struct {
	status    ExchangeStatus
	offerSDP  string
	answerSDP string
	errDetail string
	targetURL string
	authToken string
}

// Result is a poll outcome. Exactly one of Answer/ErrDetail is set for
// terminal statuses.
type Result struct {
	Status    ExchangeStatus
	Answer    string
	ErrDetail string
}

// Proxy manages concurrent offer/answer round trips keyed by correlation id.
type Proxy struct {
	logger  *zap.Logger
	client  *api.Client
	machine *session.Machine
	pool    *worker.Pool

	mu       sync.Mutex
	requests map[Kind]map[string]*exchange
}

// New creates a Proxy wired to the session machine and worker pool.
func New(logger *zap.Logger, client *api.Client, machine *session.Machine, pool *worker.Pool) *Proxy {
	p := &Proxy{
		logger:  logger,
		client:  client,
		machine: machine,
		pool:    pool,
		requests: map[Kind]map[string]*exchange{
			KindWHIP: {},
			KindWHEP: {},
		},
	}
	machine.OnStop(p.Clear)
	return p
}

// SubmitOffer records a pending exchange and dispatches the remote round
// trip. Returns the correlation id for polling. Fails fast with ErrNoTarget
// (WHIP URL unknown), ErrTargetNotReady (WHEP URL not yet published), or
// ErrInvalidOffer; no record is created on failure.
func (p *Proxy) SubmitOffer(kind Kind, offerSDP string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offerSDP)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	var targetURL, token string
	switch kind {
	case KindWHIP:
		targetURL = p.machine.WhipURL()
		if targetURL == "" {
			return "", ErrNoTarget
		}
		token = p.client.Token()
	case KindWHEP:
		targetURL = p.machine.WhepURL()
		if targetURL == "" {
			return "", ErrTargetNotReady
		}
	default:
		return "", fmt.Errorf("unknown exchange kind %q", kind)
	}

	id, err := newCorrelationID()
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}

	p.mu.Lock()
	p.requests[kind][id] = &exchange{
		status:    StatusPending,
		offerSDP:  offerSDP,
		targetURL: targetURL,
		authToken: token,
	}
	p.mu.Unlock()
	metrics.PendingExchanges.Inc()

	p.logger.Info("sdp exchange dispatched",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("target", targetURL),
	)
	p.pool.Submit(func() { p.exchange(kind, id) })
	return id, nil
}

// PollResult reports the exchange status. Terminal statuses are delivered
// exactly once: the record is deleted on first observation and subsequent
// polls return ErrNotFound.
func (p *Proxy) PollResult(kind Kind, id string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	switch req.status {
	case StatusPending:
		return &Result{Status: StatusPending}, nil
	case StatusReady:
		delete(p.requests[kind], id)
		metrics.PendingExchanges.Dec()
		return &Result{Status: StatusReady, Answer: req.answerSDP}, nil
	default:
		delete(p.requests[kind], id)
		metrics.PendingExchanges.Dec()
		detail := req.errDetail
		if detail == "" {
			detail = "unknown error"
		}
		return &Result{Status: StatusError, ErrDetail: detail}, nil
	}
}

// Clear drops all exchange bookkeeping. In-flight workers whose results
// arrive afterwards find their record gone and discard them.
func (p *Proxy) Clear() {
	p.mu.Lock()
	n := len(p.requests[KindWHIP]) + len(p.requests[KindWHEP])
	p.requests[KindWHIP] = map[string]*exchange{}
	p.requests[KindWHEP] = map[string]*exchange{}
	p.mu.Unlock()
	metrics.PendingExchanges.Sub(float64(n))
	if n > 0 {
		p.logger.Info("cleared in-flight exchanges", zap.Int("count", n))
	}
}

// exchange runs on a worker. It performs the remote round trip and writes
// the record's terminal fields exactly once.
func (p *Proxy) exchange(kind Kind, id string) {
	p.mu.Lock()
	req, ok := p.requests[kind][id]
	if !ok {
		p.mu.Unlock()
		return
	}
	targetURL, offer, token := req.targetURL, req.offerSDP, req.authToken
	p.mu.Unlock()

	timeout := whipExchangeTimeout
	if kind == KindWHEP {
		timeout = whepExchangeTimeout
	}

	start := time.Now()
	answer, headers, err := p.client.ExchangeSDP(context.Background(), targetURL, offer, token, timeout)
	metrics.ExchangeLatency.WithLabelValues(string(kind)).
		Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		p.resolveError(kind, id, err)
		return
	}

	if kind == KindWHIP {
		if playback := headers.Get(playbackURLHeader); playback != "" {
			p.machine.Do(func() { p.machine.SetWhepURL(playback) })
		}
	}

	p.mu.Lock()
	if req, ok := p.requests[kind][id]; ok {
		req.answerSDP = answer
		req.status = StatusReady
	}
	p.mu.Unlock()
	metrics.ExchangesTotal.WithLabelValues(string(kind), "ready").Inc()
}

func (p *Proxy) resolveError(kind Kind, id string, err error) {
	detail := err.Error()
	var remoteErr *api.RemoteError
	rejected := errors.As(err, &remoteErr)
	if rejected {
		detail = remoteErr.Body
	}
	if kind == KindWHEP && rejected {
		detail = "WHEP not ready"
	}

	p.logger.Warn("sdp exchange failed",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.Error(err),
	)

	p.mu.Lock()
	if req, ok := p.requests[kind][id]; ok {
		req.errDetail = detail
		req.status = StatusError
	}
	p.mu.Unlock()
	metrics.ExchangesTotal.WithLabelValues(string(kind), "error").Inc()

	// A rejected WHIP exchange means the stream itself is bad; hand the
	// recreation decision to the session. WHEP failures are left to
	// client-side retry.
	if kind == KindWHIP && rejected {
		p.machine.Do(p.machine.OnWHIPFailed)
	}
}

// newCorrelationID returns a fresh unguessable URL-safe id (8 random bytes).
func newCorrelationID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
