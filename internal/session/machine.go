// Package session owns the stream lifecycle state machine and the control
// loop every other component schedules onto.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/eventbus"
	"github.com/mfcabral/streambridge/internal/metrics"
	"github.com/mfcabral/streambridge/internal/worker"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle      State = "IDLE"
	StateCreating  State = "CREATING"
	StateStreaming State = "STREAMING"
	StateError     State = "ERROR"
)

var (
	// ErrNotLoggedIn is returned by Start when no API token is set.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNoSource is returned by Start when no input source is available.
	ErrNoSource = errors.New("no input source available")
)

// Status is the externally visible session snapshot.
type Status struct {
	State    State  `json:"state"`
	StreamID string `json:"stream_id"`
	WhipURL  string `json:"whip_url"`
	WhepURL  string `json:"whep_url"`
}

// Deps are the machine's collaborators.
type Deps struct {
	Client *api.Client
	Bus    *eventbus.Bus
	Pool   *worker.Pool
	Logger *zap.Logger
	// CreateParams builds the full creation payload (model id + params).
	CreateParams func() (string, map[string]any)
}

// Machine is the session state machine. All mutations run on its control
// loop; reads are mutex-guarded for the HTTP surface.
type Machine struct {
	deps Deps
	loop *loop

	mu          sync.RWMutex
	state       State
	streamID    string
	modelID     string
	whipURL     string
	whepURL     string
	active      bool
	sourceReady bool

	stopHooks []func()
}

// New creates a Machine in IDLE.
func New(deps Deps) *Machine {
	return &Machine{
		deps:        deps,
		loop:        newLoop(),
		state:       StateIdle,
		sourceReady: true,
	}
}

// Run drains the control loop until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	m.loop.run(ctx)
}

// Do schedules fn onto the control loop.
func (m *Machine) Do(fn func()) {
	m.loop.post(fn)
}

// OnStop registers a hook invoked during Stop, before the state resets.
// Used by the coalescer and proxy to discard in-flight bookkeeping.
func (m *Machine) OnStop(fn func()) {
	m.stopHooks = append(m.stopHooks, fn)
}

// SetSourceReady records whether the input source collaborator is usable.
func (m *Machine) SetSourceReady(ready bool) {
	m.mu.Lock()
	m.sourceReady = ready
	m.mu.Unlock()
}

// State returns the current session state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StreamID returns the current stream id, or "".
func (m *Machine) StreamID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamID
}

// ModelID returns the remote-confirmed model id, or "".
func (m *Machine) ModelID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelID
}

// WhipURL returns the stream's WHIP ingest URL, or "".
func (m *Machine) WhipURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whipURL
}

// WhepURL returns the playback URL once known, or "".
func (m *Machine) WhepURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whepURL
}

// Active reports the user's streaming intent.
func (m *Machine) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Snapshot returns the current Status.
func (m *Machine) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{State: m.state, StreamID: m.streamID, WhipURL: m.whipURL, WhepURL: m.whepURL}
}

// SetWhepURL publishes an out-of-band playback URL (from the WHIP exchange
// response header). Must run on the control loop.
func (m *Machine) SetWhepURL(u string) {
	m.mu.Lock()
	m.whepURL = u
	m.mu.Unlock()
	m.deps.Logger.Info("whep url received", zap.String("whepUrl", u))
}

// Emit publishes a bus event carrying the current state and stream id.
func (m *Machine) Emit(evtype string, data map[string]any) {
	m.mu.RLock()
	state, streamID := m.state, m.streamID
	m.mu.RUnlock()
	m.deps.Bus.Publish(&eventbus.Event{
		Type:     evtype,
		State:    string(state),
		StreamID: streamID,
		Data:     data,
	})
}

// setState transitions to a new state and emits state_changed. A transition
// to the same state is a no-op and emits nothing.
func (m *Machine) setState(to State, reason string, err error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	metrics.StateTransitionsTotal.WithLabelValues(string(to)).Inc()
	m.deps.Logger.Info("state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)

	data := map[string]any{"from": string(from), "to": string(to)}
	if reason != "" {
		data["reason"] = reason
	}
	if err != nil {
		data["error"] = err.Error()
	}
	m.Emit("state_changed", data)
}

// resetStreamFields clears the stream identity without emitting.
func (m *Machine) resetStreamFields() {
	m.mu.Lock()
	m.streamID = ""
	m.whipURL = ""
	m.modelID = ""
	m.whepURL = ""
	m.mu.Unlock()
}

// Start marks the session active and begins stream creation. Must run on
// the control loop. Returns ErrNotLoggedIn / ErrNoSource without touching
// active intent when preconditions fail.
func (m *Machine) Start() error {
	if !m.deps.Client.HasToken() {
		m.setState(StateError, "start_failed", ErrNotLoggedIn)
		m.Emit("error", map[string]any{"error": ErrNotLoggedIn.Error(), "context": "start"})
		return ErrNotLoggedIn
	}
	m.mu.RLock()
	srcReady := m.sourceReady
	m.mu.RUnlock()
	if !srcReady {
		m.setState(StateError, "start_failed", ErrNoSource)
		m.Emit("error", map[string]any{"error": ErrNoSource.Error(), "context": "start"})
		return ErrNoSource
	}
	if m.State() == StateCreating {
		m.deps.Logger.Info("stream creation already in progress")
		return nil
	}

	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	m.createStream()
	return nil
}

// Stop clears the session back to IDLE. Must run on the control loop.
// Safe to call in any state.
func (m *Machine) Stop() {
	m.mu.Lock()
	wasStreaming := m.state == StateStreaming
	creating := m.state == StateCreating
	prevStreamID := m.streamID
	m.active = false
	m.mu.Unlock()

	for _, hook := range m.stopHooks {
		hook()
	}

	if creating {
		// The in-flight create resolves on the control loop and finds the
		// active intent gone: CREATING -> IDLE ("active toggled off").
		return
	}

	m.resetStreamFields()
	m.setState(StateIdle, "stop", nil)
	if wasStreaming {
		m.Emit("streaming_stopped", map[string]any{"prev_stream_id": prevStreamID})
	}
}

// Reset forces the session to IDLE from any state, clearing stream identity.
// Must run on the control loop.
func (m *Machine) Reset() {
	m.resetStreamFields()
	m.setState(StateIdle, "reset", nil)
}

func (m *Machine) createStream() {
	if m.State() == StateCreating {
		return
	}
	if !m.deps.Client.HasToken() {
		return
	}

	model, p := m.deps.CreateParams()
	m.setState(StateCreating, "stream_create", nil)
	m.Emit("stream_create_started", map[string]any{"model": model})

	m.deps.Pool.Submit(func() {
		stream, err := m.deps.Client.CreateStream(context.Background(), model, p)
		if err != nil {
			m.Do(func() { m.onStreamCreateError(err) })
			return
		}
		m.Do(func() { m.onStreamCreated(stream) })
	})
}

func (m *Machine) onStreamCreated(stream *api.Stream) {
	// A Stop may have raced the create; a late result in IDLE is discarded.
	if m.State() != StateCreating {
		m.deps.Logger.Info("discarding stream-created result after stop",
			zap.String("streamId", stream.ID))
		return
	}

	m.mu.Lock()
	m.streamID = stream.ID
	m.whipURL = stream.WhipURL
	m.modelID = stream.Params.ModelID
	active := m.active
	m.mu.Unlock()

	m.deps.Logger.Info("stream created",
		zap.String("streamId", stream.ID),
		zap.String("whipUrl", stream.WhipURL),
		zap.String("modelId", stream.Params.ModelID),
	)
	m.Emit("stream_created", map[string]any{
		"whip_url": stream.WhipURL,
		"model_id": stream.Params.ModelID,
	})

	if active {
		m.setState(StateStreaming, "webrtc_ready", nil)
		m.mu.RLock()
		data := map[string]any{
			"whip_url": m.whipURL,
			"whep_url": m.whepURL,
			"model_id": m.modelID,
		}
		m.mu.RUnlock()
		m.Emit("streaming_started", data)
	} else {
		m.resetStreamFields()
		m.setState(StateIdle, "active_toggled_off", nil)
	}
}

func (m *Machine) onStreamCreateError(err error) {
	if m.State() != StateCreating {
		m.deps.Logger.Info("discarding stream-create failure after stop", zap.Error(err))
		return
	}
	m.deps.Logger.Error("stream creation failed", zap.Error(err))
	m.resetStreamFields()
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	m.setState(StateError, "stream_create_failed", err)
	m.Emit("stream_create_failed", map[string]any{"error": err.Error()})
	m.Emit("error", map[string]any{"error": err.Error(), "context": "stream_create"})
}

// OnWHIPFailed reacts to a rejected WHIP exchange: the stream is presumed
// dead, so it is recreated while the user's intent is still active, else the
// session returns to IDLE. Must run on the control loop.
func (m *Machine) OnWHIPFailed() {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	m.Emit("error", map[string]any{
		"error":      "WHIP connection failed",
		"context":    "whip",
		"will_retry": active,
	})
	m.resetStreamFields()
	if active {
		m.deps.Logger.Warn("whip failed, recreating stream")
		m.createStream()
	} else {
		m.setState(StateIdle, "whip_failed", nil)
	}
}
