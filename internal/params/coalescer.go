package params

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/metrics"
	"github.com/mfcabral/streambridge/internal/session"
	"github.com/mfcabral/streambridge/internal/worker"
)

// DefaultDebounce is the quiet window a burst of edits must observe before a
// PATCH is sent.
const DefaultDebounce = 100 * time.Millisecond

// Coalescer accumulates changed parameter names and flushes them as one
// minimal PATCH per debounce window instead of one call per edit.
type Coalescer struct {
	logger  *zap.Logger
	store   *Store
	client  *api.Client
	machine *session.Machine
	pool    *worker.Pool
	delay   time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	armed   bool
	timer   *time.Timer
}

// NewCoalescer wires a Coalescer to the session machine; it registers a stop
// hook so stopping the session discards pending changes without sending.
func NewCoalescer(logger *zap.Logger, store *Store, client *api.Client, machine *session.Machine, pool *worker.Pool, delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	c := &Coalescer{
		logger:  logger,
		store:   store,
		client:  client,
		machine: machine,
		pool:    pool,
		delay:   delay,
		pending: make(map[string]struct{}),
	}
	machine.OnStop(c.CancelPending)
	return c
}

// OnParameterChanged merges name into the pending set and arms the debounce
// timer if it is not already armed. Repeated changes within the window merge
// rather than rescheduling.
func (c *Coalescer) OnParameterChanged(name string) {
	c.mu.Lock()
	c.pending[name] = struct{}{}
	pending := make([]string, 0, len(c.pending))
	for n := range c.pending {
		pending = append(pending, n)
	}
	arm := !c.armed
	if arm {
		c.armed = true
		c.timer = time.AfterFunc(c.delay, func() {
			c.machine.Do(c.flush)
		})
	}
	c.mu.Unlock()

	metrics.PendingParamChanges.Set(float64(len(pending)))
	c.machine.Emit("params_update_scheduled", map[string]any{
		"param":   name,
		"pending": pending,
	})
}

// CancelPending disarms the timer and discards accumulated changes.
func (c *Coalescer) CancelPending() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = false
	c.pending = make(map[string]struct{})
	c.mu.Unlock()
	metrics.PendingParamChanges.Set(0)
}

// flush runs on the control loop when the debounce window closes. Pending
// changes are discarded unless the session is live; an empty diff sends
// nothing.
func (c *Coalescer) flush() {
	c.mu.Lock()
	c.armed = false
	c.timer = nil
	changed := c.pending
	c.pending = make(map[string]struct{})
	c.mu.Unlock()
	metrics.PendingParamChanges.Set(0)

	if c.machine.State() != session.StateStreaming || c.machine.StreamID() == "" {
		return
	}
	if len(changed) == 0 {
		return
	}

	payload := c.store.BuildChangedParams(changed)
	if len(payload) == 0 {
		return
	}

	streamID := c.machine.StreamID()
	modelID := c.machine.ModelID()
	names := make([]string, 0, len(changed))
	for n := range changed {
		names = append(names, n)
	}
	sanitized := Sanitize(payload)

	c.logger.Info("sending parameter update",
		zap.Strings("changed", names),
		zap.String("streamId", streamID),
	)
	c.machine.Emit("params_update_sent", map[string]any{
		"changed": names,
		"params":  sanitized,
	})

	c.pool.Submit(func() {
		err := c.client.UpdateStream(context.Background(), streamID, modelID, payload)
		c.machine.Do(func() { c.onResult(err) })
	})
}

// onResult runs on the control loop. Failures are surfaced as events only;
// they are never retried and never change session state.
func (c *Coalescer) onResult(err error) {
	data := map[string]any{"success": err == nil}
	if err != nil {
		data["error"] = err.Error()
		metrics.ParamPatchesTotal.WithLabelValues("error").Inc()
		c.logger.Warn("parameter update failed", zap.Error(err))
	} else {
		metrics.ParamPatchesTotal.WithLabelValues("success").Inc()
	}
	c.machine.Emit("params_update_result", data)
	if err != nil {
		c.machine.Emit("error", map[string]any{
			"error":   err.Error(),
			"context": "params_update",
		})
	}
}
