// Package health serves liveness and readiness probes.
//
// Every registered check runs on its own ticker. A check flips to unhealthy
// only after FailureThreshold consecutive failures and back to healthy after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the service out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe uint8

const (
	// Liveness checks report whether the process should be restarted.
	Liveness Probe = iota
	// Readiness checks report whether the process should receive traffic.
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// CheckOptions tune a single check. Zero values take defaults.
type CheckOptions struct {
	// Timeout bounds one run. Default 2s.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures before the
	// check is reported unhealthy. Default 3.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes before an
	// unhealthy check is reported healthy again. Default 1.
	SuccessThreshold int
}

func (o *CheckOptions) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
}

// check is one registered probe. run is only ever called from the check's
// own ticker goroutine, so the streak counters need no locking; healthy and
// lastErr are read concurrently by the endpoints.
type check struct {
	name  string
	probe Probe
	fn    CheckFunc
	opts  CheckOptions
	lg    *zap.Logger

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.successes = 0
		c.fails++
		if c.fails >= c.opts.FailureThreshold && c.healthy.Swap(false) {
			c.lg.Warn("Health check failing",
				zap.String("check", c.name),
				zap.Stringer("probe", c.probe),
				zap.Int("consecutive_failures", c.fails),
				zap.Error(err),
			)
		}
		return
	}
	c.fails = 0
	c.successes++
	if c.successes >= c.opts.SuccessThreshold && !c.healthy.Swap(true) {
		c.lg.Info("Health check recovered",
			zap.String("check", c.name),
			zap.Stringer("probe", c.probe),
		)
	}
}

// failure returns the reason the check is unhealthy, or "" when it is
// healthy.
func (c *check) failure() string {
	if c.healthy.Load() {
		return ""
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true) is called.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Register adds a check to the given probe. Checks start healthy. Register
// must be called before Start.
func (h *Health) Register(p Probe, name string, fn CheckFunc, opts CheckOptions) {
	opts.setDefaults()
	c := &check{name: name, probe: p, fn: fn, opts: opts, lg: h.lg}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// Start runs every check immediately and then every interval until ctx is
// done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go tick(ctx, c, interval)
	}
}

func tick(ctx context.Context, c *check, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.run(ctx)
		}
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. The server sets it after startup
// and clears it when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(p Probe) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := map[string]string{}
	for _, c := range h.checks {
		if c.probe != p {
			continue
		}
		if reason := c.failure(); reason != "" {
			out[c.name] = reason
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. It fails while the service is not marked
// ready, in addition to any failing readiness check.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// writeStatus writes {"status":"ok"} or 503 with the failing checks sorted
// by name.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				names := make([]string, 0, len(failures))
				for name := range failures {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
