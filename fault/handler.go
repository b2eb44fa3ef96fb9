package fault

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagesense/idgen"
	"github.com/hazyhaar/pagesense/ring"
)

// Recoverer is invoked when a component reports a critical fault.
// It returns true if recovery succeeded.
type Recoverer func() bool

// Handler records classified faults, drives per-component circuit
// breakers, and notifies category subscribers. One Handler serves the
// whole pipeline; components receive it by reference from the
// composition root.
type Handler struct {
	mu         sync.Mutex
	records    *ring.Buffer[Record]
	subs       map[Category][]func(Record)
	breakers   map[string]*CircuitBreaker
	recoverers map[string]Recoverer

	breakerOpts []BreakerOption
	logger      *slog.Logger
	newID       idgen.Generator
	now         func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithHistorySize bounds the fault record buffer.
func WithHistorySize(n int) HandlerOption {
	return func(h *Handler) { h.records = ring.New[Record](n) }
}

// WithBreakerDefaults sets the options applied to every breaker the
// handler creates.
func WithBreakerDefaults(opts ...BreakerOption) HandlerOption {
	return func(h *Handler) { h.breakerOpts = opts }
}

// WithClock sets a custom clock (for testing). Breakers created after
// this option is applied share the clock.
func WithClock(fn func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = fn
		h.breakerOpts = append(h.breakerOpts, WithBreakerClock(fn))
	}
}

// NewHandler creates a Handler with a 200-record history.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		records:    ring.New[Record](200),
		subs:       make(map[Category][]func(Record)),
		breakers:   make(map[string]*CircuitBreaker),
		recoverers: make(map[string]Recoverer),
		logger:     slog.Default(),
		newID:      idgen.Prefixed("flt_", idgen.UUIDv7()),
		now:        time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle records one fault. It updates the component's breaker, notifies
// subscribers of the category, and on critical severity invokes the
// component's registered recoverer. Handle itself never fails.
func (h *Handler) Handle(err error, cat Category, sev Severity, component string) {
	if err == nil {
		return
	}

	rec := Record{
		ID:        h.newID(),
		Time:      h.now(),
		Component: component,
		Category:  cat,
		Severity:  sev.String(),
		Message:   err.Error(),
	}
	h.records.Append(rec)

	h.Breaker(component).RecordFailure()

	h.logger.Warn("fault: recorded",
		"component", component,
		"category", string(cat),
		"severity", sev.String(),
		"error", err)

	h.mu.Lock()
	subs := make([]func(Record), len(h.subs[cat]))
	copy(subs, h.subs[cat])
	recover := h.recoverers[component]
	h.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}

	if sev == SeverityCritical && recover != nil {
		if ok := recover(); ok {
			h.MarkResolved(component)
			h.logger.Info("fault: component recovered", "component", component)
		} else {
			h.logger.Error("fault: recovery failed", "component", component)
		}
	}
}

// Success records a successful operation for component, feeding the
// breaker's closed/half-open accounting.
func (h *Handler) Success(component string) {
	h.Breaker(component).RecordSuccess()
}

// OnError registers fn to be called for every fault in cat.
func (h *Handler) OnError(cat Category, fn func(Record)) {
	h.mu.Lock()
	h.subs[cat] = append(h.subs[cat], fn)
	h.mu.Unlock()
}

// RegisterRecoverer registers the recovery hook for a component.
func (h *Handler) RegisterRecoverer(component string, fn Recoverer) {
	h.mu.Lock()
	h.recoverers[component] = fn
	h.mu.Unlock()
}

// Breaker returns the component's circuit breaker, creating it on first
// use with the handler's breaker defaults.
func (h *Handler) Breaker(component string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[component]
	if !ok {
		cb = NewCircuitBreaker(h.breakerOpts...)
		h.breakers[component] = cb
	}
	return cb
}

// ShouldDisable reports whether the component's breaker currently
// rejects calls.
func (h *Handler) ShouldDisable(component string) bool {
	return h.Breaker(component).State() == BreakerOpen
}

// MarkResolved flags all recorded faults of component as resolved.
// Statistics stops counting them immediately; the records stay in the
// history until CleanupResolved drops them.
func (h *Handler) MarkResolved(component string) {
	all := h.records.Snapshot()
	h.records.Clear()
	for _, r := range all {
		if r.Component == component {
			r.Resolved = true
		}
		h.records.Append(r)
	}
}

// Recent returns up to n most recent fault records, newest last.
func (h *Handler) Recent(n int) []Record {
	all := h.records.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// CleanupResolved drops resolved records and any record older than
// maxAge from the history buffer.
func (h *Handler) CleanupResolved(maxAge time.Duration) {
	cutoff := h.now().Add(-maxAge)
	kept := h.records.Filter(func(r Record) bool {
		return !r.Resolved && r.Time.After(cutoff)
	})
	h.records.Clear()
	for _, r := range kept {
		h.records.Append(r)
	}
}

// Statistics summarises the recorded faults and breaker states.
func (h *Handler) Statistics() Statistics {
	stats := Statistics{
		ByCategory:  make(map[Category]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
		OpenCircuit: make(map[string]bool),
	}
	for _, r := range h.records.Snapshot() {
		if r.Resolved {
			continue
		}
		stats.Total++
		stats.ByCategory[r.Category]++
		stats.BySeverity[r.Severity]++
		stats.ByComponent[r.Component]++
	}
	h.mu.Lock()
	names := make([]string, 0, len(h.breakers))
	for name := range h.breakers {
		names = append(names, name)
	}
	h.mu.Unlock()
	for _, name := range names {
		stats.OpenCircuit[name] = h.Breaker(name).State() == BreakerOpen
	}
	return stats
}
