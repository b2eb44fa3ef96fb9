// Package observe maintains a continuously updated, bounded-memory
// picture of a page's structure and interaction without degrading page
// performance. Raw host callbacks are coalesced into throttled batches;
// consumers read shallow snapshots of the bounded buffers.
package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesense/fault"
	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/ring"
)

// Component is the name this observer reports faults under.
const Component = "observe"

// Config configures an Observer.
type Config struct {
	Host page.Host

	// ThrottleInterval is the change coalescing window. Default: 100ms.
	ThrottleInterval time.Duration
	// MaxBatch flushes a batch early when it reaches this size. Default: 500.
	MaxBatch int
	// ChangeBuffer bounds the change history. Default: 1000.
	ChangeBuffer int
	// InteractionBuffer bounds the interaction history. Default: 500.
	InteractionBuffer int
	// LayoutTimeout bounds the synchronous layout call. Default: 2s.
	LayoutTimeout time.Duration

	// ModalZIndexMin is the minimum z-index for modal candidates. Default: 100.
	ModalZIndexMin int
	// OverlayCoverageMin is the viewport coverage ratio at which a
	// candidate counts as a full-page overlay. Default: 0.8.
	OverlayCoverageMin float64

	Faults *fault.Handler
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = 100 * time.Millisecond
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.ChangeBuffer <= 0 {
		c.ChangeBuffer = 1000
	}
	if c.InteractionBuffer <= 0 {
		c.InteractionBuffer = 500
	}
	if c.LayoutTimeout <= 0 {
		c.LayoutTimeout = 2 * time.Second
	}
	if c.ModalZIndexMin <= 0 {
		c.ModalZIndexMin = 100
	}
	if c.OverlayCoverageMin <= 0 {
		c.OverlayCoverageMin = 0.8
	}
	if c.Faults == nil {
		c.Faults = fault.NewHandler()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Observer is the DOM observation component. One Observer serves one
// page host. Safe for concurrent use.
type Observer struct {
	cfg    Config
	host   page.Host
	logger *slog.Logger
	faults *fault.Handler

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopMut  func()
	stopIntr func()

	// closed gates buffer writes: once set, late callbacks are dropped.
	// This is what makes Stop safe to call from an in-flight callback.
	closed atomic.Bool

	changes      *ring.Buffer[page.ChangeRecord]
	interactions *ring.Buffer[page.InteractionRecord]
	rawCh        chan page.ChangeRecord
	done         chan struct{}
}

// New creates an Observer. Call Start to begin observing.
func New(cfg Config) *Observer {
	cfg.defaults()
	return &Observer{
		cfg:          cfg,
		host:         cfg.Host,
		logger:       cfg.Logger,
		faults:       cfg.Faults,
		changes:      ring.New[page.ChangeRecord](cfg.ChangeBuffer),
		interactions: ring.New[page.InteractionRecord](cfg.InteractionBuffer),
	}
}

// Start begins observing. Idempotent: a second call on a running
// observer is a no-op. Fails with *fault.ObservationUnsupportedError
// when the host lacks the mutation primitive; interaction observation is
// optional and degrades silently.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	o.closed.Store(false)
	o.rawCh = make(chan page.ChangeRecord, 4096)
	o.done = make(chan struct{})

	stopMut, err := o.host.WatchMutations(runCtx, o.onChange)
	if err != nil {
		cancel()
		if errors.Is(err, page.ErrMutationsUnsupported) {
			return &fault.ObservationUnsupportedError{Component: Component, Missing: "mutations"}
		}
		return fmt.Errorf("observe: start: %w", err)
	}

	stopIntr, err := o.host.WatchInteractions(runCtx, o.onInteraction)
	if err != nil {
		// Optional capability: degrade without interactions.
		o.logger.Warn("observe: interaction observation unavailable", "error", err)
		stopIntr = func() {}
	}

	o.cancel = cancel
	o.stopMut = stopMut
	o.stopIntr = stopIntr
	o.running = true

	go o.loop(runCtx)

	o.logger.Info("observe: started",
		"throttle_ms", o.cfg.ThrottleInterval.Milliseconds(),
		"change_buffer", o.cfg.ChangeBuffer)
	return nil
}

// Stop halts observation and releases all handles. Idempotent, and safe
// to call from within an in-flight callback: no buffer write happens
// after Stop returns.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.closed.Store(true)
	o.stopMut()
	o.stopIntr()
	o.cancel()
	done := o.done
	o.mu.Unlock()

	// Wait briefly for the processing loop to drain; a stuck loop must
	// not block the caller.
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	o.logger.Info("observe: stopped")
}

// Running reports whether the observer is active.
func (o *Observer) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// onChange is the host mutation callback. It never blocks the host: when
// the raw channel is full the record is dropped and counted as a fault.
func (o *Observer) onChange(rec page.ChangeRecord) {
	if o.closed.Load() {
		return
	}
	select {
	case o.rawCh <- rec:
	default:
		o.faults.Handle(fmt.Errorf("observe: raw change buffer full, record dropped"),
			fault.CategoryObservation, fault.SeverityLow, Component)
	}
}

// onInteraction records a user interaction directly; interactions are
// rare enough not to need throttling.
func (o *Observer) onInteraction(rec page.InteractionRecord) {
	if o.closed.Load() {
		return
	}
	o.interactions.Append(rec)
}

// loop is the single consumer goroutine: raw records are throttled into
// batches and appended to the bounded change buffer.
func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)

	th := newThrottler(throttleConfig{
		Interval: o.cfg.ThrottleInterval,
		MaxBatch: o.cfg.MaxBatch,
	}, o.commit)

	for {
		select {
		case <-ctx.Done():
			th.flush()
			return
		case rec := <-o.rawCh:
			th.add(rec)
		case <-th.timerC():
			th.flush()
		}
	}
}

func (o *Observer) commit(batch []page.ChangeRecord) {
	if o.closed.Load() {
		return
	}
	for _, rec := range batch {
		o.changes.Append(rec)
	}
}

// RecentChanges returns the buffered changes within the window, oldest
// first. A non-positive window returns the full buffer.
func (o *Observer) RecentChanges(window time.Duration) []page.ChangeRecord {
	if window <= 0 {
		return o.changes.Snapshot()
	}
	cutoff := time.Now().Add(-window)
	return o.changes.Filter(func(r page.ChangeRecord) bool {
		return r.Timestamp.After(cutoff)
	})
}

// RecentInteractions returns the buffered interactions within the
// window, oldest first. A non-positive window returns the full buffer.
func (o *Observer) RecentInteractions(window time.Duration) []page.InteractionRecord {
	if window <= 0 {
		return o.interactions.Snapshot()
	}
	cutoff := time.Now().Add(-window)
	return o.interactions.Filter(func(r page.InteractionRecord) bool {
		return r.Timestamp.After(cutoff)
	})
}

// ClearData drops all buffered observation state (privacy "clear all").
func (o *Observer) ClearData() {
	o.changes.Clear()
	o.interactions.Clear()
	o.logger.Info("observe: buffers cleared")
}

// CurrentLayout returns a best-effort classified layout snapshot. It
// never fails: on any host error a zeroed snapshot is returned.
func (o *Observer) CurrentLayout() Layout {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.LayoutTimeout)
	defer cancel()

	snap, err := o.host.Layout(ctx)
	if err != nil {
		o.faults.Handle(err, fault.CategoryObservation, fault.SeverityLow, Component)
		return Layout{LayoutSnapshot: page.LayoutSnapshot{Timestamp: time.Now()}}
	}
	return classifyLayout(snap, o.cfg.ModalZIndexMin, o.cfg.OverlayCoverageMin)
}
