// Package netmon captures a page's outbound network traffic
// transparently while resisting silent disablement. Capture is
// observational: the real request is never altered, delayed or blocked
// by a monitoring failure. Every captured record passes the privacy
// policy before storage, and the capture path runs behind a circuit
// breaker with a periodic health check that detects and repairs an
// externally removed tap.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagesense/fault"
	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/privacy"
	"github.com/hazyhaar/pagesense/ring"
)

// Component is the name this monitor reports faults under.
const Component = "netmon"

// Record is one sanitized network activity entry.
type Record struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Status    int               `json:"status"`
	Type      string            `json:"type"`
	Headers   map[string]string `json:"headers,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Failed    bool              `json:"failed,omitempty"`
}

// Statistics are derived counters over the activity buffer.
type Statistics struct {
	TotalRequests       int            `json:"totalRequests"`
	FailedRequests      int            `json:"failedRequests"`
	SuccessRate         float64        `json:"successRate"`
	AverageResponseTime time.Duration  `json:"averageResponseTime"`
	RequestsByType      map[string]int `json:"requestsByType"`
}

// Health is the monitor's self-reported condition.
type Health struct {
	ErrorCount        int       `json:"errorCount"`
	LastHealthCheck   time.Time `json:"lastHealthCheck"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Degraded          bool      `json:"degraded"`
	BreakerState      string    `json:"breakerState"`
}

// Config configures a Monitor.
type Config struct {
	Host    page.Host
	Privacy *privacy.Controller
	Faults  *fault.Handler

	// MaxRecords bounds the activity buffer. Default: 500.
	MaxRecords int
	// HealthInterval is the tap health check cadence. Default: 30s.
	HealthInterval time.Duration
	// MaxReconnectAttempts bounds Recover. Default: 5.
	MaxReconnectAttempts int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxRecords <= 0 {
		c.MaxRecords = 500
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Faults == nil {
		c.Faults = fault.NewHandler()
	}
	if c.Privacy == nil {
		c.Privacy = privacy.NewController(privacy.Config{}, c.Logger)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor is the network monitoring component for one page host.
type Monitor struct {
	cfg     Config
	host    page.Host
	privacy *privacy.Controller
	faults  *fault.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	degraded bool
	tap      page.NetworkTap
	cancel   context.CancelFunc
	runCtx   context.Context

	paused atomic.Bool
	closed atomic.Bool

	records *ring.Buffer[Record]

	healthMu        sync.Mutex
	errorCount      int
	lastHealthCheck time.Time
	reconnects      int

	// captureFn is the guarded capture path; swapped in tests to
	// simulate capture failures.
	captureFn func(page.NetworkEvent) error
}

// New creates a Monitor. Call Start to install the tap.
func New(cfg Config) *Monitor {
	cfg.defaults()
	m := &Monitor{
		cfg:     cfg,
		host:    cfg.Host,
		privacy: cfg.Privacy,
		faults:  cfg.Faults,
		logger:  cfg.Logger,
		records: ring.New[Record](cfg.MaxRecords),
	}
	m.captureFn = m.capture
	m.faults.RegisterRecoverer(Component, m.Recover)
	return m
}

// Start installs the network tap and begins the health check loop.
// Idempotent. A tap installation failure does not fail Start: the
// monitor enters degraded pass-through mode and reports the fault —
// the page's own networking is unaffected either way.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.closed.Store(false)
	m.paused.Store(false)

	tap, err := m.host.TapNetwork(runCtx, m.onEvent)
	if err != nil {
		m.degraded = true
		m.faults.Handle(fmt.Errorf("netmon: install tap: %w", err),
			fault.CategoryCapture, fault.SeverityHigh, Component)
	} else {
		m.tap = tap
		m.degraded = false
	}
	m.running = true

	go m.healthLoop(runCtx)

	m.logger.Info("netmon: started", "degraded", m.degraded,
		"health_interval", m.cfg.HealthInterval)
	return nil
}

// Stop uninstalls the tap and halts the health loop. Idempotent; no
// record is appended after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.closed.Store(true)
	if m.tap != nil {
		m.tap.Uninstall()
		m.tap = nil
	}
	m.cancel()
	m.logger.Info("netmon: stopped")
}

// Pause stops recording without uninstalling the tap.
func (m *Monitor) Pause() { m.paused.Store(true) }

// Resume re-enables recording after Pause.
func (m *Monitor) Resume() { m.paused.Store(false) }

// Running reports whether the monitor is active (possibly degraded).
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Degraded reports pass-through mode: monitoring requested but the tap
// could not be installed.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// onEvent is the host tap callback. Failures here fall back to the
// unmonitored call: the event is dropped, the fault recorded, and page
// networking continues untouched.
func (m *Monitor) onEvent(ev page.NetworkEvent) {
	if m.closed.Load() || m.paused.Load() {
		return
	}

	if !m.faults.Breaker(Component).Allow() {
		return
	}

	if err := m.captureFn(ev); err != nil {
		m.healthMu.Lock()
		m.errorCount++
		m.healthMu.Unlock()
		// Handle records the failure on this component's breaker.
		m.faults.Handle(err, fault.CategoryCapture, fault.SeverityMedium, Component)
		return
	}
	m.faults.Success(Component)
}

// capture sanitizes and stores one event. The privacy policy is re-read
// on every call; exclusion records nothing at all.
func (m *Monitor) capture(ev page.NetworkEvent) error {
	pol := m.privacy.Current()
	if !pol.ShouldMonitorURL(ev.URL) {
		return nil
	}

	rec := Record{
		URL:       pol.SanitizeURL(ev.URL),
		Method:    ev.Method,
		Status:    ev.Status,
		Type:      ev.Type,
		Headers:   sanitizeHeaders(pol, ev.RequestHeaders),
		Duration:  ev.Duration,
		Timestamp: ev.StartedAt,
		Failed:    ev.Failed,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.records.Append(rec)
	return nil
}

// sanitizeHeaders copies headers, dropping credentials outright and
// redacting sensitive values elsewhere.
func sanitizeHeaders(pol *privacy.Snapshot, in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch k {
		case "Authorization", "authorization", "Cookie", "cookie",
			"Set-Cookie", "set-cookie", "Proxy-Authorization":
			out[k] = privacy.Marker
		default:
			out[k] = pol.Redact(v)
		}
	}
	return out
}

// Activity returns a snapshot of the captured records, oldest first.
func (m *Monitor) Activity() []Record {
	return m.records.Snapshot()
}

// Statistics derives counters from the current activity buffer.
func (m *Monitor) Statistics() Statistics {
	recs := m.records.Snapshot()
	stats := Statistics{
		TotalRequests:  len(recs),
		RequestsByType: make(map[string]int),
	}
	if len(recs) == 0 {
		return stats
	}

	var totalDur time.Duration
	succeeded := 0
	for _, r := range recs {
		stats.RequestsByType[r.Type]++
		totalDur += r.Duration
		if r.Failed || r.Status >= 400 {
			stats.FailedRequests++
		} else {
			succeeded++
		}
	}
	stats.SuccessRate = float64(succeeded) / float64(len(recs))
	stats.AverageResponseTime = totalDur / time.Duration(len(recs))
	return stats
}

// Health returns the monitor's health counters.
func (m *Monitor) Health() Health {
	degraded := m.Degraded()
	state := m.faults.Breaker(Component).State().String()

	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return Health{
		ErrorCount:        m.errorCount,
		LastHealthCheck:   m.lastHealthCheck,
		ReconnectAttempts: m.reconnects,
		Degraded:          degraded,
		BreakerState:      state,
	}
}

// ClearData drops all captured records (privacy "clear all").
func (m *Monitor) ClearData() {
	m.records.Clear()
	m.logger.Info("netmon: activity cleared")
}

// healthLoop probes the tap on a fixed cadence and routes a dead tap
// through the fault handler as critical, which triggers Recover. The
// loop never blocks record reads: health state has its own lock.
func (m *Monitor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Monitor) checkHealth() {
	m.healthMu.Lock()
	m.lastHealthCheck = time.Now()
	m.healthMu.Unlock()

	m.mu.Lock()
	tap := m.tap
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}

	if tap == nil || !tap.Alive() {
		m.healthMu.Lock()
		m.errorCount++
		m.healthMu.Unlock()
		// Critical: the handler invokes our registered recoverer.
		m.faults.Handle(fmt.Errorf("netmon: network tap missing or dead"),
			fault.CategoryCapture, fault.SeverityCritical, Component)
	}
}

// Recover attempts to reinstall the tap. Bounded by
// MaxReconnectAttempts; returns false once the breaker has disabled the
// component or attempts are exhausted.
func (m *Monitor) Recover() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}

	m.healthMu.Lock()
	attempts := m.reconnects
	m.healthMu.Unlock()
	if attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("netmon: reconnect attempts exhausted", "attempts", attempts)
		return false
	}
	if m.faults.ShouldDisable(Component) {
		m.logger.Warn("netmon: recovery suppressed, circuit open")
		return false
	}

	m.healthMu.Lock()
	m.reconnects++
	m.healthMu.Unlock()

	if m.tap != nil {
		m.tap.Uninstall()
		m.tap = nil
	}

	tap, err := m.host.TapNetwork(m.runCtx, m.onEvent)
	if err != nil {
		m.degraded = true
		m.logger.Error("netmon: reinstall tap failed", "error", err)
		return false
	}
	m.tap = tap
	m.degraded = false
	m.logger.Info("netmon: tap reinstalled", "attempt", m.reconnects)
	return true
}
