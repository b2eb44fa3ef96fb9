package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pagesense/fault"
	"github.com/hazyhaar/pagesense/netmon"
	"github.com/hazyhaar/pagesense/observe"
	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/semantic"
)

// Component is the name this package reports to the fault handler.
const Component = "aggregate"

var errExtractionEmpty = errors.New("aggregate: semantic extraction produced no data")

// DOMSource supplies structure and interaction history. Satisfied by
// *observe.Observer.
type DOMSource interface {
	RecentChanges(window time.Duration) []page.ChangeRecord
	RecentInteractions(window time.Duration) []page.InteractionRecord
	CurrentLayout() observe.Layout
}

// NetworkSource supplies captured network activity. Satisfied by
// *netmon.Monitor.
type NetworkSource interface {
	Activity() []netmon.Record
	Statistics() netmon.Statistics
}

// DocumentSource supplies page identity and the serialized DOM.
// Satisfied by any page.Host.
type DocumentSource interface {
	Info(ctx context.Context) (page.Info, error)
	DocumentHTML(ctx context.Context) (string, error)
}

// SemanticSource extracts structured data from a serialized document.
// Satisfied by *semantic.Extractor.
type SemanticSource interface {
	Extract(src string) *semantic.Data
}

// Config wires an Aggregator. Any source may be nil; a nil source
// simply lowers completeness.
type Config struct {
	Document  DocumentSource
	DOM       DOMSource
	Network   NetworkSource
	Semantics SemanticSource

	Faults *fault.Handler

	// CacheTTL is the freshness window. Default 30s.
	CacheTTL time.Duration
	// ActivityWindow bounds how far back interactions and changes are
	// pulled. Default 5m.
	ActivityWindow time.Duration
	// MaxRecentRequests caps the network section. Default 20.
	MaxRecentRequests int
	// MaxRecentChanges caps the DOM change section. Default 50.
	MaxRecentChanges int

	Logger *slog.Logger
	Clock  func() time.Time
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = 5 * time.Minute
	}
	if c.MaxRecentRequests <= 0 {
		c.MaxRecentRequests = 20
	}
	if c.MaxRecentChanges <= 0 {
		c.MaxRecentChanges = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// sourceCount is the completeness denominator: document, DOM, network
// and semantics.
const sourceCount = 4

// Aggregator owns the context cache and the context_updated event.
type Aggregator struct {
	cfg Config

	mu       sync.Mutex
	cached   *AggregatedContext
	cachedAt time.Time

	subMu sync.RWMutex
	subs  map[Event][]func(*AggregatedContext)
}

// New returns an Aggregator for the given sources.
func New(cfg Config) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		cfg:  cfg,
		subs: map[Event][]func(*AggregatedContext){},
	}
}

// Subscribe registers fn for one event category. fn runs synchronously
// on the aggregating goroutine and must not block.
func (a *Aggregator) Subscribe(ev Event, fn func(*AggregatedContext)) {
	a.subMu.Lock()
	a.subs[ev] = append(a.subs[ev], fn)
	a.subMu.Unlock()
}

func (a *Aggregator) publish(ev Event, c *AggregatedContext) {
	a.subMu.RLock()
	subs := a.subs[ev]
	a.subMu.RUnlock()
	for _, fn := range subs {
		fn(c)
	}
}

// Invalidate drops the cached context; the next Context call rebuilds.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Context returns the current aggregated context, served from cache
// when inside the freshness window. It only fails on context
// cancellation; degraded sources lower quality scores instead of
// erroring.
func (a *Aggregator) Context(ctx context.Context) (*AggregatedContext, error) {
	start := a.cfg.Clock()

	a.mu.Lock()
	if a.cached != nil {
		age := start.Sub(a.cachedAt)
		if age >= 0 && age < a.cfg.CacheTTL {
			hit := *a.cached
			a.mu.Unlock()
			hit.Metadata.CacheHit = true
			hit.Metadata.DataQuality.Freshness = 1 - age.Seconds()/a.cfg.CacheTTL.Seconds()
			hit.Performance.CacheHit = true
			hit.Performance.ResponseTime = a.cfg.Clock().Sub(start)
			return &hit, nil
		}
	}
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	built := a.build(ctx, start)

	a.mu.Lock()
	a.cached = built
	a.cachedAt = start
	a.mu.Unlock()

	a.publish(EventContextUpdated, built)

	out := *built
	out.Performance.ResponseTime = a.cfg.Clock().Sub(start)
	return &out, nil
}

// build performs one full aggregation pass. Every source failure is
// reported to the fault handler and degrades only its own section.
func (a *Aggregator) build(ctx context.Context, now time.Time) *AggregatedContext {
	c := &AggregatedContext{}
	sourcesOK := 0

	var htmlSrc string
	if a.cfg.Document != nil {
		info, err := a.cfg.Document.Info(ctx)
		if err != nil {
			a.handle(err)
		} else {
			c.Metadata.URL = info.URL
			c.Metadata.Title = info.Title
		}
		htmlSrc, err = a.cfg.Document.DocumentHTML(ctx)
		if err != nil {
			a.handle(err)
		} else {
			sourcesOK++
		}
	}
	c.Content = extractContent(htmlSrc)

	if a.cfg.DOM != nil {
		c.Layout = a.cfg.DOM.CurrentLayout()
		changes := a.cfg.DOM.RecentChanges(a.cfg.ActivityWindow)
		if len(changes) > a.cfg.MaxRecentChanges {
			changes = changes[len(changes)-a.cfg.MaxRecentChanges:]
		}
		c.Changes = changes
		c.Interactions = a.cfg.DOM.RecentInteractions(a.cfg.ActivityWindow)
		sourcesOK++
	}

	if a.cfg.Network != nil {
		recent := a.cfg.Network.Activity()
		if len(recent) > a.cfg.MaxRecentRequests {
			recent = recent[len(recent)-a.cfg.MaxRecentRequests:]
		}
		c.Network = NetworkSummary{Recent: recent, Stats: a.cfg.Network.Statistics()}
		sourcesOK++
	}

	if a.cfg.Semantics != nil && htmlSrc != "" {
		if sem := a.cfg.Semantics.Extract(htmlSrc); sem != nil {
			c.Semantics = sem
			sourcesOK++
		} else {
			a.handle(errExtractionEmpty)
		}
	}

	relevance := relevanceScore(c.Interactions, c.Content, c.Semantics, now)

	c.Summary = Summary{
		PageType:       classifyPageType(c.Content, c.Semantics),
		PrimaryContent: primaryContent(c.Content),
		KeyElements:    keyElements(c.Content, c.Layout),
		UserActivity:   tallyActivity(c.Interactions),
		DataFlows:      dataFlows(c.Network.Recent),
		RelevanceScore: relevance,
	}

	elapsed := a.cfg.Clock().Sub(now)
	c.Metadata.Timestamp = now
	c.Metadata.AggregationTime = elapsed
	c.Metadata.DataQuality = DataQuality{
		Completeness: float64(sourcesOK) / sourceCount,
		Freshness:    1,
		Accuracy:     accuracyScore(c.Semantics),
		Relevance:    relevance,
	}
	c.Performance = Performance{
		DataSize:       len(c.Content.Text),
		ProcessingTime: elapsed,
	}
	return c
}

func (a *Aggregator) handle(err error) {
	a.cfg.Logger.Warn("aggregation source failed", "error", err)
	if a.cfg.Faults != nil {
		a.cfg.Faults.Handle(err, fault.CategoryAggregation, fault.SeverityLow, Component)
	}
}

// primaryContent is the leading slice of the page's main text.
func primaryContent(c Content) string {
	if len(c.Headings) > 0 {
		return c.Headings[0]
	}
	const limit = 240
	if len(c.Text) > limit {
		return strings.ToValidUTF8(c.Text[:limit], "")
	}
	return c.Text
}

// keyElements lists the page features an assistant should know exist.
func keyElements(c Content, layout observe.Layout) []string {
	var out []string
	for i, h := range c.Headings {
		if i == 3 {
			break
		}
		out = append(out, "heading: "+h)
	}
	for _, f := range c.Forms {
		label := f.Action
		if label == "" {
			label = "unnamed"
		}
		out = append(out, "form: "+label)
	}
	if len(c.Tables) > 0 {
		out = append(out, "tables")
	}
	if layout.HasModal() {
		out = append(out, "modal overlay")
	}
	return out
}

// dataFlows lists the distinct hosts the page talks to, most recent
// first, capped at five.
func dataFlows(recent []netmon.Record) []string {
	seen := map[string]bool{}
	var out []string
	for i := len(recent) - 1; i >= 0 && len(out) < 5; i-- {
		u, err := url.Parse(recent[i].URL)
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		out = append(out, u.Host)
	}
	return out
}
