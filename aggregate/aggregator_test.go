package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/pagesense/netmon"
	"github.com/hazyhaar/pagesense/observe"
	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/semantic"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeDoc struct {
	info    page.Info
	html    string
	infoErr error
	htmlErr error
}

func (d *fakeDoc) Info(context.Context) (page.Info, error) { return d.info, d.infoErr }
func (d *fakeDoc) DocumentHTML(context.Context) (string, error) {
	return d.html, d.htmlErr
}

type fakeDOM struct {
	layout       observe.Layout
	changes      []page.ChangeRecord
	interactions []page.InteractionRecord
}

func (d *fakeDOM) RecentChanges(time.Duration) []page.ChangeRecord { return d.changes }
func (d *fakeDOM) RecentInteractions(time.Duration) []page.InteractionRecord {
	return d.interactions
}
func (d *fakeDOM) CurrentLayout() observe.Layout { return d.layout }

type fakeNet struct {
	records []netmon.Record
	stats   netmon.Statistics
}

func (n *fakeNet) Activity() []netmon.Record     { return n.records }
func (n *fakeNet) Statistics() netmon.Statistics { return n.stats }

// brokenSemantics simulates a completely failed extractor.
type brokenSemantics struct{}

func (brokenSemantics) Extract(string) *semantic.Data { return nil }

const formPage = `<html><head><title>Signup</title></head><body>
<h1>Create account</h1>
<form action="/signup" method="post">
  <input type="text" name="email" required>
  <input type="password" name="password" required>
</form>
</body></html>`

func newTestAggregator(t *testing.T, clock *fakeClock) (*Aggregator, *fakeDoc) {
	t.Helper()
	doc := &fakeDoc{
		info: page.Info{URL: "https://app.example.com/signup", Title: "Signup"},
		html: formPage,
	}
	agg := New(Config{
		Document:  doc,
		DOM:       &fakeDOM{},
		Network:   &fakeNet{},
		Semantics: semantic.New(),
		Clock:     clock.Now,
	})
	return agg, doc
}

func TestContextClassifiesFormPage(t *testing.T) {
	agg, _ := newTestAggregator(t, newFakeClock())

	c, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if c.Summary.PageType != "form" {
		t.Errorf("pageType = %q, want form", c.Summary.PageType)
	}
	if len(c.Content.Forms) != 1 || len(c.Content.Forms[0].Fields) != 2 {
		t.Fatalf("forms = %+v, want one 2-field form", c.Content.Forms)
	}
	if !c.Content.Forms[0].Fields[0].Required {
		t.Error("first field should be required")
	}
	if c.Metadata.URL != "https://app.example.com/signup" {
		t.Errorf("url = %q", c.Metadata.URL)
	}
}

func TestContextCacheHitInsideWindow(t *testing.T) {
	clock := newFakeClock()
	agg, _ := newTestAggregator(t, clock)

	first, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if first.Metadata.CacheHit {
		t.Error("first call should not be a cache hit")
	}

	clock.Advance(10 * time.Second)
	second, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !second.Metadata.CacheHit || !second.Performance.CacheHit {
		t.Error("second call inside window should report cacheHit")
	}
	if !second.Metadata.Timestamp.Equal(first.Metadata.Timestamp) {
		t.Error("cache hit should serve the same snapshot")
	}
	if second.Metadata.DataQuality.Freshness >= 1 {
		t.Errorf("freshness = %v, want < 1 for an aged snapshot",
			second.Metadata.DataQuality.Freshness)
	}
}

func TestContextRecomputesAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	agg, _ := newTestAggregator(t, clock)

	first, _ := agg.Context(context.Background())
	clock.Advance(31 * time.Second)
	second, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if second.Metadata.CacheHit {
		t.Error("expired cache entry must never be served")
	}
	if second.Metadata.Timestamp.Equal(first.Metadata.Timestamp) {
		t.Error("expiry should trigger recomputation")
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	clock := newFakeClock()
	agg, _ := newTestAggregator(t, clock)

	agg.Context(context.Background())
	agg.Invalidate()
	clock.Advance(time.Second)
	c, _ := agg.Context(context.Background())
	if c.Metadata.CacheHit {
		t.Error("Invalidate should drop the cached context")
	}
}

func TestContextUpdatedFiresOnRecomputeOnly(t *testing.T) {
	clock := newFakeClock()
	agg, _ := newTestAggregator(t, clock)

	fired := 0
	agg.Subscribe(EventContextUpdated, func(*AggregatedContext) { fired++ })

	agg.Context(context.Background())
	agg.Context(context.Background()) // cache hit
	if fired != 1 {
		t.Errorf("context_updated fired %d times, want 1", fired)
	}

	clock.Advance(31 * time.Second)
	agg.Context(context.Background())
	if fired != 2 {
		t.Errorf("context_updated fired %d times after expiry, want 2", fired)
	}
}

func TestSemanticFailureDegradesCompletenessOnly(t *testing.T) {
	clock := newFakeClock()
	doc := &fakeDoc{info: page.Info{URL: "https://x"}, html: formPage}
	agg := New(Config{
		Document:  doc,
		DOM:       &fakeDOM{},
		Network:   &fakeNet{},
		Semantics: brokenSemantics{},
		Clock:     clock.Now,
	})

	c, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if c.Summary.PageType == "" || c.Content.Text == "" {
		t.Error("summary/content should stay populated when semantics fail")
	}
	if q := c.Metadata.DataQuality.Completeness; q >= 1 {
		t.Errorf("completeness = %v, want < 1.0", q)
	}
}

func TestDocumentFailureStillAggregates(t *testing.T) {
	clock := newFakeClock()
	doc := &fakeDoc{
		infoErr: errors.New("tab gone"),
		htmlErr: errors.New("tab gone"),
	}
	agg := New(Config{
		Document: doc,
		DOM: &fakeDOM{interactions: []page.InteractionRecord{
			{Kind: page.InteractClick, Timestamp: clock.Now()},
		}},
		Network:   &fakeNet{},
		Semantics: semantic.New(),
		Clock:     clock.Now,
	})

	c, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if c.Summary.UserActivity.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", c.Summary.UserActivity.Clicks)
	}
	if q := c.Metadata.DataQuality.Completeness; q != 0.5 {
		t.Errorf("completeness = %v, want 0.5 (document and semantics lost)", q)
	}
}

func TestDataFlowsListsDistinctHosts(t *testing.T) {
	clock := newFakeClock()
	net := &fakeNet{records: []netmon.Record{
		{URL: "https://api.example.com/a"},
		{URL: "https://api.example.com/b"},
		{URL: "https://cdn.example.net/x.js"},
	}}
	agg := New(Config{
		Document:  &fakeDoc{html: "<html><body>hi</body></html>"},
		Network:   net,
		Semantics: semantic.New(),
		Clock:     clock.Now,
	})

	c, _ := agg.Context(context.Background())
	flows := c.Summary.DataFlows
	if len(flows) != 2 {
		t.Fatalf("dataFlows = %v, want 2 distinct hosts", flows)
	}
	if flows[0] != "cdn.example.net" {
		t.Errorf("flows[0] = %q, want most recent host first", flows[0])
	}
}

func TestRelevanceScoreClamped(t *testing.T) {
	now := time.Now()
	var interactions []page.InteractionRecord
	for range 50 {
		interactions = append(interactions, page.InteractionRecord{
			Kind: page.InteractClick, Timestamp: now,
		})
	}
	c := Content{Text: string(make([]byte, 10000))}
	sem := &semantic.Data{Schema: []semantic.Item{{Type: "Product"}}}

	score := relevanceScore(interactions, c, sem, now)
	if score < 0 || score > 1 {
		t.Errorf("score = %v, want within [0,1]", score)
	}
	if score < 0.9 {
		t.Errorf("score = %v, want near 1 for maximal signals", score)
	}
}

func TestClassifyEcommerce(t *testing.T) {
	sem := &semantic.Data{Custom: []semantic.NamespaceResult{
		{Namespace: "product", Data: map[string]any{"price": "19.99"}},
	}}
	if got := classifyPageType(Content{}, sem); got != "ecommerce" {
		t.Errorf("pageType = %q, want ecommerce", got)
	}
}

func TestClassifyDashboard(t *testing.T) {
	if got := classifyPageType(Content{Charts: 3}, nil); got != "dashboard" {
		t.Errorf("pageType = %q, want dashboard", got)
	}
}

func TestTimestampNotInFuture(t *testing.T) {
	clock := newFakeClock()
	agg, _ := newTestAggregator(t, clock)
	c, _ := agg.Context(context.Background())
	if c.Metadata.Timestamp.After(clock.Now()) {
		t.Error("metadata.timestamp must not exceed now")
	}
}

func TestContextIncludesRecentDOMChanges(t *testing.T) {
	clock := newFakeClock()
	doc := &fakeDoc{
		info: page.Info{URL: "https://app.example.com", Title: "App"},
		html: formPage,
	}
	var changes []page.ChangeRecord
	for i := 0; i < 60; i++ {
		changes = append(changes, page.ChangeRecord{
			Op:        page.OpText,
			XPath:     "/html/body/div",
			Value:     "tick",
			Timestamp: clock.Now(),
		})
	}
	agg := New(Config{
		Document: doc,
		DOM:      &fakeDOM{changes: changes},
		Clock:    clock.Now,
	})

	c, err := agg.Context(context.Background())
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(c.Changes) != 50 {
		t.Fatalf("changes = %d, want capped at 50", len(c.Changes))
	}
	if c.Changes[0].Op != page.OpText {
		t.Errorf("change op = %q", c.Changes[0].Op)
	}
}

func TestPrimaryContentTruncationKeepsValidUTF8(t *testing.T) {
	// No headings, so the leading text slice is used; the cut point
	// lands mid-rune.
	text := "a" + strings.Repeat("€", 120)
	got := primaryContent(Content{Text: text})

	if !utf8.ValidString(got) {
		t.Fatalf("primary content is not valid UTF-8: %q", got)
	}
	if len(got) == 0 || len(got) > 240 {
		t.Errorf("length = %d, want 0 < n <= 240", len(got))
	}
}
