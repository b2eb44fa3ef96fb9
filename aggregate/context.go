// Package aggregate merges DOM, network and semantic observations into
// a single scored snapshot, the AggregatedContext. The aggregator is
// the sole owner of the medium-lived context cache: consumers always go
// through Context, which serves the cached value inside the freshness
// window and recomputes on miss. A failing individual source degrades
// only its own section; aggregation as a whole still succeeds, with the
// loss reflected in dataQuality.completeness.
package aggregate

import (
	"time"

	"github.com/hazyhaar/pagesense/netmon"
	"github.com/hazyhaar/pagesense/observe"
	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/semantic"
)

// Event tags one aggregator notification category.
type Event string

// EventContextUpdated fires on every aggregation recompute, carrying
// the freshly built context. Cache hits do not fire it.
const EventContextUpdated Event = "context_updated"

// DataQuality scores one aggregation pass, each dimension in 0..1.
type DataQuality struct {
	// Completeness is the fraction of sources that returned data.
	Completeness float64 `json:"completeness"`
	// Freshness is the inverse age of the served snapshot.
	Freshness float64 `json:"freshness"`
	// Accuracy discounts extraction failures.
	Accuracy float64 `json:"accuracy"`
	// Relevance mirrors the summary relevance score.
	Relevance float64 `json:"relevance"`
}

// UserActivity tallies recent interactions by kind.
type UserActivity struct {
	Clicks  int       `json:"clicks"`
	Inputs  int       `json:"inputs"`
	Submits int       `json:"submits"`
	Scrolls int       `json:"scrolls"`
	LastAt  time.Time `json:"lastAt,omitzero"`
}

// Summary is the derived, AI-oriented digest of the page.
type Summary struct {
	PageType       string       `json:"pageType"`
	PrimaryContent string       `json:"primaryContent"`
	KeyElements    []string     `json:"keyElements"`
	UserActivity   UserActivity `json:"userActivity"`
	DataFlows      []string     `json:"dataFlows"`
	RelevanceScore float64      `json:"relevanceScore"`
}

// Metadata describes provenance and quality of one snapshot.
type Metadata struct {
	Timestamp       time.Time     `json:"timestamp"`
	URL             string        `json:"url"`
	Title           string        `json:"title"`
	AggregationTime time.Duration `json:"aggregationTime"`
	CacheHit        bool          `json:"cacheHit"`
	DataQuality     DataQuality   `json:"dataQuality"`
}

// Performance reports the cost of serving one Context call.
type Performance struct {
	ResponseTime   time.Duration `json:"responseTime"`
	DataSize       int           `json:"dataSize"`
	CacheHit       bool          `json:"cacheHit"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// NetworkSummary is the network section of a snapshot.
type NetworkSummary struct {
	Recent []netmon.Record   `json:"recent"`
	Stats  netmon.Statistics `json:"stats"`
}

// AggregatedContext is the merged, scored snapshot combining DOM,
// network and semantic observations at one point in time. Instances are
// superseded, never mutated.
type AggregatedContext struct {
	Summary      Summary                  `json:"summary"`
	Content      Content                  `json:"content"`
	Layout       observe.Layout           `json:"layout"`
	Changes      []page.ChangeRecord      `json:"changes"`
	Network      NetworkSummary           `json:"network"`
	Interactions []page.InteractionRecord `json:"interactions"`
	Semantics    *semantic.Data           `json:"semantics,omitempty"`
	Metadata     Metadata                 `json:"metadata"`
	Performance  Performance              `json:"performance"`
}
