// Package fault provides cross-cutting fault classification for the
// monitoring pipeline: an error handler with per-component circuit
// breakers, category subscriptions, retry with backoff, and error
// statistics.
//
// Nothing in the pipeline surfaces an unhandled error to the host page.
// Components report failures here and degrade; the handler decides when
// a component has failed often enough to be disabled and when a critical
// failure warrants immediate recovery.
package fault

import (
	"fmt"
	"time"
)

// Category classifies where in the pipeline a fault occurred.
type Category string

const (
	CategoryObservation   Category = "observation"
	CategoryCapture       Category = "capture"
	CategorySanitization  Category = "sanitization"
	CategoryExtraction    Category = "extraction"
	CategoryAggregation   Category = "aggregation"
	CategoryConfiguration Category = "configuration"
)

// Severity ranks the impact of a fault.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	// SeverityCritical triggers immediate recovery of the owning component.
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ObservationUnsupportedError is returned by an observer whose host lacks
// the mutation primitive. Fatal to that observer only: the caller decides
// whether to proceed without it.
type ObservationUnsupportedError struct {
	Component string
	Missing   string
}

func (e *ObservationUnsupportedError) Error() string {
	return fmt.Sprintf("fault: %s: observation primitive unavailable: %s", e.Component, e.Missing)
}

// CircuitOpenError is the expected short-circuit result when a
// component's breaker is open. Never retried.
type CircuitOpenError struct {
	Component string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("fault: circuit open: %s", e.Component)
}

// Record is one classified fault occurrence.
type Record struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Category  Category  `json:"category"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Resolved  bool      `json:"resolved"`
}

// Statistics summarises recorded faults.
type Statistics struct {
	Total       int                `json:"total"`
	ByCategory  map[Category]int   `json:"byCategory"`
	BySeverity  map[string]int     `json:"bySeverity"`
	ByComponent map[string]int     `json:"byComponent"`
	OpenCircuit map[string]bool    `json:"openCircuit"`
}
