// Package page defines the page observation port: the narrow interface
// between the monitoring pipeline and a concrete host environment
// (a CDP-driven browser, an extension content script bridge, a test
// fake). Everything above this port — observation buffering, network
// accounting, privacy filtering, aggregation — is host-agnostic.
package page

import (
	"context"
	"errors"
	"time"
)

// ErrMutationsUnsupported is returned by WatchMutations when the host
// lacks a mutation primitive. This is fatal to DOM observation only;
// other watch families degrade independently.
var ErrMutationsUnsupported = errors.New("page: mutation observation unsupported by host")

// ChangeOp is the type of DOM change observed.
type ChangeOp string

const (
	OpInsert   ChangeOp = "insert"    // node inserted (includes serialised subtree)
	OpRemove   ChangeOp = "remove"    // node removed
	OpText     ChangeOp = "text"      // character data modified
	OpAttr     ChangeOp = "attr"      // attribute modified
	OpAttrDel  ChangeOp = "attr_del"  // attribute removed
	OpDocReset ChangeOp = "doc_reset" // entire document replaced
)

// ChangeRecord is a single DOM change.
type ChangeRecord struct {
	Op        ChangeOp  `json:"op"`
	XPath     string    `json:"xpath"`
	NodeType  int       `json:"node_type,omitempty"` // 1=element, 3=text
	Tag       string    `json:"tag,omitempty"`
	Name      string    `json:"name,omitempty"`      // attribute name for attr ops
	Value     string    `json:"value,omitempty"`     // new value
	OldValue  string    `json:"old_value,omitempty"` // previous value
	HTML      string    `json:"html,omitempty"`      // serialised subtree for insert
	Timestamp time.Time `json:"timestamp"`
}

// InteractionKind classifies a user interaction.
type InteractionKind string

const (
	InteractClick  InteractionKind = "click"
	InteractInput  InteractionKind = "input"
	InteractScroll InteractionKind = "scroll"
	InteractFocus  InteractionKind = "focus"
	InteractSubmit InteractionKind = "submit"
)

// InteractionRecord is a single user interaction event.
type InteractionRecord struct {
	Kind      InteractionKind `json:"kind"`
	XPath     string          `json:"xpath,omitempty"`
	Tag       string          `json:"tag,omitempty"`
	Value     string          `json:"value,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Viewport is the visible page area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Scroll is the current scroll position and document height.
type Scroll struct {
	X         int `json:"x"`
	Y         int `json:"y"`
	DocHeight int `json:"doc_height"`
}

// Element describes one visible element in a layout snapshot.
type Element struct {
	XPath    string  `json:"xpath"`
	Tag      string  `json:"tag"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	ZIndex   int     `json:"z_index"`
	Position string  `json:"position"` // css position: static, fixed, absolute, ...
}

// LayoutSnapshot is a point-in-time picture of page geometry.
type LayoutSnapshot struct {
	Viewport  Viewport  `json:"viewport"`
	Scroll    Scroll    `json:"scroll"`
	Elements  []Element `json:"elements"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkEvent is one completed (or failed) network exchange observed on
// the page. Header maps hold a sanitizable copy; mutating them never
// affects the real request.
type NetworkEvent struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Status          int               `json:"status"` // 0 while pending or on transport failure
	Type            string            `json:"type"`   // xhr, fetch, document, script, image, ...
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
	Failed          bool              `json:"failed,omitempty"`
}

// Info identifies the observed page.
type Info struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// NetworkTap is an installed network interception handle. Alive is the
// health probe used to detect externally removed patches.
type NetworkTap interface {
	Alive() bool
	Uninstall()
}

// Host is the page observation port. One Host observes one live page.
//
// Watch callbacks are invoked from host-owned goroutines; consumers must
// do their own buffering and must tolerate callbacks racing a stop. The
// returned stop functions are idempotent.
type Host interface {
	// Info returns the page URL and title.
	Info(ctx context.Context) (Info, error)

	// WatchMutations streams DOM changes to fn until stop is called.
	// Returns ErrMutationsUnsupported when the host cannot observe
	// mutations at all.
	WatchMutations(ctx context.Context, fn func(ChangeRecord)) (stop func(), err error)

	// WatchInteractions streams user interactions to fn. Optional:
	// hosts without interaction primitives return an error and the
	// consumer degrades silently.
	WatchInteractions(ctx context.Context, fn func(InteractionRecord)) (stop func(), err error)

	// TapNetwork installs transparent request interception. The real
	// request is never altered or blocked by the tap.
	TapNetwork(ctx context.Context, fn func(NetworkEvent)) (NetworkTap, error)

	// Layout returns a best-effort geometry snapshot.
	Layout(ctx context.Context) (LayoutSnapshot, error)

	// DocumentHTML returns the serialised live DOM.
	DocumentHTML(ctx context.Context) (string, error)
}
