package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pagesense/page"
)

//go:embed observe.js
var observeJS string

//go:embed layout.js
var layoutJS string

const (
	mutBinding = "__pagesense_mut"
	evtBinding = "__pagesense_evt"
)

// Host observes a single live page through CDP. It implements page.Host.
type Host struct {
	page    *rod.Page
	pageURL string
	logger  *slog.Logger

	mu       sync.Mutex
	injected bool
}

func newHost(p *rod.Page, pageURL string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{page: p, pageURL: pageURL, logger: logger}
}

// Info returns the page URL and title.
func (h *Host) Info(ctx context.Context) (page.Info, error) {
	res, err := h.page.Context(ctx).Eval(`() => ({url: location.href, title: document.title})`)
	if err != nil {
		return page.Info{URL: h.pageURL}, fmt.Errorf("rodhost: page info: %w", err)
	}
	return page.Info{
		URL:   res.Value.Get("url").Str(),
		Title: res.Value.Get("title").Str(),
	}, nil
}

// inject installs the page-side observer script once. It survives
// navigations via Page.addScriptToEvaluateOnNewDocument.
func (h *Host) inject(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.injected {
		return nil
	}

	for _, name := range []string{mutBinding, evtBinding} {
		if err := (proto.RuntimeAddBinding{Name: name}).Call(h.page); err != nil {
			h.logger.Warn("rodhost: add binding failed (may already exist)",
				"binding", name, "error", err)
		}
	}

	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: observeJS}).Call(h.page); err != nil {
		h.logger.Warn("rodhost: persist observer across navigations failed", "error", err)
	}

	if _, err := h.page.Context(ctx).Eval(wrapScript(observeJS)); err != nil {
		return fmt.Errorf("rodhost: inject observer: %w", err)
	}
	h.injected = true
	return nil
}

// wrapScript turns a raw statement script into an evaluable function.
func wrapScript(src string) string {
	return "() => {\n" + src + "\n}"
}

// WatchMutations streams DOM changes parsed from the mutation binding.
// Returns page.ErrMutationsUnsupported when the host session cannot
// install the observer at all.
func (h *Host) WatchMutations(ctx context.Context, fn func(page.ChangeRecord)) (func(), error) {
	if err := h.inject(ctx); err != nil {
		return nil, page.ErrMutationsUnsupported
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go h.page.Context(watchCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != mutBinding {
			return
		}
		now := time.Now()
		var raw []struct {
			Op       string `json:"op"`
			XPath    string `json:"xpath"`
			NodeType int    `json:"node_type"`
			Tag      string `json:"tag"`
			Name     string `json:"name"`
			Value    string `json:"value"`
			OldValue string `json:"old_value"`
			HTML     string `json:"html"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &raw); err != nil {
			h.logger.Warn("rodhost: parse mutation payload", "error", err)
			return
		}
		for _, r := range raw {
			fn(page.ChangeRecord{
				Op:        page.ChangeOp(r.Op),
				XPath:     r.XPath,
				NodeType:  r.NodeType,
				Tag:       r.Tag,
				Name:      r.Name,
				Value:     r.Value,
				OldValue:  r.OldValue,
				HTML:      r.HTML,
				Timestamp: now,
			})
		}
	})()

	return sync.OnceFunc(cancel), nil
}

// WatchInteractions streams user interaction events from the page.
func (h *Host) WatchInteractions(ctx context.Context, fn func(page.InteractionRecord)) (func(), error) {
	if err := h.inject(ctx); err != nil {
		return nil, fmt.Errorf("rodhost: interactions unavailable: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go h.page.Context(watchCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != evtBinding {
			return
		}
		var r struct {
			Kind  string `json:"kind"`
			XPath string `json:"xpath"`
			Tag   string `json:"tag"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &r); err != nil {
			return
		}
		fn(page.InteractionRecord{
			Kind:      page.InteractionKind(r.Kind),
			XPath:     r.XPath,
			Tag:       r.Tag,
			Value:     r.Value,
			Timestamp: time.Now(),
		})
	})()

	return sync.OnceFunc(cancel), nil
}

// networkTap is the CDP Network-domain observation handle.
type networkTap struct {
	cancel  context.CancelFunc
	running atomic.Bool
	host    *Host
}

// Alive reports whether the tap's event loop is still attached and the
// page session still answers. Used by the monitor's health check to
// detect a tap that was torn down behind its back.
func (t *networkTap) Alive() bool {
	if !t.running.Load() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := t.host.page.Context(probeCtx).Eval(`() => true`)
	return err == nil
}

func (t *networkTap) Uninstall() {
	t.cancel()
	t.running.Store(false)
}

// TapNetwork observes the CDP Network domain. Purely passive: requests
// are neither intercepted nor modified, so a tap failure can never break
// page networking.
func (h *Host) TapNetwork(ctx context.Context, fn func(page.NetworkEvent)) (page.NetworkTap, error) {
	if err := (proto.NetworkEnable{}).Call(h.page); err != nil {
		return nil, fmt.Errorf("rodhost: enable network domain: %w", err)
	}

	tapCtx, cancel := context.WithCancel(ctx)
	tap := &networkTap{cancel: cancel, host: h}
	tap.running.Store(true)

	type pending struct {
		event page.NetworkEvent
		sent  proto.MonotonicTime
	}
	inflight := make(map[proto.NetworkRequestID]*pending)
	var mu sync.Mutex

	finish := func(id proto.NetworkRequestID, at proto.MonotonicTime, failed bool) {
		mu.Lock()
		p, ok := inflight[id]
		if ok {
			delete(inflight, id)
		}
		mu.Unlock()
		if !ok {
			return
		}
		p.event.Failed = failed
		if at > p.sent {
			p.event.Duration = time.Duration(float64(at-p.sent) * float64(time.Second))
		}
		fn(p.event)
	}

	go func() {
		defer tap.running.Store(false)
		h.page.Context(tapCtx).EachEvent(
			func(e *proto.NetworkRequestWillBeSent) {
				ev := page.NetworkEvent{
					URL:            e.Request.URL,
					Method:         e.Request.Method,
					Type:           string(e.Type),
					RequestHeaders: headerMap(e.Request.Headers),
					StartedAt:      time.Now(),
				}
				mu.Lock()
				inflight[e.RequestID] = &pending{event: ev, sent: e.Timestamp}
				mu.Unlock()
			},
			func(e *proto.NetworkResponseReceived) {
				mu.Lock()
				if p, ok := inflight[e.RequestID]; ok {
					p.event.Status = e.Response.Status
					p.event.ResponseHeaders = headerMap(e.Response.Headers)
				}
				mu.Unlock()
			},
			func(e *proto.NetworkLoadingFinished) {
				finish(e.RequestID, e.Timestamp, false)
			},
			func(e *proto.NetworkLoadingFailed) {
				finish(e.RequestID, e.Timestamp, true)
			},
		)()
	}()

	return tap, nil
}

func headerMap(h proto.NetworkHeaders) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}

// Layout returns a geometry snapshot from one page evaluation. On any
// failure the zero snapshot is returned with the error; callers treat it
// as best-effort.
func (h *Host) Layout(ctx context.Context) (page.LayoutSnapshot, error) {
	res, err := h.page.Context(ctx).Eval(layoutJS)
	if err != nil {
		return page.LayoutSnapshot{Timestamp: time.Now()}, fmt.Errorf("rodhost: layout eval: %w", err)
	}

	var snap page.LayoutSnapshot
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &snap); err != nil {
		return page.LayoutSnapshot{Timestamp: time.Now()}, fmt.Errorf("rodhost: layout decode: %w", err)
	}
	snap.Timestamp = time.Now()
	return snap, nil
}

// DocumentHTML serialises the complete live DOM as outer HTML.
func (h *Host) DocumentHTML(ctx context.Context) (string, error) {
	res, err := h.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("rodhost: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the underlying page.
func (h *Host) Close() error {
	if h.page != nil {
		return h.page.Close()
	}
	return nil
}
