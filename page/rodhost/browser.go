// Package rodhost implements the page observation port on top of a CDP
// browser driven through Rod. It owns browser lifecycle, stealth page
// creation, script injection for mutation/interaction observation, and a
// purely observational network tap.
package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the browser lifecycle.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome via launcher.
	RemoteURL string

	// Headful disables headless mode for local launches.
	Headful bool

	// NavigateTimeout bounds initial navigation. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser manages one Chrome instance serving observation pages.
type Browser struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Call Start to launch or connect.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("rodhost: browser is closed")
	}
	if b.browser != nil {
		return nil
	}

	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
	} else {
		l := launcher.New().Headless(!b.cfg.Headful)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch chrome: %w", err)
		}
		b.lnch = l
		wsURL = u
	}

	br := rod.New().ControlURL(wsURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	b.browser = br
	b.cfg.Logger.Info("rodhost: browser started", "remote", b.cfg.RemoteURL != "")
	return nil
}

// Open navigates a fresh stealth page to pageURL and returns a Host
// observing it.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Host, error) {
	b.mu.Lock()
	br := b.browser
	b.mu.Unlock()
	if br == nil {
		return nil, fmt.Errorf("rodhost: browser not started")
	}

	p, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("rodhost: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("rodhost: wait load timeout", "url", pageURL, "error", err)
	}

	return newHost(p, pageURL, b.cfg.Logger), nil
}

// Close shuts the browser down. Idempotent.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}
