// Package provider is the public façade over the monitoring pipeline:
// it serves current and AI-formatted context, enhances prompts with
// page awareness, and generates rule-based suggestions and insights.
// AI-facing calls never fail on degraded data; they return a context
// object with HasContext false instead.
package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pagesense/aggregate"
	"github.com/hazyhaar/pagesense/privacy"
)

// Mode states how the provider was wired.
type Mode string

const (
	// ModeLive means a monitor pipeline feeds the provider.
	ModeLive Mode = "live"
	// ModeStandalone means no monitor is wired: the provider answers
	// with empty context and never reports ready.
	ModeStandalone Mode = "standalone"
)

// ContextSource supplies aggregated context. Satisfied by
// *aggregate.Aggregator.
type ContextSource interface {
	Context(ctx context.Context) (*aggregate.AggregatedContext, error)
	Invalidate()
}

// Config wires a Provider.
type Config struct {
	// Source is the aggregator. Nil selects standalone mode.
	Source ContextSource
	// Privacy supplies the policy snapshot for formatting and is the
	// target of UpdatePrivacyConfig.
	Privacy *privacy.Controller
	// Active, when set, gates IsReady on the live pipeline actually
	// running (wired to the observer or monitor Running method).
	Active func() bool

	// MaxTokens is the default formatted-context budget. Default 2000.
	MaxTokens int
	// MaxContextLength caps the context prefix EnhancePrompt adds,
	// in bytes. Default 4000.
	MaxContextLength int
	// FormattedTTL is the query-less formatted cache window. Default 15s.
	FormattedTTL time.Duration

	// Tokens overrides the token counter. Defaults to tiktoken with an
	// estimate fallback when the encoding cannot be initialized.
	Tokens TokenCounter

	Logger *slog.Logger
	Clock  func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.MaxContextLength <= 0 {
		c.MaxContextLength = 4000
	}
	if c.FormattedTTL <= 0 {
		c.FormattedTTL = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Tokens == nil {
		tok, err := NewTiktokenCounter()
		if err != nil {
			c.Logger.Warn("tiktoken unavailable, using byte estimate", "error", err)
			tok = EstimateCounter{}
		}
		c.Tokens = tok
	}
}

// EnhancedPrompt is a user message with page context prepended.
type EnhancedPrompt struct {
	Prompt          string `json:"prompt"`
	Original        string `json:"original"`
	ContextIncluded bool   `json:"contextIncluded"`
	ContextTokens   int    `json:"contextTokens"`
}

// Provider is the façade. Construct with New.
type Provider struct {
	cfg    Config
	mode   Mode
	render *formatter

	mu           sync.Mutex
	cached       *FormattedContext
	cachedAt     time.Time
	cachedBudget int
}

// New returns a Provider. A nil cfg.Source selects standalone mode,
// reported by Mode and never masked by IsReady.
func New(cfg Config) *Provider {
	cfg.applyDefaults()
	mode := ModeLive
	if cfg.Source == nil {
		mode = ModeStandalone
	}
	return &Provider{
		cfg:    cfg,
		mode:   mode,
		render: newFormatter(cfg.Tokens, cfg.Logger),
	}
}

// Mode reports how the provider was wired.
func (p *Provider) Mode() Mode { return p.mode }

// IsReady is true only when a live pipeline is wired and active.
func (p *Provider) IsReady() bool {
	if p.mode != ModeLive {
		return false
	}
	if p.cfg.Active != nil {
		return p.cfg.Active()
	}
	return true
}

// CurrentContext returns the latest aggregated context, or nil in
// standalone mode.
func (p *Provider) CurrentContext(ctx context.Context) (*aggregate.AggregatedContext, error) {
	if p.mode != ModeLive {
		return nil, nil
	}
	return p.cfg.Source.Context(ctx)
}

// AIFormattedContext returns the token-budgeted, privacy-filtered
// projection. maxTokens <= 0 uses the configured default. Query-less
// requests are cached briefly, but a cached rendering is reused only
// when it fits the caller's budget; a query always regenerates.
// Degraded or missing data yields HasContext false, never an error.
func (p *Provider) AIFormattedContext(ctx context.Context, query string, maxTokens int) *FormattedContext {
	now := p.cfg.Clock()

	p.mu.Lock()
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if query == "" && p.cached != nil && now.Sub(p.cachedAt) < p.cfg.FormattedTTL {
		// The cached rendering only serves callers it fits: same budget,
		// or already inside the requested one.
		if maxTokens == p.cachedBudget || p.cached.TokensUsed <= maxTokens {
			hit := *p.cached
			p.mu.Unlock()
			return &hit
		}
	}
	p.mu.Unlock()

	agg, err := p.CurrentContext(ctx)
	if err != nil || agg == nil {
		if err != nil {
			p.cfg.Logger.Warn("context retrieval failed", "error", err)
		}
		return &FormattedContext{HasContext: false, Query: query, GeneratedAt: now}
	}

	out := p.render.format(agg, p.snapshot(), query, maxTokens, now)

	if query == "" {
		p.mu.Lock()
		p.cached = out
		p.cachedAt = now
		p.cachedBudget = maxTokens
		p.mu.Unlock()
	}
	return out
}

// EnhancePrompt prepends formatted page context to a user message,
// truncated to MaxContextLength. History is reserved for future
// conversation-aware trimming and currently only guards duplication:
// if the context was already included this session, it is not repeated.
func (p *Provider) EnhancePrompt(ctx context.Context, message string, history []string) EnhancedPrompt {
	out := EnhancedPrompt{Prompt: message, Original: message}

	fc := p.AIFormattedContext(ctx, "", 0)
	if !fc.HasContext || fc.Text == "" {
		return out
	}
	for _, h := range history {
		if strings.Contains(h, "# Page Context") {
			return out
		}
	}

	p.mu.Lock()
	limit := p.cfg.MaxContextLength
	p.mu.Unlock()

	prefix := fc.Text
	if len(prefix) > limit {
		prefix = strings.ToValidUTF8(prefix[:limit], "")
	}

	out.Prompt = prefix + "\n\n---\n\n" + message
	out.ContextIncluded = true
	out.ContextTokens = p.cfg.Tokens.Count(prefix)
	return out
}

// UpdateConfig applies runtime limits and invalidates the formatted
// cache tier immediately.
func (p *Provider) UpdateConfig(maxTokens, maxContextLength int, formattedTTL time.Duration) {
	p.mu.Lock()
	if maxTokens > 0 {
		p.cfg.MaxTokens = maxTokens
	}
	if maxContextLength > 0 {
		p.cfg.MaxContextLength = maxContextLength
	}
	if formattedTTL > 0 {
		p.cfg.FormattedTTL = formattedTTL
	}
	p.cached = nil
	p.mu.Unlock()
}

// UpdatePrivacyConfig pushes a new privacy policy and invalidates both
// cache tiers: formatted context here, aggregated context at the source.
func (p *Provider) UpdatePrivacyConfig(cfg privacy.Config) {
	if p.cfg.Privacy != nil {
		p.cfg.Privacy.Update(cfg)
	}
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	if p.cfg.Source != nil {
		p.cfg.Source.Invalidate()
	}
}

func (p *Provider) snapshot() *privacy.Snapshot {
	if p.cfg.Privacy != nil {
		return p.cfg.Privacy.Current()
	}
	return privacy.Compile(privacy.Config{}, p.cfg.Logger)
}
