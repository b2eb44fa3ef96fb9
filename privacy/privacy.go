// Package privacy is the single source of truth for observability policy:
// which URLs may be monitored at all, which captured values must be
// redacted, and how long derived data may be retained.
//
// Policy is distributed as an immutable compiled Snapshot. Consumers hold
// a *Controller and call Current() on every evaluation — snapshots are
// never cached by consumers, so a config update takes effect on the next
// call. Updates swap the snapshot atomically and notify subscribers.
package privacy

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Marker replaces every redacted match. It is chosen so that no built-in
// or plausible user pattern matches it, which makes redaction idempotent.
const Marker = "[REDACTED]"

// Config is the user-facing privacy policy. It is pushed in whole by the
// settings layer; the zero value means "monitor everything, redact with
// the default patterns, keep nothing".
type Config struct {
	ExcludedDomains       []string `yaml:"excluded_domains" json:"excludedDomains"`
	ExcludedPaths         []string `yaml:"excluded_paths" json:"excludedPaths"`
	RedactSensitiveData   bool     `yaml:"redact_sensitive_data" json:"redactSensitiveData"`
	SensitiveDataPatterns []string `yaml:"sensitive_data_patterns" json:"sensitiveDataPatterns"`
	DataRetentionDays     int      `yaml:"data_retention_days" json:"dataRetentionDays"`
}

// defaultPatterns cover the classes of data that must never leave the
// pipeline: card-like digit runs, SSN-like triples, email addresses and
// bearer credentials.
var defaultPatterns = []string{
	`\b\d{13,19}\b`,
	`\b\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}\b`,
	`\b\d{3}-\d{2}-\d{4}\b`,
	`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`,
}

// sensitiveParams are query parameter names whose values are always
// replaced when redaction is enabled, regardless of value shape.
var sensitiveParams = map[string]bool{
	"token":        true,
	"access_token": true,
	"api_key":      true,
	"apikey":       true,
	"key":          true,
	"secret":       true,
	"password":     true,
	"passwd":       true,
	"auth":         true,
	"session":      true,
	"sessionid":    true,
	"sid":          true,
}

// Snapshot is an immutable compiled view of a Config. All evaluation
// methods live here so that one retrieval of the snapshot yields a
// consistent policy for the whole operation.
type Snapshot struct {
	cfg      Config
	domains  []string // lowercased
	paths    []string // lowercased
	patterns []*regexp.Regexp
}

// Compile builds a Snapshot from cfg. Patterns that fail to compile are
// skipped with a warning; the remaining patterns stay in force. The
// default patterns are always included when redaction is enabled.
func Compile(cfg Config, logger *slog.Logger) *Snapshot {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Snapshot{cfg: cfg}
	for _, d := range cfg.ExcludedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			s.domains = append(s.domains, d)
		}
	}
	for _, p := range cfg.ExcludedPaths {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			s.paths = append(s.paths, p)
		}
	}

	all := make([]string, 0, len(defaultPatterns)+len(cfg.SensitiveDataPatterns))
	all = append(all, defaultPatterns...)
	all = append(all, cfg.SensitiveDataPatterns...)
	for _, raw := range all {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("privacy: invalid sensitive pattern skipped",
				"pattern", raw, "error", err)
			continue
		}
		s.patterns = append(s.patterns, re)
	}
	return s
}

// Config returns a copy of the source configuration.
func (s *Snapshot) Config() Config { return s.cfg }

// RetentionDays returns the configured retention window in days.
func (s *Snapshot) RetentionDays() int { return s.cfg.DataRetentionDays }

// RedactionEnabled reports whether sensitive-data redaction applies.
func (s *Snapshot) RedactionEnabled() bool { return s.cfg.RedactSensitiveData }

// ShouldMonitorURL reports whether any data about rawURL may enter the
// pipeline. Evaluation order: domain exclusion, then path exclusion.
// Matching is case-insensitive substring matching, so "bank.example"
// excludes every subdomain and "checkout" excludes every path that
// contains it. Unparseable URLs are not monitored.
func (s *Snapshot) ShouldMonitorURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range s.domains {
		if strings.Contains(host, d) {
			return false
		}
	}
	path := strings.ToLower(u.Path)
	for _, p := range s.paths {
		if strings.Contains(path, p) {
			return false
		}
	}
	return true
}

// Redact replaces every sensitive match in text with Marker. Idempotent:
// Marker itself never matches a pattern. A no-op when redaction is
// disabled.
func (s *Snapshot) Redact(text string) string {
	if !s.cfg.RedactSensitiveData || text == "" {
		return text
	}
	for _, re := range s.patterns {
		text = re.ReplaceAllString(text, Marker)
	}
	return text
}

// SanitizeURL redacts sensitive query parameter values in rawURL. Only
// the matched values are replaced; URL structure, parameter order and
// non-sensitive values are preserved. The input is returned unchanged
// when redaction is disabled or the URL does not parse.
func (s *Snapshot) SanitizeURL(rawURL string) string {
	if !s.cfg.RedactSensitiveData {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}

	changed := false
	pairs := strings.Split(u.RawQuery, "&")
	for i, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if sensitiveParams[strings.ToLower(name)] {
			if value != Marker {
				pairs[i] = name + "=" + Marker
				changed = true
			}
			continue
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			if red := s.Redact(decoded); red != decoded {
				pairs[i] = name + "=" + url.QueryEscape(red)
				changed = true
			}
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = strings.Join(pairs, "&")
	return u.String()
}

// Controller owns the current policy snapshot and its update lifecycle.
// It is constructed once at the composition root and passed by reference.
type Controller struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
	subs    []func(*Snapshot)
	logger  *slog.Logger
}

// NewController creates a Controller with cfg as the initial policy.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{logger: logger}
	c.current.Store(Compile(cfg, logger))
	return c
}

// Current returns the live policy snapshot. Never nil.
func (c *Controller) Current() *Snapshot {
	return c.current.Load()
}

// Update compiles cfg into a new snapshot, swaps it in atomically and
// notifies subscribers. In-flight evaluations complete against the
// snapshot they already hold.
func (c *Controller) Update(cfg Config) {
	snap := Compile(cfg, c.logger)
	c.current.Store(snap)
	c.logger.Info("privacy: policy updated",
		"excluded_domains", len(snap.domains),
		"excluded_paths", len(snap.paths),
		"redaction", cfg.RedactSensitiveData,
		"retention_days", cfg.DataRetentionDays)

	c.mu.Lock()
	subs := make([]func(*Snapshot), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// OnUpdate registers fn to be called after every policy swap.
func (c *Controller) OnUpdate(fn func(*Snapshot)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// ShouldMonitorURL evaluates rawURL against the live snapshot.
func (c *Controller) ShouldMonitorURL(rawURL string) bool {
	return c.Current().ShouldMonitorURL(rawURL)
}
