package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagesense/aggregate"
	"github.com/hazyhaar/pagesense/privacy"
)

// FormattedContext is the AI-facing, token-budgeted, privacy-filtered
// projection of an aggregated context.
type FormattedContext struct {
	HasContext  bool      `json:"hasContext"`
	Text        string    `json:"text"`
	PageType    string    `json:"pageType,omitempty"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	TokensUsed  int       `json:"tokensUsed"`
	Truncated   bool      `json:"truncated,omitempty"`
	Query       string    `json:"query,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// formatter renders an AggregatedContext into markdown: page HTML is
// sanitized, converted to markdown, redacted under the current privacy
// snapshot, then cut to the token budget.
type formatter struct {
	sanitize *bluemonday.Policy
	conv     *converter.Converter
	tokens   TokenCounter
	logger   *slog.Logger
}

func newFormatter(tokens TokenCounter, logger *slog.Logger) *formatter {
	return &formatter{
		sanitize: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		tokens: tokens,
		logger: logger,
	}
}

func (f *formatter) format(c *aggregate.AggregatedContext, snap *privacy.Snapshot, query string, maxTokens int, now time.Time) *FormattedContext {
	out := &FormattedContext{
		HasContext:  true,
		PageType:    c.Summary.PageType,
		URL:         c.Metadata.URL,
		Title:       c.Metadata.Title,
		Query:       query,
		GeneratedAt: now,
	}

	var sb strings.Builder
	sb.WriteString("# Page Context\n\n")
	if c.Metadata.Title != "" {
		fmt.Fprintf(&sb, "**Title:** %s\n", c.Metadata.Title)
	}
	if c.Metadata.URL != "" {
		fmt.Fprintf(&sb, "**URL:** %s\n", snap.SanitizeURL(c.Metadata.URL))
	}
	fmt.Fprintf(&sb, "**Page type:** %s\n", c.Summary.PageType)
	fmt.Fprintf(&sb, "**Relevance:** %.2f\n\n", c.Summary.RelevanceScore)

	if len(c.Summary.KeyElements) > 0 {
		sb.WriteString("## Key Elements\n")
		for _, el := range c.Summary.KeyElements {
			sb.WriteString("- " + el + "\n")
		}
		sb.WriteByte('\n')
	}

	if body := f.renderBody(c); body != "" {
		sb.WriteString("## Content\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}

	if ua := c.Summary.UserActivity; ua.Clicks+ua.Inputs+ua.Submits+ua.Scrolls > 0 {
		sb.WriteString("## Recent Activity\n")
		fmt.Fprintf(&sb, "%d clicks, %d inputs, %d submits, %d scrolls\n\n",
			ua.Clicks, ua.Inputs, ua.Submits, ua.Scrolls)
	}

	if len(c.Summary.DataFlows) > 0 {
		sb.WriteString("## Network\n")
		fmt.Fprintf(&sb, "Talking to: %s\n", strings.Join(c.Summary.DataFlows, ", "))
		st := c.Network.Stats
		if st.TotalRequests > 0 {
			fmt.Fprintf(&sb, "%d requests, %.0f%% success\n", st.TotalRequests, st.SuccessRate*100)
		}
		sb.WriteByte('\n')
	}

	if c.Semantics != nil && (len(c.Semantics.Microdata) > 0 || len(c.Semantics.OpenGraph) > 0) {
		sb.WriteString("## Structured Data\n")
		for _, item := range c.Semantics.Microdata {
			if item.Type != "" {
				sb.WriteString("- " + item.Type + "\n")
			}
		}
		if t, ok := c.Semantics.OpenGraph["title"]; ok {
			sb.WriteString("- og: " + t + "\n")
		}
		sb.WriteByte('\n')
	}

	text := sb.String()
	if snap.RedactionEnabled() {
		text = snap.Redact(text)
	}

	out.Text, out.TokensUsed, out.Truncated = f.budget(text, maxTokens)
	return out
}

// renderBody converts the captured document HTML to markdown. Falls
// back to the extracted plain text when conversion fails.
func (f *formatter) renderBody(c *aggregate.AggregatedContext) string {
	if c.Content.RawHTML == "" {
		return strings.TrimSpace(c.Content.Text)
	}
	clean := f.sanitize.Sanitize(c.Content.RawHTML)
	md, err := f.conv.ConvertString(clean)
	if err != nil {
		f.logger.Warn("markdown conversion failed", "error", err)
		return strings.TrimSpace(c.Content.Text)
	}
	return strings.TrimSpace(md)
}

// budget cuts text to the token budget, trimming proportionally until
// the counter agrees. The counter never splits far from linear, so a
// few passes converge.
func (f *formatter) budget(text string, maxTokens int) (string, int, bool) {
	if maxTokens <= 0 {
		return text, f.tokens.Count(text), false
	}
	count := f.tokens.Count(text)
	if count <= maxTokens {
		return text, count, false
	}
	truncated := text
	for range 6 {
		keep := len(truncated) * maxTokens / count
		if keep >= len(truncated) {
			keep = len(truncated) - 1
		}
		truncated = strings.ToValidUTF8(truncated[:keep], "")
		count = f.tokens.Count(truncated)
		if count <= maxTokens {
			break
		}
	}
	return truncated, count, true
}
