package provider

import (
	"context"
	"fmt"
)

// Suggestion is a ready-to-send prompt the user might want next.
type Suggestion struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// Insight is a proactive observation about the current page.
type Insight struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Recommendation proposes a workflow for the current situation.
type Recommendation struct {
	Workflow string `json:"workflow"`
	Reason   string `json:"reason"`
}

// Suggestions generates rule-based prompt suggestions keyed off the
// current page type. Standalone mode and degraded context yield a
// generic set rather than an error.
func (p *Provider) Suggestions(ctx context.Context) []Suggestion {
	agg, err := p.CurrentContext(ctx)
	if err != nil || agg == nil {
		return []Suggestion{{
			Title:  "Summarize",
			Prompt: "Summarize what I am currently looking at.",
		}}
	}

	var out []Suggestion
	switch agg.Summary.PageType {
	case "form":
		out = append(out,
			Suggestion{
				Title:  "Fill this form",
				Prompt: "Help me fill out this form. Walk me through each field.",
			},
			Suggestion{
				Title:  "Explain fields",
				Prompt: "Explain what each field on this form is asking for.",
			})
	case "ecommerce":
		out = append(out,
			Suggestion{
				Title:  "Evaluate product",
				Prompt: "Summarize this product and list its pros and cons.",
			},
			Suggestion{
				Title:  "Compare",
				Prompt: "What should I compare this product against before buying?",
			})
	case "article":
		out = append(out,
			Suggestion{
				Title:  "Summarize article",
				Prompt: "Summarize this article in three bullet points.",
			},
			Suggestion{
				Title:  "Key claims",
				Prompt: "List the key claims in this article and how well they are supported.",
			})
	case "dashboard":
		out = append(out,
			Suggestion{
				Title:  "Explain metrics",
				Prompt: "Explain the metrics on this dashboard and flag anything unusual.",
			})
	default:
		out = append(out, Suggestion{
			Title:  "Summarize page",
			Prompt: "Summarize this page for me.",
		})
	}

	if agg.Layout.HasModal() {
		out = append(out, Suggestion{
			Title:  "Explain dialog",
			Prompt: "A dialog is open on this page. Explain what it is asking me to do.",
		})
	}
	return out
}

// ProactiveInsights surfaces observations worth volunteering.
func (p *Provider) ProactiveInsights(ctx context.Context) []Insight {
	agg, err := p.CurrentContext(ctx)
	if err != nil || agg == nil {
		return nil
	}

	var out []Insight
	st := agg.Network.Stats
	if st.TotalRequests >= 5 && st.SuccessRate < 0.8 {
		out = append(out, Insight{
			Kind: "network",
			Text: fmt.Sprintf("%d of %d recent requests failed; the page may be misbehaving.",
				st.FailedRequests, st.TotalRequests),
		})
	}
	if agg.Layout.HasModal() {
		out = append(out, Insight{
			Kind: "layout",
			Text: "An overlay or dialog is currently blocking part of the page.",
		})
	}
	ua := agg.Summary.UserActivity
	if agg.Summary.PageType == "form" && ua.Inputs >= 5 && ua.Submits == 0 {
		out = append(out, Insight{
			Kind: "activity",
			Text: "You have edited several fields without submitting; I can review the form before you send it.",
		})
	}
	if q := agg.Metadata.DataQuality; q.Completeness < 1 {
		out = append(out, Insight{
			Kind: "quality",
			Text: "Some page data sources are unavailable; my view of this page is partial.",
		})
	}
	return out
}

// WorkflowRecommendations proposes multi-step workflows for the page.
func (p *Provider) WorkflowRecommendations(ctx context.Context) []Recommendation {
	agg, err := p.CurrentContext(ctx)
	if err != nil || agg == nil {
		return nil
	}

	var out []Recommendation
	switch agg.Summary.PageType {
	case "form":
		out = append(out, Recommendation{
			Workflow: "guided-form-completion",
			Reason:   "A form with multiple fields is present.",
		})
	case "ecommerce":
		out = append(out, Recommendation{
			Workflow: "purchase-research",
			Reason:   "This looks like a product page.",
		})
	case "article":
		out = append(out, Recommendation{
			Workflow: "reading-digest",
			Reason:   "Long-form content detected.",
		})
	case "dashboard":
		out = append(out, Recommendation{
			Workflow: "metrics-review",
			Reason:   "Charts or metric tables detected.",
		})
	}
	if len(agg.Content.Tables) >= 2 {
		out = append(out, Recommendation{
			Workflow: "table-extraction",
			Reason:   "Multiple data tables could be extracted and compared.",
		})
	}
	return out
}
