package aggregate

import (
	"strings"
	"time"

	"github.com/hazyhaar/pagesense/page"
	"github.com/hazyhaar/pagesense/semantic"
)

// classifyPageType applies the classification heuristics in fixed
// order: a substantial form wins, then commerce markers, then article
// markers, then chart-heavy layouts. Anything else is unknown.
func classifyPageType(c Content, sem *semantic.Data) string {
	for _, f := range c.Forms {
		if len(f.Fields) >= 2 {
			return "form"
		}
	}
	if hasCommerceMarkers(c, sem) {
		return "ecommerce"
	}
	if hasArticleMarkers(c, sem) {
		return "article"
	}
	if c.Charts > 0 || len(c.Tables) >= 3 {
		return "dashboard"
	}
	return "unknown"
}

func hasCommerceMarkers(c Content, sem *semantic.Data) bool {
	if sem != nil {
		for _, ns := range sem.Custom {
			if ns.Namespace == "product" {
				return true
			}
		}
		for _, item := range sem.Microdata {
			if item.Type == "Product" || item.Type == "Offer" {
				return true
			}
		}
		if sem.OpenGraph["type"] == "product" {
			return true
		}
	}
	lower := strings.ToLower(c.Text)
	return strings.Contains(lower, "add to cart") || strings.Contains(lower, "checkout")
}

func hasArticleMarkers(c Content, sem *semantic.Data) bool {
	if sem != nil {
		if sem.OpenGraph["type"] == "article" {
			return true
		}
		for _, item := range sem.Microdata {
			if item.Type == "Article" || item.Type == "NewsArticle" || item.Type == "BlogPosting" {
				return true
			}
		}
		for _, ns := range sem.Custom {
			if ns.Namespace == "article" {
				if m, ok := ns.Data.(map[string]any); ok {
					if wc, ok := m["wordCount"].(int); ok && wc > 200 {
						return true
					}
				}
			}
		}
	}
	return false
}

// relevanceScore weighs interaction recency, content volume and schema
// presence into a single 0..1 score.
func relevanceScore(interactions []page.InteractionRecord, c Content, sem *semantic.Data, now time.Time) float64 {
	score := 0.0

	// Interaction component: count within the last minute, discounted
	// by the age of the most recent event.
	recent := 0
	var last time.Time
	for _, it := range interactions {
		if now.Sub(it.Timestamp) <= time.Minute {
			recent++
		}
		if it.Timestamp.After(last) {
			last = it.Timestamp
		}
	}
	if recent > 0 {
		part := min(1.0, float64(recent)/10)
		age := now.Sub(last)
		if age < 0 {
			age = 0
		}
		decay := 1 - min(1.0, age.Seconds()/60)
		score += 0.4 * part * max(decay, 0.25)
	}

	score += 0.3 * min(1.0, float64(len(c.Text))/2000)

	if sem != nil && (len(sem.Schema) > 0 || len(sem.Microdata) > 0 || len(sem.JSONLD) > 0) {
		score += 0.3
	}

	return min(score, 1.0)
}

// accuracyScore discounts extraction failures: each counted failure
// costs a fifth, floored at zero.
func accuracyScore(sem *semantic.Data) float64 {
	if sem == nil {
		return 0
	}
	return max(0, 1-float64(sem.Failures)/5)
}

// tallyActivity buckets interactions by kind.
func tallyActivity(interactions []page.InteractionRecord) UserActivity {
	var a UserActivity
	for _, it := range interactions {
		switch it.Kind {
		case page.InteractClick:
			a.Clicks++
		case page.InteractInput, page.InteractFocus:
			a.Inputs++
		case page.InteractSubmit:
			a.Submits++
		case page.InteractScroll:
			a.Scrolls++
		}
		if it.Timestamp.After(a.LastAt) {
			a.LastAt = it.Timestamp
		}
	}
	return a
}
