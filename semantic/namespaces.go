package semantic

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var priceRe = regexp.MustCompile(`[$€£¥]\s?\d[\d,]*(?:\.\d{2})?`)

// extractProduct detects commerce pages: explicit Product microdata,
// price markers and add-to-cart controls.
func extractProduct(doc *html.Node) (any, error) {
	out := map[string]any{}

	walk(doc, func(n *html.Node) bool {
		if strings.HasSuffix(attrVal(n, "itemtype"), "/Product") {
			out["name"] = findItemprop(n, "name")
			if v := findItemprop(n, "price"); v != "" {
				out["price"] = v
			}
			return false
		}
		if v := attrVal(n, "data-price"); v != "" {
			out["price"] = v
			return true
		}
		cls := attrVal(n, "class")
		if _, seen := out["price"]; !seen && strings.Contains(cls, "price") {
			if m := priceRe.FindString(collectText(n)); m != "" {
				out["price"] = m
			}
		}
		if n.DataAtom == atom.Button || attrVal(n, "type") == "submit" {
			label := strings.ToLower(collectText(n))
			if strings.Contains(label, "add to cart") || strings.Contains(label, "buy now") {
				out["hasCart"] = true
			}
		}
		return true
	})

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// extractArticle summarizes editorial pages: main heading, author and
// publication metadata, approximate word count.
func extractArticle(doc *html.Node) (any, error) {
	out := map[string]any{}

	var articleNode *html.Node
	walk(doc, func(n *html.Node) bool {
		switch {
		case n.DataAtom == atom.Article && articleNode == nil:
			articleNode = n
		case n.DataAtom == atom.H1:
			if _, ok := out["headline"]; !ok {
				if t := collectText(n); t != "" {
					out["headline"] = t
				}
			}
		case n.DataAtom == atom.Meta:
			switch attrVal(n, "name") {
			case "author":
				out["author"] = attrVal(n, "content")
			}
			switch attrVal(n, "property") {
			case "article:published_time":
				out["published"] = attrVal(n, "content")
			case "article:author":
				if _, ok := out["author"]; !ok {
					out["author"] = attrVal(n, "content")
				}
			}
		}
		return true
	})

	if articleNode != nil {
		out["wordCount"] = len(strings.Fields(collectText(articleNode)))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// extractUser detects session state: signed-in markers, avatar or
// account menus, sign-out affordances.
func extractUser(doc *html.Node) (any, error) {
	out := map[string]any{}

	walk(doc, func(n *html.Node) bool {
		if v := attrVal(n, "data-user"); v != "" {
			out["user"] = v
			out["loggedIn"] = true
		}
		cls := attrVal(n, "class")
		if strings.Contains(cls, "avatar") || strings.Contains(cls, "user-menu") {
			out["loggedIn"] = true
		}
		if n.DataAtom == atom.A || n.DataAtom == atom.Button {
			label := strings.ToLower(collectText(n))
			switch {
			case strings.Contains(label, "sign out"), strings.Contains(label, "log out"):
				out["loggedIn"] = true
			case strings.Contains(label, "sign in"), strings.Contains(label, "log in"):
				if _, ok := out["loggedIn"]; !ok {
					out["loggedIn"] = false
				}
			}
		}
		return true
	})

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// extractEvent picks up event pages: Event microdata, time elements and
// location markers.
func extractEvent(doc *html.Node) (any, error) {
	out := map[string]any{}

	walk(doc, func(n *html.Node) bool {
		if strings.HasSuffix(attrVal(n, "itemtype"), "/Event") {
			out["name"] = findItemprop(n, "name")
			if v := findItemprop(n, "startDate"); v != "" {
				out["startDate"] = v
			}
			if v := findItemprop(n, "location"); v != "" {
				out["location"] = v
			}
			return false
		}
		if n.DataAtom == atom.Time {
			if v := attrVal(n, "datetime"); v != "" {
				if _, ok := out["startDate"]; !ok {
					out["startDate"] = v
				}
			}
		}
		return true
	})

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// extractAssistant is the reserved integration namespace: pages can
// address the assistant directly through data-assistant-* attributes,
// which are passed through verbatim.
func extractAssistant(doc *html.Node) (any, error) {
	out := map[string]any{}

	walk(doc, func(n *html.Node) bool {
		for _, a := range n.Attr {
			if strings.HasPrefix(a.Key, "data-assistant-") {
				out[strings.TrimPrefix(a.Key, "data-assistant-")] = a.Val
			}
		}
		return true
	})

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
