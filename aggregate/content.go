package aggregate

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxContentText = 8000
	maxLinks       = 50
	maxImages      = 20
	maxHeadings    = 10
)

// Content is the extracted page content section of a snapshot.
type Content struct {
	Text     string            `json:"text"`
	Headings []string          `json:"headings,omitempty"`
	Forms    []Form            `json:"forms,omitempty"`
	Tables   []Table           `json:"tables,omitempty"`
	Links    []Link            `json:"links,omitempty"`
	Images   []Image           `json:"images,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Charts counts canvas/svg elements and chart-classed containers,
	// used by page type classification.
	Charts int `json:"charts,omitempty"`

	// RawHTML is a capped slice of the serialized document, kept for
	// downstream formatting. Never exposed to consumers unredacted.
	RawHTML string `json:"-"`
}

const maxRawHTML = 64 << 10

// Form is one form with its visible fields.
type Form struct {
	Action string  `json:"action,omitempty"`
	Method string  `json:"method,omitempty"`
	Fields []Field `json:"fields"`
}

// Field is one form control.
type Field struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Table is a table summary; cell contents stay in Text.
type Table struct {
	Headers []string `json:"headers,omitempty"`
	Rows    int      `json:"rows"`
}

// Link is one anchor with visible text.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Image is one image reference.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// extractContent pulls text, forms, tables, links and images out of a
// serialized document. It never fails: unparseable input yields an
// empty Content.
func extractContent(src string) Content {
	c := Content{Metadata: map[string]string{}}
	if src == "" {
		return c
	}
	c.RawHTML = src
	if len(c.RawHTML) > maxRawHTML {
		c.RawHTML = c.RawHTML[:maxRawHTML]
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return c
	}

	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" && text.Len() < maxContentText {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(t)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.H1, atom.H2, atom.H3:
				if len(c.Headings) < maxHeadings {
					if t := nodeText(n); t != "" {
						c.Headings = append(c.Headings, t)
					}
				}
			case atom.Form:
				c.Forms = append(c.Forms, extractForm(n))
			case atom.Table:
				c.Tables = append(c.Tables, extractTable(n))
			case atom.A:
				if href := attr(n, "href"); href != "" && len(c.Links) < maxLinks {
					c.Links = append(c.Links, Link{Href: href, Text: nodeText(n)})
				}
			case atom.Img:
				if src := attr(n, "src"); src != "" && len(c.Images) < maxImages {
					c.Images = append(c.Images, Image{Src: src, Alt: attr(n, "alt")})
				}
			case atom.Canvas, atom.Svg:
				c.Charts++
			case atom.Meta:
				extractMeta(n, c.Metadata)
			default:
				if cls := attr(n, "class"); cls != "" && hasChartClass(cls) {
					c.Charts++
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	c.Text = text.String()
	return c
}

func extractForm(n *html.Node) Form {
	f := Form{Action: attr(n, "action"), Method: attr(n, "method")}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Input, atom.Select, atom.Textarea:
				typ := attr(n, "type")
				if typ == "hidden" {
					return
				}
				if typ == "" {
					typ = n.Data // select / textarea
				}
				f.Fields = append(f.Fields, Field{
					Name:     attr(n, "name"),
					Type:     typ,
					Label:    attr(n, "placeholder"),
					Required: hasBoolAttr(n, "required"),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return f
}

func extractTable(n *html.Node) Table {
	var t Table
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Th:
				t.Headers = append(t.Headers, nodeText(n))
			case atom.Tr:
				t.Rows++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return t
}

// extractMeta keeps the description-class metadata the formatter and
// classifier care about.
func extractMeta(n *html.Node, out map[string]string) {
	content := attr(n, "content")
	if content == "" {
		return
	}
	switch attr(n, "name") {
	case "description", "keywords", "author", "generator":
		out[attr(n, "name")] = content
	}
}

func hasChartClass(cls string) bool {
	cls = strings.ToLower(cls)
	return strings.Contains(cls, "chart") ||
		strings.Contains(cls, "graph") ||
		strings.Contains(cls, "metric") ||
		strings.Contains(cls, "dashboard")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasBoolAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
