// Package semantic produces a best-effort structured-data snapshot of a
// page: schema.org typed elements, microdata items, JSON-LD blocks,
// OpenGraph and Twitter Card metadata, plus pluggable custom namespaces.
// Extraction is stateless and recomputed fully per call. No extraction
// path panics or returns an error upward; a failing family yields an
// empty collection and increments the failure counter, which the caller
// folds into its accuracy score.
package semantic

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Item is one structured-data item. Properties hold strings for single
// values, []any (in document order) when a property name repeats on the
// same item, and nested *Item values for embedded itemscope elements.
type Item struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
}

// NamespaceResult is the output of one custom namespace extractor.
type NamespaceResult struct {
	Namespace string `json:"namespace"`
	Data      any    `json:"data"`
}

// Data is the full semantic snapshot for one document.
type Data struct {
	Schema    []Item            `json:"schema"`
	Microdata []Item            `json:"microdata"`
	JSONLD    []any             `json:"jsonLd"`
	OpenGraph map[string]string `json:"openGraph"`
	Twitter   map[string]string `json:"twitter"`
	Custom    []NamespaceResult `json:"custom"`

	// Failures counts families and namespaces that produced nothing
	// because of a parse error or panic, not because the page simply
	// lacks the data.
	Failures int `json:"-"`
}

// NamespaceFunc extracts domain-specific data from a parsed document.
// A nil result means the namespace does not apply to this page.
type NamespaceFunc func(doc *html.Node) (any, error)

type namespaceEntry struct {
	name string
	fn   NamespaceFunc
}

// Extractor holds the custom namespace registry. The zero value is not
// usable; construct with New.
type Extractor struct {
	mu         sync.RWMutex
	namespaces []namespaceEntry
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for per-family failure warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New returns an Extractor with the built-in namespaces registered:
// product, article, user, event, and the reserved assistant namespace.
func New(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.RegisterNamespace("product", extractProduct)
	e.RegisterNamespace("article", extractArticle)
	e.RegisterNamespace("user", extractUser)
	e.RegisterNamespace("event", extractEvent)
	e.RegisterNamespace("assistant", extractAssistant)
	return e
}

// RegisterNamespace adds or replaces a custom namespace extractor.
func (e *Extractor) RegisterNamespace(name string, fn NamespaceFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ns := range e.namespaces {
		if ns.name == name {
			e.namespaces[i].fn = fn
			return
		}
	}
	e.namespaces = append(e.namespaces, namespaceEntry{name: name, fn: fn})
}

// Extract parses src and runs every family plus every registered
// namespace. It never returns an error: an unparseable document yields
// an empty snapshot with Failures set.
func (e *Extractor) Extract(src string) *Data {
	data := &Data{
		OpenGraph: map[string]string{},
		Twitter:   map[string]string{},
	}

	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		e.logger.Warn("semantic parse failed", "error", err)
		data.Failures++
		return data
	}

	e.guard(data, "schema", func() { data.Schema = extractSchemaItems(doc) })
	e.guard(data, "microdata", func() { data.Microdata = extractMicrodataItems(doc) })
	e.guard(data, "jsonld", func() {
		blocks, failures := extractJSONLD(doc)
		data.JSONLD = blocks
		data.Failures += failures
	})
	e.guard(data, "opengraph", func() { data.OpenGraph = extractMetaFamily(doc, "property", "og:") })
	e.guard(data, "twitter", func() { data.Twitter = extractMetaFamily(doc, "name", "twitter:") })

	e.mu.RLock()
	namespaces := make([]namespaceEntry, len(e.namespaces))
	copy(namespaces, e.namespaces)
	e.mu.RUnlock()

	for _, ns := range namespaces {
		res, err := e.runNamespace(ns, doc)
		if err != nil {
			e.logger.Warn("custom namespace failed", "namespace", ns.name, "error", err)
			data.Failures++
			continue
		}
		if res != nil {
			data.Custom = append(data.Custom, NamespaceResult{Namespace: ns.name, Data: res})
		}
	}
	return data
}

// guard runs one family, converting a panic into a counted failure.
func (e *Extractor) guard(data *Data, family string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("extraction family panicked", "family", family, "panic", r)
			data.Failures++
		}
	}()
	fn()
}

func (e *Extractor) runNamespace(ns namespaceEntry, doc *html.Node) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &panicError{namespace: ns.name}
		}
	}()
	return ns.fn(doc)
}

type panicError struct{ namespace string }

func (e *panicError) Error() string {
	return "namespace " + e.namespace + " panicked"
}

// extractSchemaItems lists every schema.org-typed element with its name
// property, shallow. Full property trees come from the microdata family.
func extractSchemaItems(doc *html.Node) []Item {
	var items []Item
	walk(doc, func(n *html.Node) bool {
		t := attrVal(n, "itemtype")
		if t == "" || !strings.Contains(t, "schema.org") {
			return true
		}
		item := Item{Type: schemaTypeName(t), ID: attrVal(n, "itemid")}
		if name := findItemprop(n, "name"); name != "" {
			item.Properties = map[string]any{"name": name}
		}
		items = append(items, item)
		return true
	})
	return items
}

// schemaTypeName strips the schema.org URL prefix, keeping the type.
func schemaTypeName(itemtype string) string {
	if i := strings.LastIndexByte(itemtype, '/'); i >= 0 && i < len(itemtype)-1 {
		return itemtype[i+1:]
	}
	return itemtype
}

// findItemprop returns the value of the first matching itemprop in the
// subtree, not descending into nested itemscope elements.
func findItemprop(root *html.Node, name string) string {
	var found string
	var rec func(n *html.Node)
	rec = func(n *html.Node) {
		if found != "" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if hasAttr(c, "itemscope") {
					continue
				}
				if attrVal(c, "itemprop") == name {
					found = itempropValue(c)
					return
				}
			}
			rec(c)
		}
	}
	rec(root)
	return found
}

// extractMicrodataItems returns every top-level itemscope element as a
// fully recursed Item. Nested itemscope elements become nested items on
// their parent's property rather than separate top-level entries.
func extractMicrodataItems(doc *html.Node) []Item {
	var items []Item
	walk(doc, func(n *html.Node) bool {
		if !hasAttr(n, "itemscope") {
			return true
		}
		items = append(items, buildMicrodataItem(n))
		return false // children belong to this item
	})
	return items
}

func buildMicrodataItem(scope *html.Node) Item {
	item := Item{
		Type:       schemaTypeName(attrVal(scope, "itemtype")),
		ID:         attrVal(scope, "itemid"),
		Properties: map[string]any{},
	}
	var rec func(n *html.Node)
	rec = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			name := attrVal(c, "itemprop")
			if name == "" {
				rec(c)
				continue
			}
			var val any
			if hasAttr(c, "itemscope") {
				nested := buildMicrodataItem(c)
				val = &nested
			} else {
				val = itempropValue(c)
			}
			addProperty(item.Properties, name, val)
			if !hasAttr(c, "itemscope") {
				rec(c)
			}
		}
	}
	rec(scope)
	return item
}

// addProperty collapses repeated property names into an ordered list.
func addProperty(props map[string]any, name string, val any) {
	existing, ok := props[name]
	if !ok {
		props[name] = val
		return
	}
	if list, ok := existing.([]any); ok {
		props[name] = append(list, val)
		return
	}
	props[name] = []any{existing, val}
}

// itempropValue resolves a property element to its string value per the
// microdata value rules: content attribute, then tag-specific URL or
// datetime attributes, then visible text.
func itempropValue(n *html.Node) string {
	if v := attrVal(n, "content"); v != "" {
		return v
	}
	switch n.DataAtom {
	case atom.A, atom.Link, atom.Area:
		if v := attrVal(n, "href"); v != "" {
			return v
		}
	case atom.Img, atom.Audio, atom.Video, atom.Source, atom.Iframe, atom.Embed:
		if v := attrVal(n, "src"); v != "" {
			return v
		}
	case atom.Time:
		if v := attrVal(n, "datetime"); v != "" {
			return v
		}
	case atom.Data, atom.Meter:
		if v := attrVal(n, "value"); v != "" {
			return v
		}
	}
	return collectText(n)
}

// extractJSONLD decodes every application/ld+json script. A malformed
// script is skipped and counted; it never aborts the family.
func extractJSONLD(doc *html.Node) ([]any, int) {
	var blocks []any
	failures := 0
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Script || attrVal(n, "type") != "application/ld+json" {
			return true
		}
		var raw strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				raw.WriteString(c.Data)
			}
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw.String()), &decoded); err != nil {
			failures++
			return false
		}
		// A top-level array contributes its elements individually.
		if list, ok := decoded.([]any); ok {
			blocks = append(blocks, list...)
		} else {
			blocks = append(blocks, decoded)
		}
		return false
	})
	return blocks, failures
}

// extractMetaFamily collects meta tags whose key attribute carries the
// given prefix, keyed by the suffix after the prefix.
func extractMetaFamily(doc *html.Node, keyAttr, prefix string) map[string]string {
	out := map[string]string{}
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Meta {
			return true
		}
		key := attrVal(n, keyAttr)
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		if content := attrVal(n, "content"); content != "" {
			out[strings.TrimPrefix(key, prefix)] = content
		}
		return true
	})
	return out
}

// walk visits every element node depth-first. fn returning false prunes
// the subtree.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n.Type == html.ElementNode && !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// collectText extracts visible text from a subtree, skipping script and
// style content.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}
