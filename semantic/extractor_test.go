package semantic

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const productPage = `<!DOCTYPE html>
<html><head>
<title>Widget Shop</title>
<meta property="og:title" content="Deluxe Widget">
<meta property="og:type" content="product">
<meta name="twitter:card" content="summary">
<meta name="twitter:title" content="Deluxe Widget">
<script type="application/ld+json">{"@type":"Product","name":"Deluxe Widget","offers":{"price":"19.99"}}</script>
<script type="application/ld+json">{not valid json</script>
</head><body>
<div itemscope itemtype="https://schema.org/Product" itemid="widget-1">
  <span itemprop="name">Deluxe Widget</span>
  <span itemprop="color">red</span>
  <span itemprop="color">blue</span>
  <div itemprop="offers" itemscope itemtype="https://schema.org/Offer">
    <meta itemprop="price" content="19.99">
    <meta itemprop="priceCurrency" content="USD">
  </div>
</div>
<button>Add to Cart</button>
</body></html>`

func TestExtractMicrodataNesting(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	if len(data.Microdata) != 1 {
		t.Fatalf("microdata items = %d, want 1", len(data.Microdata))
	}
	item := data.Microdata[0]
	if item.Type != "Product" {
		t.Errorf("type = %q, want Product", item.Type)
	}
	if item.ID != "widget-1" {
		t.Errorf("id = %q, want widget-1", item.ID)
	}
	if got := item.Properties["name"]; got != "Deluxe Widget" {
		t.Errorf("name = %v, want Deluxe Widget", got)
	}

	offers, ok := item.Properties["offers"].(*Item)
	if !ok {
		t.Fatalf("offers = %T, want nested *Item", item.Properties["offers"])
	}
	if offers.Type != "Offer" {
		t.Errorf("nested type = %q, want Offer", offers.Type)
	}
	if got := offers.Properties["price"]; got != "19.99" {
		t.Errorf("nested price = %v, want 19.99", got)
	}
}

func TestExtractRepeatedPropertyCollapsesToList(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	colors, ok := data.Microdata[0].Properties["color"].([]any)
	if !ok {
		t.Fatalf("color = %T, want []any", data.Microdata[0].Properties["color"])
	}
	if len(colors) != 2 || colors[0] != "red" || colors[1] != "blue" {
		t.Errorf("colors = %v, want [red blue] in document order", colors)
	}
}

func TestExtractJSONLDSkipsMalformedScript(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	if len(data.JSONLD) != 1 {
		t.Fatalf("jsonLd blocks = %d, want 1 (malformed script skipped)", len(data.JSONLD))
	}
	block, ok := data.JSONLD[0].(map[string]any)
	if !ok {
		t.Fatalf("block = %T, want map", data.JSONLD[0])
	}
	if block["name"] != "Deluxe Widget" {
		t.Errorf("name = %v, want Deluxe Widget", block["name"])
	}
	if data.Failures == 0 {
		t.Error("malformed JSON-LD should count as a failure")
	}
}

func TestExtractJSONLDTopLevelArrayFlattens(t *testing.T) {
	e := New()
	data := e.Extract(`<html><head><script type="application/ld+json">
		[{"@type":"Person","name":"Ana"},{"@type":"Person","name":"Bo"}]
	</script></head></html>`)

	if len(data.JSONLD) != 2 {
		t.Fatalf("jsonLd blocks = %d, want 2", len(data.JSONLD))
	}
}

func TestExtractMetaFamilies(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	if got := data.OpenGraph["title"]; got != "Deluxe Widget" {
		t.Errorf("og title = %q, want Deluxe Widget", got)
	}
	if got := data.Twitter["card"]; got != "summary" {
		t.Errorf("twitter card = %q, want summary", got)
	}
	if _, leak := data.OpenGraph["og:title"]; leak {
		t.Error("OpenGraph keys should not retain the og: prefix")
	}
}

func TestExtractSchemaItems(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	if len(data.Schema) == 0 {
		t.Fatal("schema items empty")
	}
	if data.Schema[0].Type != "Product" {
		t.Errorf("schema type = %q, want Product", data.Schema[0].Type)
	}
}

func TestExtractNeverPanicsOnGarbage(t *testing.T) {
	e := New()
	for _, src := range []string{"", "<<<>>>", "<div", strings.Repeat("<p>", 500)} {
		data := e.Extract(src)
		if data == nil {
			t.Fatalf("Extract(%q) returned nil", src)
		}
	}
}

func TestRegisterNamespaceReplacesByName(t *testing.T) {
	e := New()
	e.RegisterNamespace("vendor", func(*html.Node) (any, error) {
		return "first", nil
	})
	e.RegisterNamespace("vendor", func(*html.Node) (any, error) {
		return "second", nil
	})

	data := e.Extract("<html><body></body></html>")
	var got any
	for _, ns := range data.Custom {
		if ns.Namespace == "vendor" {
			got = ns.Data
		}
	}
	if got != "second" {
		t.Errorf("vendor namespace = %v, want second (replaced)", got)
	}
}

func TestPanickingNamespaceCountedNotFatal(t *testing.T) {
	e := New()
	e.RegisterNamespace("broken", func(*html.Node) (any, error) {
		panic("boom")
	})

	data := e.Extract(productPage)
	if data.Failures == 0 {
		t.Error("panicking namespace should count as a failure")
	}
	for _, ns := range data.Custom {
		if ns.Namespace == "broken" {
			t.Error("panicking namespace should contribute no result")
		}
	}
	// Other families must be unaffected.
	if len(data.Microdata) != 1 {
		t.Errorf("microdata items = %d, want 1", len(data.Microdata))
	}
}

func TestProductNamespaceDetectsCartAndPrice(t *testing.T) {
	e := New()
	data := e.Extract(productPage)

	var product map[string]any
	for _, ns := range data.Custom {
		if ns.Namespace == "product" {
			product = ns.Data.(map[string]any)
		}
	}
	if product == nil {
		t.Fatal("product namespace produced nothing")
	}
	if product["hasCart"] != true {
		t.Errorf("hasCart = %v, want true", product["hasCart"])
	}
	if product["name"] != "Deluxe Widget" {
		t.Errorf("name = %v, want Deluxe Widget", product["name"])
	}
}

func TestUserNamespaceDetectsSession(t *testing.T) {
	e := New()
	data := e.Extract(`<html><body>
		<div class="user-menu" data-user="ana"></div>
		<a href="/logout">Sign out</a>
	</body></html>`)

	var user map[string]any
	for _, ns := range data.Custom {
		if ns.Namespace == "user" {
			user = ns.Data.(map[string]any)
		}
	}
	if user == nil {
		t.Fatal("user namespace produced nothing")
	}
	if user["loggedIn"] != true {
		t.Errorf("loggedIn = %v, want true", user["loggedIn"])
	}
	if user["user"] != "ana" {
		t.Errorf("user = %v, want ana", user["user"])
	}
}

func TestAssistantNamespacePassesDataAttributes(t *testing.T) {
	e := New()
	data := e.Extract(`<html><body>
		<div data-assistant-hint="checkout flow" data-assistant-step="2"></div>
	</body></html>`)

	var got map[string]any
	for _, ns := range data.Custom {
		if ns.Namespace == "assistant" {
			got = ns.Data.(map[string]any)
		}
	}
	if got == nil {
		t.Fatal("assistant namespace produced nothing")
	}
	if got["hint"] != "checkout flow" || got["step"] != "2" {
		t.Errorf("assistant data = %v", got)
	}
}

func TestEventNamespacePrefersMicrodata(t *testing.T) {
	e := New()
	data := e.Extract(`<html><body>
		<div itemscope itemtype="https://schema.org/Event">
			<span itemprop="name">GopherMeet</span>
			<time itemprop="startDate" datetime="2026-09-01T18:00">Sep 1</time>
		</div>
	</body></html>`)

	var ev map[string]any
	for _, ns := range data.Custom {
		if ns.Namespace == "event" {
			ev = ns.Data.(map[string]any)
		}
	}
	if ev == nil {
		t.Fatal("event namespace produced nothing")
	}
	if ev["name"] != "GopherMeet" {
		t.Errorf("name = %v, want GopherMeet", ev["name"])
	}
	if ev["startDate"] != "2026-09-01T18:00" {
		t.Errorf("startDate = %v", ev["startDate"])
	}
}
