package privacy

import (
	"strings"
	"testing"
)

func TestShouldMonitorURL_DomainExclusion(t *testing.T) {
	snap := Compile(Config{
		ExcludedDomains: []string{"bank.example", "Internal.Corp"},
	}, nil)

	cases := []struct {
		url  string
		want bool
	}{
		{"https://bank.example/home", false},
		{"https://www.bank.example/home", false}, // substring match
		{"https://BANK.EXAMPLE/path", false},     // case-insensitive
		{"https://internal.corp/dash", false},
		{"https://shop.example/cart", true},
		{"https://example.com/bank.example", true}, // domain match is on host only
	}
	for _, tc := range cases {
		if got := snap.ShouldMonitorURL(tc.url); got != tc.want {
			t.Errorf("ShouldMonitorURL(%q): got %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestShouldMonitorURL_PathExclusion(t *testing.T) {
	snap := Compile(Config{
		ExcludedPaths: []string{"/checkout", "/account/settings"},
	}, nil)

	if snap.ShouldMonitorURL("https://shop.example/checkout/step1") {
		t.Error("excluded path should not be monitored")
	}
	if snap.ShouldMonitorURL("https://shop.example/Account/Settings") {
		t.Error("path exclusion must be case-insensitive")
	}
	if !snap.ShouldMonitorURL("https://shop.example/products") {
		t.Error("non-excluded path should be monitored")
	}
}

func TestRedactIdempotent(t *testing.T) {
	snap := Compile(Config{RedactSensitiveData: true}, nil)

	in := "card 4111111111111111 mail bob@example.com done"
	once := snap.Redact(in)
	twice := snap.Redact(once)

	if once != twice {
		t.Fatalf("redaction not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
	if strings.Contains(once, "4111111111111111") {
		t.Error("card number survived redaction")
	}
	if strings.Contains(once, "bob@example.com") {
		t.Error("email survived redaction")
	}
	if !strings.Contains(once, Marker) {
		t.Error("marker missing from redacted text")
	}
}

func TestRedactDisabled(t *testing.T) {
	snap := Compile(Config{RedactSensitiveData: false}, nil)
	in := "card 4111111111111111"
	if got := snap.Redact(in); got != in {
		t.Fatalf("redaction ran while disabled: %q", got)
	}
}

func TestRedactCustomPattern(t *testing.T) {
	snap := Compile(Config{
		RedactSensitiveData:   true,
		SensitiveDataPatterns: []string{`acct-[0-9a-f]{8}`},
	}, nil)
	got := snap.Redact("ref acct-deadbeef ok")
	if strings.Contains(got, "acct-deadbeef") {
		t.Fatalf("custom pattern not applied: %q", got)
	}
}

func TestCompileSkipsInvalidPattern(t *testing.T) {
	// The broken pattern is skipped; defaults still apply.
	snap := Compile(Config{
		RedactSensitiveData:   true,
		SensitiveDataPatterns: []string{`([unclosed`},
	}, nil)
	got := snap.Redact("ssn 123-45-6789")
	if strings.Contains(got, "123-45-6789") {
		t.Fatalf("default patterns lost after invalid user pattern: %q", got)
	}
}

func TestSanitizeURL(t *testing.T) {
	snap := Compile(Config{RedactSensitiveData: true}, nil)

	in := "https://api.example/v1/data?user=alice&token=s3cr3t&page=2"
	got := snap.SanitizeURL(in)

	if strings.Contains(got, "s3cr3t") {
		t.Errorf("token value survived: %q", got)
	}
	if !strings.Contains(got, "user=alice") || !strings.Contains(got, "page=2") {
		t.Errorf("non-sensitive params altered: %q", got)
	}
	if !strings.Contains(got, "token="+Marker) {
		t.Errorf("marker missing: %q", got)
	}

	// Idempotent on already sanitized URLs.
	if again := snap.SanitizeURL(got); again != got {
		t.Errorf("SanitizeURL not idempotent:\nonce:  %q\ntwice: %q", got, again)
	}
}

func TestSanitizeURLValuePattern(t *testing.T) {
	snap := Compile(Config{RedactSensitiveData: true}, nil)
	got := snap.SanitizeURL("https://api.example/pay?card=4111111111111111")
	if strings.Contains(got, "4111111111111111") {
		t.Fatalf("card-like value survived in query: %q", got)
	}
}

func TestControllerUpdateNotifies(t *testing.T) {
	c := NewController(Config{}, nil)

	var notified *Snapshot
	c.OnUpdate(func(s *Snapshot) { notified = s })

	if !c.ShouldMonitorURL("https://bank.example/") {
		t.Fatal("initial config should monitor everything")
	}

	c.Update(Config{ExcludedDomains: []string{"bank.example"}})

	if notified == nil {
		t.Fatal("subscriber not notified")
	}
	if c.ShouldMonitorURL("https://bank.example/") {
		t.Error("updated exclusion not applied")
	}
	if notified.ShouldMonitorURL("https://bank.example/") {
		t.Error("notified snapshot does not carry the new policy")
	}
}
