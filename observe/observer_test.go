package observe

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/pagesense/page"
)

// fakeHost is a scriptable page.Host for observer tests.
type fakeHost struct {
	mutationsErr    error
	interactionsErr error
	layout          page.LayoutSnapshot
	layoutErr       error

	emitChange      func(page.ChangeRecord)
	emitInteraction func(page.InteractionRecord)
	mutStops        int
}

func (f *fakeHost) Info(context.Context) (page.Info, error) {
	return page.Info{URL: "https://example.com/page", Title: "Example"}, nil
}

func (f *fakeHost) WatchMutations(_ context.Context, fn func(page.ChangeRecord)) (func(), error) {
	if f.mutationsErr != nil {
		return nil, f.mutationsErr
	}
	f.emitChange = fn
	return func() { f.mutStops++ }, nil
}

func (f *fakeHost) WatchInteractions(_ context.Context, fn func(page.InteractionRecord)) (func(), error) {
	if f.interactionsErr != nil {
		return nil, f.interactionsErr
	}
	f.emitInteraction = fn
	return func() {}, nil
}

func (f *fakeHost) TapNetwork(context.Context, func(page.NetworkEvent)) (page.NetworkTap, error) {
	return nil, nil
}

func (f *fakeHost) Layout(context.Context) (page.LayoutSnapshot, error) {
	return f.layout, f.layoutErr
}

func (f *fakeHost) DocumentHTML(context.Context) (string, error) {
	return "<html></html>", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartIdempotent(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: 5 * time.Millisecond})
	defer o.Stop()

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !o.Running() {
		t.Fatal("observer should be running")
	}
}

func TestStopIdempotent(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: 5 * time.Millisecond})
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	o.Stop()
	o.Stop()
	if o.Running() {
		t.Fatal("observer should be stopped")
	}
	if host.mutStops != 1 {
		t.Fatalf("mutation watch stops: got %d, want 1", host.mutStops)
	}
}

func TestStartUnsupported(t *testing.T) {
	host := &fakeHost{mutationsErr: page.ErrMutationsUnsupported}
	o := New(Config{Host: host})
	err := o.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for unsupported host")
	}
	if o.Running() {
		t.Fatal("observer must not run without the mutation primitive")
	}
}

func TestInteractionsDegradeSilently(t *testing.T) {
	host := &fakeHost{interactionsErr: context.DeadlineExceeded}
	o := New(Config{Host: host, ThrottleInterval: 5 * time.Millisecond})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("interaction failure must not fail Start: %v", err)
	}
}

func TestChangesThrottledIntoBuffer(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: 5 * time.Millisecond})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		host.emitChange(page.ChangeRecord{
			Op: page.OpInsert, XPath: "/html/body/div[1]", Tag: "div", Timestamp: now,
		})
	}

	waitFor(t, func() bool { return len(o.RecentChanges(0)) == 3 })
}

func TestCompressionCollapsesAttrRuns(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: 5 * time.Millisecond})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i, v := range []string{"a", "b", "c"} {
		_ = i
		host.emitChange(page.ChangeRecord{
			Op: page.OpAttr, XPath: "/html/body/div[1]", Name: "class",
			Value: v, OldValue: "old-" + v, Timestamp: now,
		})
	}

	waitFor(t, func() bool { return len(o.RecentChanges(0)) > 0 })
	got := o.RecentChanges(0)
	if len(got) != 1 {
		t.Fatalf("attr run: got %d records, want 1", len(got))
	}
	if got[0].Value != "c" {
		t.Errorf("Value: got %q, want last value %q", got[0].Value, "c")
	}
	if got[0].OldValue != "old-a" {
		t.Errorf("OldValue: got %q, want first old value %q", got[0].OldValue, "old-a")
	}
}

func TestBufferBound(t *testing.T) {
	host := &fakeHost{}
	const capacity = 10
	o := New(Config{Host: host, ThrottleInterval: time.Millisecond, ChangeBuffer: capacity})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Distinct xpaths prevent compression from shrinking the batch.
	for i := 0; i < capacity+5; i++ {
		host.emitChange(page.ChangeRecord{
			Op:        page.OpInsert,
			XPath:     "/html/body/div[" + string(rune('a'+i)) + "]",
			Timestamp: time.Now(),
		})
		time.Sleep(2 * time.Millisecond) // let batches flush between appends
	}

	waitFor(t, func() bool { return len(o.RecentChanges(0)) == capacity })
}

func TestRecentChangesWindow(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: time.Millisecond})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	old := page.ChangeRecord{Op: page.OpText, XPath: "/html/body", Timestamp: time.Now().Add(-time.Hour)}
	fresh := page.ChangeRecord{Op: page.OpInsert, XPath: "/html/body/p[1]", Timestamp: time.Now()}
	host.emitChange(old)
	host.emitChange(fresh)

	waitFor(t, func() bool { return len(o.RecentChanges(0)) == 2 })

	windowed := o.RecentChanges(time.Minute)
	if len(windowed) != 1 {
		t.Fatalf("windowed: got %d records, want 1", len(windowed))
	}
	if windowed[0].Op != page.OpInsert {
		t.Errorf("windowed record: got %v, want insert", windowed[0].Op)
	}
}

func TestClearData(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: time.Millisecond})
	defer o.Stop()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	host.emitChange(page.ChangeRecord{Op: page.OpInsert, XPath: "/html/body", Timestamp: time.Now()})
	host.emitInteraction(page.InteractionRecord{Kind: page.InteractClick, Timestamp: time.Now()})
	waitFor(t, func() bool { return len(o.RecentChanges(0)) == 1 })

	o.ClearData()
	if len(o.RecentChanges(0)) != 0 || len(o.RecentInteractions(0)) != 0 {
		t.Fatal("buffers not cleared")
	}
}

func TestNoWritesAfterStop(t *testing.T) {
	host := &fakeHost{}
	o := New(Config{Host: host, ThrottleInterval: time.Millisecond})
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	o.Stop()

	host.emitChange(page.ChangeRecord{Op: page.OpInsert, XPath: "/html/body", Timestamp: time.Now()})
	host.emitInteraction(page.InteractionRecord{Kind: page.InteractClick, Timestamp: time.Now()})

	time.Sleep(20 * time.Millisecond)
	if n := len(o.RecentChanges(0)); n != 0 {
		t.Fatalf("changes after Stop: got %d, want 0", n)
	}
	if n := len(o.RecentInteractions(0)); n != 0 {
		t.Fatalf("interactions after Stop: got %d, want 0", n)
	}
}

func TestCurrentLayoutBestEffort(t *testing.T) {
	host := &fakeHost{layoutErr: context.DeadlineExceeded}
	o := New(Config{Host: host})
	l := o.CurrentLayout()
	if l.Viewport.Width != 0 || len(l.Elements) != 0 {
		t.Fatal("failed layout should be zeroed")
	}
	if l.Timestamp.IsZero() {
		t.Fatal("zeroed layout still carries a timestamp")
	}
}

func TestModalClassification(t *testing.T) {
	host := &fakeHost{layout: page.LayoutSnapshot{
		Viewport: page.Viewport{Width: 1000, Height: 800},
		Elements: []page.Element{
			// Full-viewport fixed backdrop: overlay.
			{XPath: "/html/body/div[1]", Tag: "div", X: 0, Y: 0, Width: 1000, Height: 800, ZIndex: 999, Position: "fixed"},
			// Centered dialog: modal.
			{XPath: "/html/body/div[2]", Tag: "div", X: 300, Y: 200, Width: 400, Height: 300, ZIndex: 1000, Position: "fixed"},
			// Small fixed dialog, lower area: classified after the big one.
			{XPath: "/html/body/div[3]", Tag: "div", X: 400, Y: 300, Width: 200, Height: 100, ZIndex: 1000, Position: "fixed"},
			// Static content: ignored.
			{XPath: "/html/body/main[1]", Tag: "main", X: 0, Y: 0, Width: 1000, Height: 3000, ZIndex: 0, Position: "static"},
			// Low z-index absolute: ignored.
			{XPath: "/html/body/span[1]", Tag: "span", X: 10, Y: 10, Width: 300, Height: 300, ZIndex: 2, Position: "absolute"},
		},
	}}
	o := New(Config{Host: host})

	l := o.CurrentLayout()
	if !l.HasModal() {
		t.Fatal("expected modal presence")
	}
	if len(l.Overlays) != 1 {
		t.Fatalf("overlays: got %d, want 1", len(l.Overlays))
	}
	if len(l.Modals) != 2 {
		t.Fatalf("modals: got %d, want 2", len(l.Modals))
	}
	// Largest covered area first.
	if l.Modals[0].XPath != "/html/body/div[2]" {
		t.Errorf("modal order: got %q first, want the larger dialog", l.Modals[0].XPath)
	}
}
