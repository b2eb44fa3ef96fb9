package history

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagesense/aggregate"
	"github.com/hazyhaar/pagesense/dbopen"
	"github.com/hazyhaar/pagesense/privacy"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testController(days int) *privacy.Controller {
	return privacy.NewController(privacy.Config{
		RedactSensitiveData: true,
		DataRetentionDays:   days,
	}, slog.Default())
}

func testStore(t *testing.T, days int) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, Config{Privacy: testController(days)})
}

func testContext(url string) *aggregate.AggregatedContext {
	return &aggregate.AggregatedContext{
		Summary: aggregate.Summary{
			PageType:       "article",
			PrimaryContent: "How to grow tomatoes",
			RelevanceScore: 0.7,
		},
		Metadata: aggregate.Metadata{
			URL:       url,
			Title:     "Tomatoes",
			Timestamp: time.Now().UTC(),
		},
	}
}

func TestRecordPersistsSummary(t *testing.T) {
	s := testStore(t, 7)
	s.Start(context.Background())
	defer s.Stop()

	s.Record(testContext("https://garden.example.com/tomatoes"))

	waitFor(t, func() bool {
		entries, err := s.Recent(context.Background(), 10)
		return err == nil && len(entries) == 1
	})

	entries, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	e := entries[0]
	if e.PageType != "article" || e.Title != "Tomatoes" {
		t.Errorf("entry = %+v", e)
	}
	if e.ID == "" {
		t.Error("entry should carry a generated id")
	}
}

func TestZeroRetentionPersistsNothing(t *testing.T) {
	s := testStore(t, 0)

	s.Record(testContext("https://garden.example.com"))
	if len(s.queue) != 0 {
		t.Error("zero retention should skip the write queue entirely")
	}
}

func TestRecordSkipsExcludedURL(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctrl := privacy.NewController(privacy.Config{
		ExcludedDomains:   []string{"bank.example.com"},
		DataRetentionDays: 7,
	}, slog.Default())
	s := New(db, Config{Privacy: ctrl})

	s.Record(testContext("https://bank.example.com/account"))
	if len(s.queue) != 0 {
		t.Error("excluded URL must not be queued")
	}
}

func TestRecordRedactsSummary(t *testing.T) {
	s := testStore(t, 7)

	c := testContext("https://shop.example.com")
	c.Summary.PrimaryContent = "card on file 4111111111111111"
	s.Record(c)

	e := <-s.queue
	if strings.Contains(e.Summary, "4111111111111111") {
		t.Error("persisted summary leaked a card-like number")
	}
	if !strings.Contains(e.Summary, privacy.Marker) {
		t.Errorf("summary = %q, want redaction marker", e.Summary)
	}
}

func TestQueueFullDropsWrite(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{Privacy: testController(7), QueueSize: 1})

	s.Record(testContext("https://a.example.com"))
	s.Record(testContext("https://b.example.com"))
	if len(s.queue) != 1 {
		t.Errorf("queue length = %d, want 1 (overflow dropped)", len(s.queue))
	}
}

func TestCleanupDeletesExpiredRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{
		Privacy: testController(7),
		Clock:   func() time.Time { return now },
	})

	ctx := context.Background()
	fresh := Entry{ID: "fresh", URL: "https://a", CreatedAt: now.AddDate(0, 0, -1)}
	stale := Entry{ID: "stale", URL: "https://b", CreatedAt: now.AddDate(0, 0, -30)}
	if err := s.insert(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := s.insert(ctx, stale); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, _ := s.Recent(ctx, 10)
	if len(entries) != 1 || entries[0].ID != "fresh" {
		t.Errorf("entries = %+v, want only the fresh row", entries)
	}
}

func TestCleanupWithZeroRetentionPurges(t *testing.T) {
	now := time.Now().UTC()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{
		Privacy: testController(0),
		Clock:   func() time.Time { return now },
	})

	ctx := context.Background()
	if err := s.insert(ctx, Entry{ID: "x", URL: "https://a", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	deleted, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestPurgeAll(t *testing.T) {
	s := testStore(t, 7)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.insert(ctx, Entry{ID: id, URL: "https://x", CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	entries, _ := s.Recent(ctx, 10)
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 after purge", len(entries))
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := testStore(t, 7)
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()
}
