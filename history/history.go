// Package history persists aggregated context summaries so an
// assistant can refer back to recently viewed pages. Writes are
// non-blocking: the pipeline never waits on the database, and a full
// queue drops the oldest-pending summary rather than stalling.
// Retention honours the privacy policy's data_retention_days, re-read
// on every write and cleanup; zero days means nothing is persisted.
package history

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagesense/aggregate"
	"github.com/hazyhaar/pagesense/dbopen"
	"github.com/hazyhaar/pagesense/idgen"
	"github.com/hazyhaar/pagesense/privacy"
)

// Schema contains the DDL for the context history table.
const Schema = `
CREATE TABLE IF NOT EXISTS context_history (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    page_type    TEXT NOT NULL DEFAULT 'unknown',
    relevance    REAL NOT NULL DEFAULT 0,
    completeness REAL NOT NULL DEFAULT 0,
    summary      TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON context_history(created_at);
`

// Entry is one persisted context summary.
type Entry struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	PageType     string    `json:"pageType"`
	Relevance    float64   `json:"relevance"`
	Completeness float64   `json:"completeness"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Config wires a Store.
type Config struct {
	// Privacy supplies retention and redaction policy, re-read on
	// every operation.
	Privacy *privacy.Controller
	// QueueSize bounds pending writes. Default 256.
	QueueSize int
	// CleanupInterval is the retention sweep cadence. Default 1h.
	CleanupInterval time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
	NewID  idgen.Generator
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = idgen.New
	}
}

// Store is the context history database handle.
type Store struct {
	db  *sql.DB
	cfg Config

	queue chan Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open opens (or creates) the history database at path and applies the
// schema.
func Open(path string, cfg Config) (*Store, error) {
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	)
	if err != nil {
		return nil, err
	}
	return New(db, cfg), nil
}

// New wraps an already-open database. The schema must be applied.
func New(db *sql.DB, cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		db:    db,
		cfg:   cfg,
		queue: make(chan Entry, cfg.QueueSize),
	}
}

// Start launches the writer and the periodic retention sweep.
// Idempotent.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
}

// Stop flushes nothing: pending writes past the current one are
// dropped. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// Close stops the writer and closes the database.
func (s *Store) Close() error {
	s.Stop()
	return s.db.Close()
}

// Record queues one context summary for persistence. Never blocks: a
// full queue drops the write with a warning. A retention policy of
// zero days skips persistence entirely. Suitable as an aggregator
// subscriber.
func (s *Store) Record(c *aggregate.AggregatedContext) {
	if c == nil {
		return
	}
	snap := s.snapshot()
	if snap.RetentionDays() <= 0 {
		return
	}
	if !snap.ShouldMonitorURL(c.Metadata.URL) {
		return
	}

	summary := c.Summary.PrimaryContent
	if snap.RedactionEnabled() {
		summary = snap.Redact(summary)
	}

	e := Entry{
		ID:           s.cfg.NewID(),
		URL:          snap.SanitizeURL(c.Metadata.URL),
		Title:        c.Metadata.Title,
		PageType:     c.Summary.PageType,
		Relevance:    c.Summary.RelevanceScore,
		Completeness: c.Metadata.DataQuality.Completeness,
		Summary:      summary,
		CreatedAt:    c.Metadata.Timestamp,
	}

	select {
	case s.queue <- e:
	default:
		s.cfg.Logger.Warn("history: write queue full, dropping summary", "url", e.URL)
	}
}

func (s *Store) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.queue:
			if err := s.insert(ctx, e); err != nil {
				s.cfg.Logger.Warn("history: insert failed", "error", err)
			}
		case <-ticker.C:
			if n, err := s.Cleanup(ctx); err != nil {
				s.cfg.Logger.Warn("history: cleanup failed", "error", err)
			} else if n > 0 {
				s.cfg.Logger.Info("history: retention sweep", "deleted", n)
			}
		}
	}
}

func (s *Store) insert(ctx context.Context, e Entry) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO context_history (id, url, title, page_type, relevance, completeness, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.URL, e.Title, e.PageType, e.Relevance, e.Completeness, e.Summary,
		e.CreatedAt.Unix(),
	)
	return err
}

// Recent returns the newest entries, up to limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, page_type, relevance, completeness, summary, created_at
		FROM context_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.URL, &e.Title, &e.PageType,
			&e.Relevance, &e.Completeness, &e.Summary, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than the retention window and reports
// how many rows went.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	days := s.snapshot().RetentionDays()
	var cutoff int64
	if days <= 0 {
		// Zero retention keeps nothing: purge everything present.
		cutoff = s.cfg.Clock().Unix() + 1
	} else {
		cutoff = s.cfg.Clock().AddDate(0, 0, -days).Unix()
	}

	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM context_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeAll deletes every persisted summary, the privacy clear-all path.
func (s *Store) PurgeAll(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM context_history`)
	return err
}

func (s *Store) snapshot() *privacy.Snapshot {
	if s.cfg.Privacy != nil {
		return s.cfg.Privacy.Current()
	}
	return privacy.Compile(privacy.Config{}, s.cfg.Logger)
}
