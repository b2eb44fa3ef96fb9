package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy controls the BUSY retry loop. Attempt i (1-based) sleeps
// i*Backoff before trying again.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetry is the policy RunTx and Exec use: three attempts with
// 100/200 ms pauses between them.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetry.Backoff
	}
	return p
}

// IsBusy reports whether err indicates an SQLite BUSY condition.
// It checks for SQLITE_BUSY, "database is locked", and "database table is locked".
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction with the default BUSY retry
// policy.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return RunTxWith(ctx, db, DefaultRetry, fn)
}

// RunTxWith executes fn inside a transaction, retrying on SQLITE_BUSY
// per pol. Non-BUSY errors return immediately.
func RunTxWith(ctx context.Context, db *sql.DB, pol RetryPolicy, fn func(*sql.Tx) error) error {
	pol = pol.normalize()
	for i := range pol.MaxAttempts {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsBusy(err) || i == pol.MaxAttempts-1 {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(i+1)*pol.Backoff); err != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", err)
		}
	}
	return fmt.Errorf("dbopen: RunTx: max retries exceeded")
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec executes a statement with the default BUSY retry policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return ExecWith(ctx, db, DefaultRetry, query, args...)
}

// ExecWith executes a statement, retrying on SQLITE_BUSY per pol.
func ExecWith(ctx context.Context, db *sql.DB, pol RetryPolicy, query string, args ...any) (sql.Result, error) {
	pol = pol.normalize()
	for i := range pol.MaxAttempts {
		result, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !IsBusy(err) || i == pol.MaxAttempts-1 {
			return nil, err
		}
		if err := sleepCtx(ctx, time.Duration(i+1)*pol.Backoff); err != nil {
			return nil, fmt.Errorf("dbopen: context cancelled during retry: %w", err)
		}
	}
	return nil, fmt.Errorf("dbopen: Exec: max retries exceeded")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
