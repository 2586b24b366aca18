package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS evidence (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    label TEXT,
    path TEXT NOT NULL,
    seq INTEGER NOT NULL,
    captured_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence(session_id);
`

// Journal is the SQLite index of saved evidence.
type Journal struct {
	db   *sql.DB
	path string
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends rec.
func (j *Journal) Record(ctx context.Context, rec Record) error {
	return retryOnBusy(ctx, func() error {
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO evidence (session_id, kind, label, path, seq, captured_at) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Session, string(rec.Kind), nullableString(rec.Label), rec.Path, int64(rec.Seq),
			rec.CapturedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// List returns the journal in capture order. An empty session lists everything.
func (j *Journal) List(ctx context.Context, session string) ([]Record, error) {
	query := `SELECT id, session_id, kind, label, path, seq, captured_at FROM evidence`
	var args []any
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			kind     string
			label    sql.NullString
			seq      int64
			captured string
		)
		if err := rows.Scan(&rec.ID, &rec.Session, &kind, &label, &rec.Path, &seq, &captured); err != nil {
			return nil, err
		}
		rec.Kind = Kind(kind)
		rec.Label = label.String
		rec.Seq = uint64(seq)
		if t, err := time.Parse(time.RFC3339Nano, captured); err == nil {
			rec.CapturedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sessions returns the known session ids, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT session_id FROM evidence GROUP BY session_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Clear deletes every journal row.
func (j *Journal) Clear(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		_, err := j.db.ExecContext(ctx, `DELETE FROM evidence`)
		return err
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
