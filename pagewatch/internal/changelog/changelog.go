// CLAUDE:SUMMARY Bounded newest-first ring of Change Records with optional SQLite mirror reloaded on startup.
// Package changelog keeps the audit trail of reported changes: a ring of
// the most recent records, newest first, optionally mirrored to SQLite so
// it survives restarts.
package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/idgen"
)

// DefaultCapacity is the number of records kept.
const DefaultCapacity = 300

// Schema creates the mirror table.
const Schema = `
CREATE TABLE IF NOT EXISTS change_records (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	task_name  TEXT NOT NULL,
	source     TEXT NOT NULL,
	saved_path TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_records_created ON change_records(created_at DESC);
`

// Record is one reported change.
type Record struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	TaskName  string    `json:"taskName"`
	Source    string    `json:"source"`
	SavedPath string    `json:"savedPath"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	records  []Record // newest first
	capacity int
	newID    idgen.Generator
	now      func() time.Time
	db       *sql.DB
	logger   *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option { return func(l *Log) { l.capacity = n } }

// WithIDGenerator overrides the UUIDv7 generator.
func WithIDGenerator(g idgen.Generator) Option { return func(l *Log) { l.newID = g } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Log) { l.logger = lg } }

// WithDB mirrors the log to db. The schema must already exist; see Open.
func WithDB(db *sql.DB) Option { return func(l *Log) { l.db = db } }

// New returns a Log. With a database it loads the newest records from it.
func New(ctx context.Context, opts ...Option) (*Log, error) {
	l := &Log{
		capacity: DefaultCapacity,
		newID:    idgen.Prefixed("chg_", idgen.UUIDv7()),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.capacity <= 0 {
		l.capacity = DefaultCapacity
	}
	if l.db != nil {
		if err := l.load(ctx); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Open opens (creating if needed) the SQLite mirror at path.
func Open(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("changelog: open %s: %w", path, err)
	}
	return db, nil
}

func (l *Log) load(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, task_id, task_name, source, saved_path, created_at
		 FROM change_records ORDER BY created_at DESC, id DESC LIMIT ?`, l.capacity)
	if err != nil {
		return fmt.Errorf("changelog: load: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Record
		var ms int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.TaskName, &r.Source, &r.SavedPath, &ms); err != nil {
			return fmt.Errorf("changelog: scan: %w", err)
		}
		r.Timestamp = time.UnixMilli(ms).UTC()
		l.records = append(l.records, r)
	}
	return rows.Err()
}

// Append adds r as the newest record, evicting the oldest past capacity.
// Missing ID and Timestamp are filled in. A mirror failure is logged and
// does not drop the in-memory record.
func (l *Log) Append(ctx context.Context, r Record) Record {
	if r.ID == "" {
		r.ID = l.newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	l.records = append([]Record{r}, l.records...)
	if len(l.records) > l.capacity {
		l.records = l.records[:l.capacity]
	}
	l.mu.Unlock()

	if l.db != nil {
		if err := l.persist(ctx, r); err != nil {
			l.logger.Warn("changelog: persist failed", "id", r.ID, "error", err)
		}
	}
	return r
}

func (l *Log) persist(ctx context.Context, r Record) error {
	return dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_records (id, task_id, task_name, source, saved_path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.TaskID, r.TaskName, r.Source, r.SavedPath, r.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("changelog: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM change_records WHERE id NOT IN (
				SELECT id FROM change_records ORDER BY created_at DESC, id DESC LIMIT ?)`, l.capacity); err != nil {
			return fmt.Errorf("changelog: trim: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (l *Log) Recent(limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	copy(out, l.records[:n])
	return out
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
