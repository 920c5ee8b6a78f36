// CLAUDE:SUMMARY Operator audit trail: SQLite-backed entries for mutating engine calls, async batched writes, kit middleware.
// Package audit records operator actions (unblock, check now, start, stop,
// external refresh) in an audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/kit"
)

// Schema for the audit_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id    TEXT PRIMARY KEY,
	timestamp   INTEGER NOT NULL,
	action      TEXT NOT NULL,
	transport   TEXT NOT NULL DEFAULT '',
	remote_addr TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	parameters  TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
`

const batchSize = 32

// Entry is one audited call. Timestamp is Unix milliseconds.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Transport  string `json:"transport"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// SQLiteLogger writes entries to audit_log, synchronously or through a
// buffered background writer.
type SQLiteLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *Entry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets the entry id generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(l *SQLiteLogger) { l.newID = gen } }

// WithLogger sets the logger for write failures.
func WithLogger(lg *slog.Logger) Option { return func(l *SQLiteLogger) { l.logger = lg } }

// NewSQLiteLogger starts the background writer. Close flushes it.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:     db,
		newID:  idgen.Prefixed("aud_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan *Entry, 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log writes e synchronously after filling defaults.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(e)
	return l.insert(ctx, l.db, e)
}

// LogAsync queues e. A full buffer or a closed logger falls back to a
// synchronous write.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(e)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		if err := l.insert(context.Background(), l.db, e); err != nil {
			l.logger.Error("audit: write after close failed", "error", err)
		}
		return
	}
	select {
	case l.ch <- e:
	default:
		if err := l.insert(context.Background(), l.db, e); err != nil {
			l.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Close flushes queued entries and stops the writer.
func (l *SQLiteLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	<-l.done
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *SQLiteLogger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_id, timestamp, action, transport, remote_addr, request_id,
		       parameters, status, error_message, duration_ms
		FROM audit_log ORDER BY timestamp DESC, entry_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Transport, &e.RemoteAddr,
			&e.RequestID, &e.Parameters, &e.Status, &e.Error, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLogger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		e.Status = "success"
		if e.Error != "" {
			e.Status = "error"
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQLiteLogger) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, action, transport, remote_addr, request_id,
		 parameters, status, error_message, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.Transport, e.RemoteAddr, e.RequestID,
		e.Parameters, e.Status, e.Error, e.DurationMs)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", e.EntryID, err)
	}
	return nil
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			l.logger.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := l.insert(ctx, tx, e); err != nil {
				l.logger.Error("audit: batch insert", "error", err)
			}
		}
		if err := tx.Commit(); err != nil {
			l.logger.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Middleware audits every call of the endpoint as action. The request is
// stored as JSON parameters.
func Middleware(l *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				Transport:  kit.GetTransport(ctx),
				RemoteAddr: kit.GetRemoteAddr(ctx),
				RequestID:  kit.GetRequestID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if req != nil {
				if b, mErr := json.Marshal(req); mErr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}
