// CLAUDE:SUMMARY SQLite opener for the change log, audit trail and task table: WAL, busy timeout, schema bootstrap in one transaction.
// Package dbopen opens the SQLite databases pagewatch keeps (change log,
// audit trail, task table).
//
//	db, err := dbopen.Open("changes.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const memory = ":memory:"

type pragma struct{ name, value string }

type options struct {
	pragmas  []pragma
	mkdirAll bool
	schemas  []string
	maxConns int
}

// Option customises Open.
type Option func(*options)

// WithPragma sets or overrides PRAGMA name = value.
func WithPragma(name, value string) Option {
	return func(o *options) {
		for i, p := range o.pragmas {
			if p.name == name {
				o.pragmas[i].value = value
				return
			}
		}
		o.pragmas = append(o.pragmas, pragma{name, value})
	}
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return WithPragma("busy_timeout", fmt.Sprint(ms)) }

// WithMkdirAll creates the parent directory of the database path.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema queues DDL applied, in order, inside one transaction.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option { return func(o *options) { o.maxConns = n } }

// Open opens the modernc SQLite database at path. Pragmas run through Exec
// so they apply whatever the DSN says: journal_mode WAL, busy_timeout
// 10000, synchronous NORMAL, foreign_keys ON, unless overridden.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{pragmas: []pragma{
		{"journal_mode", "WAL"},
		{"busy_timeout", "10000"},
		{"synchronous", "NORMAL"},
		{"foreign_keys", "ON"},
	}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.mkdirAll && path != memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if o.maxConns > 0 {
		db.SetMaxOpenConns(o.maxConns)
	}
	if err := setup(db, o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, o options) error {
	for _, p := range o.pragmas {
		stmt := fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("dbopen: %s: %w", stmt, err)
		}
	}
	if len(o.schemas) == 0 {
		return db.Ping()
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("dbopen: begin schema: %w", err)
	}
	for i, s := range o.schemas {
		if _, err := tx.Exec(s); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit schema: %w", err)
	}
	return nil
}

// OpenMemory opens an in-memory database for tests. The pool holds one
// connection so every query sees the same database; t.Cleanup closes it.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memory, append([]Option{WithMaxOpenConns(1)}, opts...)...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
