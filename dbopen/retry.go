package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// Primary result codes, see sqlite3.h.
const (
	codeBusy   = 5
	codeLocked = 6
)

// Attempts bounds RunTx tries on a busy database.
const Attempts = 4

// IsBusy reports whether err signals SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case codeBusy, codeLocked:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RunTx runs fn in a transaction. A busy database is retried with a pause
// doubling from 50ms; any other error is returned at once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	pause := 50 * time.Millisecond
	var err error
	for attempt := 1; ; attempt++ {
		err = once(ctx, db, fn)
		if !IsBusy(err) || attempt == Attempts {
			return err
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: tx retry: %w", ctx.Err())
		case <-t.C:
		}
		pause *= 2
	}
}

func once(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
