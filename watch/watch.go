// Package watch polls a SQLite database for a moving version token and
// runs a reload once the token has settled.
//
//	w := watch.New(db, watch.Options{Debounce: 500 * time.Millisecond})
//	go w.OnChange(ctx, reload)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ChangeDetector reads a version token. Two different values mean the
// watched data changed.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is how long the token must stay put before the action runs.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector ChangeDetector
	Logger   *slog.Logger
}

// Stats are point-in-time counters.
type Stats struct {
	Version    int64     `json:"version"`
	Reloads    int64     `json:"reloads"`
	Errors     int64     `json:"errors"`
	LastReload time.Time `json:"last_reload,omitzero"`
}

// Watcher polls a database and runs an action on change.
type Watcher struct {
	db       *sql.DB
	interval time.Duration
	debounce time.Duration
	detect   ChangeDetector
	log      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Watcher. Call OnChange to start it.
func New(db *sql.DB, opts Options) *Watcher {
	w := &Watcher{
		db:       db,
		interval: opts.Interval,
		debounce: opts.Debounce,
		detect:   opts.Detector,
		log:      opts.Logger,
	}
	if w.interval <= 0 {
		w.interval = time.Second
	}
	if w.detect == nil {
		w.detect = PragmaDataVersion
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// OnChange blocks until ctx is done. The action runs when the token read on
// a poll differs from the last applied one and has not moved for the
// debounce period. A failed action is retried on the next poll.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	if v, err := w.detect(ctx, w.db); err != nil {
		w.log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.setVersion(v)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		seen    int64
		since   time.Time
		pending bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur, err := w.detect(ctx, w.db)
			if err != nil {
				w.countError()
				w.log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.Stats().Version {
				pending = false
				continue
			}
			if !pending || cur != seen {
				seen, since, pending = cur, now, true
				w.log.Debug("watch: change detected", "pending_version", cur)
			}
			if now.Sub(since) < w.debounce {
				continue
			}
			if w.apply(ctx, action, cur) {
				pending = false
			}
		}
	}
}

func (w *Watcher) apply(ctx context.Context, action func(context.Context) error, ver int64) bool {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.countError()
		w.log.Error("watch: reload failed", "error", err, "version", ver)
		return false
	}
	w.mu.Lock()
	w.stats.Version = ver
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	w.mu.Unlock()
	w.log.Info("watch: reload complete", "version", ver, "duration", time.Since(start))
	return true
}

func (w *Watcher) setVersion(v int64) {
	w.mu.Lock()
	w.stats.Version = v
	w.mu.Unlock()
}

func (w *Watcher) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}

// PragmaDataVersion reads PRAGMA data_version, which moves when another
// connection commits to the same file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// TableFingerprint returns a detector combining COUNT(*) and MAX(column) of
// table. Inserts, deletes and updates that bump column all move it.
func TableFingerprint(table, column string) ChangeDetector {
	query := "SELECT COUNT(*), COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var count, max int64
		if err := db.QueryRowContext(ctx, query).Scan(&count, &max); err != nil {
			return 0, err
		}
		return max*1_000_003 + count, nil
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
