// CLAUDE:SUMMARY Loads built-in tasks from the watch_tasks SQLite table and builds the hot-reload watcher over it.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/watch"
)

// Schema for the watch_tasks table. The config column holds a TaskConfig
// as JSON, minus id and enabled which have their own columns.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_tasks (
	id         TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL DEFAULT 1,
	config     TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL
);
`

// LoadDBTasks reads every task row, ordered by id.
func LoadDBTasks(ctx context.Context, db *sql.DB) ([]TaskConfig, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, enabled, config FROM watch_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("config: load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskConfig
	for rows.Next() {
		var id, raw string
		var enabled int
		if err := rows.Scan(&id, &enabled, &raw); err != nil {
			return nil, fmt.Errorf("config: scan task: %w", err)
		}
		var t TaskConfig
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("config: task %s: %w", id, err)
		}
		on := enabled != 0
		t.ID = id
		t.Enabled = &on
		if t.URL == "" {
			return nil, fmt.Errorf("config: task %s: url is required", id)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpsertDBTask writes t into the table.
func UpsertDBTask(ctx context.Context, db *sql.DB, t TaskConfig) error {
	enabled := 1
	if t.Enabled != nil && !*t.Enabled {
		enabled = 0
	}
	id := t.ID
	t.ID, t.Enabled = "", nil
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("config: marshal task %s: %w", id, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO watch_tasks (id, enabled, config, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, config = excluded.config, updated_at = excluded.updated_at`,
		id, enabled, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert task %s: %w", id, err)
	}
	return nil
}

// WatchTasks returns a watcher that fires when watch_tasks changes, from
// this process or another one.
func WatchTasks(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: time.Second,
		Debounce: 500 * time.Millisecond,
		Detector: watch.TableFingerprint("watch_tasks", "updated_at"),
		Logger:   logger,
	})
}
