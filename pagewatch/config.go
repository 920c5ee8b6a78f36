package pagewatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/browser"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/changelog"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/config"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// FileConfig is the YAML configuration file.
type FileConfig = config.Config

// TaskConfig is one built-in task entry of a FileConfig or a task table row.
type TaskConfig = config.TaskConfig

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) { return config.LoadFile(path) }

// ParseConfig decodes and validates YAML configuration.
func ParseConfig(data []byte) (*FileConfig, error) { return config.Parse(data) }

// EngineConfig extracts the runtime settings of fc.
func EngineConfig(fc *FileConfig, logger *slog.Logger) Config {
	return Config{
		Mode:            browser.Mode(fc.Mode),
		RemoteURL:       fc.RemoteURL,
		Headless:        fc.Headless == nil || *fc.Headless,
		ProfileDir:      fc.ProfileDir,
		XvfbDisplay:     fc.XvfbDisplay,
		BlockResources:  fc.BlockResources,
		RecycleInterval: fc.RecycleInterval,
		MaxConcurrency:  fc.MaxConcurrency,
		UserAgent:       fc.UserAgent,
		AcceptLanguage:  fc.AcceptLanguage,
		StartDelay:      fc.StartDelay,
		LegacyScript:    fc.LegacyScript,
		OutputRoot:      fc.OutputRoot,
		Logger:          logger,
	}
}

// OpenChangeDB opens the SQLite database mirroring the change log.
func OpenChangeDB(path string) (*sql.DB, error) { return changelog.Open(path) }

// WithChangeDB mirrors the change log to db and reloads it on New.
func WithChangeDB(db *sql.DB) Option { return func(e *Engine) { e.changeDB = db } }

// OpenTaskDB opens the SQLite database holding the watch_tasks table.
func OpenTaskDB(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(config.Schema))
	if err != nil {
		return nil, fmt.Errorf("pagewatch: open task db %s: %w", path, err)
	}
	return db, nil
}

// UpsertTask writes one task row into a task database.
func UpsertTask(ctx context.Context, db *sql.DB, t TaskConfig) error {
	return config.UpsertDBTask(ctx, db, t)
}

// ApplyConfig applies the runtime settings and task entries of fc.
func (e *Engine) ApplyConfig(ctx context.Context, fc *FileConfig) error {
	if err := e.Reconfigure(ctx, EngineConfig(fc, e.logger)); err != nil {
		return err
	}
	return e.SetTaskConfigs(fc)
}

// SetTaskConfigs replaces the file task entries. Rows loaded from a task
// database are merged in and win over file entries with the same id.
func (e *Engine) SetTaskConfigs(fc *FileConfig) error {
	e.mu.Lock()
	e.fileTasks = append([]TaskConfig(nil), fc.Tasks...)
	e.taskRoot = fc.OutputRoot
	e.taskTimeout = fc.NavigationTimeout
	e.mu.Unlock()
	return e.applyTaskConfigs()
}

// LoadTaskDB reads every row of db's task table and applies the merged set.
func (e *Engine) LoadTaskDB(ctx context.Context, db *sql.DB) error {
	rows, err := config.LoadDBTasks(ctx, db)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.dbTasks = rows
	e.mu.Unlock()
	return e.applyTaskConfigs()
}

// WatchTaskDB reloads db's task table whenever it changes, until ctx ends.
func (e *Engine) WatchTaskDB(ctx context.Context, db *sql.DB) {
	config.WatchTasks(db, e.logger).OnChange(ctx, func(ctx context.Context) error {
		return e.LoadTaskDB(ctx, db)
	})
}

func (e *Engine) applyTaskConfigs() error {
	e.mu.Lock()
	file, rows := e.fileTasks, e.dbTasks
	root, timeout, http := e.taskRoot, e.taskTimeout, e.http
	e.mu.Unlock()
	if root == "" {
		root = "output"
	}
	if timeout <= 0 {
		timeout = task.DefaultTimeout
	}

	fromDB := make(map[string]bool, len(rows))
	for _, t := range rows {
		fromDB[t.ID] = true
	}
	ds := make([]task.Descriptor, 0, len(file)+len(rows))
	for _, t := range file {
		if fromDB[t.ID] {
			continue
		}
		d, err := t.Descriptor(root, timeout, http)
		if err != nil {
			return err
		}
		ds = append(ds, d)
	}
	for _, t := range rows {
		d, err := t.Descriptor(root, timeout, http)
		if err != nil {
			e.logger.Warn("pagewatch: skipping task row", "id", t.ID, "error", err)
			continue
		}
		ds = append(ds, d)
	}
	e.SetTasks(ds)
	return nil
}
