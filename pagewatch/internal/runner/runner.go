// CLAUDE:SUMMARY Executes one check: hydrate baseline, borrow a pooled page, navigate, extract, run task scripts, hand off to the detector.
// Package runner executes a single check of a task and implements the
// scheduler's Executor.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/browser"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/detect"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/extract"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/snapshot"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Page is a browser tab able to run one check.
type Page interface {
	Load(ctx context.Context, url string, nav task.Navigation) (browser.Visit, error)
	EvalString(ctx context.Context, js string) (string, error)
	EvalStrings(ctx context.Context, js string) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Pool lends pages.
type Pool interface {
	Acquire(ctx context.Context) (Page, error)
	Release(Page)
}

// FromManager adapts a browser.Manager to Pool.
func FromManager(m *browser.Manager) Pool { return managerPool{m} }

type managerPool struct{ m *browser.Manager }

func (p managerPool) Acquire(ctx context.Context) (Page, error) {
	pg, err := p.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func (p managerPool) Release(pg Page) {
	if bp, ok := pg.(*browser.Page); ok {
		p.m.Release(bp)
	}
}

// Runner is safe for concurrent use.
type Runner struct {
	pool      Pool
	extractor *extract.Extractor
	detector  *detect.Detector
	store     *snapshot.Store
	logger    *slog.Logger
}

// New returns a Runner. A nil logger uses slog.Default().
func New(pool Pool, ex *extract.Extractor, det *detect.Detector, store *snapshot.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pool: pool, extractor: ex, detector: det, store: store, logger: logger}
}

// Execute runs one check of d against prev. When hydrated is false the
// stored baseline replaces prev first, and the outcome always carries the
// baseline so the caller can mark the task hydrated.
func (r *Runner) Execute(ctx context.Context, d task.Descriptor, prev task.Baseline, hydrated bool) task.Outcome {
	start := time.Now()
	if !hydrated {
		if b, ok := r.store.Load(d.OutputDir); ok {
			prev = b
		}
	}

	out := r.check(ctx, d, prev)
	if !hydrated && out.Baseline == nil {
		out.Baseline = &prev
	}
	out.Duration = time.Since(start)
	return out
}

func (r *Runner) check(ctx context.Context, d task.Descriptor, prev task.Baseline) task.Outcome {
	log := r.logger.With("task_id", d.Key, "url", d.URL)

	page, err := r.pool.Acquire(ctx)
	if err != nil {
		return failed(err)
	}
	defer r.pool.Release(page)

	visit, err := page.Load(ctx, d.URL, d.Navigation)
	if err != nil {
		return failed(err)
	}
	log.Debug("runner: page loaded", "status", visit.Status, "final_url", visit.FinalURL, "bytes", len(visit.HTML))

	// A challenge page rarely contains the configured region, so it is
	// recognised before extraction can fail on it.
	if reason, blocked := detect.DetectBlock(visit.Title, visit.HTML, visit.FinalURL); blocked {
		return task.Outcome{Kind: task.KindBlocked, BlockedReason: reason}
	}

	base := visit.FinalURL
	if base == "" {
		base = d.URL
	}
	res, err := r.extractor.Extract(d.Extraction, visit.HTML, base)
	if err != nil {
		return failed(err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, d.Timeout())
	defer cancel()
	if js := d.Extraction.ComparableScript; js != "" {
		text, err := page.EvalString(evalCtx, js)
		if err != nil {
			return failed(fmt.Errorf("runner: comparable script: %w", err))
		}
		res.Text = extract.Normalize(text, d.Extraction.IgnoreText)
	}
	if js := d.Extraction.ResourceScript; js != "" {
		ids, err := page.EvalStrings(evalCtx, js)
		if err != nil {
			return failed(fmt.Errorf("runner: resource script: %w", err))
		}
		res.Resources = extract.FilterIDs(ids, d.Extraction.ResourcePattern)
	}

	return r.detector.Check(ctx, d, prev, detect.Input{
		Snapshot:  res.Snapshot,
		Text:      res.Text,
		Resources: res.Resources,
		Title:     visit.Title,
		FinalURL:  visit.FinalURL,
		HTML:      visit.HTML,
		Status:    visit.Status,
		Capture:   page.Screenshot,
	})
}

func failed(err error) task.Outcome {
	return task.Outcome{Kind: task.KindFailed, Err: err}
}
