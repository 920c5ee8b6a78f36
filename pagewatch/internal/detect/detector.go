// CLAUDE:SUMMARY Change Detector: block check, HTTP status, seed/unchanged/filtered/changed decision, report + capture + change record, resource tracking.
// Package detect decides what one fresh extraction means against the
// stored baseline and writes the artifacts of a reportable change.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/changelog"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/report"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/snapshot"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
	"github.com/hazyhaar/pagewatch/worddiff"
)

// ErrHTTPStatus is returned for a main document status of 400 or above.
var ErrHTTPStatus = errors.New("detect: http error status")

// TimestampLayout prefixes artifact file names so listings sort
// chronologically.
const TimestampLayout = "2006-01-02T15-04-05.000Z"

// ResourcesDir holds downloaded resources, one subdirectory per check.
const ResourcesDir = "resources"

// Input is a fresh extraction of a task's page.
type Input struct {
	Snapshot  string
	Text      string
	Resources []string

	Title    string
	FinalURL string
	HTML     string
	// Status is the main document HTTP status; 0 means unknown.
	Status int

	// Capture returns a full-page PNG. Nil skips the capture.
	Capture func(ctx context.Context) ([]byte, error)
}

// Recorder stores Change Records.
type Recorder interface {
	Append(ctx context.Context, r changelog.Record) changelog.Record
}

// Detector is safe for concurrent use across tasks.
type Detector struct {
	store   *snapshot.Store
	changes Recorder
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides time.Now for artifact timestamps.
func WithClock(now func() time.Time) Option { return func(d *Detector) { d.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Detector) { d.logger = l } }

// New returns a Detector persisting through store and recording changes
// into changes.
func New(store *snapshot.Store, changes Recorder, opts ...Option) *Detector {
	d := &Detector{store: store, changes: changes, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Check classifies in against prev and persists whatever the
// classification requires. It never returns an error: failures come back
// as a KindFailed outcome.
func (d *Detector) Check(ctx context.Context, desc task.Descriptor, prev task.Baseline, in Input) task.Outcome {
	log := d.logger.With("task_id", desc.Key, "url", desc.URL)

	if reason, blocked := DetectBlock(in.Title, in.HTML, in.FinalURL); blocked {
		return task.Outcome{Kind: task.KindBlocked, BlockedReason: reason}
	}
	if in.Status >= 400 {
		return failed(fmt.Errorf("%w: %d", ErrHTTPStatus, in.Status))
	}

	hash := task.Hash(in.Text)
	if !prev.Established() {
		b, err := d.store.Save(desc.OutputDir, task.Baseline{
			Text:      in.Text,
			Snapshot:  in.Snapshot,
			Resources: in.Resources,
			Hash:      hash,
		})
		if err != nil {
			return failed(err)
		}
		log.Info("detect: baseline seeded", "chars", b.CharCount, "resources", len(b.Resources))
		return task.Outcome{Kind: task.KindSeeded, Baseline: &b}
	}

	ts := d.now().UTC().Format(TimestampLayout)
	out := task.Outcome{Kind: task.KindUnchanged}
	base := prev

	switch {
	case hash == prev.Hash:
	case !keywordMatches(in.Text, desc.RequiredKeyword):
		out.Kind = task.KindFiltered
		log.Debug("detect: change filtered by keyword", "keyword", desc.RequiredKeyword)
	default:
		saved, b, err := d.reportChange(ctx, desc, prev, in, hash, ts)
		if err != nil {
			return failed(err)
		}
		out.Kind = task.KindChanged
		out.SavedPath = saved
		base = b
		out.Baseline = &base
		log.Info("detect: change reported", "path", saved)
	}

	if desc.Extraction.TracksResources() {
		b, changed, err := d.trackResources(ctx, desc, base, in.Resources, ts)
		if err != nil {
			out.Kind = task.KindFailed
			out.Err = err
			return out
		}
		if changed {
			base = b
			out.Baseline = &base
		}
	}
	return out
}

func failed(err error) task.Outcome {
	return task.Outcome{Kind: task.KindFailed, Err: err}
}

func keywordMatches(text, keyword string) bool {
	if keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// reportChange writes the capture, diff report and snapshot, saves the new
// baseline and then records the change. The capture is bounded by the
// task's navigation timeout. The resource list is carried over
// from prev; resource tracking updates it separately.
func (d *Detector) reportChange(ctx context.Context, desc task.Descriptor, prev task.Baseline, in Input, hash, ts string) (string, task.Baseline, error) {
	if err := os.MkdirAll(desc.OutputDir, 0o755); err != nil {
		return "", prev, fmt.Errorf("detect: mkdir output: %w", err)
	}

	var captureName string
	if in.Capture != nil {
		cctx, cancel := context.WithTimeout(ctx, desc.Timeout())
		png, err := in.Capture(cctx)
		cancel()
		if err == nil {
			captureName = ts + "_capture.png"
			err = snapshot.WriteFile(filepath.Join(desc.OutputDir, captureName), png)
		}
		if err != nil {
			captureName = ""
			d.logger.Warn("detect: capture failed", "task_id", desc.Key, "error", err)
		}
	}

	diff := worddiff.Compare(prev.Text, in.Text)
	html, err := report.Render(report.Data{
		TaskName: desc.Name,
		URL:      desc.URL,
		Detected: d.now(),
		Diff:     diff,
		Snapshot: in.Snapshot,
		Capture:  captureName,
	})
	if err != nil {
		return "", prev, err
	}
	reportPath := filepath.Join(desc.OutputDir, ts+"_diff_"+report.Percent(diff.Similarity)+".html")
	if err := snapshot.WriteFile(reportPath, html); err != nil {
		return "", prev, fmt.Errorf("detect: write report: %w", err)
	}
	if in.Snapshot != "" {
		if err := snapshot.WriteFile(filepath.Join(desc.OutputDir, ts+"_snapshot.md"), []byte(in.Snapshot)); err != nil {
			d.logger.Warn("detect: write snapshot failed", "task_id", desc.Key, "error", err)
		}
	}

	b, err := d.store.Save(desc.OutputDir, task.Baseline{
		Text:      in.Text,
		Snapshot:  in.Snapshot,
		Resources: prev.Resources,
		Hash:      hash,
	})
	if err != nil {
		return reportPath, prev, err
	}

	// Recorded only once the baseline moved, so a retried change is logged once.
	if d.changes != nil {
		d.changes.Append(ctx, changelog.Record{
			TaskID:    desc.Key,
			TaskName:  desc.Name,
			Source:    desc.Source.String(),
			SavedPath: reportPath,
		})
	}
	return reportPath, b, nil
}

// trackResources downloads (or lists) ids absent from base and stores the
// current list when it differs. A failed download leaves the stored list
// untouched so the ids are retried next run.
func (d *Detector) trackResources(ctx context.Context, desc task.Descriptor, base task.Baseline, current []string, ts string) (task.Baseline, bool, error) {
	if current == nil {
		current = []string{}
	}
	var fresh []string
	if len(current) >= len(base.Resources) {
		for _, id := range current {
			if !base.HasResource(id) {
				fresh = append(fresh, id)
			}
		}
	}

	if len(fresh) > 0 {
		var err error
		if desc.Fetcher != nil {
			err = d.download(ctx, desc, fresh, ts)
		} else {
			list := strings.Join(fresh, "\n") + "\n"
			err = snapshot.WriteFile(filepath.Join(desc.OutputDir, ts+"_new_resources.txt"), []byte(list))
		}
		if err != nil {
			return base, false, err
		}
		d.logger.Info("detect: new resources", "task_id", desc.Key, "count", len(fresh))
	}

	if slices.Equal(current, base.Resources) {
		return base, false, nil
	}
	b, err := d.store.SaveResources(desc.OutputDir, base, current)
	if err != nil {
		return base, false, err
	}
	return b, true, nil
}

func (d *Detector) download(ctx context.Context, desc task.Descriptor, ids []string, ts string) error {
	dir := filepath.Join(desc.OutputDir, ResourcesDir, ts)
	used := make(map[string]bool)
	taken := func(name string) bool { return used[strings.ToLower(name)] }

	for _, id := range ids {
		res, err := desc.Fetcher.Fetch(ctx, id)
		if err != nil {
			return fmt.Errorf("detect: fetch resource %q: %w", id, err)
		}
		if int64(len(res.Data)) > horosafe.MaxResourceBytes {
			return fmt.Errorf("detect: resource %q: %w", id, horosafe.ErrTooLarge)
		}
		name := res.Name
		if name == "" {
			name = id
		}
		name = horosafe.UniqueName(horosafe.SanitizeFilename(name), taken)
		used[strings.ToLower(name)] = true

		path, err := horosafe.SafePath(dir, name)
		if err != nil {
			return fmt.Errorf("detect: resource %q: %w", id, err)
		}
		if err := snapshot.WriteFile(path, res.Data); err != nil {
			return fmt.Errorf("detect: save resource %q: %w", id, err)
		}
	}
	return nil
}
