// CLAUDE:SUMMARY Crash-safe per-task baseline persistence: capped baseline.txt plus versioned state.json under <output>/.pagewatch.
// Package snapshot persists one baseline per task output directory.
//
// Layout under the output directory:
//
//	.pagewatch/state.json    versioned metadata record
//	.pagewatch/baseline.txt  comparable text, capped at MaxBaselineChars
//
// Both files are written through temp-then-rename. A missing, unreadable
// or unknown-version state file means "no baseline", never an error.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

const (
	// Version tags state.json. Records with another tag are ignored.
	Version = "pagewatch-state/1"
	// Dir is the hidden state directory inside each output directory.
	Dir = ".pagewatch"

	stateFile    = "state.json"
	baselineFile = "baseline.txt"

	// MaxBaselineChars caps the stored comparable text.
	MaxBaselineChars = 200_000
	// TruncationMarker is appended to a capped baseline.
	TruncationMarker = "\n[... truncated ...]"
)

// Record is the on-disk state descriptor.
type Record struct {
	Version           string    `json:"version"`
	UpdatedAt         time.Time `json:"updatedAt"`
	TextHash          string    `json:"textHash"`
	BaselineFile      string    `json:"baselineFile"`
	BaselineLength    int       `json:"baselineLength"`
	BaselineTruncated bool      `json:"baselineTruncated"`
	Resources         []string  `json:"resources"`
}

// Store reads and writes snapshot state.
type Store struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now for UpdatedAt.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a Store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func statePath(outDir string) string    { return filepath.Join(outDir, Dir, stateFile) }
func baselinePath(outDir string) string { return filepath.Join(outDir, Dir, baselineFile) }

// Load returns the stored baseline of outDir. ok is false when there is
// none usable.
func (s *Store) Load(outDir string) (b task.Baseline, ok bool) {
	rec, ok := s.readRecord(outDir)
	if !ok || rec.TextHash == "" {
		return task.Baseline{}, false
	}
	text, err := os.ReadFile(baselinePath(outDir))
	if err != nil {
		s.logger.Warn("snapshot: baseline missing, treating as first run", "dir", outDir, "error", err)
		return task.Baseline{}, false
	}
	return task.Baseline{
		Text:      string(text),
		Resources: rec.Resources,
		Hash:      rec.TextHash,
		CharCount: rec.BaselineLength,
		Truncated: rec.BaselineTruncated,
	}, true
}

func (s *Store) readRecord(outDir string) (Record, bool) {
	data, err := os.ReadFile(statePath(outDir))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("snapshot: read state", "dir", outDir, "error", err)
		}
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("snapshot: corrupt state, ignoring", "dir", outDir, "error", err)
		return Record{}, false
	}
	if rec.Version != Version {
		s.logger.Warn("snapshot: unknown state version, ignoring", "dir", outDir, "version", rec.Version)
		return Record{}, false
	}
	return rec, true
}

// Save writes b as the new baseline of outDir: baseline text first, then
// the state record. It returns b as stored, with the text capped and
// CharCount/Truncated filled in. b.Hash must be the hash of the full text.
func (s *Store) Save(outDir string, b task.Baseline) (task.Baseline, error) {
	text, truncated := Cap(b.Text)
	b.Text = text
	b.Truncated = truncated
	b.CharCount = utf8.RuneCountInString(text)

	if err := WriteFile(baselinePath(outDir), []byte(text)); err != nil {
		return b, fmt.Errorf("snapshot: save baseline: %w", err)
	}
	if err := s.writeRecord(outDir, b); err != nil {
		return b, err
	}
	return b, nil
}

// SaveResources rewrites the state record with a new resource list,
// leaving the baseline text untouched.
func (s *Store) SaveResources(outDir string, b task.Baseline, resources []string) (task.Baseline, error) {
	b.Resources = append([]string(nil), resources...)
	if err := s.writeRecord(outDir, b); err != nil {
		return b, err
	}
	return b, nil
}

func (s *Store) writeRecord(outDir string, b task.Baseline) error {
	resources := b.Resources
	if resources == nil {
		resources = []string{}
	}
	rec := Record{
		Version:           Version,
		UpdatedAt:         s.now().UTC(),
		TextHash:          b.Hash,
		BaselineFile:      baselineFile,
		BaselineLength:    b.CharCount,
		BaselineTruncated: b.Truncated,
		Resources:         resources,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal state: %w", err)
	}
	if err := WriteFile(statePath(outDir), append(data, '\n')); err != nil {
		return fmt.Errorf("snapshot: save state: %w", err)
	}
	return nil
}

// Cap cuts text to MaxBaselineChars runes and appends TruncationMarker
// when it had to cut.
func Cap(text string) (string, bool) {
	if utf8.RuneCountInString(text) <= MaxBaselineChars {
		return text, false
	}
	i, n := 0, 0
	for n < MaxBaselineChars {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		n++
	}
	return text[:i] + TruncationMarker, true
}
