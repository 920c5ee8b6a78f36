// CLAUDE:SUMMARY Task descriptor, extraction-as-data, interval and fetch capabilities, runtime state and check outcome types.
// Package task holds the types shared by every pagewatch component: the
// immutable task descriptor, its runtime state, and the outcome of one check.
package task

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"regexp"
	"time"
)

// Source tells where a descriptor came from.
type Source int

const (
	SourceBuiltin Source = iota
	SourceExternal
)

func (s Source) String() string {
	if s == SourceExternal {
		return "external"
	}
	return "builtin"
}

// WaitStrategy selects what navigation waits for before extraction.
type WaitStrategy string

const (
	WaitLoad             WaitStrategy = "load"
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitNetworkIdle      WaitStrategy = "networkidle"
	WaitNone             WaitStrategy = "none"
)

// DefaultTimeout applies to navigation when Navigation.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// DefaultIntervalSeconds applies when a descriptor has no interval.
const DefaultIntervalSeconds = 300

// Navigation describes how a page is loaded.
type Navigation struct {
	Wait         WaitStrategy
	WaitSelector string
	ExtraWait    time.Duration
	Timeout      time.Duration
}

// Extraction is the declarative form of a task's in-page behaviour. The
// full snapshot is always produced from the region HTML; comparable text
// and resource ids come from the selectors below unless a script is given.
type Extraction struct {
	// Region restricts extraction to nodes matching this selector.
	Region string
	// IgnoreSelectors are removed from the region before extraction.
	IgnoreSelectors []string
	// IgnoreText strips matching spans from the comparable text.
	IgnoreText *regexp.Regexp

	// ResourceSelector picks elements carrying resource ids in ResourceAttr
	// (default "href"). ResourcePattern, when set, keeps only matching values
	// and uses the first capture group as the id if there is one.
	ResourceSelector string
	ResourceAttr     string
	ResourcePattern  *regexp.Regexp

	// ComparableScript is evaluated in the page and must return a string.
	ComparableScript string
	// ResourceScript is evaluated in the page and must return a string array.
	ResourceScript string
}

// TracksResources reports whether the task extracts resource ids at all.
func (e Extraction) TracksResources() bool {
	return e.ResourceSelector != "" || e.ResourceScript != ""
}

// IntervalSource yields the delay before the next check. It is asked again
// on every reschedule.
type IntervalSource interface {
	Seconds() int
}

// FixedInterval is a constant interval in seconds.
type FixedInterval int

func (f FixedInterval) Seconds() int { return int(f) }

// RandomInterval draws uniformly from [Min, Max] seconds.
type RandomInterval struct {
	Min, Max int
}

func (r RandomInterval) Seconds() int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.IntN(r.Max-r.Min+1)
}

// IntervalFunc adapts a function to IntervalSource.
type IntervalFunc func() int

func (f IntervalFunc) Seconds() int { return f() }

// Resource is one downloaded resource.
type Resource struct {
	// Name is a suggested file name; the id is used when empty.
	Name string
	Data []byte
}

// ResourceFetcher downloads the resource behind an id.
type ResourceFetcher interface {
	Fetch(ctx context.Context, id string) (Resource, error)
}

// FetcherFunc adapts a function to ResourceFetcher.
type FetcherFunc func(ctx context.Context, id string) (Resource, error)

func (f FetcherFunc) Fetch(ctx context.Context, id string) (Resource, error) { return f(ctx, id) }

// Descriptor is one configured task. It is replaced wholesale on edits.
type Descriptor struct {
	// ID is the identity given by the source. The registry derives the
	// engine-wide key from it.
	ID string
	// Key is the engine-wide identity, stamped by the registry.
	Key string

	Source    Source
	Name      string
	URL       string
	OutputDir string
	Enabled   bool

	Navigation Navigation
	Extraction Extraction
	Interval   IntervalSource
	Fetcher    ResourceFetcher

	// RequiredKeyword gates reporting: a change is only reported when the
	// new comparable text contains it, case-insensitively.
	RequiredKeyword string
}

// IntervalSeconds evaluates the interval, falling back to the default and
// never returning less than one second.
func (d Descriptor) IntervalSeconds() int {
	if d.Interval == nil {
		return DefaultIntervalSeconds
	}
	if s := d.Interval.Seconds(); s > 0 {
		return s
	}
	return 1
}

// Timeout returns the navigation timeout with the default applied.
func (d Descriptor) Timeout() time.Duration {
	if d.Navigation.Timeout > 0 {
		return d.Navigation.Timeout
	}
	return DefaultTimeout
}

// Hash returns the SHA-256 hex digest of comparable text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
