package task

import "time"

// Baseline is the last reported (or seeded) extraction of a task.
type Baseline struct {
	Text      string
	Snapshot  string
	Resources []string
	// Hash is the content hash of the full comparable text. An empty hash
	// means no baseline has been established.
	Hash      string
	CharCount int
	Truncated bool
}

// Established reports whether a baseline exists.
func (b Baseline) Established() bool { return b.Hash != "" }

// HasResource reports whether id is among the known resources.
func (b Baseline) HasResource(id string) bool {
	for _, r := range b.Resources {
		if r == id {
			return true
		}
	}
	return false
}

// State is the mutable runtime state of a task. The registry carries it
// across rebuilds while the key and output directory are unchanged. It is
// only touched under the scheduler lock.
type State struct {
	Baseline Baseline
	// Hydrated is set once Baseline has been loaded from the snapshot store.
	Hydrated bool

	Active       bool
	Queued       bool
	FailureCount int

	Blocked       bool
	BlockedReason string
	BlockedAt     time.Time

	NextCheck     time.Time
	LastCheck     time.Time
	LastError     string
	LastSavedPath string
}

// Kind classifies the result of one check.
type Kind int

const (
	KindFailed Kind = iota
	KindSeeded
	KindUnchanged
	KindChanged
	KindFiltered
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindSeeded:
		return "seeded"
	case KindUnchanged:
		return "unchanged"
	case KindChanged:
		return "changed"
	case KindFiltered:
		return "filtered"
	case KindBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// Outcome is what one check hands back to the scheduler.
type Outcome struct {
	Kind Kind
	// Baseline replaces the runtime baseline when non-nil.
	Baseline *Baseline
	// SavedPath is the report written by a changed check.
	SavedPath     string
	BlockedReason string
	Err           error
	Duration      time.Duration
}
