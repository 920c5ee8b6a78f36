// Package registry merges built-in and external task descriptors into one
// keyed set and carries runtime state across rebuilds.
//
// A Registry is not safe for concurrent use; the scheduler owns it and
// calls it under its own lock.
package registry

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

const (
	BuiltinPrefix  = "task:"
	ExternalPrefix = "legacy:"
)

// Key returns the engine-wide key of a descriptor. External descriptors
// have no identity of their own, so their position in the source is used.
func Key(d task.Descriptor, index int) string {
	if d.Source == task.SourceExternal {
		return ExternalPrefix + strconv.Itoa(index)
	}
	return BuiltinPrefix + d.ID
}

// Entry is one registered task.
type Entry struct {
	Key   string
	Desc  task.Descriptor
	State *task.State
}

// Diff reports what a rebuild changed.
type Diff struct {
	Added   []string
	Removed []string
	// Reset lists keys kept under the same key whose output directory moved;
	// they start over with fresh state.
	Reset []string
	// Updated lists keys whose descriptor was replaced with state carried.
	Updated []string
}

// Empty reports whether the rebuild changed nothing structurally.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Reset) == 0
}

// Registry is the merged task set.
type Registry struct {
	builtin  []task.Descriptor
	external []task.Descriptor
	entries  map[string]*Entry
	order    []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// SetBuiltin replaces the built-in descriptors and rebuilds.
func (r *Registry) SetBuiltin(ds []task.Descriptor) Diff {
	r.builtin = make([]task.Descriptor, len(ds))
	for i, d := range ds {
		d.Source = task.SourceBuiltin
		r.builtin[i] = d
	}
	return r.rebuild()
}

// SetExternal replaces the external descriptors and rebuilds.
func (r *Registry) SetExternal(ds []task.Descriptor) Diff {
	r.external = make([]task.Descriptor, len(ds))
	for i, d := range ds {
		d.Source = task.SourceExternal
		r.external[i] = d
	}
	return r.rebuild()
}

func (r *Registry) rebuild() Diff {
	var diff Diff
	next := make(map[string]*Entry, len(r.builtin)+len(r.external))
	var order []string

	add := func(key string, d task.Descriptor) {
		if _, dup := next[key]; dup {
			// Later duplicates of a built-in id are ignored.
			return
		}
		d.Key = key
		prev, ok := r.entries[key]
		switch {
		case !ok:
			next[key] = &Entry{Key: key, Desc: d, State: &task.State{}}
			diff.Added = append(diff.Added, key)
		case sameDir(prev.Desc.OutputDir, d.OutputDir):
			next[key] = &Entry{Key: key, Desc: d, State: prev.State}
			diff.Updated = append(diff.Updated, key)
		default:
			next[key] = &Entry{Key: key, Desc: d, State: &task.State{}}
			diff.Reset = append(diff.Reset, key)
		}
		order = append(order, key)
	}

	for i, d := range r.builtin {
		add(Key(d, i), d)
	}
	for i, d := range r.external {
		add(Key(d, i), d)
	}

	for key := range r.entries {
		if _, ok := next[key]; !ok {
			diff.Removed = append(diff.Removed, key)
		}
	}
	sort.Strings(diff.Removed)

	r.entries = next
	r.order = order
	return diff
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// Get returns the entry for key.
func (r *Registry) Get(key string) (*Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Entries returns entries in source order, built-in first.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int { return len(r.order) }
