package scheduler

import (
	"time"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/registry"
)

// Status is a copy of one task's scheduling state.
type Status struct {
	Key       string `json:"key"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	OutputDir string `json:"output_dir"`
	Enabled   bool   `json:"enabled"`

	Armed  bool `json:"armed"`
	Queued bool `json:"queued"`
	Active bool `json:"active"`

	Blocked       bool      `json:"blocked"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	BlockedAt     time.Time `json:"blocked_at,omitzero"`

	HasBaseline   bool      `json:"has_baseline"`
	FailureCount  int       `json:"failure_count"`
	NextCheck     time.Time `json:"next_check,omitzero"`
	LastCheck     time.Time `json:"last_check,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	LastSavedPath string    `json:"last_saved_path,omitempty"`
}

// Counts aggregates task states.
type Counts struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
	Armed   int `json:"armed"`
	Queued  int `json:"queued"`
	Active  int `json:"active"`
	Blocked int `json:"blocked"`
	Failing int `json:"failing"`
}

// Statuses returns every task's status in registry order.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.reg.Entries()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.statusLocked(e))
	}
	return out
}

// Status returns one task's status.
func (s *Scheduler) Status(key string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reg.Get(key)
	if !ok {
		return Status{}, false
	}
	return s.statusLocked(e), true
}

// Counts returns aggregate counts.
func (s *Scheduler) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, e := range s.reg.Entries() {
		c.Total++
		if e.Desc.Enabled {
			c.Enabled++
		}
		if _, ok := s.timers[e.Key]; ok {
			c.Armed++
		}
		if e.State.Queued {
			c.Queued++
		}
		if e.State.Active {
			c.Active++
		}
		if e.State.Blocked {
			c.Blocked++
		}
		if e.State.FailureCount > 0 {
			c.Failing++
		}
	}
	return c
}

func (s *Scheduler) statusLocked(e *registry.Entry) Status {
	st := e.State
	_, armed := s.timers[e.Key]
	return Status{
		Key:           e.Key,
		ID:            e.Desc.ID,
		Name:          e.Desc.Name,
		URL:           e.Desc.URL,
		Source:        e.Desc.Source.String(),
		OutputDir:     e.Desc.OutputDir,
		Enabled:       e.Desc.Enabled,
		Armed:         armed,
		Queued:        st.Queued,
		Active:        st.Active,
		Blocked:       st.Blocked,
		BlockedReason: st.BlockedReason,
		BlockedAt:     st.BlockedAt,
		HasBaseline:   st.Baseline.Established(),
		FailureCount:  st.FailureCount,
		NextCheck:     st.NextCheck,
		LastCheck:     st.LastCheck,
		LastError:     st.LastError,
		LastSavedPath: st.LastSavedPath,
	}
}
