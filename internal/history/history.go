// Package history records finished generation runs.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/pagegen/internal/content"
)

// DefaultLimit is the number of runs returned when no limit is given.
const DefaultLimit = 50

// Run statuses.
const (
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run summarizes one batch.
type Run struct {
	ID         string         `json:"id"`
	TemplateID content.PageID `json:"template_id"`
	Source     string         `json:"source"`
	Status     string         `json:"status"`
	Total      int            `json:"total"`
	Success    int            `json:"success"`
	Failed     int            `json:"failed"`
	Errors     []string       `json:"errors"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs.
type Store interface {
	RecordRun(ctx context.Context, run Run) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// MemStore keeps runs in memory, bounded to max entries.
type MemStore struct {
	mu   sync.Mutex
	max  int
	runs []Run
}

// NewMemStore returns a store holding at most max runs (DefaultLimit when
// max <= 0).
func NewMemStore(max int) *MemStore {
	if max <= 0 {
		max = DefaultLimit
	}
	return &MemStore{max: max}
}

// RecordRun implements Store.
func (m *MemStore) RecordRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, run)
	if len(m.runs) > m.max {
		m.runs = m.runs[len(m.runs)-m.max:]
	}
	return nil
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]Run, len(m.runs))
	copy(out, m.runs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
