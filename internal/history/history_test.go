package history

import (
	"context"
	"testing"
	"time"
)

func TestMemStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		_ = s.RecordRun(ctx, Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns error = %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "d" || ids[2] != "b" {
		t.Errorf("ids = %v, want [d c b]", ids)
	}

	limited, _ := s.ListRuns(ctx, 1)
	if len(limited) != 1 || limited[0].ID != "d" {
		t.Errorf("limited = %v", limited)
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Now()
	r := Run{StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)}
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration())
	}
}
