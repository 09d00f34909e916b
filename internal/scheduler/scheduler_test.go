package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/runtime/sqlite"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func newTestStore(t *testing.T) runtime.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "runtime.db"), 0)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func specWith(tasks ...*types.Task) *types.Spec {
	s := &types.Spec{Tasks: map[string]*types.Task{}}
	for _, task := range tasks {
		if task.Status == "" {
			task.Status = types.StatusReady
		}
		s.Tasks[task.ID] = task
	}
	return s
}

func TestNextOrdersByPriorityThenCreatedAtThenID(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()
	base := time.Now()

	spec := specWith(
		&types.Task{ID: "low", Title: "Low priority", Priority: 5, CreatedAt: base},
		&types.Task{ID: "high", Title: "High priority", Priority: 1, CreatedAt: base.Add(time.Minute)},
		&types.Task{ID: "tied-later", Title: "Tied, later", Priority: 1, CreatedAt: base.Add(2 * time.Minute)},
	)

	var candidates []Candidate
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		c, err := s.Next(ctx, tx, spec, 10, "")
		candidates = c
		return err
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("len(candidates) = %d, want 3", len(candidates))
	}
	want := []string{"high", "tied-later", "low"}
	for i, id := range want {
		if candidates[i].Task.ID != id {
			t.Errorf("candidates[%d].ID = %q, want %q", i, candidates[i].Task.ID, id)
		}
	}
}

func TestNextExcludesLeasedTasks(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	spec := specWith(
		&types.Task{ID: "t1", Title: "One"},
		&types.Task{ID: "t2", Title: "Two"},
	)

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		return store.InsertLease(ctx, tx, &types.Lease{
			LeaseID: "l1", TaskID: "t1", AgentID: "alice",
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("InsertLease: %v", err)
	}

	var candidates []Candidate
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		c, err := s.Next(ctx, tx, spec, 10, "")
		candidates = c
		return err
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Task.ID != "t2" {
		t.Fatalf("expected only t2 to be offered, got %+v", candidates)
	}
}

func TestNextExcludesUnmetDependencies(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	spec := specWith(
		&types.Task{ID: "a", Title: "A"},
		&types.Task{ID: "b", Title: "B", DependsOn: []string{"a"}},
	)

	var candidates []Candidate
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		c, err := s.Next(ctx, tx, spec, 10, "")
		candidates = c
		return err
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Task.ID != "a" {
		t.Fatalf("expected only a to be claimable, got %+v", candidates)
	}
}

func TestNextRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	spec := specWith(
		&types.Task{ID: "a", Title: "A"},
		&types.Task{ID: "b", Title: "B"},
		&types.Task{ID: "c", Title: "C"},
	)

	var candidates []Candidate
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		c, err := s.Next(ctx, tx, spec, 2, "")
		candidates = c
		return err
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
}
