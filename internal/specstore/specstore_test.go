package specstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "spec.yaml"), filepath.Join(dir, ".lock"), 0)
}

func TestUpsertAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertTask(ctx, &types.Task{ID: "t1", Title: "First task"})
	if err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	task, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Title != "First task" {
		t.Errorf("Title = %q, want %q", task.Title, "First task")
	}
	if task.Status != types.StatusReady {
		t.Errorf("default Status = %q, want ready", task.Status)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("expected CreatedAt/UpdatedAt to be stamped")
	}
}

func TestSaveRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertTask(ctx, &types.Task{ID: "a", Title: "A", DependsOn: []string{"b"}}); err != nil {
		t.Fatalf("UpsertTask a: %v", err)
	}
	_, err := s.UpsertTask(ctx, &types.Task{ID: "b", Title: "B", DependsOn: []string{"a"}})
	if err == nil {
		t.Fatal("expected cycle rejection")
	}
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.SpecInvariantViolation {
		t.Fatalf("expected SpecInvariantViolation, got %v", err)
	}
}

func TestSoftDeleteRejectsLiveDependents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, &types.Task{ID: "a", Title: "A"})
	mustUpsert(t, s, &types.Task{ID: "b", Title: "B", DependsOn: []string{"a"}})

	_, err := s.SoftDeleteTask(ctx, "a", false)
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.TaskStateConflict {
		t.Fatalf("expected TaskStateConflict, got %v", err)
	}

	spec, err := s.SoftDeleteTask(ctx, "a", true)
	if err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if spec.Tasks["a"].Status != types.StatusDeleted || spec.Tasks["b"].Status != types.StatusDeleted {
		t.Fatal("expected both a and b to be deleted after cascade")
	}
}

func TestRoundTripPreservesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUpsert(t, s, &types.Task{ID: "t1", Title: "Task", Labels: []string{"x", "y"}, Locks: []string{"src/**"}})

	first, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Save(ctx, func(spec *types.Spec) error { return nil }); err != nil {
		t.Fatalf("no-op Save: %v", err)
	}
	second, err := s.Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(first.Tasks) != len(second.Tasks) {
		t.Fatalf("task count changed across no-op save: %d vs %d", len(first.Tasks), len(second.Tasks))
	}
	a, b := first.Tasks["t1"], second.Tasks["t1"]
	if a.Title != b.Title || !reflect.DeepEqual(a.Labels, b.Labels) || !reflect.DeepEqual(a.Locks, b.Locks) {
		t.Fatalf("task content changed across no-op save: %+v vs %+v", a, b)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		t.Fatalf("task timestamps changed across no-op save: %+v vs %+v", a, b)
	}
}

func mustUpsert(t *testing.T, s *Store, task *types.Task) {
	t.Helper()
	if _, err := s.UpsertTask(context.Background(), task); err != nil {
		t.Fatalf("UpsertTask(%s): %v", task.ID, err)
	}
}
