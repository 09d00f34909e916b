package dag

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func mkSpec(tasks ...*types.Task) *types.Spec {
	s := &types.Spec{Tasks: map[string]*types.Task{}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, t := range tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = base.Add(time.Duration(i) * time.Second)
		}
		s.Tasks[t.ID] = t
	}
	return s
}

func task(id string, status types.Status, deps ...string) *types.Task {
	return &types.Task{ID: id, Title: id, Status: status, DependsOn: deps}
}

func TestDetectCycleNone(t *testing.T) {
	spec := mkSpec(
		task("a", types.StatusReady),
		task("b", types.StatusReady, "a"),
		task("c", types.StatusReady, "a", "b"),
	)
	if cyc := DetectCycle(spec); cyc != nil {
		t.Fatalf("expected no cycle, got %v", cyc)
	}
}

func TestDetectCycleFound(t *testing.T) {
	spec := mkSpec(
		task("a", types.StatusReady, "c"),
		task("b", types.StatusReady, "a"),
		task("c", types.StatusReady, "b"),
	)
	cyc := DetectCycle(spec)
	if cyc == nil {
		t.Fatal("expected a cycle")
	}
	if cyc[0] != cyc[len(cyc)-1] {
		t.Fatalf("cycle %v does not close on itself", cyc)
	}
}

func TestMissingDeps(t *testing.T) {
	spec := mkSpec(
		task("a", types.StatusReady, "ghost"),
		task("b", types.StatusDeleted),
		task("c", types.StatusReady, "b"),
	)
	got := MissingDeps(spec)
	want := []MissingDep{
		{TaskID: "a", DepID: "ghost"},
		{TaskID: "c", DepID: "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("MissingDeps mismatch (-want +got):\n%s", diff)
	}
}

func TestIsClaimable(t *testing.T) {
	spec := mkSpec(
		task("a", types.StatusVerified),
		task("b", types.StatusReady, "a"),
		task("c", types.StatusReady, "b"),
	)
	if !IsClaimable(spec.Tasks["b"], spec) {
		t.Error("b should be claimable: dep a is verified")
	}
	if IsClaimable(spec.Tasks["c"], spec) {
		t.Error("c should not be claimable: dep b is only ready")
	}
}

func TestDependentsOf(t *testing.T) {
	spec := mkSpec(
		task("a", types.StatusVerified),
		task("b", types.StatusReady, "a"),
		task("c", types.StatusReady, "a"),
	)
	got := DependentsOf("a", spec)
	want := []string{"b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DependentsOf mismatch (-want +got):\n%s", diff)
	}
}

func TestTopoOrderRespectsDeps(t *testing.T) {
	spec := mkSpec(
		task("c", types.StatusReady, "a", "b"),
		task("b", types.StatusReady, "a"),
		task("a", types.StatusReady),
	)
	order := TopoOrder(spec)
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("topo order %v violates dependency ordering", order)
	}
}

func TestNewlyReady(t *testing.T) {
	spec := mkSpec(
		task("t1", types.StatusVerified),
		task("t2", types.StatusReady, "t1"),
		task("t3", types.StatusReady, "t1", "t2"),
	)
	got := NewlyReady([]string{"t2", "t3"}, spec)
	want := []string{"t2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NewlyReady mismatch (-want +got):\n%s", diff)
	}
}
