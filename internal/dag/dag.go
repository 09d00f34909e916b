// Package dag provides pure functions over an in-memory spec's
// depends_on graph: cycle detection, missing-dependency detection,
// claimability, and topological ordering.
package dag

import (
	"sort"

	"github.com/lodestar-dev/lodestar/internal/types"
)

// Cycle is an ordered path of task IDs forming a cycle, starting and
// ending at the same task.
type Cycle []string

// insertionOrder returns task IDs sorted by CreatedAt then ID, giving a
// deterministic traversal order independent of Go map iteration.
func insertionOrder(spec *types.Spec) []string {
	ids := make([]string, 0, len(spec.Tasks))
	for id := range spec.Tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := spec.Tasks[ids[i]], spec.Tasks[ids[j]]
		if !ti.CreatedAt.Equal(tj.CreatedAt) {
			return ti.CreatedAt.Before(tj.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// DetectCycle returns the first cycle found in spec's depends_on graph,
// visiting tasks in deterministic spec-insertion order. Returns nil if
// the graph is acyclic.
func DetectCycle(spec *types.Spec) Cycle {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(spec.Tasks))
	var path []string
	var result Cycle

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)

		task, ok := spec.Tasks[id]
		if ok {
			for _, dep := range task.DependsOn {
				if _, exists := spec.Tasks[dep]; !exists {
					continue // missing deps are reported by MissingDeps, not here
				}
				switch color[dep] {
				case white:
					if visit(dep) {
						return true
					}
				case gray:
					// Found the back-edge; extract the cycle from path.
					start := 0
					for i, p := range path {
						if p == dep {
							start = i
							break
						}
					}
					result = append(append(Cycle(nil), path[start:]...), dep)
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range insertionOrder(spec) {
		if color[id] == white {
			if visit(id) {
				return result
			}
		}
	}
	return nil
}

// MissingDep names a task whose depends_on list references an
// unresolvable or deleted target.
type MissingDep struct {
	TaskID string
	DepID  string
}

// MissingDeps returns every depends_on reference that does not resolve
// to a live (non-deleted) task in spec.
func MissingDeps(spec *types.Spec) []MissingDep {
	var missing []MissingDep
	for _, id := range insertionOrder(spec) {
		task := spec.Tasks[id]
		for _, dep := range task.DependsOn {
			target, ok := spec.Tasks[dep]
			if !ok || target.Status == types.StatusDeleted {
				missing = append(missing, MissingDep{TaskID: id, DepID: dep})
			}
		}
	}
	return missing
}

// IsClaimable reports whether task is ready and every dependency is
// verified. It does not consider active leases; callers combine this
// with the lease engine's view to get the full claimability predicate.
func IsClaimable(task *types.Task, spec *types.Spec) bool {
	if task.Status != types.StatusReady {
		return false
	}
	for _, dep := range task.DependsOn {
		depTask, ok := spec.Tasks[dep]
		if !ok || depTask.Status != types.StatusVerified {
			return false
		}
	}
	return true
}

// DependentsOf returns the IDs of tasks that directly depend on taskID,
// in deterministic order.
func DependentsOf(taskID string, spec *types.Spec) []string {
	var dependents []string
	for _, id := range insertionOrder(spec) {
		task := spec.Tasks[id]
		for _, dep := range task.DependsOn {
			if dep == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TopoOrder returns all task IDs in a dependency-respecting order
// (dependencies before dependents), for graph export. Assumes the graph
// is acyclic; callers must run DetectCycle first.
func TopoOrder(spec *types.Spec) []string {
	visited := make(map[string]bool, len(spec.Tasks))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		task, ok := spec.Tasks[id]
		if ok {
			for _, dep := range task.DependsOn {
				if _, exists := spec.Tasks[dep]; exists {
					visit(dep)
				}
			}
		}
		order = append(order, id)
	}

	for _, id := range insertionOrder(spec) {
		visit(id)
	}
	return order
}

// NewlyReady returns the subset of candidateIDs that are now claimable
// per IsClaimable, given the current spec state. Used by verify/complete
// to compute the advisory newly_ready_task_ids response field.
func NewlyReady(candidateIDs []string, spec *types.Spec) []string {
	var ready []string
	for _, id := range candidateIDs {
		task, ok := spec.Tasks[id]
		if ok && IsClaimable(task, spec) {
			ready = append(ready, id)
		}
	}
	return ready
}
