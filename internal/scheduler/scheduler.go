// Package scheduler picks the next claimable tasks for an agent,
// merging the spec plane's claimability with the runtime plane's
// active leases (spec.md §4.I).
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// Candidate is one schedulable task paired with a short human-readable
// rationale for why it was offered.
type Candidate struct {
	Task      *types.Task
	Rationale string
}

// Scheduler computes the next batch of claimable tasks.
type Scheduler struct {
	Store runtime.Store
	Clock clock.Clock
}

// New constructs a Scheduler over store, using clk for the active-lease
// cutoff.
func New(store runtime.Store, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{Store: store, Clock: clk}
}

// Next returns up to limit claimable tasks from spec, excluding any
// with an active lease, sorted by (priority asc, created_at asc, id
// asc). If agentID is non-empty, tasks already leased to that agent
// are also excluded (personalization, per spec.md §4.I step 4) — a
// renew is the right call for those, not a fresh claim.
func (s *Scheduler) Next(ctx context.Context, tx *runtime.Tx, spec *types.Spec, limit int, agentID string) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	now := s.Clock.Now()

	leased, err := s.Store.AllActiveLeases(ctx, tx, now)
	if err != nil {
		return nil, fmt.Errorf("loading active leases: %w", err)
	}
	leasedTaskIDs := make(map[string]bool, len(leased))
	for _, l := range leased {
		leasedTaskIDs[l.TaskID] = true
	}

	var ownLeasedTaskIDs map[string]bool
	if agentID != "" {
		own, err := s.Store.ActiveLeasesForAgent(ctx, tx, agentID, now)
		if err != nil {
			return nil, fmt.Errorf("loading agent leases: %w", err)
		}
		ownLeasedTaskIDs = make(map[string]bool, len(own))
		for _, l := range own {
			ownLeasedTaskIDs[l.TaskID] = true
		}
	}

	var claimable []*types.Task
	for _, task := range spec.Tasks {
		if !dag.IsClaimable(task, spec) {
			continue
		}
		if leasedTaskIDs[task.ID] {
			continue
		}
		if ownLeasedTaskIDs[task.ID] {
			continue
		}
		claimable = append(claimable, task)
	}

	sort.Slice(claimable, func(i, j int) bool {
		a, b := claimable[i], claimable[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(claimable) > limit {
		claimable = claimable[:limit]
	}

	out := make([]Candidate, 0, len(claimable))
	for _, task := range claimable {
		out = append(out, Candidate{Task: task, Rationale: rationale(task)})
	}
	return out, nil
}

func rationale(task *types.Task) string {
	if len(task.DependsOn) == 0 {
		return fmt.Sprintf("priority %d, no dependencies", task.Priority)
	}
	return fmt.Sprintf("priority %d, all %d dependencies verified", task.Priority, len(task.DependsOn))
}
