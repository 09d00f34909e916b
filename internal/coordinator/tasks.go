package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/sjson"

	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/scheduler"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// GetTask returns a single task from the spec.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	return task, nil
}

// ListTasks returns every non-deleted task unless includeDeleted is set.
func (c *Coordinator) ListTasks(ctx context.Context, includeDeleted bool) ([]*types.Task, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Task, 0, len(spec.Tasks))
	for _, t := range spec.Tasks {
		if !includeDeleted && t.Status == types.StatusDeleted {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateTaskInput is the validated input to CreateTask.
type CreateTaskInput struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Priority           int      `json:"priority"`
	Labels             []string `json:"labels,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Locks              []string `json:"locks,omitempty"`
}

// CreateTask inserts a new ready task. This touches only the spec
// plane; no event is emitted since task creation has no runtime-plane
// side effect (spec.md §9 lists claim/done/verify/complete/delete as
// the cross-plane operations).
func (c *Coordinator) CreateTask(ctx context.Context, in CreateTaskInput) (*types.Task, error) {
	task := &types.Task{
		ID:                 in.ID,
		Title:              in.Title,
		Description:        in.Description,
		AcceptanceCriteria: in.AcceptanceCriteria,
		Status:             types.StatusReady,
		Priority:           in.Priority,
		Labels:             in.Labels,
		DependsOn:          in.DependsOn,
		Locks:              in.Locks,
	}
	if _, err := c.Spec.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	return c.GetTask(ctx, in.ID)
}

// UpdateTaskInput carries the full new value of every mutable field:
// UpdateTask copies each one onto the task, so a zero-value field
// clears it. The CLI passes its flags through as given.
type UpdateTaskInput struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Priority           int      `json:"priority"`
	Labels             []string `json:"labels,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Locks              []string `json:"locks,omitempty"`
}

// UpdateTask overwrites the mutable fields of an existing task.
func (c *Coordinator) UpdateTask(ctx context.Context, in UpdateTaskInput) (*types.Task, error) {
	existing, err := c.GetTask(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	updated := existing.Clone()
	updated.Title = in.Title
	updated.Description = in.Description
	updated.AcceptanceCriteria = in.AcceptanceCriteria
	updated.Priority = in.Priority
	updated.Labels = in.Labels
	updated.DependsOn = in.DependsOn
	updated.Locks = in.Locks

	if _, err := c.Spec.UpsertTask(ctx, updated); err != nil {
		return nil, err
	}
	return c.GetTask(ctx, in.ID)
}

// DeleteTask soft-deletes taskID. Rejection vs. cascade on live
// dependents is the resolved Open Question: default is rejection
// (engineerr.TaskStateConflict naming the blocking dependents),
// requiring an explicit cascade=true to proceed.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string, cascade bool) error {
	now := c.now()
	_, err := c.Spec.SoftDeleteTask(ctx, taskID, cascade)
	if err != nil {
		return err
	}
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		payload, _ := sjson.Set("{}", "cascade", cascade)
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:   now,
			Type:        types.EventTaskDeleted,
			TaskID:      taskID,
			PayloadJSON: payload,
		})
		return err
	})
	if err != nil {
		return err
	}
	c.Log.Info("task.deleted", "task_id", taskID, "cascade", cascade)
	return nil
}

// Next returns up to limit claimable tasks, optionally personalized to
// agentID (spec.md §4.I).
func (c *Coordinator) Next(ctx context.Context, limit int, agentID string) ([]scheduler.Candidate, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	var out []scheduler.Candidate
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		candidates, err := c.Scheduler.Next(ctx, tx, spec, limit, agentID)
		out = candidates
		return err
	})
	return out, err
}

// TaskGraphResult is the payload for task.graph.
type TaskGraphResult struct {
	TopoOrder []string            `json:"topo_order"`
	Dependents map[string][]string `json:"dependents"`
}

// TaskGraph returns a topological ordering of every task in the spec
// (soft-deleted tasks included) plus a reverse-dependency index, for
// graph export/rendering.
func (c *Coordinator) TaskGraph(ctx context.Context) (*TaskGraphResult, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	order := dag.TopoOrder(spec)
	dependents := make(map[string][]string, len(spec.Tasks))
	for id := range spec.Tasks {
		dependents[id] = dag.DependentsOf(id, spec)
	}
	return &TaskGraphResult{TopoOrder: order, Dependents: dependents}, nil
}

// --- Claim / renew / release / done / verify / complete ----------------

// ClaimTask verifies the agent exists and the task is claimable
// against the just-loaded spec, then claims a lease for ttl. The spec
// is not rewritten by claim — claimability is a read-only spec-plane
// check; only the lease row (runtime plane) and a task.claimed event
// are written.
func (c *Coordinator) ClaimTask(ctx context.Context, taskID, agentID string, ttl time.Duration) (*types.Lease, []string, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if !dag.IsClaimable(task, spec) {
		return nil, nil, engineerr.Newf(engineerr.TaskNotClaimable, "task %q is not claimable", taskID)
	}

	var newLease *types.Lease
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := c.Runtime.GetAgent(ctx, tx, agentID); err != nil {
			if isNoRows(err) {
				return engineerr.Newf(engineerr.AgentNotRegistered, "agent %q is not registered", agentID)
			}
			return err
		}
		l, err := c.Lease.Claim(ctx, tx, taskID, agentID, ttl)
		if err != nil {
			return err
		}
		newLease = l

		payload, _ := sjson.Set("{}", "lease_id", l.LeaseID)
		payload, _ = sjson.Set(payload, "agent_id", agentID)
		_, err = c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    c.now(),
			Type:         types.EventTaskClaimed,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  payload,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	c.Log.Info("task.claimed", "task_id", taskID, "agent_id", agentID, "lease_id", newLease.LeaseID)

	var warnings []string
	for _, g := range task.Locks {
		warnings = append(warnings, fmt.Sprintf("advisory: claim overlaps declared lock glob %q", g))
	}
	return newLease, warnings, nil
}

// ForceClaimTask behaves like ClaimTask but is the explicit force path
// (spec.md §4.H): it only succeeds when any existing lease has already
// expired, which internal/lease.Engine.ForceClaim enforces the same
// way Claim does.
func (c *Coordinator) ForceClaimTask(ctx context.Context, taskID, agentID string, ttl time.Duration) (*types.Lease, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if !dag.IsClaimable(task, spec) {
		return nil, engineerr.Newf(engineerr.TaskNotClaimable, "task %q is not claimable", taskID)
	}

	var newLease *types.Lease
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := c.Runtime.GetAgent(ctx, tx, agentID); err != nil {
			if isNoRows(err) {
				return engineerr.Newf(engineerr.AgentNotRegistered, "agent %q is not registered", agentID)
			}
			return err
		}
		l, err := c.Lease.ForceClaim(ctx, tx, taskID, agentID, ttl)
		if err != nil {
			return err
		}
		newLease = l
		payload, _ := sjson.Set("{}", "lease_id", l.LeaseID)
		_, err = c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    c.now(),
			Type:         types.EventTaskClaimed,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  payload,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("task.force_claimed", "task_id", taskID, "agent_id", agentID, "lease_id", newLease.LeaseID)
	return newLease, nil
}

// RenewTask extends the agent's active lease on taskID.
func (c *Coordinator) RenewTask(ctx context.Context, taskID, agentID string, ttl time.Duration) (*types.Lease, error) {
	var renewed *types.Lease
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		l, err := c.Lease.Renew(ctx, tx, taskID, agentID, ttl)
		renewed = l
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("task.renewed", "task_id", taskID, "agent_id", agentID, "lease_id", renewed.LeaseID)
	return renewed, nil
}

// ReleaseTask releases the agent's active lease on taskID and appends
// task.released.
func (c *Coordinator) ReleaseTask(ctx context.Context, taskID, agentID, reason string) error {
	now := c.now()
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if err := c.Lease.Release(ctx, tx, taskID, agentID, reason); err != nil {
			return err
		}
		payload, _ := sjson.Set("{}", "reason", reason)
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventTaskReleased,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  payload,
		})
		return err
	})
	if err != nil {
		return err
	}
	c.Log.Info("task.released", "task_id", taskID, "agent_id", agentID, "reason", reason)
	return nil
}

// DoneTask transitions a task from ready to done. Requires the acting
// agent to hold the active lease.
func (c *Coordinator) DoneTask(ctx context.Context, taskID, agentID string) (*types.Task, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if task.Status != types.StatusReady {
		return nil, engineerr.Newf(engineerr.TaskStateConflict, "task %q is %s, not ready", taskID, task.Status)
	}

	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		active, err := c.Lease.ActiveFor(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if active == nil || active.AgentID != agentID {
			return engineerr.New(engineerr.TaskLeaseNotHeld, "acting agent does not hold the active lease")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.Spec.SetStatus(ctx, taskID, types.StatusDone); err != nil {
		return nil, err
	}

	now := c.now()
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventTaskDone,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  "{}",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("task.done", "task_id", taskID, "agent_id", agentID)
	return c.GetTask(ctx, taskID)
}

// VerifyResult is the payload for task.verify, carrying the advisory
// newly_ready_task_ids (spec.md §9 — never persisted).
type VerifyResult struct {
	Task              *types.Task `json:"task"`
	NewlyReadyTaskIDs []string    `json:"newly_ready_task_ids"`
}

// VerifyTask transitions a task from done to verified. Per the
// resolved Open Question, the verifying agent may be the same one that
// completed the task — no lease is required for this transition.
func (c *Coordinator) VerifyTask(ctx context.Context, taskID, agentID string) (*VerifyResult, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if task.Status != types.StatusDone {
		return nil, engineerr.Newf(engineerr.TaskStateConflict, "task %q is %s, not done", taskID, task.Status)
	}

	dependents := dag.DependentsOf(taskID, spec)

	if _, err := c.Spec.SetStatus(ctx, taskID, types.StatusVerified); err != nil {
		return nil, err
	}

	reloaded, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	newlyReady := dag.NewlyReady(dependents, reloaded)

	now := c.now()
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventTaskVerified,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  "{}",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("task.verified", "task_id", taskID, "agent_id", agentID, "newly_ready", len(newlyReady))

	return &VerifyResult{Task: reloaded.Tasks[taskID], NewlyReadyTaskIDs: newlyReady}, nil
}

// CompleteTask performs ready -> verified atomically in one spec
// write (spec.md §4.K), preventing a task from being stranded in
// done if a process crashes between the two steps. Requires the
// acting agent to hold the active lease, same as DoneTask.
func (c *Coordinator) CompleteTask(ctx context.Context, taskID, agentID string) (*VerifyResult, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if task.Status != types.StatusReady {
		return nil, engineerr.Newf(engineerr.TaskStateConflict, "task %q is %s, not ready", taskID, task.Status)
	}

	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		active, err := c.Lease.ActiveFor(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if active == nil || active.AgentID != agentID {
			return engineerr.New(engineerr.TaskLeaseNotHeld, "acting agent does not hold the active lease")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dependents := dag.DependentsOf(taskID, spec)

	if _, err := c.Spec.SetStatus(ctx, taskID, types.StatusVerified); err != nil {
		return nil, err
	}

	reloaded, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	newlyReady := dag.NewlyReady(dependents, reloaded)

	now := c.now()
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventTaskDone,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  "{}",
		}); err != nil {
			return err
		}
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventTaskVerified,
			ActorAgentID: agentID,
			TaskID:       taskID,
			PayloadJSON:  "{}",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("task.completed", "task_id", taskID, "agent_id", agentID, "newly_ready", len(newlyReady))

	return &VerifyResult{Task: reloaded.Tasks[taskID], NewlyReadyTaskIDs: newlyReady}, nil
}
