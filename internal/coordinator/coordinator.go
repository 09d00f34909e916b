// Package coordinator is the stateful facade callers mutate through
// (spec.md §4.K). It composes the spec store, DAG analyzer, runtime
// store, lease engine, scheduler, and messaging service, enforcing the
// invariants that span them: agent existence, single-lease-per-task,
// and the task state machine. Every mutation follows the canonical
// lock order — spec lock first, then runtime transaction — because the
// spec write is the idempotent fact and the runtime transaction is
// secondary (spec.md §9).
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/sjson"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/runtime/sqlite"
	"github.com/lodestar-dev/lodestar/internal/scheduler"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// Coordinator composes every component behind a single API surface.
type Coordinator struct {
	Repo      anchor.Repo
	Spec      *specstore.Store
	Runtime   runtime.Store
	Lease     *lease.Engine
	Scheduler *scheduler.Scheduler
	Messaging *messaging.Service
	Clock     clock.Clock
	Log       *slog.Logger
}

// Open resolves the repository anchor, opens both planes, and runs
// orphan lease cleanup once (spec.md §4.H). Callers keep the returned
// Coordinator for the lifetime of the process (or a single CLI
// invocation) and must call Close when done.
func Open(ctx context.Context, startDir string, lockTimeout, busyTimeout time.Duration) (*Coordinator, error) {
	repo, err := anchor.Find(startDir)
	if err != nil {
		return nil, err
	}

	store := specstore.New(repo.SpecPath(), repo.LockPath(), lockTimeout)

	rt, err := sqlite.Open(ctx, repo.RuntimePath(), busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening runtime store: %w", err)
	}

	clk := clock.System{}
	log := logging.New(logging.Options{Path: filepath.Join(repo.Dir(), "lodestar.log")})
	rt.SetLogger(log)
	c := &Coordinator{
		Repo:      repo,
		Spec:      store,
		Runtime:   rt,
		Lease:     lease.New(rt, clk),
		Scheduler: scheduler.New(rt, clk),
		Messaging: messaging.New(rt, clk),
		Clock:     clk,
		Log:       log,
	}

	n, err := c.cleanOrphans(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("cleaning orphaned leases: %w", err)
	}
	if n > 0 {
		log.Warn("cleaned orphaned leases", "count", n)
	}

	return c, nil
}

// Close releases the runtime store handle. The spec store holds no
// persistent handle (it opens/locks/closes per call).
func (c *Coordinator) Close() error {
	return c.Runtime.Close()
}

func (c *Coordinator) cleanOrphans(ctx context.Context) (int, error) {
	var n int
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		results, err := c.Lease.CleanOrphans(ctx, tx)
		if err != nil {
			return err
		}
		n = len(results)
		return nil
	})
	return n, err
}

func (c *Coordinator) now() time.Time { return c.Clock.Now() }

// --- Agents -----------------------------------------------------------

// JoinAgent registers a new agent and appends agent.joined.
func (c *Coordinator) JoinAgent(ctx context.Context, agentID, displayName, role string, capabilities []string) (*types.Agent, error) {
	if agentID == "" {
		return nil, engineerr.New(engineerr.InvalidInput, "agent_id is required")
	}
	now := c.now()
	agent := &types.Agent{
		AgentID:      agentID,
		DisplayName:  displayName,
		Role:         role,
		Capabilities: capabilities,
		RegisteredAt: now,
		LastSeenAt:   now,
		SessionMeta:  map[string]any{},
	}

	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := c.Runtime.GetAgent(ctx, tx, agentID); err == nil {
			return engineerr.Newf(engineerr.AgentAlreadyExists, "agent %q is already registered", agentID)
		} else if !isNoRows(err) {
			return err
		}
		if err := c.Runtime.JoinAgent(ctx, tx, agent); err != nil {
			return err
		}
		payload, _ := sjson.Set("{}", "role", role)
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventAgentJoined,
			ActorAgentID: agentID,
			PayloadJSON:  payload,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("agent.joined", "agent_id", agentID, "role", role)
	return agent, nil
}

// ListAgents returns all registered agents, optionally filtered by role.
func (c *Coordinator) ListAgents(ctx context.Context, role string) ([]*types.Agent, error) {
	var out []*types.Agent
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		agents, err := c.Runtime.ListAgents(ctx, tx, runtime.AgentFilter{Role: role})
		out = agents
		return err
	})
	return out, err
}

// FindAgent returns a single agent by ID, or AgentNotRegistered.
func (c *Coordinator) FindAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	var out *types.Agent
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		agent, err := c.Runtime.GetAgent(ctx, tx, agentID)
		if isNoRows(err) {
			return engineerr.Newf(engineerr.AgentNotRegistered, "agent %q is not registered", agentID)
		}
		if err != nil {
			return err
		}
		out = agent
		return nil
	})
	return out, err
}

// Heartbeat updates agentID's last_seen_at. Per the resolved Open
// Question, this never extends any lease the agent holds.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) error {
	now := c.now()
	return c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if err := c.Runtime.Heartbeat(ctx, tx, agentID, now); err != nil {
			if isNoRows(err) {
				return engineerr.Newf(engineerr.AgentNotRegistered, "agent %q is not registered", agentID)
			}
			return err
		}
		payload, _ := sjson.Set("{}", "at", now)
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventAgentHeartbeat,
			ActorAgentID: agentID,
			PayloadJSON:  payload,
		})
		return err
	})
}

// LeaveAgent records a graceful departure. Per spec.md §3.3 this is
// treated as a heartbeat reset, not removal — the agent row and its
// leases persist. Use RemoveAgent for the out-of-band case orphan
// cleanup expects.
func (c *Coordinator) LeaveAgent(ctx context.Context, agentID string) error {
	now := c.now()
	return c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if err := c.Runtime.Heartbeat(ctx, tx, agentID, now); err != nil {
			if isNoRows(err) {
				return engineerr.Newf(engineerr.AgentNotRegistered, "agent %q is not registered", agentID)
			}
			return err
		}
		_, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventAgentLeft,
			ActorAgentID: agentID,
			PayloadJSON:  "{}",
		})
		return err
	})
}

// RemoveAgent deletes the agent row outright (administrative action,
// not part of normal agent lifecycle). Any active leases it held
// become orphans, reconciled by the next CleanOrphans pass.
func (c *Coordinator) RemoveAgent(ctx context.Context, agentID string) error {
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		return c.Runtime.RemoveAgent(ctx, tx, agentID)
	})
	if err != nil {
		return err
	}
	c.Log.Info("agent.removed", "agent_id", agentID)
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func readSource(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// --- PRD context --------------------------------------------------------

// TaskContext returns the task's PRD delivery (frozen excerpt + live
// sections) plus drift detection against the live document.
func (c *Coordinator) TaskContext(ctx context.Context, taskID string, budget int) (*prd.Delivery, *prd.DriftResult, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, nil, err
	}
	task, ok := spec.Tasks[taskID]
	if !ok {
		return nil, nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", taskID)
	}
	if task.PRD.IsZero() {
		return &prd.Delivery{}, &prd.DriftResult{}, nil
	}

	delivery, err := prd.Deliver(task.PRD.Source, task.PRD, budget)
	if err != nil {
		return nil, nil, err
	}

	source, err := readSource(task.PRD.Source)
	if err != nil {
		return &delivery, nil, nil
	}
	drift := prd.Drift(source, task.PRD)
	return &delivery, &drift, nil
}
