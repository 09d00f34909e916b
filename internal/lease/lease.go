// Package lease implements claim/renew/release/force-claim and orphan
// cleanup over the runtime store's lease table (spec.md §4.H). Leases
// are never deleted, only made inactive by setting expires_at <= now;
// every "active" predicate is expires_at > now, evaluated lazily at
// read time. There is no background sweeper.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

const (
	// MinTTL and MaxTTL bound every lease duration (spec.md §4.H).
	MinTTL = 60 * time.Second
	MaxTTL = 2 * time.Hour

	// DefaultTTL is used when a caller does not specify one.
	DefaultTTL = 15 * time.Minute
)

// ClampTTL clamps ttl to [MinTTL, MaxTTL], substituting DefaultTTL for
// a zero or negative value.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// Engine operates the runtime plane's lease table. It does not itself
// judge task claimability (spec.md §4.D, §4.I) — callers (the
// coordinator) verify that against the spec store before calling Claim
// or ForceClaim, since claimability spans both planes.
type Engine struct {
	Store runtime.Store
	Clock clock.Clock
}

// New constructs an Engine over store, using clk for all timestamps.
func New(store runtime.Store, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{Store: store, Clock: clk}
}

func (e *Engine) now() time.Time { return e.Clock.Now() }

// Claim creates a new active lease for taskID held by agentID, failing
// with engineerr.TaskAlreadyClaimed (details include the conflicting
// lease) if one is already active. Callers must run this inside a
// runtime.Tx obtained via Store.RunInTransaction, alongside whatever
// spec-side claimability check and event emission the coordinator
// performs.
func (e *Engine) Claim(ctx context.Context, tx *runtime.Tx, taskID, agentID string, ttl time.Duration) (*types.Lease, error) {
	return e.claim(ctx, tx, taskID, agentID, ttl, false)
}

// ForceClaim behaves like Claim but is explicitly named for the
// force-claim operation (spec.md §4.H): it is only ever permitted when
// the existing lease (if any) has already expired, which is exactly
// the condition Claim itself enforces. The separate name exists so
// call sites read as the distinct operation the spec describes.
func (e *Engine) ForceClaim(ctx context.Context, tx *runtime.Tx, taskID, agentID string, ttl time.Duration) (*types.Lease, error) {
	return e.claim(ctx, tx, taskID, agentID, ttl, true)
}

func (e *Engine) claim(ctx context.Context, tx *runtime.Tx, taskID, agentID string, ttl time.Duration, forced bool) (*types.Lease, error) {
	now := e.now()

	existing, err := e.Store.ActiveLease(ctx, tx, taskID, now)
	if err == nil {
		return nil, engineerr.New(engineerr.TaskAlreadyClaimed, "task already has an active lease").WithDetails(map[string]any{
			"lease_id": existing.LeaseID,
			"agent_id": existing.AgentID,
			"expires_at": existing.ExpiresAt,
			"forced":     forced,
		})
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("checking active lease: %w", err)
	}

	clamped := ClampTTL(ttl)
	newLease := &types.Lease{
		LeaseID:   uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		CreatedAt: now,
		ExpiresAt: now.Add(clamped),
	}
	if err := e.Store.InsertLease(ctx, tx, newLease); err != nil {
		return nil, fmt.Errorf("inserting lease: %w", err)
	}
	return newLease, nil
}

// Renew extends the current lease held by agentID on taskID to
// now+ttl. Only the current, still-active holder may renew; an
// expired lease cannot be renewed (it must be re-claimed).
func (e *Engine) Renew(ctx context.Context, tx *runtime.Tx, taskID, agentID string, ttl time.Duration) (*types.Lease, error) {
	now := e.now()

	active, err := e.Store.ActiveLease(ctx, tx, taskID, now)
	if isNoRows(err) {
		return nil, engineerr.New(engineerr.TaskLeaseNotHeld, "no active lease on this task")
	}
	if err != nil {
		return nil, fmt.Errorf("checking active lease: %w", err)
	}
	if active.AgentID != agentID {
		return nil, engineerr.New(engineerr.TaskLeaseNotHeld, "active lease is held by a different agent").
			WithDetails(map[string]any{"holder_agent_id": active.AgentID})
	}

	clamped := ClampTTL(ttl)
	active.ExpiresAt = now.Add(clamped)
	if err := e.Store.ExpireLease(ctx, tx, active.LeaseID, active.ExpiresAt); err != nil {
		return nil, fmt.Errorf("renewing lease: %w", err)
	}
	return active, nil
}

// Release deactivates the current lease held by agentID on taskID by
// setting its expires_at to now. Only the current holder may release.
func (e *Engine) Release(ctx context.Context, tx *runtime.Tx, taskID, agentID, reason string) error {
	now := e.now()

	active, err := e.Store.ActiveLease(ctx, tx, taskID, now)
	if isNoRows(err) {
		return engineerr.New(engineerr.TaskLeaseNotHeld, "no active lease on this task")
	}
	if err != nil {
		return fmt.Errorf("checking active lease: %w", err)
	}
	if active.AgentID != agentID {
		return engineerr.New(engineerr.TaskLeaseNotHeld, "active lease is held by a different agent").
			WithDetails(map[string]any{"holder_agent_id": active.AgentID})
	}

	if err := e.Store.ExpireLease(ctx, tx, active.LeaseID, now); err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	_ = reason // carried into the task.released event payload by the coordinator
	return nil
}

// ActiveFor returns the active lease on taskID, or nil if none is
// active.
func (e *Engine) ActiveFor(ctx context.Context, tx *runtime.Tx, taskID string) (*types.Lease, error) {
	lease, err := e.Store.ActiveLease(ctx, tx, taskID, e.now())
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking active lease: %w", err)
	}
	return lease, nil
}

// OrphanResult describes one lease that was found active for an agent
// no longer registered, and was deactivated as a result.
type OrphanResult struct {
	Lease   *types.Lease
	EventID int64
}

// CleanOrphans scans every currently-active lease and deactivates any
// whose agent_id no longer exists in the agents table, emitting
// lease.orphaned for each. Intended to run once at service
// initialization (spec.md §4.H); safe to call repeatedly since it is
// idempotent once no orphans remain.
func (e *Engine) CleanOrphans(ctx context.Context, tx *runtime.Tx) ([]OrphanResult, error) {
	now := e.now()

	active, err := e.Store.AllActiveLeases(ctx, tx, now)
	if err != nil {
		return nil, fmt.Errorf("listing active leases: %w", err)
	}

	var results []OrphanResult
	for _, l := range active {
		_, err := e.Store.GetAgent(ctx, tx, l.AgentID)
		if err == nil {
			continue
		}
		if !isNoRows(err) {
			return nil, fmt.Errorf("checking agent %s: %w", l.AgentID, err)
		}

		if err := e.Store.ExpireLease(ctx, tx, l.LeaseID, now); err != nil {
			return nil, fmt.Errorf("expiring orphaned lease %s: %w", l.LeaseID, err)
		}

		payload, _ := sjson.Set("{}", "lease_id", l.LeaseID)
		payload, _ = sjson.Set(payload, "task_id", l.TaskID)
		payload, _ = sjson.Set(payload, "agent_id", l.AgentID)

		eventID, err := e.Store.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:    now,
			Type:         types.EventLeaseOrphaned,
			TaskID:       l.TaskID,
			PayloadJSON:  payload,
		})
		if err != nil {
			return nil, fmt.Errorf("appending lease.orphaned event: %w", err)
		}

		l.ExpiresAt = now
		results = append(results, OrphanResult{Lease: l, EventID: eventID})
	}

	return results, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
