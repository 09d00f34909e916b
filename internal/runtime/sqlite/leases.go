package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func scanLease(row interface {
	Scan(dest ...any) error
}) (*types.Lease, error) {
	var l types.Lease
	if err := row.Scan(&l.LeaseID, &l.TaskID, &l.AgentID, &l.CreatedAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// ActiveLease returns the lease on taskID with expires_at > now, or
// sql.ErrNoRows if none is active. Per spec.md §8 invariant 2, at most
// one row ever satisfies this predicate.
func (s *Storage) ActiveLease(ctx context.Context, tx *runtime.Tx, taskID string, now time.Time) (*types.Lease, error) {
	row := tx.Raw.QueryRowContext(ctx, `
		SELECT lease_id, task_id, agent_id, created_at, expires_at
		FROM leases WHERE task_id = ? AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1
	`, taskID, now)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("querying active lease: %w", err)
	}
	return lease, nil
}

// InsertLease creates a new lease row.
func (s *Storage) InsertLease(ctx context.Context, tx *runtime.Tx, lease *types.Lease) error {
	_, err := tx.Raw.ExecContext(ctx, `
		INSERT INTO leases (lease_id, task_id, agent_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, lease.LeaseID, lease.TaskID, lease.AgentID, lease.CreatedAt, lease.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting lease: %w", err)
	}
	return nil
}

// LeaseByID returns a lease by its ID, regardless of expiry.
func (s *Storage) LeaseByID(ctx context.Context, tx *runtime.Tx, leaseID string) (*types.Lease, error) {
	row := tx.Raw.QueryRowContext(ctx, `
		SELECT lease_id, task_id, agent_id, created_at, expires_at FROM leases WHERE lease_id = ?
	`, leaseID)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("querying lease by id: %w", err)
	}
	return lease, nil
}

// ExpireLease sets expires_at = at, rendering the lease inactive at
// every subsequent read (spec.md §4.H: leases are never deleted, only
// made inactive).
func (s *Storage) ExpireLease(ctx context.Context, tx *runtime.Tx, leaseID string, at time.Time) error {
	_, err := tx.Raw.ExecContext(ctx, `UPDATE leases SET expires_at = ? WHERE lease_id = ?`, at, leaseID)
	if err != nil {
		return fmt.Errorf("expiring lease: %w", err)
	}
	return nil
}

// ActiveLeasesForAgent returns every lease held by agentID that is
// active as of now.
func (s *Storage) ActiveLeasesForAgent(ctx context.Context, tx *runtime.Tx, agentID string, now time.Time) ([]*types.Lease, error) {
	rows, err := tx.Raw.QueryContext(ctx, `
		SELECT lease_id, task_id, agent_id, created_at, expires_at
		FROM leases WHERE agent_id = ? AND expires_at > ?
	`, agentID, now)
	if err != nil {
		return nil, fmt.Errorf("querying agent leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease row: %w", err)
		}
		out = append(out, lease)
	}
	return out, rows.Err()
}

// AllActiveLeases returns every lease active as of now, used by
// scheduler exclusion and orphan cleanup.
func (s *Storage) AllActiveLeases(ctx context.Context, tx *runtime.Tx, now time.Time) ([]*types.Lease, error) {
	rows, err := tx.Raw.QueryContext(ctx, `
		SELECT lease_id, task_id, agent_id, created_at, expires_at
		FROM leases WHERE expires_at > ?
	`, now)
	if err != nil {
		return nil, fmt.Errorf("querying active leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease row: %w", err)
		}
		out = append(out, lease)
	}
	return out, rows.Err()
}
