package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func capabilitiesToJSON(caps []string) string {
	out := "[]"
	for _, c := range caps {
		out, _ = sjson.Set(out, "-1", c)
	}
	return out
}

func capabilitiesFromJSON(raw string) []string {
	var out []string
	gjson.Parse(raw).ForEach(func(_, value gjson.Result) bool {
		out = append(out, value.String())
		return true
	})
	return out
}

func sessionMetaToJSON(meta map[string]any) string {
	out := "{}"
	for k, v := range meta {
		out, _ = sjson.Set(out, k, v)
	}
	return out
}

func sessionMetaFromJSON(raw string) map[string]any {
	meta := map[string]any{}
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		meta[key.String()] = value.Value()
		return true
	})
	return meta
}

// JoinAgent registers a new agent, or returns a duplicate-key error if
// the agent_id already exists (the coordinator checks with GetAgent
// first and reports engineerr.AgentAlreadyExists itself).
func (s *Storage) JoinAgent(ctx context.Context, tx *runtime.Tx, agent *types.Agent) error {
	_, err := tx.Raw.ExecContext(ctx, `
		INSERT INTO agents (agent_id, display_name, role, capabilities_json, registered_at, last_seen_at, session_meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agent.AgentID, agent.DisplayName, agent.Role, capabilitiesToJSON(agent.Capabilities),
		agent.RegisteredAt, agent.LastSeenAt, sessionMetaToJSON(agent.SessionMeta))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

func scanAgent(row interface {
	Scan(dest ...any) error
}) (*types.Agent, error) {
	var a types.Agent
	var caps, meta string
	if err := row.Scan(&a.AgentID, &a.DisplayName, &a.Role, &caps, &a.RegisteredAt, &a.LastSeenAt, &meta); err != nil {
		return nil, err
	}
	a.Capabilities = capabilitiesFromJSON(caps)
	a.SessionMeta = sessionMetaFromJSON(meta)
	return &a, nil
}

// GetAgent returns the agent record for agentID, or sql.ErrNoRows if it
// does not exist (callers translate this to engineerr.AgentNotRegistered).
func (s *Storage) GetAgent(ctx context.Context, tx *runtime.Tx, agentID string) (*types.Agent, error) {
	row := tx.Raw.QueryRowContext(ctx, `
		SELECT agent_id, display_name, role, capabilities_json, registered_at, last_seen_at, session_meta_json
		FROM agents WHERE agent_id = ?
	`, agentID)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents, optionally filtered by role.
func (s *Storage) ListAgents(ctx context.Context, tx *runtime.Tx, filter runtime.AgentFilter) ([]*types.Agent, error) {
	query := `SELECT agent_id, display_name, role, capabilities_json, registered_at, last_seen_at, session_meta_json FROM agents`
	var args []any
	if filter.Role != "" {
		query += ` WHERE role = ?`
		args = append(args, filter.Role)
	}
	query += ` ORDER BY registered_at ASC`

	rows, err := tx.Raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// Heartbeat updates last_seen_at for agentID. Per the resolved Open
// Question (DESIGN.md), this never extends any lease held by the agent.
func (s *Storage) Heartbeat(ctx context.Context, tx *runtime.Tx, agentID string, now time.Time) error {
	res, err := tx.Raw.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE agent_id = ?`, now, agentID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RemoveAgent deletes the agent row. Any leases it held are not touched
// here; orphan cleanup (internal/lease) reconciles them lazily.
func (s *Storage) RemoveAgent(ctx context.Context, tx *runtime.Tx, agentID string) error {
	_, err := tx.Raw.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("removing agent: %w", err)
	}
	return nil
}
