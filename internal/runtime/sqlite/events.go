package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func scanEvent(row interface {
	Scan(dest ...any) error
}) (*types.Event, error) {
	var e types.Event
	var actorAgentID, taskID, targetAgentID sql.NullString
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.Type, &actorAgentID, &taskID, &targetAgentID, &e.PayloadJSON); err != nil {
		return nil, err
	}
	e.ActorAgentID = actorAgentID.String
	e.TaskID = taskID.String
	e.TargetAgentID = targetAgentID.String
	return &e, nil
}

// AppendEvent inserts a new event row and returns its monotonic ID,
// which doubles as the pull cursor (spec.md §4.G).
func (s *Storage) AppendEvent(ctx context.Context, tx *runtime.Tx, e *types.Event) (int64, error) {
	res, err := tx.Raw.ExecContext(ctx, `
		INSERT INTO events (created_at, type, actor_agent_id, task_id, target_agent_id, payload_json)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)
	`, e.CreatedAt, e.Type, e.ActorAgentID, e.TaskID, e.TargetAgentID, e.PayloadJSON)
	if err != nil {
		return 0, fmt.Errorf("appending event: %w", err)
	}
	return res.LastInsertId()
}

// PullEvents returns events with id > sinceCursor, oldest first, capped
// at limit (a limit that is not positive or exceeds 1000 becomes 1000)
// and optionally restricted to types.
// The returned nextCursor is the id of the last event returned, or
// sinceCursor unchanged if nothing new was available — callers pass it
// back verbatim on the next pull (spec.md §4.G, §8 round-trip law).
func (s *Storage) PullEvents(ctx context.Context, tx *runtime.Tx, sinceCursor int64, limit int, filter runtime.EventFilter) (events []*types.Event, nextCursor int64, err error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, created_at, type, actor_agent_id, task_id, target_agent_id, payload_json FROM events WHERE id > ?`
	args := []any{sinceCursor}

	if len(filter.Types) > 0 {
		placeholders := ""
		for i, t := range filter.Types {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(` AND type IN (%s)`, placeholders)
	}

	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := tx.Raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sinceCursor, fmt.Errorf("pulling events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	nextCursor = sinceCursor
	for rows.Next() {
		ev, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, sinceCursor, fmt.Errorf("scanning event row: %w", scanErr)
		}
		events = append(events, ev)
		nextCursor = ev.ID
	}
	if err := rows.Err(); err != nil {
		return nil, sinceCursor, err
	}
	return events, nextCursor, nil
}
