package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func scanMessage(row interface {
	Scan(dest ...any) error
}) (*types.Message, error) {
	var m types.Message
	var taskID, subject, severity sql.NullString
	var readAt sql.NullTime
	if err := row.Scan(&m.MessageID, &m.CreatedAt, &m.FromAgentID, &m.ToType, &m.ToID,
		&taskID, &subject, &m.Body, &severity, &readAt); err != nil {
		return nil, err
	}
	m.TaskID = taskID.String
	m.Subject = subject.String
	m.Severity = severity.String
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

const messageColumns = `message_id, created_at, from_agent_id, to_type, to_id, task_id, subject, body, severity, read_at`

// InsertMessage appends a new message row and returns its assigned ID.
func (s *Storage) InsertMessage(ctx context.Context, tx *runtime.Tx, msg *types.Message) (int64, error) {
	res, err := tx.Raw.ExecContext(ctx, `
		INSERT INTO messages (created_at, from_agent_id, to_type, to_id, task_id, subject, body, severity, read_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), NULL)
	`, msg.CreatedAt, msg.FromAgentID, msg.ToType, msg.ToID, msg.TaskID, msg.Subject, msg.Body, msg.Severity)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

// ListMessages returns messages addressed to recipientAgentID, newest
// first, applying filter and optionally marking retrieved rows read
// inside the same transaction.
func (s *Storage) ListMessages(ctx context.Context, tx *runtime.Tx, recipientAgentID string, filter runtime.MessageFilter) ([]*types.Message, error) {
	var where []string
	var args []any

	where = append(where, `to_type = ? AND to_id = ?`)
	args = append(args, types.RecipientAgent, recipientAgentID)

	if filter.UnreadOnly {
		where = append(where, `read_at IS NULL`)
	}
	if filter.FromAgentID != "" {
		where = append(where, `from_agent_id = ?`)
		args = append(args, filter.FromAgentID)
	}
	if !filter.Since.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		where = append(where, `created_at <= ?`)
		args = append(args, filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY message_id DESC LIMIT ?`,
		messageColumns, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := tx.Raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	var out []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if filter.MarkRead {
		now := time.Now()
		for _, msg := range out {
			if msg.ReadAt == nil {
				if _, err := tx.Raw.ExecContext(ctx, `UPDATE messages SET read_at = ? WHERE message_id = ?`, now, msg.MessageID); err != nil {
					return nil, fmt.Errorf("marking message read: %w", err)
				}
				msg.ReadAt = &now
			}
		}
	}

	return out, nil
}

// ThreadMessages returns every message addressed to the task thread
// taskID, oldest first.
func (s *Storage) ThreadMessages(ctx context.Context, tx *runtime.Tx, taskID string, since time.Time, limit int) ([]*types.Message, error) {
	where := []string{`to_type = ?`, `to_id = ?`}
	args := []any{types.RecipientTask, taskID}
	if !since.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, since)
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY message_id ASC LIMIT ?`,
		messageColumns, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := tx.Raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing thread messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SearchMessages performs a case-insensitive body search with optional
// sender/time filters. At least one predicate beyond limit is required
// by the caller (internal/messaging enforces this before calling in).
func (s *Storage) SearchMessages(ctx context.Context, tx *runtime.Tx, keyword, from string, since, until time.Time, limit int) ([]*types.Message, error) {
	var where []string
	var args []any

	if keyword != "" {
		where = append(where, `LOWER(body) LIKE ?`)
		args = append(args, "%"+strings.ToLower(keyword)+"%")
	}
	if from != "" {
		where = append(where, `from_agent_id = ?`)
		args = append(args, from)
	}
	if !since.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, since)
	}
	if !until.IsZero() {
		where = append(where, `created_at <= ?`)
		args = append(args, until)
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	whereClause := "1 = 1"
	if len(where) > 0 {
		whereClause = strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY message_id DESC LIMIT ?`, messageColumns, whereClause)
	args = append(args, limit)

	rows, err := tx.Raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// AckMessage marks messageID read if it is addressed to agentID and not
// already read. Returns false (no error) if the message does not exist,
// is addressed elsewhere, or is already read.
func (s *Storage) AckMessage(ctx context.Context, tx *runtime.Tx, agentID string, messageID int64, now time.Time) (bool, error) {
	res, err := tx.Raw.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE message_id = ? AND to_type = ? AND to_id = ? AND read_at IS NULL
	`, now, messageID, types.RecipientAgent, agentID)
	if err != nil {
		return false, fmt.Errorf("acking message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ack rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetMessage returns a single message by ID.
func (s *Storage) GetMessage(ctx context.Context, tx *runtime.Tx, messageID int64) (*types.Message, error) {
	row := tx.Raw.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE message_id = ?`, messageColumns), messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return msg, nil
}
