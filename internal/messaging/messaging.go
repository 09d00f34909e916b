// Package messaging implements send/list/thread/search/ack over the
// runtime store's message table (spec.md §4.J). Agent-existence and
// envelope/event concerns live in internal/coordinator; this package
// owns only the messaging-specific validation and queries.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// Service operates the runtime plane's message table.
type Service struct {
	Store runtime.Store
	Clock clock.Clock
}

// New constructs a Service over store, using clk to stamp created_at.
func New(store runtime.Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{Store: store, Clock: clk}
}

// SendInput is the validated input to Send. Sender and (for agent
// recipients) recipient existence are checked by the caller, which has
// access to the agents table in the same transaction.
type SendInput struct {
	FromAgentID string              `json:"from_agent_id"`
	ToType      types.RecipientType `json:"to_type"`
	ToID        string              `json:"to_id"`
	Body        string              `json:"body"`
	Subject     string              `json:"subject,omitempty"`
	Severity    string              `json:"severity,omitempty"`
	TaskID      string              `json:"task_id,omitempty"`
}

// Send validates body length and recipient type, then inserts the
// message. Recipient existence (for agent recipients) must already
// have been checked by the caller — task recipients need not match a
// spec entry, since task threads are open to any ID for post-hoc
// context (spec.md §4.J).
func (s *Service) Send(ctx context.Context, tx *runtime.Tx, in SendInput) (*types.Message, error) {
	if len(in.Body) > types.MaxMessageBodyBytes {
		return nil, engineerr.Newf(engineerr.MessageTooLarge, "message body exceeds %d bytes", types.MaxMessageBodyBytes)
	}
	if in.ToType != types.RecipientAgent && in.ToType != types.RecipientTask {
		return nil, engineerr.Newf(engineerr.MessageRecipientInvalid, "unknown recipient type %q", in.ToType)
	}
	if in.ToID == "" {
		return nil, engineerr.New(engineerr.MessageRecipientInvalid, "recipient id is required")
	}

	msg := &types.Message{
		CreatedAt:   s.Clock.Now(),
		FromAgentID: in.FromAgentID,
		ToType:      in.ToType,
		ToID:        in.ToID,
		Subject:     in.Subject,
		Body:        in.Body,
		Severity:    in.Severity,
		TaskID:      in.TaskID,
	}

	id, err := s.Store.InsertMessage(ctx, tx, msg)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	msg.MessageID = id
	return msg, nil
}

// List returns messages addressed to recipientAgentID per filter.
func (s *Service) List(ctx context.Context, tx *runtime.Tx, recipientAgentID string, filter runtime.MessageFilter) ([]*types.Message, error) {
	return s.Store.ListMessages(ctx, tx, recipientAgentID, filter)
}

// Thread returns the task-addressed message thread for taskID.
func (s *Service) Thread(ctx context.Context, tx *runtime.Tx, taskID string, since time.Time, limit int) ([]*types.Message, error) {
	return s.Store.ThreadMessages(ctx, tx, taskID, since, limit)
}

// SearchInput bundles Search's optional predicates. At least one of
// Keyword, From, Since, or Until must be set (spec.md §4.J).
type SearchInput struct {
	Keyword string    `json:"keyword,omitempty"`
	From    string    `json:"from,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	Until   time.Time `json:"until,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// Search performs a case-insensitive body search, requiring at least
// one predicate beyond Limit.
func (s *Service) Search(ctx context.Context, tx *runtime.Tx, in SearchInput) ([]*types.Message, error) {
	if in.Keyword == "" && in.From == "" && in.Since.IsZero() && in.Until.IsZero() {
		return nil, engineerr.New(engineerr.InvalidInput, "search requires at least one of keyword, from, since, or until")
	}
	return s.Store.SearchMessages(ctx, tx, in.Keyword, in.From, in.Since, in.Until, in.Limit)
}

// Ack marks messageID read if addressed to agentID and not already
// read.
func (s *Service) Ack(ctx context.Context, tx *runtime.Tx, agentID string, messageID int64) (bool, error) {
	return s.Store.AckMessage(ctx, tx, agentID, messageID, s.Clock.Now())
}
