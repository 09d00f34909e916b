package coordinator

import (
	"context"
	"time"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// SendMessage validates the sender exists (and, for agent recipients,
// that the recipient exists) then inserts the message and appends
// message.sent.
func (c *Coordinator) SendMessage(ctx context.Context, in messaging.SendInput) (*types.Message, error) {
	var out *types.Message
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := c.Runtime.GetAgent(ctx, tx, in.FromAgentID); err != nil {
			if isNoRows(err) {
				return engineerr.Newf(engineerr.AgentNotRegistered, "sender %q is not registered", in.FromAgentID)
			}
			return err
		}
		if in.ToType == types.RecipientAgent {
			if _, err := c.Runtime.GetAgent(ctx, tx, in.ToID); err != nil {
				if isNoRows(err) {
					return engineerr.Newf(engineerr.MessageRecipientInvalid, "recipient agent %q is not registered", in.ToID)
				}
				return err
			}
		}

		msg, err := c.Messaging.Send(ctx, tx, in)
		if err != nil {
			return err
		}
		out = msg

		_, err = c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:     msg.CreatedAt,
			Type:          types.EventMessageSent,
			ActorAgentID:  in.FromAgentID,
			TaskID:        in.TaskID,
			TargetAgentID: targetAgentID(in),
			PayloadJSON:   "{}",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Log.Info("message.sent", "message_id", out.MessageID, "from_agent_id", in.FromAgentID, "to_type", in.ToType, "to_id", in.ToID)
	return out, nil
}

func targetAgentID(in messaging.SendInput) string {
	if in.ToType == types.RecipientAgent {
		return in.ToID
	}
	return ""
}

// ListMessages returns messages addressed to recipientAgentID.
func (c *Coordinator) ListMessages(ctx context.Context, recipientAgentID string, filter runtime.MessageFilter) ([]*types.Message, error) {
	var out []*types.Message
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		msgs, err := c.Messaging.List(ctx, tx, recipientAgentID, filter)
		if err != nil {
			return err
		}
		out = msgs
		if filter.MarkRead {
			for _, m := range msgs {
				if _, err := c.Runtime.AppendEvent(ctx, tx, &types.Event{
					CreatedAt:     c.now(),
					Type:          types.EventMessageRead,
					TargetAgentID: recipientAgentID,
					TaskID:        m.TaskID,
					PayloadJSON:   "{}",
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return out, err
}

// ThreadMessages returns the task-addressed thread for taskID.
func (c *Coordinator) ThreadMessages(ctx context.Context, taskID string, since time.Time, limit int) ([]*types.Message, error) {
	var out []*types.Message
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		msgs, err := c.Messaging.Thread(ctx, tx, taskID, since, limit)
		out = msgs
		return err
	})
	return out, err
}

// SearchMessages performs a case-insensitive body search.
func (c *Coordinator) SearchMessages(ctx context.Context, in messaging.SearchInput) ([]*types.Message, error) {
	var out []*types.Message
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		msgs, err := c.Messaging.Search(ctx, tx, in)
		out = msgs
		return err
	})
	return out, err
}

// AckMessage marks messageID read on behalf of agentID, appending
// message.read if it was previously unread.
func (c *Coordinator) AckMessage(ctx context.Context, agentID string, messageID int64) (bool, error) {
	var acked bool
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		ok, err := c.Messaging.Ack(ctx, tx, agentID, messageID)
		if err != nil {
			return err
		}
		acked = ok
		if !ok {
			return nil
		}
		msg, err := c.Runtime.GetMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		_, err = c.Runtime.AppendEvent(ctx, tx, &types.Event{
			CreatedAt:     c.now(),
			Type:          types.EventMessageRead,
			TargetAgentID: agentID,
			TaskID:        msg.TaskID,
			PayloadJSON:   "{}",
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if acked {
		c.Log.Info("message.read", "message_id", messageID, "agent_id", agentID)
	}
	return acked, nil
}

// PullEvents returns events after sinceCursor, capped at limit, per
// spec.md §4.G.
func (c *Coordinator) PullEvents(ctx context.Context, sinceCursor int64, limit int, types_ []types.EventType) ([]*types.Event, int64, error) {
	var events []*types.Event
	var next int64
	err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		e, n, err := c.Runtime.PullEvents(ctx, tx, sinceCursor, limit, runtime.EventFilter{Types: types_})
		events, next = e, n
		return err
	})
	return events, next, err
}
