// Package runtime defines the interface the coordinator uses to reach
// the local, machine-only runtime plane: agents, leases, messages, and
// the event log, per spec.md §4.F-§4.J.
package runtime

import (
	"context"
	"database/sql"
	"time"

	"github.com/lodestar-dev/lodestar/internal/types"
)

// Tx wraps a single database transaction; all mutating Store methods
// take one so the coordinator can compose multi-step operations
// atomically (spec.md §4.K step 1).
type Tx struct {
	Raw *sql.Tx
}

// AgentFilter narrows agent.list results; zero value matches everyone.
type AgentFilter struct {
	Role string
}

// MessageFilter narrows message.list results (spec.md §4.J).
type MessageFilter struct {
	UnreadOnly  bool      `json:"unread_only,omitempty"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`
	Limit       int       `json:"limit,omitempty"`
	MarkRead    bool      `json:"mark_read,omitempty"`
}

// EventFilter narrows events.pull results.
type EventFilter struct {
	Types []types.EventType
}

// Store is the runtime-plane persistence contract implemented by
// internal/runtime/sqlite.Storage.
type Store interface {
	Close() error

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error

	// Agents
	JoinAgent(ctx context.Context, tx *Tx, agent *types.Agent) error
	GetAgent(ctx context.Context, tx *Tx, agentID string) (*types.Agent, error)
	ListAgents(ctx context.Context, tx *Tx, filter AgentFilter) ([]*types.Agent, error)
	Heartbeat(ctx context.Context, tx *Tx, agentID string, now time.Time) error
	RemoveAgent(ctx context.Context, tx *Tx, agentID string) error

	// Leases
	ActiveLease(ctx context.Context, tx *Tx, taskID string, now time.Time) (*types.Lease, error)
	InsertLease(ctx context.Context, tx *Tx, lease *types.Lease) error
	LeaseByID(ctx context.Context, tx *Tx, leaseID string) (*types.Lease, error)
	ExpireLease(ctx context.Context, tx *Tx, leaseID string, at time.Time) error
	ActiveLeasesForAgent(ctx context.Context, tx *Tx, agentID string, now time.Time) ([]*types.Lease, error)
	AllActiveLeases(ctx context.Context, tx *Tx, now time.Time) ([]*types.Lease, error)

	// Messages
	InsertMessage(ctx context.Context, tx *Tx, msg *types.Message) (int64, error)
	ListMessages(ctx context.Context, tx *Tx, recipientAgentID string, filter MessageFilter) ([]*types.Message, error)
	ThreadMessages(ctx context.Context, tx *Tx, taskID string, since time.Time, limit int) ([]*types.Message, error)
	SearchMessages(ctx context.Context, tx *Tx, keyword, from string, since, until time.Time, limit int) ([]*types.Message, error)
	AckMessage(ctx context.Context, tx *Tx, agentID string, messageID int64, now time.Time) (bool, error)
	GetMessage(ctx context.Context, tx *Tx, messageID int64) (*types.Message, error)

	// Events
	AppendEvent(ctx context.Context, tx *Tx, ev *types.Event) (int64, error)
	PullEvents(ctx context.Context, tx *Tx, sinceCursor int64, limit int, filter EventFilter) ([]*types.Event, int64, error)
}
