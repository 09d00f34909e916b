package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	root := t.TempDir()
	c, err := Init(context.Background(), root, "demo", "main", 0, 0)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInitCreatesRepoLayout(t *testing.T) {
	root := t.TempDir()
	c, err := Init(context.Background(), root, "demo", "main", 0, 0)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	if c.Repo.SpecPath() != filepath.Join(root, ".lodestar", "spec.yaml") {
		t.Errorf("unexpected spec path %q", c.Repo.SpecPath())
	}
	spec, err := c.Spec.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Project.Name != "demo" {
		t.Errorf("ProjectName = %q, want demo", spec.Project.Name)
	}
}

func TestInitRejectsExistingRepo(t *testing.T) {
	root := t.TempDir()
	c, err := Init(context.Background(), root, "demo", "main", 0, 0)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	c.Close()

	if _, err := Init(context.Background(), root, "demo", "main", 0, 0); err == nil {
		t.Fatal("expected second Init at the same root to fail")
	}
}

func TestJoinAgentAndDuplicate(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	agent, err := c.JoinAgent(ctx, "alice", "Alice", "implementer", []string{"go"})
	if err != nil {
		t.Fatalf("JoinAgent: %v", err)
	}
	if agent.AgentID != "alice" {
		t.Errorf("AgentID = %q, want alice", agent.AgentID)
	}

	_, err = c.JoinAgent(ctx, "alice", "Alice Again", "implementer", nil)
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.AgentAlreadyExists {
		t.Fatalf("expected AgentAlreadyExists, got %v", err)
	}
}

func TestListAndFindAgent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "alice", "reviewer")
	mustJoin(t, c, "bob", "implementer")

	all, err := c.ListAgents(ctx, "")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	reviewers, err := c.ListAgents(ctx, "reviewer")
	if err != nil {
		t.Fatalf("ListAgents(reviewer): %v", err)
	}
	if len(reviewers) != 1 || reviewers[0].AgentID != "alice" {
		t.Fatalf("unexpected reviewers: %+v", reviewers)
	}

	if _, err := c.FindAgent(ctx, "nobody"); err == nil {
		t.Fatal("expected AgentNotRegistered for an unknown agent")
	}
}

func TestHeartbeatDoesNotExtendLease(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "alice", "implementer")
	mustCreateTask(t, c, "t1")

	l, _, err := c.ClaimTask(ctx, "t1", "alice", lease.MinTTL)
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	before := l.ExpiresAt

	if err := c.Heartbeat(ctx, "alice"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	var after *types.Lease
	err = c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		active, err := c.Lease.ActiveFor(ctx, tx, "t1")
		after = active
		return err
	})
	if err != nil {
		t.Fatalf("checking active lease: %v", err)
	}
	if after == nil {
		t.Fatal("expected the lease to still be active after a heartbeat")
	}
	if !after.ExpiresAt.Equal(before) {
		t.Errorf("ExpiresAt changed after heartbeat: before %v, after %v", before, after.ExpiresAt)
	}
}

func TestRemoveAgentOrphansLease(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "alice", "implementer")
	mustCreateTask(t, c, "t1")
	if _, _, err := c.ClaimTask(ctx, "t1", "alice", lease.DefaultTTL); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	if err := c.RemoveAgent(ctx, "alice"); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}

	// A second Open over the same repo root runs orphan cleanup, which
	// should free the lease alice held.
	c2, err := Open(ctx, c.Repo.Root, 0, 0)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer c2.Close()

	mustJoin(t, c2, "bob", "implementer")
	if _, _, err := c2.ClaimTask(ctx, "t1", "bob", lease.DefaultTTL); err != nil {
		t.Fatalf("expected bob to claim t1 after alice's lease was orphaned, got %v", err)
	}
}

func TestLeaveAgentKeepsLease(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "alice", "implementer")
	mustCreateTask(t, c, "t1")
	if _, _, err := c.ClaimTask(ctx, "t1", "alice", lease.DefaultTTL); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if err := c.LeaveAgent(ctx, "alice"); err != nil {
		t.Fatalf("LeaveAgent: %v", err)
	}

	if _, err := c.FindAgent(ctx, "alice"); err != nil {
		t.Fatalf("expected alice to still be registered after LeaveAgent, got %v", err)
	}

	mustJoin(t, c, "bob", "implementer")
	_, _, err := c.ClaimTask(ctx, "t1", "bob", lease.DefaultTTL)
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.TaskAlreadyClaimed {
		t.Fatalf("expected bob's claim to still be blocked by alice's active lease, got %v", err)
	}
}

func TestTaskContextWithNoPRD(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustCreateTask(t, c, "t1")

	delivery, drift, err := c.TaskContext(ctx, "t1", 4000)
	if err != nil {
		t.Fatalf("TaskContext: %v", err)
	}
	if delivery == nil || drift == nil {
		t.Fatal("expected zero-value delivery/drift, got nil")
	}
}

func mustJoin(t *testing.T, c *Coordinator, agentID, role string) {
	t.Helper()
	if _, err := c.JoinAgent(context.Background(), agentID, agentID, role, nil); err != nil {
		t.Fatalf("JoinAgent(%s): %v", agentID, err)
	}
}

func mustCreateTask(t *testing.T, c *Coordinator, id string) *types.Task {
	t.Helper()
	task, err := c.CreateTask(context.Background(), CreateTaskInput{ID: id, Title: "Task " + id})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", id, err)
	}
	return task
}
