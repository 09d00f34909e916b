package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func TestSendMessageToTaskAndAgent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")
	mustJoin(t, c, "bob", "reviewer")
	mustCreateTask(t, c, "t1")

	toTask, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientTask, ToID: "t1", Body: "starting work", TaskID: "t1",
	})
	if err != nil {
		t.Fatalf("SendMessage(task): %v", err)
	}
	if toTask.MessageID == 0 {
		t.Error("expected a non-zero MessageID")
	}

	toAgent, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: "please review",
	})
	if err != nil {
		t.Fatalf("SendMessage(agent): %v", err)
	}
	if toAgent.ToID != "bob" {
		t.Errorf("ToID = %q, want bob", toAgent.ToID)
	}
}

func TestSendMessageRejectsUnknownRecipientAgent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")

	_, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "ghost", Body: "hello",
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.MessageRecipientInvalid {
		t.Fatalf("expected MessageRecipientInvalid, got %v", err)
	}
}

func TestListMessagesUnreadOnlyAndMarkRead(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")
	mustJoin(t, c, "bob", "reviewer")

	if _, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: "first",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	unread, err := c.ListMessages(ctx, "bob", runtime.MessageFilter{UnreadOnly: true})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("len(unread) = %d, want 1", len(unread))
	}

	if _, err := c.ListMessages(ctx, "bob", runtime.MessageFilter{MarkRead: true}); err != nil {
		t.Fatalf("ListMessages(MarkRead): %v", err)
	}

	stillUnread, err := c.ListMessages(ctx, "bob", runtime.MessageFilter{UnreadOnly: true})
	if err != nil {
		t.Fatalf("ListMessages after mark-read: %v", err)
	}
	if len(stillUnread) != 0 {
		t.Errorf("len(stillUnread) = %d, want 0", len(stillUnread))
	}
}

func TestThreadMessagesForTask(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")
	mustCreateTask(t, c, "t1")

	for _, body := range []string{"first", "second"} {
		if _, err := c.SendMessage(ctx, messaging.SendInput{
			FromAgentID: "alice", ToType: types.RecipientTask, ToID: "t1", Body: body, TaskID: "t1",
		}); err != nil {
			t.Fatalf("SendMessage(%s): %v", body, err)
		}
	}

	thread, err := c.ThreadMessages(ctx, "t1", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("len(thread) = %d, want 2", len(thread))
	}
}

func TestSearchMessagesRequiresAPredicate(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")

	if _, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "alice", Body: "needle in a haystack",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	_, err := c.SearchMessages(ctx, messaging.SearchInput{})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.InvalidInput {
		t.Fatalf("expected InvalidInput for an empty search, got %v", err)
	}

	found, err := c.SearchMessages(ctx, messaging.SearchInput{Keyword: "haystack"})
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
}

func TestAckMessageIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")
	mustJoin(t, c, "bob", "reviewer")

	msg, err := c.SendMessage(ctx, messaging.SendInput{
		FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: "ack me",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	acked, err := c.AckMessage(ctx, "bob", msg.MessageID)
	if err != nil {
		t.Fatalf("AckMessage: %v", err)
	}
	if !acked {
		t.Fatal("expected the first ack to report true")
	}

	acked, err = c.AckMessage(ctx, "bob", msg.MessageID)
	if err != nil {
		t.Fatalf("AckMessage (again): %v", err)
	}
	if acked {
		t.Fatal("expected the second ack to report false (already read)")
	}
}

func TestPullEventsIsMonotonicAndFilterable(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	mustJoin(t, c, "alice", "implementer")
	mustCreateTask(t, c, "t1")
	if _, _, err := c.ClaimTask(ctx, "t1", "alice", 0); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	events, next, err := c.PullEvents(ctx, 0, 100, nil)
	if err != nil {
		t.Fatalf("PullEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one event (agent.joined, task.claimed)")
	}
	if next <= 0 {
		t.Fatalf("next cursor = %d, want > 0", next)
	}

	claimedOnly, _, err := c.PullEvents(ctx, 0, 100, []types.EventType{types.EventTaskClaimed})
	if err != nil {
		t.Fatalf("PullEvents(filtered): %v", err)
	}
	for _, e := range claimedOnly {
		if e.Type != types.EventTaskClaimed {
			t.Errorf("unexpected event type %q in a task.claimed-filtered pull", e.Type)
		}
	}
	if len(claimedOnly) != 1 {
		t.Fatalf("len(claimedOnly) = %d, want 1", len(claimedOnly))
	}

	more, nextAfter, err := c.PullEvents(ctx, next, 100, nil)
	if err != nil {
		t.Fatalf("PullEvents(from cursor): %v", err)
	}
	if len(more) != 0 || nextAfter != next {
		t.Fatalf("expected no new events past the cursor, got %d events, next=%d", len(more), nextAfter)
	}
}
