package messaging

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/runtime/sqlite"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func newTestStore(t *testing.T) runtime.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "runtime.db"), 0)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSendRejectsOversizedBody(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	huge := strings.Repeat("x", types.MaxMessageBodyBytes+1)
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := s.Send(ctx, tx, SendInput{FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: huge})
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.MessageTooLarge {
		t.Fatalf("expected MessageTooLarge, got %v", err)
	}
}

func TestSendRejectsUnknownRecipientType(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := s.Send(ctx, tx, SendInput{FromAgentID: "alice", ToType: "channel", ToID: "general", Body: "hi"})
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.MessageRecipientInvalid {
		t.Fatalf("expected MessageRecipientInvalid, got %v", err)
	}
}

func TestSendRejectsEmptyRecipientID(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := s.Send(ctx, tx, SendInput{FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "", Body: "hi"})
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.MessageRecipientInvalid {
		t.Fatalf("expected MessageRecipientInvalid for an empty recipient id, got %v", err)
	}
}

func TestSendAssignsMessageID(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	var msg *types.Message
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		m, err := s.Send(ctx, tx, SendInput{FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: "hello"})
		msg = m
		return err
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.MessageID == 0 {
		t.Error("expected a non-zero MessageID after insertion")
	}
}

func TestSearchRequiresAtLeastOnePredicate(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := s.Search(ctx, tx, SearchInput{})
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.InvalidInput {
		t.Fatalf("expected InvalidInput for an empty search, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := s.Search(ctx, tx, SearchInput{Since: time.Now()})
		return err
	})
	if err != nil {
		t.Fatalf("Search with a Since predicate should be accepted, got %v", err)
	}
}

func TestAckOnlyOnce(t *testing.T) {
	store := newTestStore(t)
	s := New(store, clock.System{})
	ctx := context.Background()

	var msg *types.Message
	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		m, err := s.Send(ctx, tx, SendInput{FromAgentID: "alice", ToType: types.RecipientAgent, ToID: "bob", Body: "ack me"})
		msg = m
		return err
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var first, second bool
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		ok, err := s.Ack(ctx, tx, "bob", msg.MessageID)
		first = ok
		return err
	})
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		ok, err := s.Ack(ctx, tx, "bob", msg.MessageID)
		second = ok
		return err
	})
	if err != nil {
		t.Fatalf("Ack (again): %v", err)
	}
	if !first || second {
		t.Fatalf("expected (true, false), got (%v, %v)", first, second)
	}
}
