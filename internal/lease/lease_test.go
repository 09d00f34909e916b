package lease

import (
	"context"
	"errors"
	"path/filepath"
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

func mustJoinAgent(t *testing.T, store runtime.Store, agentID string) {
	t.Helper()
	err := store.RunInTransaction(context.Background(), func(tx *runtime.Tx) error {
		return store.JoinAgent(context.Background(), tx, &types.Agent{
			AgentID:      agentID,
			RegisteredAt: time.Now(),
			LastSeenAt:   time.Now(),
			SessionMeta:  map[string]any{},
		})
	})
	if err != nil {
		t.Fatalf("JoinAgent(%s): %v", agentID, err)
	}
}

func TestClampTTL(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultTTL},
		{-time.Second, DefaultTTL},
		{time.Second, MinTTL},
		{24 * time.Hour, MaxTTL},
		{30 * time.Minute, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := ClampTTL(tc.in); got != tc.want {
			t.Errorf("ClampTTL(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClaimRejectsSecondActiveClaim(t *testing.T) {
	store := newTestStore(t)
	mustJoinAgent(t, store, "alice")
	mustJoinAgent(t, store, "bob")
	e := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		if _, err := e.Claim(ctx, tx, "t1", "alice", DefaultTTL); err != nil {
			return err
		}
		_, err := e.Claim(ctx, tx, "t1", "bob", DefaultTTL)
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.TaskAlreadyClaimed {
		t.Fatalf("expected TaskAlreadyClaimed, got %v", err)
	}
}

func TestClaimSucceedsAfterExpiry(t *testing.T) {
	store := newTestStore(t)
	mustJoinAgent(t, store, "alice")
	mustJoinAgent(t, store, "bob")
	clk := clock.NewOffset(time.Now())
	e := New(store, clk)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Claim(ctx, tx, "t1", "alice", MinTTL)
		return err
	})
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}

	clk.Advance(MinTTL + time.Second)

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Claim(ctx, tx, "t1", "bob", DefaultTTL)
		return err
	})
	if err != nil {
		t.Fatalf("expected Claim to succeed once the first lease expired, got %v", err)
	}
}

func TestRenewExtendsOnlyForCurrentHolder(t *testing.T) {
	store := newTestStore(t)
	mustJoinAgent(t, store, "alice")
	mustJoinAgent(t, store, "bob")
	e := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Claim(ctx, tx, "t1", "alice", DefaultTTL)
		return err
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Renew(ctx, tx, "t1", "bob", DefaultTTL)
		return err
	})
	var ee *engineerr.Error
	if !errors.As(err, &ee) || ee.Code != engineerr.TaskLeaseNotHeld {
		t.Fatalf("expected TaskLeaseNotHeld for a non-holder renew, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Renew(ctx, tx, "t1", "alice", DefaultTTL)
		return err
	})
	if err != nil {
		t.Fatalf("Renew(alice): %v", err)
	}
}

func TestReleaseDeactivatesLease(t *testing.T) {
	store := newTestStore(t)
	mustJoinAgent(t, store, "alice")
	e := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Claim(ctx, tx, "t1", "alice", DefaultTTL)
		return err
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		return e.Release(ctx, tx, "t1", "alice", "done for now")
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	var active *types.Lease
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		a, err := e.ActiveFor(ctx, tx, "t1")
		active = a
		return err
	})
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active lease after Release, got %+v", active)
	}
}

func TestCleanOrphansDeactivatesLeasesForRemovedAgents(t *testing.T) {
	store := newTestStore(t)
	mustJoinAgent(t, store, "alice")
	e := New(store, clock.System{})
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		_, err := e.Claim(ctx, tx, "t1", "alice", DefaultTTL)
		return err
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		return store.RemoveAgent(ctx, tx, "alice")
	})
	if err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}

	var results []OrphanResult
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		r, err := e.CleanOrphans(ctx, tx)
		results = r
		return err
	})
	if err != nil {
		t.Fatalf("CleanOrphans: %v", err)
	}
	if len(results) != 1 || results[0].Lease.TaskID != "t1" {
		t.Fatalf("unexpected orphan results: %+v", results)
	}

	var active *types.Lease
	err = store.RunInTransaction(ctx, func(tx *runtime.Tx) error {
		a, err := e.ActiveFor(ctx, tx, "t1")
		active = a
		return err
	})
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	if active != nil {
		t.Fatal("expected the orphaned lease to be inactive")
	}
}
