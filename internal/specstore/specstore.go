// Package specstore owns the committed YAML task spec: loading,
// validating, and atomically rewriting it under an exclusive
// cross-process file lock, per spec.md §4.C.
package specstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// DefaultLockTimeout bounds how long a writer waits to acquire the spec
// lock before giving up with engineerr.LockTimeout (spec.md §5).
const DefaultLockTimeout = 5 * time.Second

const lockPollInterval = 25 * time.Millisecond

// Store owns reads and writes of the spec file at Path, serialized
// across processes via a lock file at LockPath.
type Store struct {
	Path        string
	LockPath    string
	LockTimeout time.Duration
	Clock       clock.Clock
}

// New returns a Store for the given spec/lock paths. lockTimeout <= 0
// falls back to DefaultLockTimeout.
func New(specPath, lockPath string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		Path:        specPath,
		LockPath:    lockPath,
		LockTimeout: lockTimeout,
		Clock:       clock.System{},
	}
}

// Load reads and parses the spec file without taking the lock. Per
// spec.md §4.C, readers must tolerate a writer's concurrent rename by
// retrying once on read error.
func (s *Store) Load() (*types.Spec, error) {
	spec, err := s.readOnce()
	if err != nil {
		spec, err = s.readOnce() // retry once: a concurrent rename may have raced us
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engineerr.Newf(engineerr.NotInitialized, "spec file not found at %s", s.Path)
		}
		return nil, engineerr.Newf(engineerr.SpecMalformed, "reading spec: %v", err)
	}
	return spec, nil
}

func (s *Store) readOnce() (*types.Spec, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var spec types.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	if spec.Tasks == nil {
		spec.Tasks = map[string]*types.Task{}
	}
	return &spec, nil
}

// GetTask returns a deep copy of the named task, or TaskNotFound.
func (s *Store) GetTask(id string) (*types.Task, error) {
	spec, err := s.Load()
	if err != nil {
		return nil, err
	}
	task, ok := spec.Tasks[id]
	if !ok {
		return nil, engineerr.Newf(engineerr.TaskNotFound, "task %q not found", id)
	}
	return task.Clone(), nil
}

// Mutation transforms an in-memory spec; it returns an error to abort
// the whole write (nothing is persisted on error).
type Mutation func(spec *types.Spec) error

// Save performs the five-step sequence from spec.md §4.C: lock, re-read,
// mutate, validate, atomically replace, unlock.
func (s *Store) Save(ctx context.Context, mutate Mutation) (*types.Spec, error) {
	lock := flock.New(s.LockPath)
	locked, err := s.tryLockWithTimeout(ctx, lock)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, engineerr.Newf(engineerr.LockTimeout, "timed out acquiring spec lock after %s", s.LockTimeout)
	}
	defer func() { _ = lock.Unlock() }()

	spec, err := s.readOnce()
	if err != nil {
		if os.IsNotExist(err) {
			spec = &types.Spec{Tasks: map[string]*types.Task{}}
		} else {
			return nil, engineerr.Newf(engineerr.SpecMalformed, "reading spec: %v", err)
		}
	}

	if err := mutate(spec); err != nil {
		return nil, err
	}

	if verr := Validate(spec); verr != nil {
		return nil, verr
	}

	if err := s.atomicWrite(spec); err != nil {
		return nil, engineerr.Newf(engineerr.SpecMalformed, "writing spec: %v", err)
	}

	return spec, nil
}

func (s *Store) tryLockWithTimeout(ctx context.Context, lock *flock.Flock) (bool, error) {
	deadline := time.Now().Add(s.LockTimeout)
	for {
		locked, err := lock.TryLock()
		if err != nil {
			return false, engineerr.Newf(engineerr.LockTimeout, "acquiring spec lock: %v", err)
		}
		if locked {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, engineerr.Newf(engineerr.LockTimeout, "context canceled waiting for spec lock: %v", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *Store) atomicWrite(spec *types.Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// UpsertTask inserts or replaces a task by ID, stamping timestamps.
func (s *Store) UpsertTask(ctx context.Context, task *types.Task) (*types.Spec, error) {
	return s.Save(ctx, func(spec *types.Spec) error {
		now := s.Clock.Now()
		existing, exists := spec.Tasks[task.ID]
		clone := task.Clone()
		if exists {
			clone.CreatedAt = existing.CreatedAt
		} else if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		if clone.Status == "" {
			clone.Status = types.StatusReady
		}
		if clone.Priority == 0 && !exists {
			clone.Priority = 100
		}
		spec.Tasks[task.ID] = clone
		return nil
	})
}

// SetStatus transitions task id to status, validating the resulting spec.
func (s *Store) SetStatus(ctx context.Context, id string, status types.Status) (*types.Spec, error) {
	return s.Save(ctx, func(spec *types.Spec) error {
		task, ok := spec.Tasks[id]
		if !ok {
			return engineerr.Newf(engineerr.TaskNotFound, "task %q not found", id)
		}
		task.Status = status
		task.UpdatedAt = s.Clock.Now()
		return nil
	})
}

// SoftDeleteTask tombstones task id. If cascade is false and the task
// has live dependents, the delete is rejected with TaskStateConflict
// naming the blocking dependents. If cascade is true, every strict
// dependent is tombstoned as well.
func (s *Store) SoftDeleteTask(ctx context.Context, id string, cascade bool) (*types.Spec, error) {
	return s.Save(ctx, func(spec *types.Spec) error {
		task, ok := spec.Tasks[id]
		if !ok {
			return engineerr.Newf(engineerr.TaskNotFound, "task %q not found", id)
		}

		dependents := dag.DependentsOf(id, spec)
		live := make([]string, 0, len(dependents))
		for _, depID := range dependents {
			if spec.Tasks[depID].Status != types.StatusDeleted {
				live = append(live, depID)
			}
		}

		if len(live) > 0 && !cascade {
			return engineerr.New(engineerr.TaskStateConflict, "task has live dependents; pass cascade to delete them too").
				WithDetails(map[string]any{"dependents": live})
		}

		now := s.Clock.Now()
		task.Status = types.StatusDeleted
		task.UpdatedAt = now
		if cascade {
			for _, depID := range live {
				spec.Tasks[depID].Status = types.StatusDeleted
				spec.Tasks[depID].UpdatedAt = now
			}
		}
		return nil
	})
}
