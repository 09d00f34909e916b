// Package sqlite implements internal/runtime.Store on top of a
// cgo-free embedded SQLite database, opened in WAL mode so one writer
// and many readers can proceed concurrently (spec.md §4.F, §5).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
)

// DefaultBusyTimeout bounds how long a writer retries against lock
// contention before the store surfaces engineerr.RuntimeBusy (spec.md §5).
const DefaultBusyTimeout = 1 * time.Second

// Storage is the SQLite-backed implementation of runtime.Store.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// SetLogger attaches a logger for lock-contention warnings. Callers
// that skip this keep the slog default logger.
func (s *Storage) SetLogger(log *slog.Logger) {
	s.log = log
}

func (s *Storage) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

var _ runtime.Store = (*Storage)(nil)

// Open opens (creating if necessary) the runtime database at path,
// enables WAL journaling, and runs all pending migrations.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Storage, error) {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	dsn := connString(path, busyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, classifyError(nil, err, "opening runtime database")
	}
	db.SetMaxOpenConns(1) // one writer; SQLite serializes writes regardless, this avoids pool contention noise

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, classifyError(nil, err, "enabling WAL journal mode")
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA busy_timeout=%d`, busyTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, classifyError(nil, err, "setting busy_timeout")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, classifyError(nil, err, "enabling foreign keys")
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, classifyError(nil, err, "running migrations")
	}

	return &Storage{db: db}, nil
}

func connString(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout.Milliseconds())
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunInTransaction wraps fn in a single database transaction, committing
// on success and rolling back on error or panic.
func (s *Storage) RunInTransaction(ctx context.Context, fn func(tx *runtime.Tx) error) (err error) {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(s, err, "beginning transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = raw.Rollback()
			panic(p)
		}
	}()

	if err := fn(&runtime.Tx{Raw: raw}); err != nil {
		_ = raw.Rollback()
		return err
	}

	if err := raw.Commit(); err != nil {
		return classifyError(s, err, "committing transaction")
	}
	return nil
}

// classifyError surfaces the two store-error kinds spec.md §5 names:
// SQLITE_BUSY as the retriable engineerr.RuntimeBusy once the
// busy_timeout retry window has elapsed, and every other SQLite driver
// error (corruption, I/O failure, not-a-database, …) as the fatal
// engineerr.RuntimeCorrupt. A nil store (used during Open, before a
// *Storage exists) just skips the Warn log. Non-SQLite errors (a
// cancelled context, a closed pool) are wrapped plainly.
func classifyError(s *Storage, err error, action string) error {
	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return fmt.Errorf("%s: %w", action, err)
	}
	if serr.Code() == sqlite3.BUSY {
		if s != nil {
			s.logger().Warn("runtime store lock contention", "action", action)
		}
		return engineerr.Newf(engineerr.RuntimeBusy, "%s: runtime store is locked by another writer", action)
	}
	if s != nil {
		s.logger().Error("runtime store error", "action", action, "code", serr.Code())
	}
	return engineerr.Newf(engineerr.RuntimeCorrupt, "%s: %v", action, serr)
}
