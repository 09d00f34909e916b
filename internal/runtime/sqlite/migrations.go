package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single idempotent step run against a freshly-opened
// database. Migrations run in order every time the store is opened;
// each must be safe to re-run against an already-migrated database.
type migration struct {
	name string
	fn   func(*sql.DB) error
}

// currentSchemaVersion is the number of migrations in migrationsList.
// It is recorded in meta so future migrations know where to resume.
const currentSchemaVersion = len(migrationsList)

var migrationsList = []migration{
	{"base_schema", migrateBaseSchema},
	{"messages_severity_index", migrateMessagesSeverityIndex},
}

func migrateBaseSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

func migrateMessagesSeverityIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_severity ON messages(severity) WHERE severity IS NOT NULL`)
	return err
}

// runMigrations applies every migration in order and records the
// resulting schema version in meta. Safe to call on every open.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("creating meta table: %w", err)
	}

	for _, m := range migrationsList {
		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
	}

	_, err := db.Exec(
		`INSERT INTO meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", currentSchemaVersion),
	)
	return err
}
