package sqlite

const schema = `
-- Agents table
CREATE TABLE IF NOT EXISTS agents (
    agent_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    capabilities_json TEXT NOT NULL DEFAULT '[]',
    registered_at DATETIME NOT NULL,
    last_seen_at DATETIME NOT NULL,
    session_meta_json TEXT NOT NULL DEFAULT '{}'
);

-- Leases table. A task may have many rows over its lifetime; at most one
-- with expires_at > now is ever considered active (checked at read time,
-- never swept).
CREATE TABLE IF NOT EXISTS leases (
    lease_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leases_task_expires ON leases(task_id, expires_at);
CREATE INDEX IF NOT EXISTS idx_leases_agent_expires ON leases(agent_id, expires_at);

-- Messages table
CREATE TABLE IF NOT EXISTS messages (
    message_id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at DATETIME NOT NULL,
    from_agent_id TEXT NOT NULL,
    to_type TEXT NOT NULL,
    to_id TEXT NOT NULL,
    task_id TEXT,
    subject TEXT,
    body TEXT NOT NULL,
    severity TEXT,
    read_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(to_type, to_id, message_id);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id, message_id);

-- Events table: append-only monotonic mutation stream.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at DATETIME NOT NULL,
    type TEXT NOT NULL,
    actor_agent_id TEXT,
    task_id TEXT,
    target_agent_id TEXT,
    payload_json TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_id ON events(id);

-- Meta table: schema version and other singleton runtime settings.
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
