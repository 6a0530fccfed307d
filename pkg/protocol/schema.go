package protocol

// SchemaDDL defines the SQLite schema for the warden state database.
// Tables: events, invocation_counts, node_leases, review_cycles.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Decision log: every dispatch, skip, invocation and remediation outcome
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    node TEXT,
    invocation_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_node_idx ON events (node, id);

-- Completed invocations per concurrency group and UTC day
CREATE TABLE IF NOT EXISTS invocation_counts (
    node_key TEXT NOT NULL,
    day TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (node_key, day)
);

-- Single-flight slot per concurrency group, shared by every warden process
-- on this database. Times are unix milliseconds; an expired row is free.
CREATE TABLE IF NOT EXISTS node_leases (
    node_key TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    acquired_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

-- Review cycle state per pull request
CREATE TABLE IF NOT EXISTS review_cycles (
    pr INTEGER PRIMARY KEY,
    round INTEGER NOT NULL DEFAULT 0,
    terminal INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL DEFAULT 'none',
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    archived_at TEXT
);
`
