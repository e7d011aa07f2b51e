package store

// schemaVersionV1 stored launches, items and suite paths only.
const schemaVersionV1 = 1

// schemaVersionV2 adds queued log records with their attachments.
const schemaVersionV2 = 2

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS sessions (
	name         TEXT PRIMARY KEY,
	launch_uuid  TEXT NOT NULL DEFAULT '',
	launch_state TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	session     TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	uuid        TEXT NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	parent_uuid TEXT,
	state       TEXT NOT NULL,
	start_time  INTEGER NOT NULL,
	PRIMARY KEY (session, uuid)
);

CREATE TABLE IF NOT EXISTS suite_paths (
	session  TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	path_key TEXT NOT NULL,
	uuid     TEXT NOT NULL,
	PRIMARY KEY (session, path_key)
);
`

var pendingLogsDDL = `
CREATE TABLE IF NOT EXISTS pending_logs (
	session   TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	time_ms   INTEGER NOT NULL,
	message   TEXT NOT NULL,
	level     TEXT,
	item_uuid TEXT,
	att_name  TEXT,
	att_mime  TEXT,
	att_data  BLOB,
	PRIMARY KEY (session, seq)
);
`

// schemaV2 is the fresh-install DDL.
var schemaV2 = schemaV1 + pendingLogsDDL

// migrationV1ToV2 adds the pending log table; existing rows are untouched.
var migrationV1ToV2 = pendingLogsDDL + `
UPDATE schema_version SET version = 2;
`
