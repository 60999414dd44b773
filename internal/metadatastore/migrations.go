package metadatastore

// migrations is the ordered list of schema migrations, applied on open
// in ascending order; the applied version is recorded in the
// schema_migrations table (spec.md §4.3).
var migrations = []string{
	// v1: sessions, blobs, captures.
	`
	CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		started_at TEXT NOT NULL,
		stopped_at TEXT,
		status     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blobs (
		hash       TEXT PRIMARY KEY,
		size       INTEGER NOT NULL,
		compressed INTEGER NOT NULL,
		ref_count  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS captures (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		timestamp   TEXT NOT NULL,
		command     TEXT NOT NULL,
		cwd         TEXT NOT NULL,
		tool        TEXT,
		exit_code   INTEGER NOT NULL,
		output_hash TEXT NOT NULL REFERENCES blobs(hash),
		failed      INTEGER NOT NULL DEFAULT 0,
		reason      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, timestamp);
	`,
	// v2: chunks, embeddings, entities.
	`
	CREATE TABLE IF NOT EXISTS chunks (
		id                  TEXT PRIMARY KEY,
		capture_id          TEXT NOT NULL REFERENCES captures(id),
		blob_hash           TEXT NOT NULL REFERENCES blobs(hash),
		representative_text TEXT NOT NULL,
		cluster_size        INTEGER NOT NULL,
		pattern             TEXT,
		tier2_score         REAL,
		representative_strategy TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_capture ON chunks(capture_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT NOT NULL REFERENCES chunks(id),
		model    TEXT NOT NULL,
		vector   BLOB NOT NULL,
		PRIMARY KEY (chunk_id, model)
	);

	CREATE TABLE IF NOT EXISTS entities (
		id          TEXT PRIMARY KEY,
		capture_id  TEXT NOT NULL REFERENCES captures(id),
		chunk_id    TEXT NOT NULL REFERENCES chunks(id),
		type_name   TEXT NOT NULL,
		value       TEXT NOT NULL,
		context     TEXT,
		confidence  REAL NOT NULL,
		redact      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_capture ON entities(capture_id);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type_name);
	`,
	// v3: at-rest blob encryption flag.
	`
	ALTER TABLE blobs ADD COLUMN encrypted INTEGER NOT NULL DEFAULT 0;
	`,
}
