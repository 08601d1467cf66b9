package sqlite

// Schema is applied on every open. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	aliases     TEXT,
	tags        TEXT,
	attributes  TEXT,
	sources     TEXT,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);

CREATE TABLE IF NOT EXISTS relationships (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	type        TEXT NOT NULL,
	strength    REAL NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	sources     TEXT,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

CREATE VIRTUAL TABLE IF NOT EXISTS entity_text_fts USING fts5(
	entity_id UNINDEXED,
	body,
	metadata UNINDEXED,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS merge_candidates (
	id            TEXT PRIMARY KEY,
	entity_a_id   TEXT NOT NULL,
	entity_a_name TEXT NOT NULL DEFAULT '',
	entity_b_id   TEXT NOT NULL,
	entity_b_name TEXT NOT NULL DEFAULT '',
	similarity    REAL NOT NULL,
	status        TEXT NOT NULL,
	analysis      TEXT,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_candidates_status ON merge_candidates(status);

CREATE TABLE IF NOT EXISTS merge_events (
	id                    TEXT PRIMARY KEY,
	primary_id            TEXT NOT NULL,
	absorbed_id           TEXT NOT NULL,
	absorbed_name         TEXT NOT NULL DEFAULT '',
	similarity            REAL NOT NULL,
	auto                  INTEGER NOT NULL DEFAULT 0,
	reason                TEXT NOT NULL DEFAULT '',
	conflicts             TEXT,
	transferred_relations INTEGER NOT NULL DEFAULT 0,
	dropped_duplicates    INTEGER NOT NULL DEFAULT 0,
	dropped_self_loops    INTEGER NOT NULL DEFAULT 0,
	candidate_id          TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_events_created ON merge_events(created_at);
`
