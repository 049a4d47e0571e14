package rowstore

// SchemaVersion is the row layout this build reads and writes.
const SchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requirements (
	id              TEXT PRIMARY KEY,
	spec_id         TEXT NOT NULL DEFAULT '',
	prefix_override TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	priority        TEXT NOT NULL,
	owner           TEXT NOT NULL DEFAULT '',
	feature         TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	created_by      TEXT NOT NULL DEFAULT '',
	modified_at     TEXT NOT NULL,
	req_type        TEXT NOT NULL,
	dependencies    TEXT NOT NULL DEFAULT '[]',
	tags            TEXT NOT NULL DEFAULT '[]',
	relationships   TEXT NOT NULL DEFAULT '[]',
	comments        TEXT NOT NULL DEFAULT '[]',
	history         TEXT NOT NULL DEFAULT '[]',
	archived        INTEGER NOT NULL DEFAULT 0,
	custom_status   TEXT NOT NULL DEFAULT '',
	custom_fields   TEXT NOT NULL DEFAULT '{}',
	urls            TEXT NOT NULL DEFAULT '[]'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_requirements_spec_id ON requirements(spec_id) WHERE spec_id <> '';
CREATE INDEX IF NOT EXISTS idx_requirements_feature ON requirements(feature);
CREATE INDEX IF NOT EXISTS idx_requirements_status ON requirements(status);
CREATE INDEX IF NOT EXISTS idx_requirements_archived ON requirements(archived);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	spec_id    TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	handle     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_users_handle ON users(handle);

CREATE TABLE IF NOT EXISTS metadata (
	id                       INTEGER PRIMARY KEY CHECK (id = 1),
	name                     TEXT NOT NULL DEFAULT '',
	title                    TEXT NOT NULL DEFAULT '',
	description              TEXT NOT NULL DEFAULT '',
	id_config                TEXT NOT NULL DEFAULT '{}',
	features                 TEXT NOT NULL DEFAULT '[]',
	next_feature_number      INTEGER NOT NULL DEFAULT 1,
	next_spec_number         INTEGER NOT NULL DEFAULT 1,
	prefix_counters          TEXT NOT NULL DEFAULT '{}',
	relationship_definitions TEXT NOT NULL DEFAULT '[]',
	reaction_definitions     TEXT NOT NULL DEFAULT '[]',
	meta_counters            TEXT NOT NULL DEFAULT '{}',
	type_definitions         TEXT NOT NULL DEFAULT '[]',
	allowed_prefixes         TEXT NOT NULL DEFAULT '[]',
	restrict_prefixes        INTEGER NOT NULL DEFAULT 0
);
`

const requirementColumns = `id, spec_id, prefix_override, title, description, status, priority, owner, feature,
	created_at, created_by, modified_at, req_type, dependencies, tags, relationships, comments, history,
	archived, custom_status, custom_fields, urls`

const metadataColumns = `name, title, description, id_config, features, next_feature_number, next_spec_number,
	prefix_counters, relationship_definitions, reaction_definitions, meta_counters, type_definitions,
	allowed_prefixes, restrict_prefixes`
