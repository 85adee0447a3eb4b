package store

// Schema is the full control-plane DDL. Idempotent: every statement is
// CREATE IF NOT EXISTS, so it is applied unconditionally at startup.
//
// Conventions: TEXT UUID primary keys, Unix-millisecond INTEGER
// timestamps, JSON payloads as TEXT (object or array), booleans as 0/1.
const Schema = `
CREATE TABLE IF NOT EXISTS modules (
	id          TEXT PRIMARY KEY,
	module_id   TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('connector','processor')),
	enabled     INTEGER NOT NULL DEFAULT 1,
	scopes      TEXT NOT NULL DEFAULT '[]',
	trust_level TEXT NOT NULL DEFAULT 'untrusted'
	            CHECK (trust_level IN ('trusted','semi_trusted','untrusted')),
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS module_credentials (
	id         TEXT PRIMARY KEY,
	module_id  TEXT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
	key_hash   TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1,
	revoked_at INTEGER,
	expires_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_module_credentials_module
	ON module_credentials(module_id);

CREATE TABLE IF NOT EXISTS source_trust_policies (
	id                  TEXT PRIMARY KEY,
	source_key          TEXT NOT NULL UNIQUE,
	trust_level         TEXT NOT NULL
	                    CHECK (trust_level IN ('trusted','semi_trusted','untrusted')),
	auto_publish        INTEGER NOT NULL DEFAULT 0,
	requires_moderation INTEGER NOT NULL DEFAULT 1,
	rules_json          TEXT NOT NULL DEFAULT '{}',
	enabled             INTEGER NOT NULL DEFAULT 1,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS url_rules (
	id                   TEXT PRIMARY KEY,
	host_suffix          TEXT NOT NULL UNIQUE,
	strip_www            INTEGER NOT NULL DEFAULT 0,
	force_https          INTEGER NOT NULL DEFAULT 0,
	strip_query_params   TEXT NOT NULL DEFAULT '[]',
	strip_query_prefixes TEXT NOT NULL DEFAULT '[]',
	enabled              INTEGER NOT NULL DEFAULT 1,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS discoveries (
	id               TEXT PRIMARY KEY,
	origin_module_id TEXT NOT NULL REFERENCES modules(id),
	external_id      TEXT,
	discovered_at    INTEGER NOT NULL,
	url              TEXT,
	normalized_url   TEXT,
	canonical_hash   TEXT,
	title_hint       TEXT,
	text_hint        TEXT,
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_discoveries_module_external
	ON discoveries(origin_module_id, external_id)
	WHERE external_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS ux_discoveries_module_url
	ON discoveries(origin_module_id, normalized_url)
	WHERE external_id IS NULL AND normalized_url IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_discoveries_hash ON discoveries(canonical_hash);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	discovery_id TEXT REFERENCES discoveries(id),
	kind         TEXT NOT NULL,
	uri          TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	captured_at  INTEGER NOT NULL,
	content_type TEXT,
	byte_size    INTEGER,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_discovery ON evidence(discovery_id);

CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL CHECK (kind IN
	                    ('extract','dedupe','enrich','check_freshness','resolve_url_redirects')),
	target_type         TEXT NOT NULL,
	target_id           TEXT,
	inputs_json         TEXT NOT NULL DEFAULT '{}',
	status              TEXT NOT NULL DEFAULT 'queued' CHECK (status IN
	                    ('queued','claimed','done','failed','dead_letter')),
	attempt             INTEGER NOT NULL DEFAULT 0,
	locked_by_module_id TEXT,
	locked_at           INTEGER,
	lease_expires_at    INTEGER,
	next_run_at         INTEGER NOT NULL,
	result_json         TEXT,
	error_json          TEXT,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_queued ON jobs(status, next_run_at, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(status, lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_target ON jobs(kind, target_type, target_id);

CREATE TABLE IF NOT EXISTS posting_candidates (
	id                TEXT PRIMARY KEY,
	state             TEXT NOT NULL DEFAULT 'discovered' CHECK (state IN
	                  ('discovered','processed','publishable','needs_review',
	                   'published','rejected','archived','closed')),
	dedupe_bucket_key TEXT,
	dedupe_confidence REAL,
	extracted_fields  TEXT NOT NULL DEFAULT '{}',
	risk_flags        TEXT NOT NULL DEFAULT '[]',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_candidates_state ON posting_candidates(state);
CREATE INDEX IF NOT EXISTS idx_candidates_bucket ON posting_candidates(dedupe_bucket_key);

CREATE TABLE IF NOT EXISTS candidate_discoveries (
	candidate_id TEXT NOT NULL REFERENCES posting_candidates(id) ON DELETE CASCADE,
	discovery_id TEXT NOT NULL REFERENCES discoveries(id),
	PRIMARY KEY (candidate_id, discovery_id)
);

CREATE TABLE IF NOT EXISTS candidate_evidence (
	candidate_id TEXT NOT NULL REFERENCES posting_candidates(id) ON DELETE CASCADE,
	evidence_id  TEXT NOT NULL REFERENCES evidence(id),
	PRIMARY KEY (candidate_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS postings (
	id                TEXT PRIMARY KEY,
	candidate_id      TEXT REFERENCES posting_candidates(id),
	title             TEXT NOT NULL,
	canonical_url     TEXT NOT NULL,
	normalized_url    TEXT NOT NULL,
	canonical_hash    TEXT NOT NULL UNIQUE,
	organization_name TEXT NOT NULL,
	sector            TEXT,
	degree_level      TEXT,
	opportunity_kind  TEXT,
	country           TEXT,
	region            TEXT,
	city              TEXT,
	remote            INTEGER NOT NULL DEFAULT 0,
	tags              TEXT NOT NULL DEFAULT '[]',
	areas             TEXT NOT NULL DEFAULT '[]',
	description_text  TEXT,
	application_url   TEXT,
	deadline          TEXT,
	source_refs       TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN
	                  ('active','stale','archived','closed')),
	published_at      INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_postings_status_updated ON postings(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_postings_candidate ON postings(candidate_id);
CREATE INDEX IF NOT EXISTS idx_postings_normalized ON postings(normalized_url);

CREATE TABLE IF NOT EXISTS candidate_merge_decisions (
	id                     TEXT PRIMARY KEY,
	primary_candidate_id   TEXT NOT NULL REFERENCES posting_candidates(id),
	secondary_candidate_id TEXT NOT NULL REFERENCES posting_candidates(id),
	decision               TEXT NOT NULL CHECK (decision IN
	                       ('auto_merged','manual_merged','needs_review','rejected')),
	confidence             REAL,
	decided_by             TEXT NOT NULL,
	rationale              TEXT,
	metadata               TEXT NOT NULL DEFAULT '{}',
	created_at             INTEGER NOT NULL,
	UNIQUE (primary_candidate_id, secondary_candidate_id)
);

CREATE TABLE IF NOT EXISTS provenance_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT,
	event_type  TEXT NOT NULL,
	actor_type  TEXT NOT NULL CHECK (actor_type IN ('human','machine','system')),
	actor_id    TEXT,
	payload     TEXT NOT NULL DEFAULT '{}',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provenance_entity
	ON provenance_events(entity_type, entity_id, id);
`
