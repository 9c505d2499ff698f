package store

// Schema creates all tables and indexes. Statements are idempotent so
// the schema can be re-applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	content           TEXT NOT NULL DEFAULT '',
	mime_type         TEXT NOT NULL,
	checksum          TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	original_path     TEXT NOT NULL DEFAULT '',
	archive_path      TEXT NOT NULL DEFAULT '',
	thumbnail_path    TEXT NOT NULL DEFAULT '',
	correspondent_id  INTEGER,
	document_type_id  INTEGER,
	storage_path_id   INTEGER,
	owner_id          INTEGER,
	asn               INTEGER,
	page_count        INTEGER NOT NULL DEFAULT 0,
	needs_ocr         INTEGER NOT NULL DEFAULT 0,
	source            TEXT NOT NULL DEFAULT '',
	created_at        INTEGER,
	added_at          INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_checksum
	ON documents (tenant_id, checksum);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_asn
	ON documents (tenant_id, asn) WHERE asn IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_documents_added
	ON documents (tenant_id, added_at);

CREATE TABLE IF NOT EXISTS tags (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS correspondents (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS document_types (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS storage_paths (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	path      TEXT NOT NULL DEFAULT '',
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS custom_fields (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (document_id, tag_id)
);

CREATE TABLE IF NOT EXISTS document_custom_fields (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field_id    INTEGER NOT NULL REFERENCES custom_fields(id) ON DELETE CASCADE,
	value       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, field_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	doc_id UNINDEXED,
	title,
	content
);
`
