package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Annotated documents, grouped into named corpora. Insertion order is the
-- training order, so corpus prefixes are stable.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    corpus TEXT NOT NULL,
    doc_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    data JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(corpus, content_hash)
);

-- Serialized step models, keyed "<step kind>/<model name>"
CREATE TABLE IF NOT EXISTS models (
    name TEXT PRIMARY KEY,
    state BLOB NOT NULL,
    num_docs INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Audit log of annotate / retrain / evaluate runs
CREATE TABLE IF NOT EXISTS run_log (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    num_docs INTEGER DEFAULT 0,
    f1 REAL,
    details JSON,
    duration_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_corpus ON documents(corpus, id);
CREATE INDEX IF NOT EXISTS idx_run_log_kind ON run_log(kind);
`
