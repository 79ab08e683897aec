package sqlite

const schema = `
-- Chunks table: code units discovered by the scanner/parser.
-- Centrality (pagerank), fan_in and fan_out are precomputed by the graph
-- builder when edges change.
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL,
    path TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    exported INTEGER NOT NULL DEFAULT 0,
    pagerank REAL NOT NULL DEFAULT 0,
    fan_in INTEGER NOT NULL DEFAULT 0,
    fan_out INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_pagerank ON chunks(pagerank);

-- Call/import graph edges between chunks
CREATE TABLE IF NOT EXISTS chunk_edges (
    from_chunk TEXT NOT NULL,
    to_chunk TEXT NOT NULL,
    PRIMARY KEY (from_chunk, to_chunk)
);

CREATE INDEX IF NOT EXISTS idx_edges_to ON chunk_edges(to_chunk);

-- Chunk embeddings for similarity search (JSON-encoded float32 vectors)
CREATE TABLE IF NOT EXISTS chunk_embeddings (
    chunk_id TEXT PRIMARY KEY,
    vector TEXT NOT NULL,
    dimensions INTEGER NOT NULL
);

-- Enrichment queue: one row per scheduled research run.
-- The partial unique index enforces at most one active (pending or
-- processing) item per chunk while letting completed/failed history
-- coexist with a re-queued entry.
CREATE TABLE IF NOT EXISTS enrichment_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id TEXT NOT NULL,
    file_id TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'complete', 'failed')),
    attempts INTEGER NOT NULL DEFAULT 0,
    next_retry_at DATETIME,
    error_message TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processed_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_active_chunk
    ON enrichment_queue(chunk_id) WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_queue_status ON enrichment_queue(status);
CREATE INDEX IF NOT EXISTS idx_queue_priority ON enrichment_queue(priority);
CREATE INDEX IF NOT EXISTS idx_queue_retry ON enrichment_queue(next_retry_at);

-- Enrichments: the durable analysis result, one per chunk.
-- List-valued semantic fields are stored as JSON arrays.
CREATE TABLE IF NOT EXISTS enrichments (
    chunk_id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    analysis_version TEXT NOT NULL,
    summary TEXT NOT NULL,
    purpose TEXT NOT NULL DEFAULT '',
    key_operations TEXT NOT NULL DEFAULT '[]',
    side_effects TEXT NOT NULL DEFAULT '[]',
    state_changes TEXT NOT NULL DEFAULT '[]',
    implicit_dependencies TEXT NOT NULL DEFAULT '[]',
    design_patterns TEXT NOT NULL DEFAULT '[]',
    architectural_patterns TEXT NOT NULL DEFAULT '[]',
    anti_patterns TEXT NOT NULL DEFAULT '[]',
    complexity TEXT NOT NULL DEFAULT 'medium' CHECK(complexity IN ('low', 'medium', 'high')),
    security_concerns TEXT NOT NULL DEFAULT '[]',
    performance_concerns TEXT NOT NULL DEFAULT '[]',
    business_rules TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    model_used TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_enrichments_file ON enrichments(file_id);
CREATE INDEX IF NOT EXISTS idx_enrichments_version ON enrichments(analysis_version);

-- Partial enrichments: incidental neighbor findings from research runs.
-- Multiple rows may accumulate per chunk.
CREATE TABLE IF NOT EXISTS partial_enrichments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id TEXT NOT NULL,
    learned TEXT NOT NULL CHECK(length(learned) <= 200),
    relationship TEXT NOT NULL CHECK(relationship IN ('caller', 'callee', 'sibling', 'similar', 'grep_match')),
    confidence REAL NOT NULL DEFAULT 0,
    source_chunk_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_partials_chunk ON partial_enrichments(chunk_id);

-- Config table for runtime settings (analysis_version, etc.)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
