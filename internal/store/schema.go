package store

const schemaSQL = `
-- Every URL enqueued during the current run; cleared by Reset
CREATE TABLE IF NOT EXISTS seen (
    url TEXT PRIMARY KEY NOT NULL,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Fetched page text with an absolute expiry (unix nanoseconds)
CREATE TABLE IF NOT EXISTS page_cache (
    url TEXT PRIMARY KEY NOT NULL,
    content TEXT NOT NULL,
    cached_at DATETIME NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_page_cache_expires ON page_cache(expires_at);
`
