package memory

// Schema contains the DDL for the correction memory tables.
const Schema = `
-- Corrections: confirmed selector fixes generalised into reusable rules
CREATE TABLE IF NOT EXISTS corrections (
    id                 TEXT PRIMARY KEY,
    page_url           TEXT NOT NULL,
    domain             TEXT NOT NULL,
    page_type          TEXT NOT NULL DEFAULT '',
    original_selector  TEXT NOT NULL,
    corrected_selector TEXT NOT NULL,
    signature          TEXT NOT NULL DEFAULT '{}',
    pattern            TEXT NOT NULL DEFAULT '{}',
    success_count      INTEGER NOT NULL DEFAULT 0,
    failure_count      INTEGER NOT NULL DEFAULT 0,
    validated          INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_domain ON corrections(domain);
CREATE INDEX IF NOT EXISTS idx_corrections_status ON corrections(validated);
CREATE INDEX IF NOT EXISTS idx_corrections_time ON corrections(created_at DESC);
`
