package database

// schemaMigrationsTable creates the schema_migrations table for tracking database versions.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initialSchema contains the initial database schema (version 1).
const initialSchema = `
-- hash_registry: combined fingerprints already rendered; append-only
CREATE TABLE IF NOT EXISTS hash_registry (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    combined_hash TEXT NOT NULL UNIQUE,
    request_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_hash_registry_request_id ON hash_registry(request_id);

-- image_logs: one row per generate request
CREATE TABLE IF NOT EXISTS image_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    keyword TEXT NOT NULL,
    target_company TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    source_origin TEXT,
    source_url TEXT,
    source_hash TEXT,
    raw_key TEXT,
    public_id TEXT,
    insurance_type TEXT,
    variant_seed TEXT,
    final_url TEXT,
    transform_spec TEXT,
    masking_zones TEXT,
    masking_style TEXT,
    variation_params TEXT,
    error_step TEXT,
    error_message TEXT,
    processing_time_ms INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    CHECK (status IN ('pending', 'processing', 'completed', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_image_logs_user_id ON image_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_image_logs_status ON image_logs(status);
CREATE INDEX IF NOT EXISTS idx_image_logs_source_hash ON image_logs(source_hash);
CREATE INDEX IF NOT EXISTS idx_image_logs_created_at ON image_logs(created_at);
`

// variantsSchema records every variant of multi-variant requests and the
// perceptual hash of the source (version 2).
const variantsSchema = `
ALTER TABLE image_logs ADD COLUMN perceptual_hash TEXT;
ALTER TABLE image_logs ADD COLUMN variants TEXT;

CREATE INDEX IF NOT EXISTS idx_image_logs_perceptual_hash ON image_logs(perceptual_hash);
`
