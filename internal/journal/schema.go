package journal

// Schema v1 - runs and the rows they processed
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  schema_variant TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  state TEXT NOT NULL,
  rows_total INTEGER NOT NULL DEFAULT 0,
  rows_done INTEGER NOT NULL DEFAULT 0,
  started_unix_ms INTEGER NOT NULL,
  finished_unix_ms INTEGER,
  error TEXT,
  event_log TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_unix_ms);

CREATE TABLE IF NOT EXISTS run_rows (
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  row_num INTEGER NOT NULL,
  gig_id TEXT NOT NULL,
  gig_created INTEGER NOT NULL DEFAULT 0,
  song_id TEXT NOT NULL,
  song_created INTEGER NOT NULL DEFAULT 0,
  performance_id TEXT NOT NULL,
  processed_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, row_num)
);
`

// Schema v2 - tag ids written for a row (tagged schema only)
const schemaV2 = `
ALTER TABLE run_rows ADD COLUMN tag_ids TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_run_rows_performance ON run_rows(performance_id);
`

// Schema v3 - rows whose performance was written but whose tags failed
const schemaV3 = `
ALTER TABLE run_rows ADD COLUMN partial INTEGER NOT NULL DEFAULT 0;
`
