package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	root        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	documents   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
	result_id   TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	source_path TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	file_format TEXT NOT NULL,
	file_size   INTEGER NOT NULL,
	error_count INTEGER NOT NULL,
	result_json TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, created_at);
`
