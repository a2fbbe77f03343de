package migrations

// SyncRunsSchema stores one row of counters per tracker run
var SyncRunsSchema = &Migration{
	ID:   "003_sync_runs",
	Name: "003_sync_runs",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS sync_runs (
			run_id UUID PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			fetches BIGINT NOT NULL,
			fetch_failures BIGINT NOT NULL,
			legs BIGINT NOT NULL,
			inserted BIGINT NOT NULL,
			updated BIGINT NOT NULL,
			unchanged BIGINT NOT NULL,
			telemetry_points BIGINT NOT NULL,
			matched BIGINT NOT NULL,
			unmatched BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ix_sync_runs_started_at ON sync_runs (started_at DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS sync_runs;
	`,
}
