package migrations

// FlightsSchema creates the flights table. (icao, start_time) is the natural key
// of a flight leg and is what upserts conflict on.
var FlightsSchema = &Migration{
	ID:   "001_flights",
	Name: "001_flights",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS flights (
			id BIGSERIAL PRIMARY KEY,
			icao VARCHAR(6) NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uix_icao_start_time UNIQUE (icao, start_time)
		);

		CREATE INDEX IF NOT EXISTS ix_flights_icao ON flights (icao);
		CREATE INDEX IF NOT EXISTS ix_start_time ON flights (start_time);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS flights;
	`,
}
