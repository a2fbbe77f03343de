package migrations

// TelemetrySchema creates flight_telemetry. Rows go away with their flight.
var TelemetrySchema = &Migration{
	ID:   "002_telemetry",
	Name: "002_telemetry",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS flight_telemetry (
			id BIGSERIAL PRIMARY KEY,
			flight_id BIGINT NOT NULL REFERENCES flights (id) ON DELETE CASCADE,
			timestamp TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			altitude INTEGER,
			altitude_ground BOOLEAN NOT NULL DEFAULT FALSE,
			ground_speed DOUBLE PRECISION,
			track DOUBLE PRECISION,
			vertical_rate INTEGER,
			flags SMALLINT,
			geo_altitude INTEGER,
			geo_vertical_rate INTEGER,
			ias INTEGER,
			roll_angle DOUBLE PRECISION
		);

		CREATE INDEX IF NOT EXISTS ix_flight_telemetry_flight_id ON flight_telemetry (flight_id);
		CREATE INDEX IF NOT EXISTS ix_telemetry_flight_timestamp ON flight_telemetry (flight_id, timestamp);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS flight_telemetry;
	`,
}
