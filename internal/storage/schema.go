// ABOUTME: Schema shared by the SQLite and PostgreSQL backends.
// ABOUTME: Uniqueness on (user_id, target_date) is what makes the ledger idempotent.
package storage

// Dates are stored as YYYY-MM-DD text and instants as fixed-width UTC text,
// so range comparisons are lexical on both backends.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS athletes (
		user_id TEXT PRIMARY KEY,
		risk_profile TEXT NOT NULL,
		resting_hr DOUBLE PRECISION NOT NULL,
		max_hr DOUBLE PRECISION NOT NULL,
		trimp_coefficient DOUBLE PRECISION NOT NULL,
		style TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		sport TEXT NOT NULL,
		activity_date TEXT NOT NULL,
		distance DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		elevation_gain DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_speed DOUBLE PRECISION,
		heart_rate_series TEXT,
		manual_rpe DOUBLE PRECISION,
		started_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS normalized_loads (
		activity_id TEXT PRIMARY KEY REFERENCES activities(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		load_date TEXT NOT NULL,
		sport TEXT NOT NULL,
		equivalent_distance DOUBLE PRECISION NOT NULL,
		elevation_load DOUBLE PRECISION NOT NULL,
		total_load DOUBLE PRECISION NOT NULL,
		conversion_factor DOUBLE PRECISION NOT NULL,
		rpe_used DOUBLE PRECISION,
		factor_version TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS daily_aggregates (
		user_id TEXT NOT NULL,
		agg_date TEXT NOT NULL,
		running DOUBLE PRECISION NOT NULL DEFAULT 0,
		cycling DOUBLE PRECISION NOT NULL DEFAULT 0,
		swimming DOUBLE PRECISION NOT NULL DEFAULT 0,
		strength DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_load DOUBLE PRECISION NOT NULL DEFAULT 0,
		day_kind TEXT NOT NULL,
		trimp DOUBLE PRECISION NOT NULL DEFAULT 0,
		activity_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, agg_date)
	)`,

	`CREATE TABLE IF NOT EXISTS recommendations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		generation_date TEXT NOT NULL,
		target_date TEXT NOT NULL,
		data_window_start TEXT NOT NULL,
		data_window_end TEXT NOT NULL,
		metrics_snapshot TEXT NOT NULL,
		content TEXT NOT NULL,
		source_path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, target_date)
	)`,

	`CREATE TABLE IF NOT EXISTS recommendation_claims (
		user_id TEXT NOT NULL,
		target_date TEXT NOT NULL,
		token TEXT NOT NULL,
		source_path TEXT NOT NULL,
		claimed_at TEXT NOT NULL,
		PRIMARY KEY (user_id, target_date)
	)`,

	`CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		activity_id TEXT,
		obs_date TEXT NOT NULL,
		notes TEXT NOT NULL,
		perceived_effort DOUBLE PRECISION,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS generation_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		target_date TEXT NOT NULL,
		source_path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_activities_user_date ON activities(user_id, activity_date)`,
	`CREATE INDEX IF NOT EXISTS idx_loads_user_date ON normalized_loads(user_id, load_date)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_target ON recommendations(target_date)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_user_date ON observations(user_id, obs_date)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_log_created ON generation_log(created_at)`,
}

// initSchema creates or updates the database schema.
func (d *DB) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
