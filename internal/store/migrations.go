package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Templates table - stores learned template metadata and descriptors.
		// Descriptors are the raw byte matrix (desc_rows x desc_cols, one row
		// per keypoint); reference dimensions are required to reproject the
		// template corners after a homography fit.
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			ref_width INTEGER NOT NULL,
			ref_height INTEGER NOT NULL,
			keypoint_count INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			desc_rows INTEGER NOT NULL,
			desc_cols INTEGER NOT NULL,
			descriptors BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Template keypoints table - stores keypoint positions so the
		// homography path survives a reload. Optional: a template row without
		// keypoints still matches on descriptors alone.
		`CREATE TABLE IF NOT EXISTS template_keypoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
			point_index INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			size REAL NOT NULL,
			angle REAL NOT NULL,
			response REAL NOT NULL,
			octave INTEGER NOT NULL,
			class_id INTEGER NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_template_keypoints_template_id ON template_keypoints(template_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
