package sqlite

import "github.com/steveyegge/vigil/internal/storage/migrations"

// schemaMigrations is the ordered schema history of the pattern store.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "Create patterns, detections and fixes_applied tables",
		Up: `
-- Learned defect signatures; rows are never deleted
CREATE TABLE IF NOT EXISTS patterns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'medium',
    snippet TEXT NOT NULL,
    normalized TEXT NOT NULL,
    fix_strategy TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0.5 CHECK(confidence >= 0 AND confidence <= 1),
    detection_count INTEGER NOT NULL DEFAULT 1 CHECK(detection_count >= 0),
    fix_count INTEGER NOT NULL DEFAULT 0 CHECK(fix_count >= 0),
    success_rate REAL NOT NULL DEFAULT 0,
    language TEXT NOT NULL DEFAULT '',
    extension TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_patterns_extension ON patterns(extension);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence DESC, detection_count DESC);

CREATE TABLE IF NOT EXISTS detections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern_id INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    line INTEGER NOT NULL DEFAULT 0,
    detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    fixed INTEGER NOT NULL DEFAULT 0,
    fix_successful INTEGER,
    FOREIGN KEY (pattern_id) REFERENCES patterns(id)
);

CREATE INDEX IF NOT EXISTS idx_detections_pattern ON detections(pattern_id);
CREATE INDEX IF NOT EXISTS idx_detections_file ON detections(file_path);

-- Append-only fix audit log
CREATE TABLE IF NOT EXISTS fixes_applied (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern_id INTEGER,
    file_path TEXT NOT NULL,
    issue_description TEXT NOT NULL DEFAULT '',
    fix_description TEXT NOT NULL DEFAULT '',
    before_code TEXT NOT NULL DEFAULT '',
    after_code TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL DEFAULT '{}',
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (pattern_id) REFERENCES patterns(id)
);

CREATE INDEX IF NOT EXISTS idx_fixes_pattern ON fixes_applied(pattern_id);
`,
		Down: `
DROP TABLE IF EXISTS fixes_applied;
DROP TABLE IF EXISTS detections;
DROP TABLE IF EXISTS patterns;
`,
	},
}
