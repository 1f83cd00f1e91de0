package l2

// schema is applied once at startup. It follows the stable on-disk
// contract in spec.md §6: columns id, ticker, feature_name, value,
// as_of, calculated_at, version, metadata; uniqueness on
// (ticker, feature_name, as_of, version); primary access index on
// (ticker, feature_name, as_of DESC).
const schema = `
CREATE TABLE IF NOT EXISTS feature_rows (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker        TEXT    NOT NULL,
	feature_name  TEXT    NOT NULL,
	value         REAL    NOT NULL,
	is_absent     INTEGER NOT NULL DEFAULT 0,
	as_of         INTEGER NOT NULL, -- unix seconds, UTC, already normalized
	calculated_at INTEGER NOT NULL, -- unix seconds, UTC
	version       INTEGER NOT NULL,
	metadata      TEXT    NOT NULL DEFAULT '{}',
	superseded    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (ticker, feature_name, as_of, version)
);

CREATE INDEX IF NOT EXISTS idx_feature_rows_lookup
	ON feature_rows (ticker, feature_name, as_of DESC);
`
