package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_pages (
	tenant_id    TEXT PRIMARY KEY,
	total        INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	saved_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cached_notifications (
	tenant_id  TEXT NOT NULL REFERENCES cached_pages(tenant_id) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	position   INTEGER NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL DEFAULT '',
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at DATETIME NOT NULL,
	read_at    DATETIME,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_cached_notifications_position
	ON cached_notifications(tenant_id, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
