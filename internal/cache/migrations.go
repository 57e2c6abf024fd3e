package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	account      TEXT NOT NULL,
	folder       TEXT NOT NULL,
	uid          INTEGER NOT NULL,
	id           TEXT NOT NULL,
	message_id   TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	recipients   TEXT NOT NULL DEFAULT '[]',
	cc           TEXT NOT NULL DEFAULT '[]',
	subject      TEXT NOT NULL DEFAULT '',
	date_ms      INTEGER NOT NULL,
	date_known   INTEGER NOT NULL DEFAULT 1,
	read         INTEGER NOT NULL DEFAULT 0,
	starred      INTEGER NOT NULL DEFAULT 0,
	body         TEXT NOT NULL DEFAULT '',
	is_html      INTEGER NOT NULL DEFAULT 0,
	attachments  TEXT NOT NULL DEFAULT '[]',
	in_reply_to  TEXT NOT NULL DEFAULT '',
	refs         TEXT NOT NULL DEFAULT '[]',
	flags        TEXT NOT NULL DEFAULT '[]',
	cached_at_ms INTEGER NOT NULL,
	PRIMARY KEY (account, folder, uid)
);

CREATE TABLE IF NOT EXISTS folder_sync (
	account      TEXT NOT NULL,
	folder       TEXT NOT NULL,
	last_sync_ms INTEGER NOT NULL,
	highest_uid  INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account, folder)
);

CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(account, folder, date_ms DESC);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
