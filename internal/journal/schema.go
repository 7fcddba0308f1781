package journal

// schema 生命周期事件表。金额/价格用 TEXT 保存 decimal 原文，避免浮点误差。
const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id         TEXT PRIMARY KEY,
	time_ms    INTEGER NOT NULL,
	pair       TEXT NOT NULL,
	side       TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	attempt    INTEGER NOT NULL,
	order_id   TEXT NOT NULL DEFAULT '',
	amount     TEXT NOT NULL DEFAULT '0',
	price      TEXT,
	minimum    TEXT NOT NULL DEFAULT '0',
	reason     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_lifecycle_events_pair ON lifecycle_events(pair, id);
`
