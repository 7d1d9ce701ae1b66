package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time DATETIME NOT NULL,
    end_time   DATETIME,
    label      TEXT
);

CREATE TABLE IF NOT EXISTS readings (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER NOT NULL REFERENCES sessions (id),
    kind         TEXT    NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    valid        INTEGER NOT NULL,
    payload      TEXT    NOT NULL
);`

	// Indexes are built once the recording is over so that inserts stay fast.
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_readings_session_time ON readings (session_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_readings_session_kind ON readings (session_id, kind);`

	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      label)
VALUES (?, ?)`

	finishSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    end_time,
    label
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    end_time,
    label
FROM sessions
ORDER BY start_time`

	selectReadingCountsSQL = `
SELECT
    kind,
    COUNT(*)
FROM readings
WHERE
    session_id = ?
GROUP BY kind`

	insertReadingSQL = `
INSERT INTO readings (session_id,
                      kind,
                      timestamp_ms,
                      valid,
                      payload)
VALUES `

	selectReadingsSQL = `
SELECT
    timestamp_ms,
    payload
FROM readings
WHERE
    session_id = ?
    AND timestamp_ms BETWEEN ? AND ?`
)
