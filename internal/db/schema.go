package db

const schema = `
CREATE TABLE IF NOT EXISTS evictions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    removed     INTEGER NOT NULL,
    remaining   INTEGER NOT NULL,
    min_seq     INTEGER NOT NULL,
    max_seq     INTEGER NOT NULL,
    evicted_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evictions_at ON evictions(evicted_at);
CREATE INDEX IF NOT EXISTS idx_evictions_seq ON evictions(min_seq, max_seq);
`
