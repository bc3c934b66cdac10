package store

const schema = `
CREATE TABLE IF NOT EXISTS content_items (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    source       TEXT NOT NULL,
    kind         TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL DEFAULT '',
    external_id  TEXT NOT NULL DEFAULT '',
    report_type  TEXT NOT NULL DEFAULT '',
    report_date  TEXT NOT NULL DEFAULT '',
    author       TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL DEFAULT '',
    transcript   TEXT NOT NULL DEFAULT '',
    sentiment    TEXT NOT NULL DEFAULT '',
    themes       TEXT NOT NULL DEFAULT '[]',
    symbols      TEXT NOT NULL DEFAULT '[]',
    metadata     TEXT NOT NULL DEFAULT '{}',
    published_at DATETIME NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_source_url
    ON content_items(source, url) WHERE url != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_source_external
    ON content_items(source, external_id) WHERE external_id != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_report
    ON content_items(source, report_type, report_date)
    WHERE report_type != '' AND report_date != '';
CREATE INDEX IF NOT EXISTS idx_items_source_created ON content_items(source, created_at);
CREATE INDEX IF NOT EXISTS idx_items_published ON content_items(published_at);

CREATE TABLE IF NOT EXISTS transcription_jobs (
    id              TEXT PRIMARY KEY,
    content_id      INTEGER NOT NULL UNIQUE REFERENCES content_items(id),
    source          TEXT NOT NULL,
    content_url     TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    claimed_at      DATETIME,
    last_attempt_at DATETIME,
    completed_at    DATETIME,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON transcription_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_source ON transcription_jobs(source);

CREATE TABLE IF NOT EXISTS source_health (
    source                TEXT PRIMARY KEY,
    last_collected_at     DATETIME,
    last_attempt_at       DATETIME,
    consecutive_failures  INTEGER NOT NULL DEFAULT 0,
    items_collected_24h   INTEGER NOT NULL DEFAULT 0,
    items_transcribed_24h INTEGER NOT NULL DEFAULT 0,
    errors_24h            INTEGER NOT NULL DEFAULT 0,
    last_error            TEXT NOT NULL DEFAULT '',
    is_stale              BOOLEAN NOT NULL DEFAULT 0,
    updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS collection_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    item_count  INTEGER NOT NULL DEFAULT 0,
    error_msg   TEXT NOT NULL DEFAULT '',
    occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_source_time ON collection_events(source, occurred_at);

CREATE TABLE IF NOT EXISTS alerts (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    source          TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL,
    acknowledged    BOOLEAN NOT NULL DEFAULT 0,
    acknowledged_by TEXT NOT NULL DEFAULT '',
    acknowledged_at DATETIME,
    expires_at      DATETIME NOT NULL,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(type, source) WHERE acknowledged = 0;
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);

CREATE TABLE IF NOT EXISTS symbol_levels (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol       TEXT NOT NULL,
    source       TEXT NOT NULL,
    direction    TEXT NOT NULL,
    target       REAL,
    support      REAL,
    invalidation REAL,
    strategy     TEXT NOT NULL DEFAULT '',
    note         TEXT NOT NULL DEFAULT '',
    content_id   INTEGER REFERENCES content_items(id),
    is_stale     BOOLEAN NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_levels_symbol_time ON symbol_levels(symbol, source, created_at);

CREATE TABLE IF NOT EXISTS symbol_states (
    symbol                TEXT PRIMARY KEY,
    kt_bias               TEXT NOT NULL DEFAULT '',
    kt_direction          TEXT NOT NULL DEFAULT '',
    kt_target             REAL,
    kt_support            REAL,
    kt_invalidation       REAL,
    kt_last_updated       DATETIME,
    kt_is_stale           BOOLEAN NOT NULL DEFAULT 0,
    discord_bias          TEXT NOT NULL DEFAULT '',
    discord_quadrant      TEXT NOT NULL DEFAULT '',
    discord_strategy      TEXT NOT NULL DEFAULT '',
    discord_last_updated  DATETIME,
    discord_is_stale      BOOLEAN NOT NULL DEFAULT 0,
    confluence_score      REAL NOT NULL DEFAULT 0,
    directionally_aligned BOOLEAN NOT NULL DEFAULT 0,
    trade_setup           TEXT NOT NULL DEFAULT '',
    updated_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_states_score ON symbol_states(confluence_score);
`
