package db

// SchemaVersion is recorded in schema_version after a successful Migrate.
const SchemaVersion = 1

// Timestamps are unix milliseconds in UTC unless the column says otherwise.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS opportunities (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    sport TEXT NOT NULL,
    league TEXT NOT NULL,
    market TEXT NOT NULL,
    commence_time INTEGER NOT NULL,
    edge REAL NOT NULL,
    implied_probability_sum REAL NOT NULL,
    total_stake REAL NOT NULL,
    guaranteed_profit REAL NOT NULL,
    roi REAL NOT NULL,
    legs TEXT NOT NULL,
    executable_legs INTEGER NOT NULL,
    requires_manual INTEGER NOT NULL,
    bookmaker_count INTEGER NOT NULL,
    min_odds_age_seconds REAL NOT NULL,
    max_odds_age_seconds REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'detected',
    detected_at INTEGER NOT NULL,
    executed_at INTEGER,
    actual_profit REAL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected ON opportunities(detected_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_event ON opportunities(event_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);

CREATE TABLE IF NOT EXISTS risk_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    initial_bankroll REAL NOT NULL,
    current_bankroll REAL NOT NULL,
    daily_stake REAL NOT NULL DEFAULT 0,
    daily_pnl REAL NOT NULL DEFAULT 0,
    daily_trades INTEGER NOT NULL DEFAULT 0,
    daily_wins INTEGER NOT NULL DEFAULT 0,
    total_stake REAL NOT NULL DEFAULT 0,
    total_pnl REAL NOT NULL DEFAULT 0,
    total_trades INTEGER NOT NULL DEFAULT 0,
    total_wins INTEGER NOT NULL DEFAULT 0,
    kill_switch_active INTEGER NOT NULL DEFAULT 0,
    kill_switch_reason TEXT,
    last_trade_at INTEGER,
    daily_reset_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_stats (
    date TEXT PRIMARY KEY,
    scans_count INTEGER NOT NULL DEFAULT 0,
    events_scanned INTEGER NOT NULL DEFAULT 0,
    opportunities_detected INTEGER NOT NULL DEFAULT 0,
    opportunities_executed INTEGER NOT NULL DEFAULT 0,
    total_stake REAL NOT NULL DEFAULT 0,
    total_pnl REAL NOT NULL DEFAULT 0,
    best_edge REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS odds_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    sport TEXT NOT NULL,
    league TEXT NOT NULL,
    home_team TEXT NOT NULL,
    away_team TEXT NOT NULL,
    commence_time INTEGER NOT NULL,
    bookmaker TEXT NOT NULL,
    selection TEXT NOT NULL,
    selection_name TEXT NOT NULL,
    odds REAL NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_odds_history_observed ON odds_history(observed_at);
CREATE INDEX IF NOT EXISTS idx_odds_history_event ON odds_history(event_id, bookmaker, selection);

CREATE TABLE IF NOT EXISTS value_bets (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    sport TEXT NOT NULL,
    selection TEXT NOT NULL,
    bookmaker TEXT NOT NULL,
    odds REAL NOT NULL,
    sharp_bookmaker TEXT NOT NULL,
    fair_probability REAL NOT NULL,
    value REAL NOT NULL,
    stake REAL NOT NULL,
    detected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_value_bets_detected ON value_bets(detected_at);
`
