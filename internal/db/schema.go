package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS offices (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    location   TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    display_name  TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL DEFAULT '',
    phone         TEXT NOT NULL DEFAULT '',
    department    TEXT NOT NULL DEFAULT '',
    office_id     TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_snapshots (
    id          INTEGER PRIMARY KEY,
    kind        TEXT NOT NULL CHECK (kind IN ('user', 'office')),
    identity_id TEXT NOT NULL,
    name        TEXT NOT NULL,
    email       TEXT NOT NULL DEFAULT '',
    phone       TEXT NOT NULL DEFAULT '',
    department  TEXT NOT NULL DEFAULT '',
    office      TEXT NOT NULL DEFAULT '',
    captured_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identity_snapshots_lookup
    ON identity_snapshots(kind, identity_id, captured_at);

CREATE TABLE IF NOT EXISTS item_units (
    id            TEXT PRIMARY KEY,
    item_name     TEXT NOT NULL,
    category_id   TEXT NOT NULL,
    serial        TEXT NOT NULL DEFAULT '',
    status_id     TEXT NOT NULL,
    condition_id  TEXT NOT NULL,
    owner_kind    TEXT NOT NULL DEFAULT 'admin_pool' CHECK (owner_kind IN ('admin_pool', 'user_owned')),
    owner_user_id TEXT NOT NULL DEFAULT '',
    version       INTEGER NOT NULL DEFAULT 1,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    deleted_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_item_units_type_live
    ON item_units(item_name, category_id) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_item_units_owner_live
    ON item_units(owner_user_id) WHERE deleted_at IS NULL;

CREATE UNIQUE INDEX IF NOT EXISTS idx_item_units_serial_live
    ON item_units(item_name, category_id, serial) WHERE deleted_at IS NULL AND serial <> '';

CREATE TABLE IF NOT EXISTS aggregates (
    item_name           TEXT NOT NULL,
    category_id         TEXT NOT NULL,
    total_quantity      INTEGER NOT NULL,
    available_quantity  INTEGER NOT NULL,
    user_owned_quantity INTEGER NOT NULL,
    status_breakdown    TEXT NOT NULL,
    condition_breakdown TEXT NOT NULL,
    unit_ids            TEXT NOT NULL,
    stale               INTEGER NOT NULL DEFAULT 0,
    computed_at         DATETIME NOT NULL,
    PRIMARY KEY (item_name, category_id)
);

CREATE TABLE IF NOT EXISTS recycle_bin (
    id                  TEXT PRIMARY KEY,
    unit_id             TEXT NOT NULL,
    item_name           TEXT NOT NULL,
    category_id         TEXT NOT NULL,
    serial              TEXT NOT NULL DEFAULT '',
    status_id           TEXT NOT NULL,
    condition_id        TEXT NOT NULL,
    owner_kind          TEXT NOT NULL,
    owner_user_id       TEXT NOT NULL DEFAULT '',
    deleted_at          DATETIME NOT NULL,
    permanent_delete_at DATETIME NOT NULL,
    is_restored         INTEGER NOT NULL DEFAULT 0,
    restored_at         DATETIME,
    group_key           TEXT NOT NULL DEFAULT '',
    group_size          INTEGER NOT NULL DEFAULT 1,
    deleted_by          TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_recycle_bin_live_unit
    ON recycle_bin(unit_id) WHERE is_restored = 0;

CREATE INDEX IF NOT EXISTS idx_recycle_bin_expiry
    ON recycle_bin(permanent_delete_at) WHERE is_restored = 0;

CREATE INDEX IF NOT EXISTS idx_recycle_bin_group
    ON recycle_bin(group_key) WHERE group_key <> '';

CREATE TABLE IF NOT EXISTS requests (
    id           TEXT PRIMARY KEY,
    requester_id TEXT NOT NULL,
    state        TEXT NOT NULL CHECK (state IN ('pending', 'approved', 'fulfilled', 'rejected', 'cancelled')),
    reason       TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester_id);

CREATE TABLE IF NOT EXISTS request_lines (
    request_id   TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
    line_index   INTEGER NOT NULL,
    item_name    TEXT NOT NULL,
    category_id  TEXT NOT NULL,
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    state        TEXT NOT NULL DEFAULT 'pending' CHECK (state IN ('pending', 'fulfilled')),
    unit_ids     TEXT NOT NULL DEFAULT '',
    fulfilled_at DATETIME,
    PRIMARY KEY (request_id, line_index)
);

CREATE TABLE IF NOT EXISTS returns (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    state      TEXT NOT NULL CHECK (state IN ('pending_return', 'approved_return', 'fulfilled_return')),
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_returns_user ON returns(user_id);

CREATE TABLE IF NOT EXISTS return_lines (
    return_id        TEXT NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
    line_index       INTEGER NOT NULL,
    unit_id          TEXT NOT NULL,
    item_name        TEXT NOT NULL,
    category_id      TEXT NOT NULL,
    state            TEXT NOT NULL DEFAULT 'pending' CHECK (state IN ('pending', 'fulfilled')),
    new_status_id    TEXT NOT NULL DEFAULT '',
    new_condition_id TEXT NOT NULL DEFAULT '',
    fulfilled_at     DATETIME,
    PRIMARY KEY (return_id, line_index)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: default borrowable taxonomy. Admin-pool units in these
	// statuses and conditions count as available and may be claimed.
	`INSERT OR IGNORE INTO settings (key, value) VALUES ('borrowable_statuses', 'available')`,
	`INSERT OR IGNORE INTO settings (key, value) VALUES ('borrowable_conditions', 'new,good')`,
}

// EnsureSchema creates all tables and indexes if they don't already exist and
// applies pending migrations.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
