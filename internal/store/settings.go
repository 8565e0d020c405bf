package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/erazemk/inventar/internal/model"
)

// GetJWTSecret retrieves the JWT secret from the database.
// If no secret exists, it generates one, stores it, and returns it.
// Uses INSERT OR IGNORE + re-SELECT to avoid TOCTOU race on concurrent startup.
func GetJWTSecret(ctx context.Context, db *sql.DB) (string, error) {
	// Try to generate and insert first (safe against races).
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	candidate := hex.EncodeToString(buf)

	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES ('jwt_secret', ?)`,
		candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}

	// Always read back (either our insert or the existing value).
	var secret string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'jwt_secret'`,
	).Scan(&secret)
	if err != nil {
		return "", fmt.Errorf("querying jwt_secret: %w", err)
	}

	return secret, nil
}

const (
	settingBorrowableStatuses   = "borrowable_statuses"
	settingBorrowableConditions = "borrowable_conditions"
)

// GetBorrowability returns the status and condition ids that make a pool unit
// available for lending.
func GetBorrowability(ctx context.Context, db *sql.DB) (model.Borrowability, error) {
	statuses, err := getSetting(ctx, db, settingBorrowableStatuses)
	if err != nil {
		return model.Borrowability{}, err
	}
	conditions, err := getSetting(ctx, db, settingBorrowableConditions)
	if err != nil {
		return model.Borrowability{}, err
	}
	return model.Borrowability{
		Statuses:   splitList(statuses),
		Conditions: splitList(conditions),
	}, nil
}

// SetBorrowability replaces the borrowable taxonomy. Aggregates computed
// before the change keep their old available counts until recomputed.
func SetBorrowability(ctx context.Context, db *sql.DB, b model.Borrowability) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for key, values := range map[string][]string{
		settingBorrowableStatuses:   b.Statuses,
		settingBorrowableConditions: b.Conditions,
	} {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, strings.Join(values, ","),
		)
		if err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}

func getSetting(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", key, err)
	}
	return value, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
