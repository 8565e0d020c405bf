package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/inventar/internal/model"
)

const aggregateColumns = `item_name, category_id, total_quantity, available_quantity, user_owned_quantity,
	status_breakdown, condition_breakdown, unit_ids, stale, computed_at`

// Recompute rebuilds the aggregate of one item type from a full scan of its
// live units and replaces the stored record. A type with no live units has
// its record removed. On failure the previous record is left as it was.
func Recompute(ctx context.Context, db *sql.DB, key model.ItemTypeKey) (*model.AggregateRecord, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("item name and category are required")
	}

	b, err := GetBorrowability(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("recomputing %s: %w", key, err)
	}
	units, err := findLiveUnits(ctx, db, key, model.UnitFilter{})
	if err != nil {
		return nil, fmt.Errorf("recomputing %s: %w", key, err)
	}

	rec := model.BuildAggregate(key, units, b, now())

	if rec.TotalQuantity == 0 {
		_, err := db.ExecContext(ctx,
			`DELETE FROM aggregates WHERE item_name = ? AND category_id = ?`,
			key.Name, key.CategoryID,
		)
		if err != nil {
			return nil, fmt.Errorf("removing aggregate %s: %w", key, err)
		}
		return &rec, nil
	}

	statuses, err := json.Marshal(rec.StatusBreakdown)
	if err != nil {
		return nil, fmt.Errorf("encoding status breakdown: %w", err)
	}
	conditions, err := json.Marshal(rec.ConditionBreakdown)
	if err != nil {
		return nil, fmt.Errorf("encoding condition breakdown: %w", err)
	}
	unitIDs, err := json.Marshal(rec.UnitIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding unit ids: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO aggregates (`+aggregateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(item_name, category_id) DO UPDATE SET
		     total_quantity = excluded.total_quantity,
		     available_quantity = excluded.available_quantity,
		     user_owned_quantity = excluded.user_owned_quantity,
		     status_breakdown = excluded.status_breakdown,
		     condition_breakdown = excluded.condition_breakdown,
		     unit_ids = excluded.unit_ids,
		     stale = 0,
		     computed_at = excluded.computed_at`,
		key.Name, key.CategoryID, rec.TotalQuantity, rec.AvailableQuantity, rec.UserOwnedQuantity,
		string(statuses), string(conditions), string(unitIDs), rec.ComputedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("storing aggregate %s: %w", key, err)
	}
	return &rec, nil
}

// RecomputeKeys refreshes the aggregates touched by a committed mutation.
// Duplicate keys are computed once and every key is attempted. A key that
// fails is flagged stale and the first failure is returned as a
// *model.AggregateError.
func RecomputeKeys(ctx context.Context, db *sql.DB, keys ...model.ItemTypeKey) error {
	seen := make(map[model.ItemTypeKey]bool, len(keys))
	var g errgroup.Group
	g.SetLimit(4)
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			if _, err := Recompute(ctx, db, key); err != nil {
				slog.Warn("aggregate recompute failed", "key", key.String(), "error", err)
				if merr := MarkAggregateStale(ctx, db, key); merr != nil {
					slog.Error("marking aggregate stale", "key", key.String(), "error", merr)
				}
				return &model.AggregateError{Key: key, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// MarkAggregateStale flags a stored aggregate as lagging behind its units.
// It is a no-op for types without a stored record.
func MarkAggregateStale(ctx context.Context, db *sql.DB, key model.ItemTypeKey) error {
	_, err := db.ExecContext(ctx,
		`UPDATE aggregates SET stale = 1 WHERE item_name = ? AND category_id = ?`,
		key.Name, key.CategoryID,
	)
	if err != nil {
		return fmt.Errorf("marking aggregate stale: %w", err)
	}
	return nil
}

func scanAggregate(s scanner) (model.AggregateRecord, error) {
	var rec model.AggregateRecord
	var statuses, conditions, unitIDs string
	err := s.Scan(&rec.Key.Name, &rec.Key.CategoryID, &rec.TotalQuantity, &rec.AvailableQuantity,
		&rec.UserOwnedQuantity, &statuses, &conditions, &unitIDs, &rec.Stale, &rec.ComputedAt)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(statuses), &rec.StatusBreakdown); err != nil {
		return rec, fmt.Errorf("decoding status breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &rec.ConditionBreakdown); err != nil {
		return rec, fmt.Errorf("decoding condition breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(unitIDs), &rec.UnitIDs); err != nil {
		return rec, fmt.Errorf("decoding unit ids: %w", err)
	}
	return rec, nil
}

// GetAggregate returns the stored aggregate for an item type.
func GetAggregate(ctx context.Context, db *sql.DB, key model.ItemTypeKey) (*model.AggregateRecord, error) {
	rec, err := scanAggregate(db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregates WHERE item_name = ? AND category_id = ?`,
		key.Name, key.CategoryID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("aggregate %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting aggregate: %w", err)
	}
	return &rec, nil
}

// ListAggregates returns stored aggregates, optionally limited to one category.
func ListAggregates(ctx context.Context, db *sql.DB, categoryID string) ([]model.AggregateRecord, error) {
	query := `SELECT ` + aggregateColumns + ` FROM aggregates WHERE 1=1`
	var args []any
	if categoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, categoryID)
	}
	query += ` ORDER BY category_id, item_name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}
	defer rows.Close()

	var recs []model.AggregateRecord
	for rows.Next() {
		rec, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning aggregate: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RenameItemType moves every live unit of oldKey to newKey and recomputes
// both types. Units merge into newKey if it already has live units.
func RenameItemType(ctx context.Context, db *sql.DB, oldKey, newKey model.ItemTypeKey) error {
	if !oldKey.Valid() || !newKey.Valid() {
		return fmt.Errorf("item name and category are required")
	}
	if oldKey == newKey {
		return RecomputeKeys(ctx, db, oldKey)
	}

	var clashes int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_units a
		 JOIN item_units b ON a.serial = b.serial
		 WHERE a.item_name = ? AND a.category_id = ? AND a.deleted_at IS NULL AND a.serial <> ''
		   AND b.item_name = ? AND b.category_id = ? AND b.deleted_at IS NULL`,
		oldKey.Name, oldKey.CategoryID, newKey.Name, newKey.CategoryID,
	).Scan(&clashes)
	if err != nil {
		return fmt.Errorf("checking serials: %w", err)
	}
	if clashes > 0 {
		return fmt.Errorf("renaming %s to %s: %d serials clash: %w", oldKey, newKey, clashes, model.ErrDuplicateSerial)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE item_units SET item_name = ?, category_id = ?, version = version + 1, updated_at = ?
		 WHERE item_name = ? AND category_id = ? AND deleted_at IS NULL`,
		newKey.Name, newKey.CategoryID, now(), oldKey.Name, oldKey.CategoryID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("renaming %s to %s: %w", oldKey, newKey, model.ErrDuplicateSerial)
	}
	if err != nil {
		return fmt.Errorf("renaming item type: %w", err)
	}

	return RecomputeKeys(ctx, db, oldKey, newKey)
}
