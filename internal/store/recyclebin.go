package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
)

const entryColumns = `id, unit_id, item_name, category_id, serial, status_id, condition_id,
	owner_kind, owner_user_id, deleted_at, permanent_delete_at, is_restored, restored_at,
	group_key, group_size, deleted_by`

func scanEntry(s scanner) (model.RecycleBinEntry, error) {
	var e model.RecycleBinEntry
	err := s.Scan(&e.ID, &e.UnitID, &e.Key.Name, &e.Key.CategoryID, &e.Serial, &e.StatusID, &e.ConditionID,
		&e.Ownership.Kind, &e.Ownership.UserID, &e.DeletedAt, &e.PermanentDeleteAt, &e.IsRestored, &e.RestoredAt,
		&e.GroupKey, &e.GroupSize, &e.DeletedBy)
	return e, err
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]model.RecycleBinEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recycle bin: %w", err)
	}
	defer rows.Close()

	var entries []model.RecycleBinEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recycle bin entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SoftDelete tombstones units and stages each in the recycle bin for
// model.RetentionPeriod. A non-empty groupKey ties the entries together so
// they can only be restored as a whole; a key can only be used once. Units
// that are already tombstoned are skipped. All units are staged in one
// transaction, so either every entry is written or none is.
func SoftDelete(ctx context.Context, db *sql.DB, unitIDs []string, groupKey, deletedBy string) ([]model.RecycleBinEntry, error) {
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("at least one unit is required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool, len(unitIDs))
	var ids []string
	for _, id := range unitIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		if _, err := getUnit(ctx, tx, id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if groupKey != "" {
		var used int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recycle_bin WHERE group_key = ?`, groupKey,
		).Scan(&used)
		if err != nil {
			return nil, fmt.Errorf("checking group key: %w", err)
		}
		if used > 0 {
			return nil, fmt.Errorf("group key %q already used: %w", groupKey, model.ErrInvalidTransition)
		}
	}

	ts := now()
	var staged []*model.ItemUnit
	for _, id := range ids {
		ok, err := tombstoneUnit(ctx, tx, id, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		u, err := getUnit(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		staged = append(staged, u)
	}

	groupSize := 1
	if groupKey != "" {
		groupSize = len(staged)
	}

	entries := make([]model.RecycleBinEntry, 0, len(staged))
	keys := make([]model.ItemTypeKey, 0, len(staged))
	for _, u := range staged {
		e := model.RecycleBinEntry{
			ID:                uuid.NewString(),
			UnitID:            u.ID,
			Key:               u.Key,
			Serial:            u.Serial,
			StatusID:          u.StatusID,
			ConditionID:       u.ConditionID,
			Ownership:         u.Ownership,
			DeletedAt:         ts,
			PermanentDeleteAt: ts.Add(model.RetentionPeriod),
			GroupKey:          groupKey,
			GroupSize:         groupSize,
			DeletedBy:         deletedBy,
		}
		if err := stageEntry(ctx, tx, e, ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
		keys = append(keys, e.Key)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing soft delete: %w", err)
	}

	slog.Info("units soft-deleted", "count", len(entries), "group", groupKey, "by", deletedBy)

	if err := RecomputeKeys(ctx, db, keys...); err != nil {
		return entries, err
	}
	return entries, nil
}

// stageEntry writes a bin entry for a unit that was just tombstoned. The unit
// was live, so an older unrestored entry for it is settled first.
func stageEntry(ctx context.Context, q querier, e model.RecycleBinEntry, ts time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE recycle_bin SET is_restored = 1, restored_at = ?
		 WHERE unit_id = ? AND is_restored = 0`,
		ts, e.UnitID,
	)
	if err != nil {
		return fmt.Errorf("settling old entries of unit %s: %w", e.UnitID, err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO recycle_bin (id, unit_id, item_name, category_id, serial, status_id, condition_id,
		                          owner_kind, owner_user_id, deleted_at, permanent_delete_at,
		                          group_key, group_size, deleted_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UnitID, e.Key.Name, e.Key.CategoryID, e.Serial, e.StatusID, e.ConditionID,
		e.Ownership.Kind, e.Ownership.UserID, e.DeletedAt, e.PermanentDeleteAt,
		e.GroupKey, e.GroupSize, e.DeletedBy,
	)
	if err != nil {
		return fmt.Errorf("staging unit %s: %w", e.UnitID, err)
	}
	return nil
}

// settleEntries marks the unrestored entries of units that were restored
// directly as restored.
func settleEntries(ctx context.Context, q querier, unitIDs []string, ts time.Time) error {
	for _, id := range unitIDs {
		_, err := q.ExecContext(ctx,
			`UPDATE recycle_bin SET is_restored = 1, restored_at = ?
			 WHERE unit_id = ? AND is_restored = 0`,
			ts, id,
		)
		if err != nil {
			return fmt.Errorf("settling entries of unit %s: %w", id, err)
		}
	}
	return nil
}

// Restore brings a staged unit back. For a grouped entry every unit of the
// group is restored together, or none is when any member has been purged.
func Restore(ctx context.Context, db *sql.DB, entryID string) ([]model.ItemUnit, error) {
	e, err := GetRecycleBinEntry(ctx, db, entryID)
	if err != nil {
		return nil, err
	}
	if e.IsRestored {
		return nil, fmt.Errorf("entry %s already restored: %w", entryID, model.ErrNotTombstoned)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	members := []model.RecycleBinEntry{*e}
	if e.GroupKey != "" {
		var total int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recycle_bin WHERE group_key = ?`, e.GroupKey,
		).Scan(&total)
		if err != nil {
			return nil, fmt.Errorf("counting group entries: %w", err)
		}
		if total != e.GroupSize {
			return nil, fmt.Errorf("group %q has %d of %d entries: %w", e.GroupKey, total, e.GroupSize, model.ErrPartiallyPurged)
		}

		// Members restored on their own are already live and stay settled.
		members, err = queryEntries(ctx, tx,
			`SELECT `+entryColumns+` FROM recycle_bin WHERE group_key = ? AND is_restored = 0 ORDER BY unit_id`,
			e.GroupKey,
		)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, err := getUnit(ctx, tx, m.UnitID); err != nil {
				return nil, fmt.Errorf("group %q unit %s is gone: %w", e.GroupKey, m.UnitID, model.ErrPartiallyPurged)
			}
		}
	}

	unitIDs := make([]string, len(members))
	entryIDs := make([]any, len(members))
	placeholders := make([]string, len(members))
	for i, m := range members {
		unitIDs[i] = m.UnitID
		entryIDs[i] = m.ID
		placeholders[i] = "?"
	}

	units, err := restoreUnits(ctx, tx, unitIDs)
	if err != nil {
		return nil, err
	}

	args := append([]any{now()}, entryIDs...)
	res, err := tx.ExecContext(ctx,
		`UPDATE recycle_bin SET is_restored = 1, restored_at = ?
		 WHERE is_restored = 0 AND id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("marking entries restored: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(members) {
		return nil, fmt.Errorf("entry %s restored concurrently: %w", entryID, model.ErrNotTombstoned)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing restore: %w", err)
	}

	slog.Info("units restored", "entry", entryID, "group", e.GroupKey, "count", len(units))

	keys := make([]model.ItemTypeKey, len(units))
	for i, u := range units {
		keys[i] = u.Key
	}
	if err := RecomputeKeys(ctx, db, keys...); err != nil {
		return units, err
	}
	return units, nil
}

// SweepExpired permanently deletes every unrestored entry whose retention
// ended at or before now, together with its unit. Running it again removes
// nothing new.
func SweepExpired(ctx context.Context, db *sql.DB, now time.Time) (*model.SweepResult, error) {
	expired, err := queryEntries(ctx, db,
		`SELECT `+entryColumns+` FROM recycle_bin
		 WHERE is_restored = 0 AND permanent_delete_at <= ?
		 ORDER BY permanent_delete_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, err
	}

	result := &model.SweepResult{Items: []model.RecycleBinEntry{}}
	var keys []model.ItemTypeKey
	var purgeErr error
	for _, e := range expired {
		erased, err := purgeEntry(ctx, db, e)
		if err != nil {
			purgeErr = err
			break
		}
		if !erased {
			continue
		}
		result.DeletedCount++
		result.Items = append(result.Items, e)
		keys = append(keys, e.Key)
	}

	if result.DeletedCount > 0 {
		slog.Info("recycle bin swept", "deleted", result.DeletedCount)
	}

	// Entries purged before a failure are committed, so their keys are
	// refreshed either way.
	aggErr := RecomputeKeys(ctx, db, keys...)
	if purgeErr != nil {
		return result, purgeErr
	}
	if aggErr != nil {
		return result, aggErr
	}
	return result, nil
}

// purgeEntry erases an unrestored entry and its tombstoned unit in one
// transaction. An entry whose unit is live again is settled as restored, and
// one whose unit is already gone is dropped; neither counts as erased.
func purgeEntry(ctx context.Context, db *sql.DB, e model.RecycleBinEntry) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	erased, err := eraseUnit(ctx, tx, e.UnitID)
	if err != nil {
		return false, err
	}

	if erased {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM recycle_bin WHERE id = ? AND is_restored = 0`, e.ID,
		)
		if err != nil {
			return false, fmt.Errorf("deleting entry %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Restored after we selected it; keep the unit.
			return false, nil
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`UPDATE recycle_bin SET is_restored = 1, restored_at = ?
			 WHERE id = ? AND is_restored = 0
			   AND EXISTS (SELECT 1 FROM item_units WHERE id = ? AND deleted_at IS NULL)`,
			now(), e.ID, e.UnitID,
		)
		if err != nil {
			return false, fmt.Errorf("settling entry %s: %w", e.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM recycle_bin WHERE id = ? AND is_restored = 0
			   AND NOT EXISTS (SELECT 1 FROM item_units WHERE id = ?)`,
			e.ID, e.UnitID,
		)
		if err != nil {
			return false, fmt.Errorf("dropping entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing purge: %w", err)
	}
	return erased, nil
}

// PurgeRestored clears entries that have been restored. Their units are live
// and unaffected.
func PurgeRestored(ctx context.Context, db *sql.DB) (*model.PurgeResult, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM recycle_bin WHERE is_restored = 1`)
	if err != nil {
		return nil, fmt.Errorf("purging restored entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("purging restored entries: %w", err)
	}
	if n > 0 {
		slog.Info("restored entries purged", "deleted", n)
	}
	return &model.PurgeResult{DeletedCount: int(n)}, nil
}

// PurgeEntry permanently deletes one entry ahead of its retention. Purging a
// member of a group leaves the rest of the group unrestorable.
func PurgeEntry(ctx context.Context, db *sql.DB, entryID string) error {
	e, err := GetRecycleBinEntry(ctx, db, entryID)
	if err != nil {
		return err
	}

	if e.IsRestored {
		_, err := db.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = ? AND is_restored = 1`, entryID)
		if err != nil {
			return fmt.Errorf("purging entry %s: %w", entryID, err)
		}
		return nil
	}

	erased, err := purgeEntry(ctx, db, *e)
	if err != nil {
		return err
	}
	if erased {
		slog.Info("recycle bin entry purged", "entry", entryID, "unit", e.UnitID)
	}
	return RecomputeKeys(ctx, db, e.Key)
}

// GetRecycleBinEntry returns an entry by ID.
func GetRecycleBinEntry(ctx context.Context, db *sql.DB, id string) (*model.RecycleBinEntry, error) {
	e, err := scanEntry(db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM recycle_bin WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recycle bin entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting recycle bin entry: %w", err)
	}
	return &e, nil
}

// ListRecycleBin returns entries, most recently deleted first. Restored
// entries are only included when asked for.
func ListRecycleBin(ctx context.Context, db *sql.DB, includeRestored bool) ([]model.RecycleBinEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM recycle_bin`
	if !includeRestored {
		query += ` WHERE is_restored = 0`
	}
	query += ` ORDER BY deleted_at DESC, id`
	return queryEntries(ctx, db, query)
}
