package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const unitColumns = `id, item_name, category_id, serial, status_id, condition_id,
	owner_kind, owner_user_id, version, created_at, updated_at, deleted_at`

func now() time.Time {
	return time.Now().UTC()
}

func scanUnit(s scanner) (model.ItemUnit, error) {
	var u model.ItemUnit
	err := s.Scan(&u.ID, &u.Key.Name, &u.Key.CategoryID, &u.Serial, &u.StatusID, &u.ConditionID,
		&u.Ownership.Kind, &u.Ownership.UserID, &u.Version, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	return u, err
}

func scanUnits(rows *sql.Rows) ([]model.ItemUnit, error) {
	var units []model.ItemUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUnit creates a unit in the admin pool. A non-empty serial must be
// unique among live units of the same item type.
func CreateUnit(ctx context.Context, db *sql.DB, key model.ItemTypeKey, serial, statusID, conditionID string) (*model.ItemUnit, error) {
	return createUnit(ctx, db, key, model.NewUnit{Serial: serial, StatusID: statusID, ConditionID: conditionID})
}

func createUnit(ctx context.Context, q querier, key model.ItemTypeKey, nu model.NewUnit) (*model.ItemUnit, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("item name and category are required")
	}
	if nu.StatusID == "" || nu.ConditionID == "" {
		return nil, fmt.Errorf("status and condition are required")
	}
	serial := strings.TrimSpace(nu.Serial)

	if serial != "" {
		taken, err := serialTaken(ctx, q, key, serial)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("serial %q already in use for %s: %w", serial, key, model.ErrDuplicateSerial)
		}
	}

	id := uuid.NewString()
	ts := now()
	_, err := q.ExecContext(ctx,
		`INSERT INTO item_units (id, item_name, category_id, serial, status_id, condition_id,
		                         owner_kind, owner_user_id, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', 1, ?, ?)`,
		id, key.Name, key.CategoryID, serial, nu.StatusID, nu.ConditionID,
		model.OwnershipAdminPool, ts, ts,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("serial %q already in use for %s: %w", serial, key, model.ErrDuplicateSerial)
	}
	if err != nil {
		return nil, fmt.Errorf("creating unit: %w", err)
	}

	return getUnit(ctx, q, id)
}

// serialTaken reports whether a live unit of key already carries serial.
func serialTaken(ctx context.Context, q querier, key model.ItemTypeKey, serial string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_units
		 WHERE item_name = ? AND category_id = ? AND serial = ? AND deleted_at IS NULL`,
		key.Name, key.CategoryID, serial,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking serial: %w", err)
	}
	return count > 0, nil
}

// IntakeUnits creates a batch of units of one type in the admin pool and
// refreshes the type's aggregate. Either every unit is created or none is.
func IntakeUnits(ctx context.Context, db *sql.DB, key model.ItemTypeKey, units []model.NewUnit) ([]model.ItemUnit, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("at least one unit is required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created := make([]model.ItemUnit, 0, len(units))
	for _, nu := range units {
		u, err := createUnit(ctx, tx, key, nu)
		if err != nil {
			return nil, err
		}
		created = append(created, *u)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing intake: %w", err)
	}

	if err := RecomputeKeys(ctx, db, key); err != nil {
		return created, err
	}
	return created, nil
}

// GetUnit returns a unit by ID, live or tombstoned.
func GetUnit(ctx context.Context, db *sql.DB, id string) (*model.ItemUnit, error) {
	return getUnit(ctx, db, id)
}

func getUnit(ctx context.Context, q querier, id string) (*model.ItemUnit, error) {
	u, err := scanUnit(q.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM item_units WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	return &u, nil
}

// FindLiveUnits returns the live units of an item type matching filter,
// oldest first.
func FindLiveUnits(ctx context.Context, db *sql.DB, key model.ItemTypeKey, filter model.UnitFilter) ([]model.ItemUnit, error) {
	return findLiveUnits(ctx, db, key, filter)
}

func findLiveUnits(ctx context.Context, q querier, key model.ItemTypeKey, filter model.UnitFilter) ([]model.ItemUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM item_units
	          WHERE deleted_at IS NULL AND item_name = ? AND category_id = ?`
	args := []any{key.Name, key.CategoryID}

	if filter.OwnershipKind != "" {
		query += ` AND owner_kind = ?`
		args = append(args, filter.OwnershipKind)
	}
	if filter.UserID != "" {
		query += ` AND owner_user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.StatusID != "" {
		query += ` AND status_id = ?`
		args = append(args, filter.StatusID)
	}
	if filter.ConditionID != "" {
		query += ` AND condition_id = ?`
		args = append(args, filter.ConditionID)
	}

	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding live units: %w", err)
	}
	defer rows.Close()

	return scanUnits(rows)
}

// ListUserUnits returns every live unit currently owned by userID.
func ListUserUnits(ctx context.Context, db *sql.DB, userID string) ([]model.ItemUnit, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM item_units
		 WHERE deleted_at IS NULL AND owner_kind = ? AND owner_user_id = ?
		 ORDER BY item_name, category_id, created_at`,
		model.OwnershipUserOwned, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing user units: %w", err)
	}
	defer rows.Close()

	return scanUnits(rows)
}

// ClaimUnitsForTransfer assigns count borrowable pool units of key to
// claimantID. Every row write is conditioned on the version and ownership the
// caller observed, so a unit can only be taken by one claimant. Units lost to
// a concurrent claim are skipped in favor of the next candidate. When fewer
// than count units can be taken, the ones already taken are released and a
// *model.ShortfallError is returned.
func ClaimUnitsForTransfer(ctx context.Context, db *sql.DB, key model.ItemTypeKey, count int, filter model.UnitFilter, claimantID string) ([]model.ItemUnit, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive")
	}
	if claimantID == "" {
		return nil, fmt.Errorf("claimant is required")
	}

	b, err := GetBorrowability(ctx, db)
	if err != nil {
		return nil, err
	}

	filter.OwnershipKind = model.OwnershipAdminPool
	filter.UserID = ""
	live, err := findLiveUnits(ctx, db, key, filter)
	if err != nil {
		return nil, err
	}

	var candidates []model.ItemUnit
	for _, u := range live {
		if b.Available(u) {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) < count {
		return nil, &model.ShortfallError{Key: key, Requested: count, Available: len(candidates)}
	}

	target := model.OwnedBy(claimantID)
	var claimed []model.ItemUnit
	for len(claimed) < count && len(candidates) > 0 {
		n := min(count-len(claimed), len(candidates))
		batch := candidates[:n]
		candidates = candidates[n:]

		taken, err := claimBatch(ctx, db, batch, target)
		if err != nil {
			if rerr := ReleaseUnits(ctx, db, claimed); rerr != nil {
				return nil, fmt.Errorf("claiming units: %w (release failed: %v)", err, rerr)
			}
			return nil, err
		}
		claimed = append(claimed, taken...)
	}

	if len(claimed) < count {
		if err := ReleaseUnits(ctx, db, claimed); err != nil {
			return nil, err
		}
		return nil, &model.ShortfallError{Key: key, Requested: count, Available: len(claimed)}
	}
	return claimed, nil
}

// claimBatch moves the given pool units to target in a single statement. Each
// row is only updated if it still has the version the caller read. It returns
// the units that were actually taken, as they are after the write.
func claimBatch(ctx context.Context, db *sql.DB, batch []model.ItemUnit, target model.Ownership) ([]model.ItemUnit, error) {
	ts := now()
	conds := make([]string, 0, len(batch))
	args := []any{target.Kind, target.UserID, ts, model.OwnershipAdminPool}
	byID := make(map[string]model.ItemUnit, len(batch))
	for _, u := range batch {
		conds = append(conds, `(id = ? AND version = ?)`)
		args = append(args, u.ID, u.Version)
		byID[u.ID] = u
	}

	rows, err := db.QueryContext(ctx,
		`UPDATE item_units SET owner_kind = ?, owner_user_id = ?, version = version + 1, updated_at = ?
		 WHERE deleted_at IS NULL AND owner_kind = ? AND (`+strings.Join(conds, " OR ")+`)
		 RETURNING id, version`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming units: %w", err)
	}
	defer rows.Close()

	var taken []model.ItemUnit
	for rows.Next() {
		var id string
		var version int64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("scanning claimed unit: %w", err)
		}
		u := byID[id]
		u.Ownership = target
		u.Version = version
		u.UpdatedAt = ts
		taken = append(taken, u)
	}
	return taken, rows.Err()
}

// setOwnership moves one unit from the ownership the caller observed to a new
// one. It reports false when the unit changed in between.
func setOwnership(ctx context.Context, q querier, u model.ItemUnit, to model.Ownership) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE item_units SET owner_kind = ?, owner_user_id = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND owner_kind = ? AND owner_user_id = ? AND deleted_at IS NULL`,
		to.Kind, to.UserID, now(), u.ID, u.Version, u.Ownership.Kind, u.Ownership.UserID,
	)
	if err != nil {
		return false, fmt.Errorf("updating ownership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating ownership: %w", err)
	}
	return n == 1, nil
}

// ReleaseUnits returns claimed units to the admin pool. Each unit must still
// be in the state recorded by the claim.
func ReleaseUnits(ctx context.Context, db *sql.DB, units []model.ItemUnit) error {
	var failed []string
	for _, u := range units {
		ok, err := setOwnership(ctx, db, u, model.AdminPool())
		if err != nil {
			return fmt.Errorf("releasing unit %s: %w", u.ID, err)
		}
		if !ok {
			failed = append(failed, u.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("releasing units: %s changed since claim", strings.Join(failed, ", "))
	}
	return nil
}

// UpdateUnitState records an admin assessment of a live unit's status and
// condition and refreshes its aggregate.
func UpdateUnitState(ctx context.Context, db *sql.DB, id, statusID, conditionID string) (*model.ItemUnit, error) {
	if statusID == "" || conditionID == "" {
		return nil, fmt.Errorf("status and condition are required")
	}

	res, err := db.ExecContext(ctx,
		`UPDATE item_units SET status_id = ?, condition_id = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		statusID, conditionID, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("live unit %s: %w", id, model.ErrNotFound)
	}

	u, err := GetUnit(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if err := RecomputeKeys(ctx, db, u.Key); err != nil {
		return u, err
	}
	return u, nil
}

// TombstoneUnits marks units deleted. Units that are already tombstoned are
// left untouched.
func TombstoneUnits(ctx context.Context, db *sql.DB, ids []string) error {
	keys := make([]model.ItemTypeKey, 0, len(ids))
	for _, id := range ids {
		u, err := getUnit(ctx, db, id)
		if err != nil {
			return err
		}
		keys = append(keys, u.Key)
	}
	ts := now()
	for _, id := range ids {
		if _, err := tombstoneUnit(ctx, db, id, ts); err != nil {
			RecomputeKeys(ctx, db, keys...)
			return err
		}
	}
	return RecomputeKeys(ctx, db, keys...)
}

// tombstoneUnit reports whether this call set the tombstone.
func tombstoneUnit(ctx context.Context, q querier, id string, ts time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE item_units SET deleted_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, id,
	)
	if err != nil {
		return false, fmt.Errorf("tombstoning unit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tombstoning unit %s: %w", id, err)
	}
	return n == 1, nil
}

// RestoreUnits clears the tombstone on every unit in ids, or on none of them.
// Recycle bin entries still staging these units are marked restored. Group
// restores should go through Restore.
func RestoreUnits(ctx context.Context, db *sql.DB, ids []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	units, err := restoreUnits(ctx, tx, ids)
	if err != nil {
		return err
	}
	if err := settleEntries(ctx, tx, ids, now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing restore: %w", err)
	}

	keys := make([]model.ItemTypeKey, len(units))
	for i, u := range units {
		keys[i] = u.Key
	}
	return RecomputeKeys(ctx, db, keys...)
}

func restoreUnits(ctx context.Context, q querier, ids []string) ([]model.ItemUnit, error) {
	units := make([]model.ItemUnit, 0, len(ids))
	for _, id := range ids {
		u, err := getUnit(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if u.Live() {
			return nil, fmt.Errorf("unit %s: %w", id, model.ErrNotTombstoned)
		}
		if u.Serial != "" {
			taken, err := serialTaken(ctx, q, u.Key, u.Serial)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, fmt.Errorf("restoring unit %s: serial %q: %w", id, u.Serial, model.ErrDuplicateSerial)
			}
		}

		ts := now()
		res, err := q.ExecContext(ctx,
			`UPDATE item_units SET deleted_at = NULL, version = version + 1, updated_at = ?
			 WHERE id = ? AND deleted_at IS NOT NULL`,
			ts, id,
		)
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("restoring unit %s: serial %q: %w", id, u.Serial, model.ErrDuplicateSerial)
		}
		if err != nil {
			return nil, fmt.Errorf("restoring unit %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("unit %s: %w", id, model.ErrNotTombstoned)
		}

		u.DeletedAt = nil
		u.Version++
		u.UpdatedAt = ts
		units = append(units, *u)
	}
	return units, nil
}

// eraseUnit permanently deletes a tombstoned unit. It reports false if the
// unit is live or already gone.
func eraseUnit(ctx context.Context, q querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM item_units WHERE id = ? AND deleted_at IS NOT NULL`, id,
	)
	if err != nil {
		return false, fmt.Errorf("erasing unit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("erasing unit %s: %w", id, err)
	}
	return n == 1, nil
}
