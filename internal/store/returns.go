package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
)

// SubmitReturn records a pending return of units owned by userID, one line
// per unit.
func SubmitReturn(ctx context.Context, db *sql.DB, userID string, unitIDs []string) (*model.Return, error) {
	if userID == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("at least one unit is required")
	}

	seen := make(map[string]bool, len(unitIDs))
	units := make([]*model.ItemUnit, 0, len(unitIDs))
	for _, id := range unitIDs {
		if seen[id] {
			return nil, fmt.Errorf("unit %s listed more than once", id)
		}
		seen[id] = true

		u, err := GetUnit(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if !u.Live() || u.Ownership != model.OwnedBy(userID) {
			return nil, fmt.Errorf("unit %s: %w", id, model.ErrNotOwner)
		}

		var open int
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM return_lines WHERE unit_id = ? AND state = ?`,
			id, model.LinePending,
		).Scan(&open)
		if err != nil {
			return nil, fmt.Errorf("checking open returns: %w", err)
		}
		if open > 0 {
			return nil, fmt.Errorf("unit %s already has a pending return: %w", id, model.ErrInvalidTransition)
		}
		units = append(units, u)
	}

	id := uuid.NewString()
	ts := now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO returns (id, user_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, model.ReturnPending, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("creating return: %w", err)
	}

	for i, u := range units {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO return_lines (return_id, line_index, unit_id, item_name, category_id, state)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, u.ID, u.Key.Name, u.Key.CategoryID, model.LinePending,
		)
		if err != nil {
			return nil, fmt.Errorf("creating return line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing return: %w", err)
	}

	slog.Info("return submitted", "return", id, "user", userID, "units", len(units))
	return GetReturn(ctx, db, id)
}

// ApproveReturnLine hands one returned unit back to the admin pool with the
// status and condition assessed on receipt. The return becomes
// approved_return while lines are pending and fulfilled_return once none are.
func ApproveReturnLine(ctx context.Context, db *sql.DB, returnID string, lineIndex int, newStatusID, newConditionID string) (*model.Return, error) {
	if newStatusID == "" || newConditionID == "" {
		return nil, fmt.Errorf("status and condition are required")
	}

	ret, err := GetReturn(ctx, db, returnID)
	if err != nil {
		return nil, err
	}
	if !ret.Approvable() {
		return nil, fmt.Errorf("return %s is %s: %w", returnID, ret.State, model.ErrInvalidTransition)
	}
	if lineIndex < 0 || lineIndex >= len(ret.Lines) {
		return nil, fmt.Errorf("return %s line %d: %w", returnID, lineIndex, model.ErrNotFound)
	}
	line := ret.Lines[lineIndex]
	if line.State != model.LinePending {
		return nil, fmt.Errorf("return %s line %d is %s: %w", returnID, lineIndex, line.State, model.ErrInvalidTransition)
	}

	u, err := GetUnit(ctx, db, line.UnitID)
	if err != nil {
		return nil, err
	}
	if !u.Live() || u.Ownership != model.OwnedBy(ret.UserID) {
		return nil, fmt.Errorf("unit %s: %w", u.ID, model.ErrNotOwner)
	}

	ts := now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE item_units
		 SET owner_kind = ?, owner_user_id = '', status_id = ?, condition_id = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND owner_kind = ? AND owner_user_id = ? AND deleted_at IS NULL`,
		model.OwnershipAdminPool, newStatusID, newConditionID, ts,
		u.ID, u.Version, model.OwnershipUserOwned, ret.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("returning unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("unit %s changed concurrently: %w", u.ID, model.ErrInvalidTransition)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE return_lines SET state = ?, new_status_id = ?, new_condition_id = ?, fulfilled_at = ?
		 WHERE return_id = ? AND line_index = ? AND state = ?`,
		model.LineFulfilled, newStatusID, newConditionID, ts,
		returnID, lineIndex, model.LinePending,
	)
	if err != nil {
		return nil, fmt.Errorf("fulfilling return line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("return %s line %d changed concurrently: %w", returnID, lineIndex, model.ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE returns SET
		     state = CASE WHEN EXISTS (SELECT 1 FROM return_lines WHERE return_id = ? AND state = ?)
		                  THEN ? ELSE ? END,
		     updated_at = ?
		 WHERE id = ?`,
		returnID, model.LinePending, model.ReturnApproved, model.ReturnFulfilled, ts, returnID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating return state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing return approval: %w", err)
	}

	slog.Info("return line approved", "return", returnID, "line", lineIndex,
		"unit", u.ID, "status", newStatusID, "condition", newConditionID)

	aggErr := RecomputeKeys(ctx, db, u.Key)

	updated, err := GetReturn(ctx, db, returnID)
	if err != nil {
		return nil, err
	}
	return updated, aggErr
}

// GetReturn returns a return with its lines and resolved user.
func GetReturn(ctx context.Context, db *sql.DB, id string) (*model.Return, error) {
	r := &model.Return{}
	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, state, created_at, updated_at FROM returns WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.State, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("return %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting return: %w", err)
	}

	if err := fillReturn(ctx, db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReturns returns returns, newest first, optionally for one user.
func ListReturns(ctx context.Context, db *sql.DB, userID string) ([]model.Return, error) {
	query := `SELECT id, user_id, state, created_at, updated_at FROM returns WHERE 1=1`
	var args []any
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing returns: %w", err)
	}

	var returns []model.Return
	for rows.Next() {
		var r model.Return
		if err := rows.Scan(&r.ID, &r.UserID, &r.State, &r.CreatedAt, &r.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning return: %w", err)
		}
		returns = append(returns, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing returns: %w", err)
	}

	for i := range returns {
		if err := fillReturn(ctx, db, &returns[i]); err != nil {
			return nil, err
		}
	}
	return returns, nil
}

func fillReturn(ctx context.Context, db *sql.DB, r *model.Return) error {
	rows, err := db.QueryContext(ctx,
		`SELECT line_index, unit_id, item_name, category_id, state, new_status_id, new_condition_id, fulfilled_at
		 FROM return_lines WHERE return_id = ? ORDER BY line_index`, r.ID,
	)
	if err != nil {
		return fmt.Errorf("loading return lines: %w", err)
	}
	defer rows.Close()

	r.Lines = nil
	for rows.Next() {
		var l model.ReturnLine
		if err := rows.Scan(&l.Index, &l.UnitID, &l.Key.Name, &l.Key.CategoryID, &l.State,
			&l.NewStatusID, &l.NewConditionID, &l.FulfilledAt); err != nil {
			return fmt.Errorf("scanning return line: %w", err)
		}
		r.Lines = append(r.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading return lines: %w", err)
	}
	rows.Close()

	user, err := Resolve(ctx, db, model.IdentityUser, r.UserID)
	if err != nil {
		return err
	}
	r.User = &user
	return nil
}
