package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
)

// SubmitRequest records a pending request for units of one or more item types.
func SubmitRequest(ctx context.Context, db *sql.DB, requesterID string, lines []model.RequestLineInput) (*model.Request, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester is required")
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("at least one line is required")
	}
	for i, l := range lines {
		if !l.Key.Valid() {
			return nil, fmt.Errorf("line %d: item name and category are required", i)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("line %d: quantity must be positive", i)
		}
	}

	id := uuid.NewString()
	ts := now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO requests (id, requester_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, requesterID, model.RequestPending, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for i, l := range lines {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO request_lines (request_id, line_index, item_name, category_id, quantity, state)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, l.Key.Name, l.Key.CategoryID, l.Quantity, model.LinePending,
		)
		if err != nil {
			return nil, fmt.Errorf("creating request line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing request: %w", err)
	}

	slog.Info("request submitted", "request", id, "requester", requesterID, "lines", len(lines))
	return GetRequest(ctx, db, id)
}

// ApproveLine fulfills one pending line of a request by claiming units for the
// requester. On a shortfall nothing changes and the line stays pending.
// The request becomes approved while other lines are pending and fulfilled
// once none are. If the units moved but the aggregate could not be refreshed,
// the result is returned together with a *model.AggregateError.
func ApproveLine(ctx context.Context, db *sql.DB, requestID string, lineIndex int) (*model.ApproveResult, error) {
	req, err := GetRequest(ctx, db, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Approvable() {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, req.State, model.ErrInvalidTransition)
	}
	if lineIndex < 0 || lineIndex >= len(req.Lines) {
		return nil, fmt.Errorf("request %s line %d: %w", requestID, lineIndex, model.ErrNotFound)
	}
	line := req.Lines[lineIndex]
	if line.State != model.LinePending {
		return nil, fmt.Errorf("request %s line %d is %s: %w", requestID, lineIndex, line.State, model.ErrInvalidTransition)
	}

	units, err := ClaimUnitsForTransfer(ctx, db, line.Key, line.Quantity, model.UnitFilter{}, req.RequesterID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}

	ts := now()
	res, err := db.ExecContext(ctx,
		`UPDATE request_lines SET state = ?, unit_ids = ?, fulfilled_at = ?
		 WHERE request_id = ? AND line_index = ? AND state = ?
		   AND EXISTS (SELECT 1 FROM requests WHERE id = ? AND state IN (?, ?))`,
		model.LineFulfilled, strings.Join(ids, ","), ts,
		requestID, lineIndex, model.LinePending,
		requestID, model.RequestPending, model.RequestApproved,
	)
	var n int64
	if err == nil {
		n, err = res.RowsAffected()
	}
	if err != nil || n == 0 {
		if rerr := ReleaseUnits(ctx, db, units); rerr != nil {
			slog.Error("releasing units after failed approval", "request", requestID, "line", lineIndex, "error", rerr)
		}
		if err != nil {
			return nil, fmt.Errorf("fulfilling request line: %w", err)
		}
		return nil, fmt.Errorf("request %s line %d changed concurrently: %w", requestID, lineIndex, model.ErrInvalidTransition)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE requests SET
		     state = CASE WHEN EXISTS (SELECT 1 FROM request_lines WHERE request_id = ? AND state = ?)
		                  THEN ? ELSE ? END,
		     updated_at = ?
		 WHERE id = ? AND state IN (?, ?)`,
		requestID, model.LinePending, model.RequestApproved, model.RequestFulfilled, ts,
		requestID, model.RequestPending, model.RequestApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("updating request state: %w", err)
	}

	slog.Info("request line approved", "request", requestID, "line", lineIndex,
		"key", line.Key.String(), "units", len(units), "requester", req.RequesterID)

	aggErr := RecomputeKeys(ctx, db, line.Key)

	updated, err := GetRequest(ctx, db, requestID)
	if err != nil {
		return nil, err
	}
	return &model.ApproveResult{Request: updated, Line: lineIndex, Units: units}, aggErr
}

// RejectRequest closes a request that has not moved any units.
func RejectRequest(ctx context.Context, db *sql.DB, requestID, reason string) (*model.Request, error) {
	return closeRequest(ctx, db, requestID, reason, model.RequestRejected, model.RequestPending)
}

// CancelRequest withdraws a request. It fails once any line is fulfilled.
func CancelRequest(ctx context.Context, db *sql.DB, requestID, reason string) (*model.Request, error) {
	return closeRequest(ctx, db, requestID, reason, model.RequestCancelled, model.RequestPending, model.RequestApproved)
}

func closeRequest(ctx context.Context, db *sql.DB, requestID, reason, target string, from ...string) (*model.Request, error) {
	args := []any{target, reason, now(), requestID}
	placeholders := make([]string, len(from))
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, s)
	}
	args = append(args, requestID, model.LineFulfilled)

	res, err := db.ExecContext(ctx,
		`UPDATE requests SET state = ?, reason = ?, updated_at = ?
		 WHERE id = ? AND state IN (`+strings.Join(placeholders, ", ")+`)
		   AND NOT EXISTS (SELECT 1 FROM request_lines WHERE request_id = ? AND state = ?)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("closing request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		req, err := GetRequest(ctx, db, requestID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s is %s: %w", requestID, req.State, model.ErrInvalidTransition)
	}

	slog.Info("request closed", "request", requestID, "state", target)
	return GetRequest(ctx, db, requestID)
}

// GetRequest returns a request with its lines and resolved requester.
func GetRequest(ctx context.Context, db *sql.DB, id string) (*model.Request, error) {
	r := &model.Request{}
	err := db.QueryRowContext(ctx,
		`SELECT id, requester_id, state, reason, created_at, updated_at FROM requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.RequesterID, &r.State, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}

	if err := fillRequest(ctx, db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRequests returns requests, newest first, optionally filtered by
// requester and state.
func ListRequests(ctx context.Context, db *sql.DB, requesterID, state string) ([]model.Request, error) {
	query := `SELECT id, requester_id, state, reason, created_at, updated_at FROM requests WHERE 1=1`
	var args []any

	if requesterID != "" {
		query += ` AND requester_id = ?`
		args = append(args, requesterID)
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}

	query += ` ORDER BY created_at DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	var requests []model.Request
	for rows.Next() {
		var r model.Request
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.State, &r.Reason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		requests = append(requests, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	for i := range requests {
		if err := fillRequest(ctx, db, &requests[i]); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

func fillRequest(ctx context.Context, db *sql.DB, r *model.Request) error {
	rows, err := db.QueryContext(ctx,
		`SELECT line_index, item_name, category_id, quantity, state, unit_ids, fulfilled_at
		 FROM request_lines WHERE request_id = ? ORDER BY line_index`, r.ID,
	)
	if err != nil {
		return fmt.Errorf("loading request lines: %w", err)
	}
	defer rows.Close()

	r.Lines = nil
	for rows.Next() {
		var l model.RequestLine
		var unitIDs string
		if err := rows.Scan(&l.Index, &l.Key.Name, &l.Key.CategoryID, &l.Quantity, &l.State, &unitIDs, &l.FulfilledAt); err != nil {
			return fmt.Errorf("scanning request line: %w", err)
		}
		l.UnitIDs = splitList(unitIDs)
		r.Lines = append(r.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading request lines: %w", err)
	}
	rows.Close()

	requester, err := Resolve(ctx, db, model.IdentityUser, r.RequesterID)
	if err != nil {
		return err
	}
	r.Requester = &requester
	return nil
}
