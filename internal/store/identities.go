package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/inventar/internal/model"
)

// Resolve returns display attributes for an identity reference. It reads the
// primary record first, then the most recent snapshot, and otherwise returns
// a placeholder. Only storage failures are reported as errors.
func Resolve(ctx context.Context, db *sql.DB, kind model.IdentityKind, id string) (model.DisplayAttributes, error) {
	attrs, ok, err := primaryAttributes(ctx, db, kind, id)
	if err != nil {
		return model.DisplayAttributes{}, err
	}
	if ok {
		return attrs, nil
	}

	snap, err := latestSnapshot(ctx, db, kind, id)
	if err != nil {
		return model.DisplayAttributes{}, err
	}
	if snap != nil {
		return snap.Attributes, nil
	}

	return model.UnknownIdentity(kind, id), nil
}

// ResolveMany resolves a set of references of one kind. Duplicate ids are
// looked up once.
func ResolveMany(ctx context.Context, db *sql.DB, kind model.IdentityKind, ids []string) (map[string]model.DisplayAttributes, error) {
	out := make(map[string]model.DisplayAttributes, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		attrs, err := Resolve(ctx, db, kind, id)
		if err != nil {
			return nil, err
		}
		out[id] = attrs
	}
	return out, nil
}

// CaptureSnapshot copies the current display attributes of a primary record
// into the snapshot table. It must run before the primary record is deleted.
func CaptureSnapshot(ctx context.Context, db *sql.DB, kind model.IdentityKind, id string) (*model.IdentitySnapshot, error) {
	attrs, ok, err := primaryAttributes(ctx, db, kind, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}

	attrs.Source = model.SourceSnapshot
	ts := now()
	res, err := db.ExecContext(ctx,
		`INSERT INTO identity_snapshots (kind, identity_id, name, email, phone, department, office, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, id, attrs.Name, attrs.Email, attrs.Phone, attrs.Department, attrs.Office, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting snapshot id: %w", err)
	}

	return &model.IdentitySnapshot{
		ID:         snapID,
		Kind:       kind,
		IdentityID: id,
		Attributes: attrs,
		CapturedAt: ts,
	}, nil
}

func primaryAttributes(ctx context.Context, db *sql.DB, kind model.IdentityKind, id string) (model.DisplayAttributes, bool, error) {
	attrs := model.DisplayAttributes{Kind: kind, ID: id, Source: model.SourcePrimary}

	var err error
	switch kind {
	case model.IdentityUser:
		var username, officeID string
		err = db.QueryRowContext(ctx,
			`SELECT username, display_name, email, phone, department, office_id
			 FROM users WHERE id = ?`, id,
		).Scan(&username, &attrs.Name, &attrs.Email, &attrs.Phone, &attrs.Department, &officeID)
		if attrs.Name == "" {
			attrs.Name = username
		}
		if err == nil && officeID != "" {
			// Offices can be deleted while users still point at them.
			office, oerr := Resolve(ctx, db, model.IdentityOffice, officeID)
			if oerr != nil {
				return attrs, false, oerr
			}
			attrs.Office = office.Name
		}
	case model.IdentityOffice:
		err = db.QueryRowContext(ctx,
			`SELECT name FROM offices WHERE id = ?`, id,
		).Scan(&attrs.Name)
	default:
		return attrs, false, fmt.Errorf("unknown identity kind %q", kind)
	}

	if err == sql.ErrNoRows {
		return attrs, false, nil
	}
	if err != nil {
		return attrs, false, fmt.Errorf("resolving %s: %w", kind, err)
	}
	return attrs, true, nil
}

func latestSnapshot(ctx context.Context, db *sql.DB, kind model.IdentityKind, id string) (*model.IdentitySnapshot, error) {
	snap := &model.IdentitySnapshot{Kind: kind, IdentityID: id}
	a := &snap.Attributes
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, department, office, captured_at
		 FROM identity_snapshots
		 WHERE kind = ? AND identity_id = ?
		 ORDER BY captured_at DESC, id DESC LIMIT 1`,
		kind, id,
	).Scan(&snap.ID, &a.Name, &a.Email, &a.Phone, &a.Department, &a.Office, &snap.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	a.Kind = kind
	a.ID = id
	a.Source = model.SourceSnapshot
	return snap, nil
}
