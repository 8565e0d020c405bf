package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
)

// CreateOffice creates a new office.
func CreateOffice(ctx context.Context, db *sql.DB, name, location string) (*model.Office, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO offices (id, name, location, created_at) VALUES (?, ?, ?, ?)`,
		id, name, location, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating office: %w", err)
	}

	return GetOffice(ctx, db, id)
}

// GetOffice returns an office by ID, or nil if there is none.
func GetOffice(ctx context.Context, db *sql.DB, id string) (*model.Office, error) {
	o := &model.Office{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, location, created_at FROM offices WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.Location, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting office: %w", err)
	}
	return o, nil
}

// ListOffices returns all offices by name.
func ListOffices(ctx context.Context, db *sql.DB) ([]model.Office, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, location, created_at FROM offices ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing offices: %w", err)
	}
	defer rows.Close()

	var offices []model.Office
	for rows.Next() {
		var o model.Office
		if err := rows.Scan(&o.ID, &o.Name, &o.Location, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning office: %w", err)
		}
		offices = append(offices, o)
	}
	return offices, rows.Err()
}

// DeleteOffice captures the office's display attributes and then removes it.
// Users that pointed at it keep the id and resolve through the snapshot.
func DeleteOffice(ctx context.Context, db *sql.DB, id string) error {
	if _, err := CaptureSnapshot(ctx, db, model.IdentityOffice, id); err != nil {
		return fmt.Errorf("deleting office: %w", err)
	}

	_, err := db.ExecContext(ctx, `DELETE FROM offices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting office: %w", err)
	}
	return nil
}
