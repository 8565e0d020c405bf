package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/inventar/internal/db"
	"github.com/erazemk/inventar/internal/model"
)

func TestResolveUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	office, _ := CreateOffice(ctx, database, "Ljubljana HQ", "Slovenska 1")
	user, _ := CreateUser(ctx, database, "carol", "hash", model.RoleUser)
	UpdateUserProfile(ctx, database, user.ID, model.UserProfile{
		DisplayName: "Carol Novak",
		Email:       "carol@example.com",
		Department:  "IT",
		OfficeID:    office.ID,
	})

	attrs, err := Resolve(ctx, database, model.IdentityUser, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attrs.Source != model.SourcePrimary || attrs.Name != "Carol Novak" || attrs.Office != "Ljubljana HQ" {
		t.Errorf("unexpected primary attributes %+v", attrs)
	}

	if err := DeleteUser(ctx, database, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	attrs, err = Resolve(ctx, database, model.IdentityUser, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attrs.Source != model.SourceSnapshot {
		t.Errorf("expected snapshot source, got %q", attrs.Source)
	}
	if attrs.Name != "Carol Novak" || attrs.Email != "carol@example.com" || attrs.Department != "IT" {
		t.Errorf("unexpected snapshot attributes %+v", attrs)
	}
}

func TestResolveUnknown(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	attrs, err := Resolve(ctx, database, model.IdentityUser, "ghost")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attrs.Source != model.SourceUnknown || attrs.Name != "Unknown user" || attrs.ID != "ghost" {
		t.Errorf("unexpected placeholder %+v", attrs)
	}

	if _, err := Resolve(ctx, database, "vendor", "x"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestResolveLatestSnapshotWins(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	office, _ := CreateOffice(ctx, database, "Maribor", "")
	if _, err := CaptureSnapshot(ctx, database, model.IdentityOffice, office.ID); err != nil {
		t.Fatalf("CaptureSnapshot: %v", err)
	}
	database.Exec(`UPDATE offices SET name = 'Maribor East' WHERE id = ?`, office.ID)

	if err := DeleteOffice(ctx, database, office.ID); err != nil {
		t.Fatalf("DeleteOffice: %v", err)
	}

	attrs, _ := Resolve(ctx, database, model.IdentityOffice, office.ID)
	if attrs.Name != "Maribor East" {
		t.Errorf("expected latest snapshot, got %q", attrs.Name)
	}
}

func TestCaptureSnapshotMissingAbortsDelete(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := CaptureSnapshot(ctx, database, model.IdentityUser, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := DeleteUser(ctx, database, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveMany(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	a, _ := CreateUser(ctx, database, "a", "hash", model.RoleUser)

	got, err := ResolveMany(ctx, database, model.IdentityUser, []string{a.ID, "gone", a.ID})
	if err != nil {
		t.Fatalf("ResolveMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[a.ID].Name != "a" || got["gone"].Source != model.SourceUnknown {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestResolveUserWithDeletedOffice(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	office, _ := CreateOffice(ctx, database, "Koper", "")
	user, _ := CreateUser(ctx, database, "dan", "hash", model.RoleUser)
	UpdateUserProfile(ctx, database, user.ID, model.UserProfile{OfficeID: office.ID})

	if err := DeleteOffice(ctx, database, office.ID); err != nil {
		t.Fatalf("DeleteOffice: %v", err)
	}

	attrs, err := Resolve(ctx, database, model.IdentityUser, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attrs.Office != "Koper" {
		t.Errorf("expected office name from snapshot, got %q", attrs.Office)
	}

	UpdateUserProfile(ctx, database, user.ID, model.UserProfile{OfficeID: "never-existed"})
	attrs, _ = Resolve(ctx, database, model.IdentityUser, user.ID)
	if attrs.Office != "Unknown office" {
		t.Errorf("expected placeholder office, got %q", attrs.Office)
	}
}
