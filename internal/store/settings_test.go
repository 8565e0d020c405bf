package store

import (
	"context"
	"testing"

	"github.com/erazemk/inventar/internal/db"
	"github.com/erazemk/inventar/internal/model"
)

func TestGetJWTSecret_GeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret1, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret1) != 64 { // 32 bytes = 64 hex chars
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	secret2, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Fatalf("expected same secret, got %q and %q", secret1, secret2)
	}
}

func TestBorrowabilityDefaults(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	b, err := GetBorrowability(ctx, database)
	if err != nil {
		t.Fatalf("GetBorrowability: %v", err)
	}
	if !b.Borrowable("available", "good") {
		t.Error("expected available/good to be borrowable")
	}
	if b.Borrowable("repair", "good") {
		t.Error("expected repair/good not to be borrowable")
	}
	if b.Borrowable("available", "damaged") {
		t.Error("expected available/damaged not to be borrowable")
	}
}

func TestSetBorrowabilityChangesAvailability(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Projector", CategoryID: "av"}
	seedUnits(t, database, key, 2, "reserved", "good")

	rec, err := Recompute(ctx, database, key)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if rec.AvailableQuantity != 0 {
		t.Fatalf("expected 0 available, got %d", rec.AvailableQuantity)
	}

	err = SetBorrowability(ctx, database, model.Borrowability{
		Statuses:   []string{"available", "reserved"},
		Conditions: []string{"good"},
	})
	if err != nil {
		t.Fatalf("SetBorrowability: %v", err)
	}

	// The stored aggregate lags until the next recompute.
	stored, _ := GetAggregate(ctx, database, key)
	if stored.AvailableQuantity != 0 {
		t.Errorf("expected stored aggregate unchanged, got %d available", stored.AvailableQuantity)
	}

	rec, err = Recompute(ctx, database, key)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if rec.AvailableQuantity != 2 {
		t.Errorf("expected 2 available, got %d", rec.AvailableQuantity)
	}
}
