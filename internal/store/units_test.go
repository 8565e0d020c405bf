package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/erazemk/inventar/internal/db"
	"github.com/erazemk/inventar/internal/model"
)

// seedUnits adds n serial-less units of key to the pool and recomputes.
func seedUnits(t *testing.T, database *sql.DB, key model.ItemTypeKey, n int, status, condition string) []model.ItemUnit {
	t.Helper()

	batch := make([]model.NewUnit, n)
	for i := range batch {
		batch[i] = model.NewUnit{StatusID: status, ConditionID: condition}
	}
	units, err := IntakeUnits(context.Background(), database, key, batch)
	if err != nil {
		t.Fatalf("IntakeUnits: %v", err)
	}
	return units
}

func unitIDs(units []model.ItemUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

func TestCreateUnit(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Laptop", CategoryID: "computers"}
	u, err := CreateUnit(ctx, database, key, "SN-1", "available", "new")
	if err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	if u.Ownership.Kind != model.OwnershipAdminPool {
		t.Errorf("expected admin pool, got %q", u.Ownership.Kind)
	}
	if u.Version != 1 {
		t.Errorf("expected version 1, got %d", u.Version)
	}
	if !u.Live() {
		t.Error("expected new unit to be live")
	}

	got, err := GetUnit(ctx, database, u.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.Serial != "SN-1" || got.Key != key {
		t.Errorf("unexpected unit %+v", got)
	}

	if _, err := GetUnit(ctx, database, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUnitDuplicateSerial(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	laptop := model.ItemTypeKey{Name: "Laptop", CategoryID: "computers"}
	first, _ := CreateUnit(ctx, database, laptop, "SN-1", "available", "new")

	_, err := CreateUnit(ctx, database, laptop, "SN-1", "available", "new")
	if !errors.Is(err, model.ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial, got %v", err)
	}

	// Same serial under another type is fine.
	other := model.ItemTypeKey{Name: "Monitor", CategoryID: "computers"}
	if _, err := CreateUnit(ctx, database, other, "SN-1", "available", "new"); err != nil {
		t.Fatalf("CreateUnit other type: %v", err)
	}

	// Tombstoned units release their serial.
	if err := TombstoneUnits(ctx, database, []string{first.ID}); err != nil {
		t.Fatalf("TombstoneUnits: %v", err)
	}
	if _, err := CreateUnit(ctx, database, laptop, "SN-1", "available", "new"); err != nil {
		t.Fatalf("CreateUnit after tombstone: %v", err)
	}
}

func TestIntakeUnitsAllOrNothing(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Phone", CategoryID: "mobile"}
	_, err := IntakeUnits(ctx, database, key, []model.NewUnit{
		{Serial: "A", StatusID: "available", ConditionID: "new"},
		{Serial: "A", StatusID: "available", ConditionID: "new"},
	})
	if !errors.Is(err, model.ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial, got %v", err)
	}

	units, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{})
	if len(units) != 0 {
		t.Errorf("expected no units after failed intake, got %d", len(units))
	}
}

func TestFindLiveUnitsFilter(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Cable", CategoryID: "accessories"}
	seedUnits(t, database, key, 2, "available", "good")
	seedUnits(t, database, key, 1, "repair", "damaged")

	all, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{})
	if len(all) != 3 {
		t.Errorf("expected 3 units, got %d", len(all))
	}

	damaged, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{ConditionID: "damaged"})
	if len(damaged) != 1 {
		t.Errorf("expected 1 damaged unit, got %d", len(damaged))
	}

	if err := TombstoneUnits(ctx, database, []string{damaged[0].ID}); err != nil {
		t.Fatalf("TombstoneUnits: %v", err)
	}
	live, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{})
	if len(live) != 2 {
		t.Errorf("expected tombstoned unit to be excluded, got %d", len(live))
	}
}

func TestClaimUnitsShortfallChangesNothing(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, key, 3, "available", "good")

	_, err := ClaimUnitsForTransfer(ctx, database, key, 5, model.UnitFilter{}, "u1")
	var shortfall *model.ShortfallError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected ShortfallError, got %v", err)
	}
	if shortfall.Requested != 5 || shortfall.Available != 3 {
		t.Errorf("unexpected shortfall %+v", shortfall)
	}

	pool, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{OwnershipKind: model.OwnershipAdminPool})
	if len(pool) != 3 {
		t.Errorf("expected all 3 units in the pool, got %d", len(pool))
	}
	for _, u := range pool {
		if u.Version != 1 {
			t.Errorf("expected unit %s untouched, got version %d", u.ID, u.Version)
		}
	}
}

func TestClaimUnitsSkipsUnborrowable(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, key, 2, "available", "good")
	seedUnits(t, database, key, 2, "repair", "good")

	if _, err := ClaimUnitsForTransfer(ctx, database, key, 3, model.UnitFilter{}, "u1"); !errors.Is(err, model.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	claimed, err := ClaimUnitsForTransfer(ctx, database, key, 2, model.UnitFilter{}, "u1")
	if err != nil {
		t.Fatalf("ClaimUnitsForTransfer: %v", err)
	}
	for _, u := range claimed {
		if u.StatusID != "available" || u.Ownership != model.OwnedBy("u1") {
			t.Errorf("unexpected claimed unit %+v", u)
		}
	}

	owned, _ := ListUserUnits(ctx, database, "u1")
	if len(owned) != 2 {
		t.Errorf("expected u1 to own 2 units, got %d", len(owned))
	}
}

func TestClaimUnitsConcurrentExactlyOneWins(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, key, 3, "available", "good")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, claimant := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ClaimUnitsForTransfer(ctx, database, key, 3, model.UnitFilter{}, claimant)
		}()
	}
	wg.Wait()

	wins, shortfalls := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, model.ErrInsufficientInventory):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || shortfalls != 1 {
		t.Fatalf("expected one win and one shortfall, got %d and %d", wins, shortfalls)
	}

	u1, _ := ListUserUnits(ctx, database, "u1")
	u2, _ := ListUserUnits(ctx, database, "u2")
	if len(u1)+len(u2) != 3 || (len(u1) != 0 && len(u2) != 0) {
		t.Errorf("expected one claimant to own all 3 units, got %d and %d", len(u1), len(u2))
	}
}

func TestReleaseUnits(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, key, 2, "available", "good")

	claimed, err := ClaimUnitsForTransfer(ctx, database, key, 2, model.UnitFilter{}, "u1")
	if err != nil {
		t.Fatalf("ClaimUnitsForTransfer: %v", err)
	}
	if err := ReleaseUnits(ctx, database, claimed); err != nil {
		t.Fatalf("ReleaseUnits: %v", err)
	}

	pool, _ := FindLiveUnits(ctx, database, key, model.UnitFilter{OwnershipKind: model.OwnershipAdminPool})
	if len(pool) != 2 {
		t.Errorf("expected 2 units back in the pool, got %d", len(pool))
	}

	// A stale claim record no longer matches.
	if err := ReleaseUnits(ctx, database, claimed); err == nil {
		t.Error("expected error releasing units twice")
	}
}

func TestUpdateUnitStateRecomputes(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Headset", CategoryID: "audio"}
	units := seedUnits(t, database, key, 2, "available", "good")

	if _, err := UpdateUnitState(ctx, database, units[0].ID, "repair", "damaged"); err != nil {
		t.Fatalf("UpdateUnitState: %v", err)
	}

	rec, _ := GetAggregate(ctx, database, key)
	if rec.AvailableQuantity != 1 {
		t.Errorf("expected 1 available, got %d", rec.AvailableQuantity)
	}
	if rec.StatusBreakdown["repair"] != 1 {
		t.Errorf("expected repair count 1, got %v", rec.StatusBreakdown)
	}

	TombstoneUnits(ctx, database, []string{units[0].ID})
	if _, err := UpdateUnitState(ctx, database, units[0].ID, "available", "good"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for tombstoned unit, got %v", err)
	}
}

func TestTombstoneAndRestoreUnits(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	key := model.ItemTypeKey{Name: "Tablet", CategoryID: "mobile"}
	u, _ := CreateUnit(ctx, database, key, "T-1", "available", "good")

	if err := TombstoneUnits(ctx, database, []string{"missing"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := TombstoneUnits(ctx, database, []string{u.ID}); err != nil {
		t.Fatalf("TombstoneUnits: %v", err)
	}
	// Idempotent.
	if err := TombstoneUnits(ctx, database, []string{u.ID}); err != nil {
		t.Fatalf("second TombstoneUnits: %v", err)
	}

	// Serial reused while the original is tombstoned.
	CreateUnit(ctx, database, key, "T-1", "available", "good")
	if err := RestoreUnits(ctx, database, []string{u.ID}); !errors.Is(err, model.ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial, got %v", err)
	}

	other, _ := CreateUnit(ctx, database, key, "", "available", "good")
	TombstoneUnits(ctx, database, []string{other.ID})
	if err := RestoreUnits(ctx, database, []string{other.ID}); err != nil {
		t.Fatalf("RestoreUnits: %v", err)
	}
	if err := RestoreUnits(ctx, database, []string{other.ID}); !errors.Is(err, model.ErrNotTombstoned) {
		t.Errorf("expected ErrNotTombstoned, got %v", err)
	}
}
