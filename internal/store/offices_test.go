package store

import (
	"context"
	"testing"

	"github.com/erazemk/inventar/internal/db"
)

func TestCreateAndListOffices(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	hq, err := CreateOffice(ctx, database, "HQ", "Main street 1")
	if err != nil {
		t.Fatalf("CreateOffice: %v", err)
	}
	CreateOffice(ctx, database, "Branch", "")

	got, err := GetOffice(ctx, database, hq.ID)
	if err != nil {
		t.Fatalf("GetOffice: %v", err)
	}
	if got.Name != "HQ" || got.Location != "Main street 1" {
		t.Errorf("unexpected office %+v", got)
	}

	offices, _ := ListOffices(ctx, database)
	if len(offices) != 2 || offices[0].Name != "Branch" {
		t.Errorf("expected 2 offices sorted by name, got %+v", offices)
	}

	if err := DeleteOffice(ctx, database, hq.ID); err != nil {
		t.Fatalf("DeleteOffice: %v", err)
	}
	missing, _ := GetOffice(ctx, database, hq.ID)
	if missing != nil {
		t.Error("expected office to be gone")
	}
}
