package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/inventar/internal/db"
	"github.com/erazemk/inventar/internal/model"
)

func TestRequestMouseScenario(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	mouse := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, mouse, 3, "available", "good")
	alice, _ := CreateUser(ctx, database, "alice", "hash", model.RoleUser)

	tooMany, err := SubmitRequest(ctx, database, alice.ID, []model.RequestLineInput{{Key: mouse, Quantity: 5}})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if tooMany.State != model.RequestPending {
		t.Errorf("expected pending, got %q", tooMany.State)
	}

	_, err = ApproveLine(ctx, database, tooMany.ID, 0)
	if !errors.Is(err, model.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	got, _ := GetRequest(ctx, database, tooMany.ID)
	if got.Lines[0].State != model.LinePending || got.State != model.RequestPending {
		t.Errorf("expected request and line to stay pending, got %q/%q", got.State, got.Lines[0].State)
	}
	owned, _ := ListUserUnits(ctx, database, alice.ID)
	if len(owned) != 0 {
		t.Errorf("expected no units moved, got %d", len(owned))
	}

	exact, _ := SubmitRequest(ctx, database, alice.ID, []model.RequestLineInput{{Key: mouse, Quantity: 3}})
	result, err := ApproveLine(ctx, database, exact.ID, 0)
	if err != nil {
		t.Fatalf("ApproveLine: %v", err)
	}
	if len(result.Units) != 3 {
		t.Errorf("expected 3 units, got %d", len(result.Units))
	}
	if result.Request.State != model.RequestFulfilled {
		t.Errorf("expected fulfilled, got %q", result.Request.State)
	}
	if len(result.Request.Lines[0].UnitIDs) != 3 {
		t.Errorf("expected line to record 3 units, got %v", result.Request.Lines[0].UnitIDs)
	}

	rec, err := GetAggregate(ctx, database, mouse)
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if rec.TotalQuantity != 3 || rec.AvailableQuantity != 0 || rec.UserOwnedQuantity != 3 {
		t.Errorf("expected 3/0/3, got %d/%d/%d", rec.TotalQuantity, rec.AvailableQuantity, rec.UserOwnedQuantity)
	}
}

func TestApproveLinePartialRequest(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	mouse := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	keyboard := model.ItemTypeKey{Name: "Keyboard", CategoryID: "peripherals"}
	seedUnits(t, database, mouse, 2, "available", "good")
	seedUnits(t, database, keyboard, 1, "available", "good")

	req, _ := SubmitRequest(ctx, database, "u1", []model.RequestLineInput{
		{Key: mouse, Quantity: 1},
		{Key: keyboard, Quantity: 1},
	})

	result, err := ApproveLine(ctx, database, req.ID, 0)
	if err != nil {
		t.Fatalf("ApproveLine 0: %v", err)
	}
	if result.Request.State != model.RequestApproved {
		t.Errorf("expected approved, got %q", result.Request.State)
	}

	if _, err := ApproveLine(ctx, database, req.ID, 0); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition approving twice, got %v", err)
	}
	if _, err := ApproveLine(ctx, database, req.ID, 5); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing line, got %v", err)
	}

	result, err = ApproveLine(ctx, database, req.ID, 1)
	if err != nil {
		t.Fatalf("ApproveLine 1: %v", err)
	}
	if result.Request.State != model.RequestFulfilled {
		t.Errorf("expected fulfilled, got %q", result.Request.State)
	}
}

func TestCancelRequest(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	mouse := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	seedUnits(t, database, mouse, 2, "available", "good")

	open, _ := SubmitRequest(ctx, database, "u1", []model.RequestLineInput{{Key: mouse, Quantity: 1}})
	cancelled, err := CancelRequest(ctx, database, open.ID, "no longer needed")
	if err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if cancelled.State != model.RequestCancelled || cancelled.Reason != "no longer needed" {
		t.Errorf("unexpected request %+v", cancelled)
	}
	if _, err := ApproveLine(ctx, database, open.ID, 0); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition approving cancelled request, got %v", err)
	}

	partial, _ := SubmitRequest(ctx, database, "u1", []model.RequestLineInput{
		{Key: mouse, Quantity: 1},
		{Key: mouse, Quantity: 1},
	})
	ApproveLine(ctx, database, partial.ID, 0)
	if _, err := CancelRequest(ctx, database, partial.ID, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling after fulfillment, got %v", err)
	}

	if _, err := CancelRequest(ctx, database, "missing", ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectRequest(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	mouse := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	req, _ := SubmitRequest(ctx, database, "u1", []model.RequestLineInput{{Key: mouse, Quantity: 1}})

	rejected, err := RejectRequest(ctx, database, req.ID, "out of budget")
	if err != nil {
		t.Fatalf("RejectRequest: %v", err)
	}
	if rejected.State != model.RequestRejected {
		t.Errorf("expected rejected, got %q", rejected.State)
	}

	if _, err := RejectRequest(ctx, database, req.ID, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition rejecting twice, got %v", err)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		lines []model.RequestLineInput
	}{
		{"no lines", nil},
		{"zero quantity", []model.RequestLineInput{{Key: model.ItemTypeKey{Name: "Mouse", CategoryID: "p"}, Quantity: 0}}},
		{"missing category", []model.RequestLineInput{{Key: model.ItemTypeKey{Name: "Mouse"}, Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SubmitRequest(ctx, database, "u1", tt.lines); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestListRequestsResolvesDeletedRequester(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	bob, _ := CreateUser(ctx, database, "bob", "hash", model.RoleUser)
	UpdateUserProfile(ctx, database, bob.ID, model.UserProfile{DisplayName: "Bob Builder", Email: "bob@example.com"})

	mouse := model.ItemTypeKey{Name: "Mouse", CategoryID: "peripherals"}
	SubmitRequest(ctx, database, bob.ID, []model.RequestLineInput{{Key: mouse, Quantity: 1}})
	SubmitRequest(ctx, database, "u2", []model.RequestLineInput{{Key: mouse, Quantity: 1}})

	if err := DeleteUser(ctx, database, bob.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	requests, err := ListRequests(ctx, database, bob.ID, "")
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	r := requests[0].Requester
	if r == nil || r.Name != "Bob Builder" || r.Source != model.SourceSnapshot {
		t.Errorf("unexpected requester %+v", r)
	}

	pending, _ := ListRequests(ctx, database, "", model.RequestPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending requests, got %d", len(pending))
	}
}
