package model

import (
	"fmt"
	"slices"
	"time"
)

// ItemTypeKey groups units into one aggregate: item name plus category id.
type ItemTypeKey struct {
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
}

func (k ItemTypeKey) String() string {
	return fmt.Sprintf("%s/%s", k.Name, k.CategoryID)
}

// Valid reports whether both components are set.
func (k ItemTypeKey) Valid() bool {
	return k.Name != "" && k.CategoryID != ""
}

// Ownership kinds.
const (
	OwnershipAdminPool = "admin_pool"
	OwnershipUserOwned = "user_owned"
)

// Ownership is either the shared admin pool or a single borrower.
type Ownership struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
}

// AdminPool returns the pool ownership value.
func AdminPool() Ownership {
	return Ownership{Kind: OwnershipAdminPool}
}

// OwnedBy returns ownership by the given user.
func OwnedBy(userID string) Ownership {
	return Ownership{Kind: OwnershipUserOwned, UserID: userID}
}

// ItemUnit is one physical or logical equipment unit.
type ItemUnit struct {
	ID          string      `json:"id"`
	Key         ItemTypeKey `json:"key"`
	Serial      string      `json:"serial,omitempty"`
	StatusID    string      `json:"status_id"`
	ConditionID string      `json:"condition_id"`
	Ownership   Ownership   `json:"ownership"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

// Live reports whether the unit has no tombstone.
func (u ItemUnit) Live() bool {
	return u.DeletedAt == nil
}

// NewUnit describes one unit to be created by intake.
type NewUnit struct {
	Serial      string `json:"serial"`
	StatusID    string `json:"status_id"`
	ConditionID string `json:"condition_id"`
}

// UnitFilter narrows live unit queries. Empty fields match everything.
type UnitFilter struct {
	OwnershipKind string
	UserID        string
	StatusID      string
	ConditionID   string
}

// Borrowability lists the taxonomy ids that make an admin-pool unit available.
type Borrowability struct {
	Statuses   []string `json:"statuses"`
	Conditions []string `json:"conditions"`
}

// Borrowable reports whether a unit in the given status and condition may be lent.
func (b Borrowability) Borrowable(statusID, conditionID string) bool {
	return slices.Contains(b.Statuses, statusID) && slices.Contains(b.Conditions, conditionID)
}

// Available reports whether the unit sits in the pool in a borrowable state.
func (b Borrowability) Available(u ItemUnit) bool {
	return u.Live() && u.Ownership.Kind == OwnershipAdminPool && b.Borrowable(u.StatusID, u.ConditionID)
}
