package model

import "time"

// RetentionPeriod is how long a soft-deleted unit stays restorable.
const RetentionPeriod = 30 * 24 * time.Hour

// RecycleBinEntry stages one deleted unit. Unit fields are copied so the entry
// stays readable while the unit itself is excluded from live views.
type RecycleBinEntry struct {
	ID                string      `json:"id"`
	UnitID            string      `json:"unit_id"`
	Key               ItemTypeKey `json:"key"`
	Serial            string      `json:"serial,omitempty"`
	StatusID          string      `json:"status_id"`
	ConditionID       string      `json:"condition_id"`
	Ownership         Ownership   `json:"ownership"`
	DeletedAt         time.Time   `json:"deleted_at"`
	PermanentDeleteAt time.Time   `json:"permanent_delete_at"`
	IsRestored        bool        `json:"is_restored"`
	RestoredAt        *time.Time  `json:"restored_at,omitempty"`
	GroupKey          string      `json:"group_key,omitempty"`
	GroupSize         int         `json:"group_size"`
	DeletedBy         string      `json:"deleted_by,omitempty"`
}

// Expired reports whether the entry is due for permanent removal at now.
func (e RecycleBinEntry) Expired(now time.Time) bool {
	return !e.IsRestored && !e.PermanentDeleteAt.After(now)
}

// SweepResult reports what a sweep permanently removed.
type SweepResult struct {
	DeletedCount int               `json:"deleted_count"`
	Items        []RecycleBinEntry `json:"items"`
}

// PurgeResult reports how many restored entries were cleared.
type PurgeResult struct {
	DeletedCount int `json:"deleted_count"`
}
