package model

import "time"

// AggregateRecord is the derived per-item-type summary of live units.
// It is correct right after a recompute and may lag behind unit mutations
// until the next one.
type AggregateRecord struct {
	Key                ItemTypeKey    `json:"key"`
	TotalQuantity      int            `json:"total_quantity"`
	AvailableQuantity  int            `json:"available_quantity"`
	UserOwnedQuantity  int            `json:"user_owned_quantity"`
	StatusBreakdown    map[string]int `json:"status_breakdown"`
	ConditionBreakdown map[string]int `json:"condition_breakdown"`
	UnitIDs            []string       `json:"unit_ids"`
	Stale              bool           `json:"stale"`
	ComputedAt         time.Time      `json:"computed_at"`
}

// BuildAggregate derives a record from the live units of one item type.
// Tombstoned units and units of other types are ignored.
func BuildAggregate(key ItemTypeKey, units []ItemUnit, b Borrowability, now time.Time) AggregateRecord {
	rec := AggregateRecord{
		Key:                key,
		StatusBreakdown:    map[string]int{},
		ConditionBreakdown: map[string]int{},
		UnitIDs:            []string{},
		ComputedAt:         now,
	}
	for _, u := range units {
		if !u.Live() || u.Key != key {
			continue
		}
		rec.TotalQuantity++
		rec.UnitIDs = append(rec.UnitIDs, u.ID)
		rec.StatusBreakdown[u.StatusID]++
		rec.ConditionBreakdown[u.ConditionID]++
		switch {
		case u.Ownership.Kind == OwnershipUserOwned:
			rec.UserOwnedQuantity++
		case b.Available(u):
			rec.AvailableQuantity++
		}
	}
	return rec
}
