package model

import (
	"errors"
	"fmt"
)

// Engine errors. Store functions wrap these so callers can test with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateSerial       = errors.New("duplicate serial")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrNotOwner              = errors.New("not owner")
	ErrNotTombstoned         = errors.New("not tombstoned")
	ErrPartiallyPurged       = errors.New("partially purged")
)

// ShortfallError is returned when a claim cannot take the requested count.
type ShortfallError struct {
	Key       ItemTypeKey
	Requested int
	Available int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %d, available %d", e.Key, e.Requested, e.Available)
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientInventory }

// AggregateError is returned when a mutation succeeded but refreshing the
// aggregate for Key failed. The aggregate is stale until the next recompute.
type AggregateError struct {
	Key ItemTypeKey
	Err error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("aggregate %s is stale: %v", e.Key, e.Err)
}

func (e *AggregateError) Unwrap() error { return e.Err }
