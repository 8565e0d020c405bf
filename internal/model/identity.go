package model

import "time"

// IdentityKind selects which primary table an identity id refers to.
type IdentityKind string

// Identity kinds.
const (
	IdentityUser   IdentityKind = "user"
	IdentityOffice IdentityKind = "office"
)

// Valid reports whether k is a known kind.
func (k IdentityKind) Valid() bool {
	return k == IdentityUser || k == IdentityOffice
}

// Where resolved display attributes came from.
const (
	SourcePrimary  = "primary"
	SourceSnapshot = "snapshot"
	SourceUnknown  = "unknown"
)

// DisplayAttributes is what historical records show for an identity.
type DisplayAttributes struct {
	Kind       IdentityKind `json:"kind"`
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Email      string       `json:"email,omitempty"`
	Phone      string       `json:"phone,omitempty"`
	Department string       `json:"department,omitempty"`
	Office     string       `json:"office,omitempty"`
	Source     string       `json:"source"`
}

// IdentitySnapshot is a copy of display attributes taken right before the
// primary record was deleted.
type IdentitySnapshot struct {
	ID         int64             `json:"id"`
	Kind       IdentityKind      `json:"kind"`
	IdentityID string            `json:"identity_id"`
	Attributes DisplayAttributes `json:"attributes"`
	CapturedAt time.Time         `json:"captured_at"`
}

// UnknownIdentity is the placeholder shown when neither the primary record
// nor a snapshot exists.
func UnknownIdentity(kind IdentityKind, id string) DisplayAttributes {
	name := "Unknown identity"
	switch kind {
	case IdentityUser:
		name = "Unknown user"
	case IdentityOffice:
		name = "Unknown office"
	}
	return DisplayAttributes{Kind: kind, ID: id, Name: name, Source: SourceUnknown}
}
