package model

import "time"

// Request states.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestFulfilled = "fulfilled"
	RequestRejected  = "rejected"
	RequestCancelled = "cancelled"
)

// Return states.
const (
	ReturnPending   = "pending_return"
	ReturnApproved  = "approved_return"
	ReturnFulfilled = "fulfilled_return"
)

// Line states, shared by request and return lines.
const (
	LinePending   = "pending"
	LineFulfilled = "fulfilled"
)

// Request asks for units of one or more item types to move from the pool to
// the requester.
type Request struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	State       string        `json:"state"`
	Reason      string        `json:"reason,omitempty"`
	Lines       []RequestLine `json:"lines"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// Joined fields (not always populated).
	Requester *DisplayAttributes `json:"requester,omitempty"`
}

// Approvable reports whether lines of the request may still be approved.
func (r Request) Approvable() bool {
	return r.State == RequestPending || r.State == RequestApproved
}

// HasFulfilledLine reports whether any line already moved units.
func (r Request) HasFulfilledLine() bool {
	for _, l := range r.Lines {
		if l.State == LineFulfilled {
			return true
		}
	}
	return false
}

// RequestLine is one (item type, quantity) pair of a request.
type RequestLine struct {
	Index       int         `json:"index"`
	Key         ItemTypeKey `json:"key"`
	Quantity    int         `json:"quantity"`
	State       string      `json:"state"`
	UnitIDs     []string    `json:"unit_ids,omitempty"`
	FulfilledAt *time.Time  `json:"fulfilled_at,omitempty"`
}

// RequestLineInput is a line as submitted.
type RequestLineInput struct {
	Key      ItemTypeKey `json:"key"`
	Quantity int         `json:"quantity"`
}

// ApproveResult reports what approving a request line did.
type ApproveResult struct {
	Request *Request   `json:"request"`
	Line    int        `json:"line"`
	Units   []ItemUnit `json:"units"`
}

// Return hands units owned by a user back to the pool.
type Return struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	State     string       `json:"state"`
	Lines     []ReturnLine `json:"lines"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	// Joined fields (not always populated).
	User *DisplayAttributes `json:"user,omitempty"`
}

// Approvable reports whether lines of the return may still be approved.
func (r Return) Approvable() bool {
	return r.State == ReturnPending || r.State == ReturnApproved
}

// ReturnLine is one unit being returned.
type ReturnLine struct {
	Index          int         `json:"index"`
	UnitID         string      `json:"unit_id"`
	Key            ItemTypeKey `json:"key"`
	State          string      `json:"state"`
	NewStatusID    string      `json:"new_status_id,omitempty"`
	NewConditionID string      `json:"new_condition_id,omitempty"`
	FulfilledAt    *time.Time  `json:"fulfilled_at,omitempty"`
}
