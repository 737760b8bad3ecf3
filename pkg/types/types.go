package types

import (
	"time"
)

// Request represents a user's provisioning ask, possibly spanning
// multiple computers.
type Request struct {
	ID        string
	State     RequestState
	LastState RequestState // previous state, preserved when transitioning to failed
	BlockID   string       // block allocation membership, empty if none
	CreatedAt time.Time
}

// RequestState represents the current state of a request
type RequestState string

const (
	RequestStateNew        RequestState = "new"
	RequestStatePending    RequestState = "pending"
	RequestStateInstalling RequestState = "installing"
	RequestStateReady      RequestState = "ready"
	RequestStateComplete   RequestState = "complete"
	RequestStateFailed     RequestState = "failed"
)

// InFlightRequestStates is the subset of request states that mean active
// processing, not already terminal. The failure cascade only marks the
// processing log's ending when the request is in one of these.
var InFlightRequestStates = map[RequestState]bool{
	RequestStatePending:    true,
	RequestStateInstalling: true,
}

// Reservation is one computer's slice of a request. Exactly one
// reservation per request carries RoleParent; a single-reservation
// request's sole reservation is implicitly the parent.
type Reservation struct {
	ID          string
	RequestID   string
	ComputerID  string
	Role        ReservationRole
	LastChecked time.Time // liveness heartbeat stamp
	CreatedAt   time.Time
}

// ReservationRole defines the coordination role of a reservation
type ReservationRole string

const (
	RoleParent ReservationRole = "parent"
	RoleChild  ReservationRole = "child"
)

// IsParent reports whether this reservation coordinates its request.
func (r *Reservation) IsParent() bool {
	return r.Role == RoleParent
}

// Computer is a physical or virtual resource fulfilling a reservation.
type Computer struct {
	ID          string
	Name        string
	State       ComputerState
	VirtualHost string // hypervisor address when VM-backed, empty for bare metal
	CreatedAt   time.Time
}

// ComputerState represents the current state of a computer
type ComputerState string

const (
	ComputerStateAvailable ComputerState = "available"
	ComputerStateReserved  ComputerState = "reserved"
	ComputerStateFailed    ComputerState = "failed"

	// ComputerStateMaintenance reflects an out-of-band administrative
	// hold. Automated failed/available transitions never overwrite it.
	ComputerStateMaintenance ComputerState = "maintenance"
)

// LoadLogEntry is an append-only, per-reservation record pairing a stage
// name with a timestamp. The ordered sequence of stage names per
// reservation is the progress record consulted by the barrier; entries
// are never mutated, only appended or bulk-deleted by stage name.
type LoadLogEntry struct {
	ID            string
	ReservationID string
	ComputerID    string
	Stage         string
	Message       string
	CreatedAt     time.Time
}

// Well-known stage names. Processing code appends backend-specific stage
// names beyond these.
const (
	StageBegin  = "begin"
	StageReady  = "ready"
	StageFailed = "failed"
)

// ProcessingLog records one processing run of a request. The cascade
// marks Ending as failed when the request was in flight.
type ProcessingLog struct {
	ID        int64
	RequestID string
	Ending    string
	CreatedAt time.Time
}

// ProcessingLogEndingFailed marks a processing run that ended in the
// failure cascade.
const ProcessingLogEndingFailed = "failed"

// BlockComputerMembership marks that a computer is held for a
// pre-provisioned block allocation. Consulted and cleared by the failure
// cascade, never created by the controller.
type BlockComputerMembership struct {
	ComputerID string
	BlockID    string
}
