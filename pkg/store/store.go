package store

import (
	"errors"

	"github.com/paddockd/paddock/pkg/types"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the shared-store contract the controller coordinates through.
// Every statement is atomic on its own; there are no cross-statement
// transactions, and concurrent worker processes mutate the same records,
// so callers get last-write-wins on scalar fields and nothing more.
type Store interface {
	// Requests
	CreateRequest(req *types.Request) error
	RequestState(requestID string) (types.RequestState, error)
	// SetRequestState records the new state with the prior state
	// preserved atomically alongside it.
	SetRequestState(requestID string, state, prior types.RequestState) error
	// RequestDeleted reports whether the request row is gone. Deletion is
	// the platform's only cancellation signal.
	RequestDeleted(requestID string) (bool, error)
	DeleteRequest(requestID string) error

	// Reservations
	CreateReservation(res *types.Reservation) error
	Reservation(id string) (*types.Reservation, error)
	ReservationIDs(requestID string) ([]string, error)
	// RecordHeartbeat stamps the reservation's last-checked timestamp so
	// the external monitor does not spawn a duplicate worker.
	RecordHeartbeat(reservationID string) error

	// Computers
	CreateComputer(comp *types.Computer) error
	Computer(id string) (*types.Computer, error)
	ComputerState(computerID string) (types.ComputerState, error)
	SetComputerState(computerID string, state types.ComputerState) error

	// Load log
	AppendLoadLog(reservationID, computerID, stage, message string) error
	// StagesByReservation returns, for every reservation of the request,
	// the ordered list of stage names it has recorded.
	StagesByReservation(requestID string) (map[string][]string, error)
	// DeleteLoadLog bulk-deletes all entries with the given stage name
	// for the listed reservations.
	DeleteLoadLog(reservationIDs []string, stage string) error

	// Processing log
	CreateProcessingLog(requestID string) (int64, error)
	LatestProcessingLog(requestID string) (int64, error)
	MarkProcessingLogEnding(logID int64, value string) error

	// Block allocations
	AddBlockComputer(computerID, blockID string) error
	InBlockAllocation(computerID string) (bool, error)
	ClearBlockAllocation(computerID string) error

	// Utility
	Close() error
}
