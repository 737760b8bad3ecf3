package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paddockd/paddock/pkg/types"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a SQLite database file shared by all
// worker processes on the host. WAL mode keeps readers unblocked while
// one writer at a time applies its statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates, if needed) the shared database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a single connection per process avoids
	// in-process lock churn on top of the cross-process file lock.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			laststate TEXT NOT NULL DEFAULT '',
			block_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			computer_id TEXT NOT NULL,
			role TEXT NOT NULL,
			last_checked TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_request ON reservations(request_id)`,
		`CREATE TABLE IF NOT EXISTS computers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			virtual_host TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS load_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			reservation_id TEXT NOT NULL,
			computer_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_load_log_reservation ON load_log(reservation_id)`,
		`CREATE TABLE IF NOT EXISTS processing_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			ending TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processing_log_request ON processing_log(request_id)`,
		`CREATE TABLE IF NOT EXISTS block_computers (
			computer_id TEXT PRIMARY KEY,
			block_id TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeFormat = time.RFC3339Nano

// Request operations

func (s *SQLiteStore) CreateRequest(req *types.Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO requests (id, state, laststate, block_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		req.ID, string(req.State), string(req.LastState), req.BlockID, req.CreatedAt.Format(timeFormat),
	)
	return err
}

func (s *SQLiteStore) RequestState(requestID string) (types.RequestState, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM requests WHERE id = ?`, requestID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return types.RequestState(state), nil
}

func (s *SQLiteStore) SetRequestState(requestID string, state, prior types.RequestState) error {
	res, err := s.db.Exec(
		`UPDATE requests SET state = ?, laststate = ? WHERE id = ?`,
		string(state), string(prior), requestID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RequestDeleted(requestID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM requests WHERE id = ?`, requestID).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) DeleteRequest(requestID string) error {
	_, err := s.db.Exec(`DELETE FROM requests WHERE id = ?`, requestID)
	return err
}

// Reservation operations

func (s *SQLiteStore) CreateReservation(res *types.Reservation) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO reservations (id, request_id, computer_id, role, last_checked, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		res.ID, res.RequestID, res.ComputerID, string(res.Role), "", res.CreatedAt.Format(timeFormat),
	)
	return err
}

func (s *SQLiteStore) Reservation(id string) (*types.Reservation, error) {
	var res types.Reservation
	var role, lastChecked, createdAt string
	err := s.db.QueryRow(
		`SELECT id, request_id, computer_id, role, last_checked, created_at FROM reservations WHERE id = ?`,
		id,
	).Scan(&res.ID, &res.RequestID, &res.ComputerID, &role, &lastChecked, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.Role = types.ReservationRole(role)
	if lastChecked != "" {
		res.LastChecked, _ = time.Parse(timeFormat, lastChecked)
	}
	res.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &res, nil
}

func (s *SQLiteStore) ReservationIDs(requestID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM reservations WHERE request_id = ? ORDER BY created_at, id`, requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) RecordHeartbeat(reservationID string) error {
	res, err := s.db.Exec(
		`UPDATE reservations SET last_checked = ? WHERE id = ?`,
		time.Now().Format(timeFormat), reservationID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Computer operations

func (s *SQLiteStore) CreateComputer(comp *types.Computer) error {
	if comp.CreatedAt.IsZero() {
		comp.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO computers (id, name, state, virtual_host, created_at) VALUES (?, ?, ?, ?, ?)`,
		comp.ID, comp.Name, string(comp.State), comp.VirtualHost, comp.CreatedAt.Format(timeFormat),
	)
	return err
}

func (s *SQLiteStore) Computer(id string) (*types.Computer, error) {
	var comp types.Computer
	var state, createdAt string
	err := s.db.QueryRow(
		`SELECT id, name, state, virtual_host, created_at FROM computers WHERE id = ?`, id,
	).Scan(&comp.ID, &comp.Name, &state, &comp.VirtualHost, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	comp.State = types.ComputerState(state)
	comp.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &comp, nil
}

func (s *SQLiteStore) ComputerState(computerID string) (types.ComputerState, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM computers WHERE id = ?`, computerID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return types.ComputerState(state), nil
}

func (s *SQLiteStore) SetComputerState(computerID string, state types.ComputerState) error {
	res, err := s.db.Exec(
		`UPDATE computers SET state = ? WHERE id = ?`, string(state), computerID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Load log operations

func (s *SQLiteStore) AppendLoadLog(reservationID, computerID, stage, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO load_log (id, reservation_id, computer_id, stage, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), reservationID, computerID, stage, message, time.Now().Format(timeFormat),
	)
	return err
}

func (s *SQLiteStore) StagesByReservation(requestID string) (map[string][]string, error) {
	// Every reservation of the request appears in the result, with or
	// without recorded stages, so the barrier sees siblings that have
	// not reached any stage yet.
	ids, err := s.ReservationIDs(requestID)
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(ids))
	for _, id := range ids {
		stages[id] = nil
	}

	rows, err := s.db.Query(
		`SELECT l.reservation_id, l.stage
		 FROM load_log l
		 JOIN reservations r ON r.id = l.reservation_id
		 WHERE r.request_id = ?
		 ORDER BY l.seq`, requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var resID, stage string
		if err := rows.Scan(&resID, &stage); err != nil {
			return nil, err
		}
		stages[resID] = append(stages[resID], stage)
	}
	return stages, rows.Err()
}

func (s *SQLiteStore) DeleteLoadLog(reservationIDs []string, stage string) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	// Per-statement deletes keep each mutation atomic on its own, per
	// the shared-store model.
	for _, id := range reservationIDs {
		if _, err := s.db.Exec(
			`DELETE FROM load_log WHERE reservation_id = ? AND stage = ?`, id, stage,
		); err != nil {
			return err
		}
	}
	return nil
}

// Processing log operations

func (s *SQLiteStore) CreateProcessingLog(requestID string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO processing_log (request_id, ending, created_at) VALUES (?, '', ?)`,
		requestID, time.Now().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestProcessingLog(requestID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM processing_log WHERE request_id = ? ORDER BY id DESC LIMIT 1`, requestID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) MarkProcessingLogEnding(logID int64, value string) error {
	res, err := s.db.Exec(
		`UPDATE processing_log SET ending = ? WHERE id = ?`, value, logID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Block allocation operations

func (s *SQLiteStore) AddBlockComputer(computerID, blockID string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO block_computers (computer_id, block_id) VALUES (?, ?)`,
		computerID, blockID,
	)
	return err
}

func (s *SQLiteStore) InBlockAllocation(computerID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM block_computers WHERE computer_id = ?`, computerID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) ClearBlockAllocation(computerID string) error {
	_, err := s.db.Exec(`DELETE FROM block_computers WHERE computer_id = ?`, computerID)
	return err
}
