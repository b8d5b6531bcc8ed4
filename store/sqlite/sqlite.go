/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements carpool.Store (transactional writes), carpool.Reader (queries)
  and the ledger Store/Reader contracts on top of SQLite. The PostgreSQL
  store in store/postgres follows the same table layout.

INTERFACES IMPLEMENTED:
  carpool.Store:  WithTx, serialized by a process-wide write lock
  carpool.Tx:     Row reads and guarded updates inside one transaction
  carpool.Reader: Account, ride, booking and dispute queries
  ledger.Reader:  Balances and entry history

APPEND-ONLY ENFORCEMENT:
  credit_transactions has no UPDATE or DELETE path in this package, and
  triggers abort any attempt made directly against the database.

KEY TABLES:
  users:               Accounts and their credit balance
  rides:               Published rides with seat counters
  bookings:            One row per booked seat, price locked in
  credit_transactions: Immutable ledger of all balance changes
  disputes:            Disputes and their resolution

GUARDED UPDATES:
  Seat and status changes are conditional UPDATEs (seats_available > 0,
  status = 'confirmed', status IN (...)). A guard that matches no row is
  reported to the engine, which turns it into a domain error.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so two bookers of the last seat run one after the
  other.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/carpool.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := carpool.New(store)

SEE ALSO:
  - carpool/store.go: Interface definitions
  - store/postgres: Production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

var (
	_ carpool.Store  = (*Store)(nil)
	_ carpool.Reader = (*Store)(nil)
	_ carpool.Tx     = (*txStore)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		pseudo TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		credits INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rides (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL REFERENCES users(id),
		departure_city TEXT NOT NULL,
		arrival_city TEXT NOT NULL,
		departure_at TEXT NOT NULL,
		arrival_at TEXT,
		seats_total INTEGER NOT NULL CHECK (seats_total > 0),
		seats_available INTEGER NOT NULL
			CHECK (seats_available >= 0 AND seats_available <= seats_total),
		price_credits INTEGER NOT NULL CHECK (price_credits >= 0),
		status TEXT NOT NULL,
		actual_start_at TEXT,
		actual_end_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rides_search
		ON rides(departure_city, arrival_city, status);
	CREATE INDEX IF NOT EXISTS idx_rides_driver
		ON rides(driver_id);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		ride_id TEXT NOT NULL REFERENCES rides(id),
		passenger_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		credits_amount INTEGER NOT NULL CHECK (credits_amount >= 0),
		created_at TEXT NOT NULL,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_ride_status
		ON bookings(ride_id, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_passenger
		ON bookings(passenger_id);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('debit', 'credit', 'bonus', 'refund')),
		reference_kind TEXT NOT NULL,
		reference_id TEXT,
		description TEXT,
		balance_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_reference
		ON credit_transactions(reference_kind, reference_id);

	CREATE TRIGGER IF NOT EXISTS credit_transactions_no_update
		BEFORE UPDATE ON credit_transactions
		BEGIN SELECT RAISE(ABORT, 'credit_transactions is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS credit_transactions_no_delete
		BEFORE DELETE ON credit_transactions
		BEGIN SELECT RAISE(ABORT, 'credit_transactions is append-only'); END;

	CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		ride_id TEXT NOT NULL REFERENCES rides(id),
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		resolution_type TEXT,
		resolution_notes TEXT,
		amount INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT,
		escalation_reason TEXT,
		escalated_by TEXT,
		resolved_at TEXT,
		escalated_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_disputes_status
		ON disputes(status);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_booking
		ON disputes(booking_id);
`

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset drops and recreates every table (for tests and demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"disputes", "credit_transactions", "bookings", "rides", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return err
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONS (carpool.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx carpool.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore is the carpool.Tx bound to one *sql.Tx.
type txStore struct {
	q querier
}

// =============================================================================
// LEDGER (ledger.Store / ledger.Reader)
// =============================================================================

func (ts *txStore) AdjustBalance(ctx context.Context, id ledger.AccountID, delta ledger.Credits) (ledger.Credits, error) {
	var balance int64
	err := ts.q.QueryRowContext(ctx,
		"UPDATE users SET credits = credits + ? WHERE id = ? RETURNING credits",
		int64(delta), string(id),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return ledger.Credits(balance), nil
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, user_id, amount, type, reference_kind, reference_id, description, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.AccountID), int64(e.Amount), string(e.Type),
		string(e.Reference.Kind), nullString(e.Reference.ID), e.Description,
		int64(e.BalanceAfter), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrInvalidPosting
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Balance returns the stored credit balance of an account.
func (s *Store) Balance(ctx context.Context, id ledger.AccountID) (ledger.Credits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(ctx, id)
}

// Entries returns an account's ledger entries in insertion order.
func (s *Store) Entries(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries(ctx, id)
}

// Snapshot reads balance and entries under one read lock. Writers hold the
// write lock for their whole transaction, so no commit lands in between.
func (s *Store) Snapshot(ctx context.Context, id ledger.AccountID) (ledger.Credits, []ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, err := s.balance(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	entries, err := s.entries(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	return balance, entries, nil
}

func (s *Store) balance(ctx context.Context, id ledger.AccountID) (ledger.Credits, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", string(id)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return ledger.Credits(balance), nil
}

func (s *Store) entries(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, reference_kind, reference_id, description, balance_after, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY rowid`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var refID, description sql.NullString
		var amount, balanceAfter int64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.AccountID, &amount, &e.Type, &e.Reference.Kind,
			&refID, &description, &balanceAfter, &createdAt); err != nil {
			return nil, err
		}
		e.Amount = ledger.Credits(amount)
		e.BalanceAfter = ledger.Credits(balanceAfter)
		e.Reference.ID = refID.String
		e.Description = description.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = "id, pseudo, email, password_hash, role, credits, created_at"

func (ts *txStore) InsertAccount(ctx context.Context, a carpool.Account) error {
	_, err := ts.q.ExecContext(ctx,
		"INSERT INTO users ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		string(a.ID), a.Pseudo, a.Email, a.PasswordHash, string(a.Role),
		int64(a.Credits), formatTime(a.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return carpool.ErrDuplicateAccount
	}
	return err
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*carpool.Account, error) {
	return getAccount(ctx, ts.q, "id = ?", string(id))
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*carpool.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, "id = ?", string(id))
}

// GetAccountByEmail retrieves an account by its (lower-cased) email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*carpool.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, "email = ?", strings.ToLower(email))
}

// ListAccountIDs returns every account id, oldest first.
func (s *Store) ListAccountIDs(ctx context.Context) ([]ledger.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ledger.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.AccountID(id))
	}
	return ids, rows.Err()
}

func getAccount(ctx context.Context, q querier, where string, arg any) (*carpool.Account, error) {
	var a carpool.Account
	var credits int64
	var createdAt string
	err := q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE "+where, arg).
		Scan(&a.ID, &a.Pseudo, &a.Email, &a.PasswordHash, &a.Role, &credits, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Credits = ledger.Credits(credits)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// RIDES
// =============================================================================

const rideColumns = `id, driver_id, departure_city, arrival_city, departure_at, arrival_at,
	seats_total, seats_available, price_credits, status, actual_start_at, actual_end_at, created_at`

func (ts *txStore) InsertRide(ctx context.Context, r carpool.Ride) error {
	now := formatTime(r.CreatedAt)
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO rides (`+rideColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.DriverID), r.DepartureCity, r.ArrivalCity,
		formatTime(r.DepartureAt), nullTime(&r.ArrivalAt),
		r.SeatsTotal, r.SeatsAvailable, int64(r.PriceCredits), string(r.Status),
		nullTime(r.ActualStartAt), nullTime(r.ActualEndAt), now, now,
	)
	return err
}

func (ts *txStore) GetRide(ctx context.Context, id string) (*carpool.Ride, error) {
	return scanRide(ts.q.QueryRowContext(ctx, "SELECT "+rideColumns+" FROM rides WHERE id = ?", id))
}

func (ts *txStore) TakeSeat(ctx context.Context, rideID string) (int, error) {
	var seats int
	err := ts.q.QueryRowContext(ctx, `
		UPDATE rides SET seats_available = seats_available - 1, updated_at = ?
		WHERE id = ? AND seats_available > 0
		RETURNING seats_available`,
		formatTime(time.Now()), rideID,
	).Scan(&seats)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, carpool.ErrNoSeatsAvailable
	}
	return seats, err
}

func (ts *txStore) ReleaseSeat(ctx context.Context, rideID string) (int, error) {
	var seats int
	err := ts.q.QueryRowContext(ctx, `
		UPDATE rides SET seats_available = MIN(seats_available + 1, seats_total), updated_at = ?
		WHERE id = ?
		RETURNING seats_available`,
		formatTime(time.Now()), rideID,
	).Scan(&seats)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, carpool.ErrRideNotFound
	}
	return seats, err
}

func (ts *txStore) UpdateRideStatus(ctx context.Context, rideID string, from []carpool.RideStatus, to carpool.RideStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := "status = ?, updated_at = ?"
	args := []any{string(to), formatTime(at)}
	switch to {
	case carpool.RideInProgress:
		set += ", actual_start_at = ?"
		args = append(args, formatTime(at))
	case carpool.RideCompleted:
		set += ", actual_end_at = ?"
		args = append(args, formatTime(at))
	case carpool.RideCancelled:
		set += ", seats_available = seats_total"
	}

	args = append(args, rideID)
	for _, st := range from {
		args = append(args, string(st))
	}
	query := "UPDATE rides SET " + set + " WHERE id = ? AND status IN (" + placeholders(len(from)) + ")"

	res, err := ts.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// GetRide retrieves a ride by ID.
func (s *Store) GetRide(ctx context.Context, id string) (*carpool.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanRide(s.db.QueryRowContext(ctx, "SELECT "+rideColumns+" FROM rides WHERE id = ?", id))
}

// ListRides returns rides matching filter, soonest departure first.
func (s *Store) ListRides(ctx context.Context, f carpool.RideFilter) ([]carpool.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.DepartureCity != "" {
		where = append(where, "departure_city = ? COLLATE NOCASE")
		args = append(args, f.DepartureCity)
	}
	if f.ArrivalCity != "" {
		where = append(where, "arrival_city = ? COLLATE NOCASE")
		args = append(args, f.ArrivalCity)
	}
	if f.MaxPrice > 0 {
		where = append(where, "price_credits <= ?")
		args = append(args, int64(f.MaxPrice))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = ?")
		args = append(args, string(f.DriverID))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	query := "SELECT " + rideColumns + " FROM rides"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY departure_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []carpool.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, *r)
	}
	return rides, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(row scanner) (*carpool.Ride, error) {
	var r carpool.Ride
	var departureAt, createdAt string
	var arrivalAt, startedAt, endedAt sql.NullString
	var price int64
	err := row.Scan(&r.ID, &r.DriverID, &r.DepartureCity, &r.ArrivalCity, &departureAt, &arrivalAt,
		&r.SeatsTotal, &r.SeatsAvailable, &price, &r.Status, &startedAt, &endedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.PriceCredits = ledger.Credits(price)
	r.DepartureAt = parseTime(departureAt)
	if arrivalAt.Valid {
		r.ArrivalAt = parseTime(arrivalAt.String)
	}
	r.ActualStartAt = parseNullTime(startedAt)
	r.ActualEndAt = parseNullTime(endedAt)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = "id, ride_id, passenger_id, status, credits_amount, created_at, cancelled_at"

func (ts *txStore) InsertBooking(ctx context.Context, b carpool.Booking) error {
	_, err := ts.q.ExecContext(ctx,
		"INSERT INTO bookings ("+bookingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.RideID, string(b.PassengerID), string(b.Status),
		int64(b.CreditsAmount), formatTime(b.CreatedAt), nullTime(b.CancelledAt),
	)
	return err
}

func (ts *txStore) GetBooking(ctx context.Context, id string) (*carpool.Booking, error) {
	return scanBooking(ts.q.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id))
}

func (ts *txStore) CancelBooking(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := ts.q.ExecContext(ctx,
		"UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?",
		string(carpool.BookingCancelled), formatTime(at), id, string(carpool.BookingConfirmed),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (ts *txStore) ConfirmedBookings(ctx context.Context, rideID string) ([]carpool.Booking, error) {
	return queryBookings(ctx, ts.q, "ride_id = ? AND status = ?", rideID, string(carpool.BookingConfirmed))
}

// GetBooking retrieves a booking by ID.
func (s *Store) GetBooking(ctx context.Context, id string) (*carpool.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanBooking(s.db.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id))
}

// RideBookings returns every booking of a ride, in booking order.
func (s *Store) RideBookings(ctx context.Context, rideID string) ([]carpool.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBookings(ctx, s.db, "ride_id = ?", rideID)
}

// PassengerBookings returns every booking made by a passenger.
func (s *Store) PassengerBookings(ctx context.Context, passengerID ledger.AccountID) ([]carpool.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBookings(ctx, s.db, "passenger_id = ?", string(passengerID))
}

func queryBookings(ctx context.Context, q querier, where string, args ...any) ([]carpool.Booking, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE "+where+" ORDER BY created_at, rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []carpool.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanBooking(row scanner) (*carpool.Booking, error) {
	var b carpool.Booking
	var amount int64
	var createdAt string
	var cancelledAt sql.NullString
	err := row.Scan(&b.ID, &b.RideID, &b.PassengerID, &b.Status, &amount, &createdAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.CreditsAmount = ledger.Credits(amount)
	b.CreatedAt = parseTime(createdAt)
	b.CancelledAt = parseNullTime(cancelledAt)
	return &b, nil
}

// =============================================================================
// DISPUTES
// =============================================================================

const disputeColumns = `id, ride_id, booking_id, reason, status, resolution_type, resolution_notes, amount,
	resolved_by, escalation_reason, escalated_by, resolved_at, escalated_at, created_at`

func (ts *txStore) InsertDispute(ctx context.Context, d carpool.Dispute) error {
	_, err := ts.q.ExecContext(ctx,
		"INSERT INTO disputes ("+disputeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ID, d.RideID, d.BookingID, d.Reason, string(d.Status),
		nullString(string(d.ResolutionType)), nullString(d.ResolutionNotes), int64(d.Amount),
		nullString(d.ResolvedBy), nullString(d.EscalationReason), nullString(d.EscalatedBy),
		nullTime(d.ResolvedAt), nullTime(d.EscalatedAt), formatTime(d.CreatedAt),
	)
	return err
}

func (ts *txStore) GetDispute(ctx context.Context, id string) (*carpool.Dispute, error) {
	return scanDispute(ts.q.QueryRowContext(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = ?", id))
}

func (ts *txStore) BookingDispute(ctx context.Context, bookingID string) (*carpool.Dispute, error) {
	return scanDispute(ts.q.QueryRowContext(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE booking_id = ?", bookingID))
}

func (ts *txStore) ResolveDispute(ctx context.Context, d carpool.Dispute) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE disputes
		SET status = ?, resolution_type = ?, resolution_notes = ?, amount = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(carpool.DisputeResolved), string(d.ResolutionType), nullString(d.ResolutionNotes),
		int64(d.Amount), nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.ID, string(carpool.DisputeOpen), string(carpool.DisputeEscalated),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (ts *txStore) EscalateDispute(ctx context.Context, d carpool.Dispute) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE disputes
		SET status = ?, escalation_reason = ?, escalated_by = ?, escalated_at = ?
		WHERE id = ? AND status = ?`,
		string(carpool.DisputeEscalated), d.EscalationReason, nullString(d.EscalatedBy),
		nullTime(d.EscalatedAt), d.ID, string(carpool.DisputeOpen),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// GetDispute retrieves a dispute by ID.
func (s *Store) GetDispute(ctx context.Context, id string) (*carpool.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanDispute(s.db.QueryRowContext(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = ?", id))
}

// ListDisputes returns disputes in any of statuses (all when none given),
// oldest first.
func (s *Store) ListDisputes(ctx context.Context, statuses ...carpool.DisputeStatus) ([]carpool.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + disputeColumns + " FROM disputes"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []carpool.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}

func scanDispute(row scanner) (*carpool.Dispute, error) {
	var d carpool.Dispute
	var resolutionType, notes, resolvedBy, escalationReason, escalatedBy sql.NullString
	var resolvedAt, escalatedAt sql.NullString
	var amount int64
	var createdAt string
	err := row.Scan(&d.ID, &d.RideID, &d.BookingID, &d.Reason, &d.Status, &resolutionType, &notes, &amount,
		&resolvedBy, &escalationReason, &escalatedBy, &resolvedAt, &escalatedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.ResolutionType = carpool.ResolutionType(resolutionType.String)
	d.ResolutionNotes = notes.String
	d.Amount = ledger.Credits(amount)
	d.ResolvedBy = resolvedBy.String
	d.EscalationReason = escalationReason.String
	d.EscalatedBy = escalatedBy.String
	d.ResolvedAt = parseNullTime(resolvedAt)
	d.EscalatedAt = parseNullTime(escalatedAt)
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
