/*
Package postgres provides the PostgreSQL implementation of the carpool
storage interfaces.

It mirrors store/sqlite table for table. The difference is concurrency:
instead of a process lock, every row the engine reads inside WithTx is taken
with SELECT ... FOR UPDATE, so two servers sharing one database still cannot
oversell a ride, overdraw an account or refund a booking twice.

USAGE:
  store, err := postgres.New(ctx, postgres.Config{DSN: dsn}, logger)
  if err != nil {
      return err
  }
  defer store.Close()

  if err := store.Migrate(ctx); err != nil {
      return err
  }
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ carpool.Store  = (*Store)(nil)
	_ carpool.Reader = (*Store)(nil)
	_ carpool.Tx     = (*txStore)(nil)
)

// Config holds pool settings. Zero values fall back to defaults.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a connection pool and pings the database.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("database pool closed")
}

// Migrate applies every embedded migration in lexicographic order, each in
// its own transaction. Migrations are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s failed: %w", name, err)
		}
		s.logger.Debug("migration applied", "file", name)
	}
	return nil
}

// Reset empties every table (for tests and demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		"TRUNCATE disputes, credit_transactions, bookings, rides, users RESTART IDENTITY CASCADE")
	return err
}

// WithTx runs fn in a READ COMMITTED transaction. Rows read through the Tx
// stay locked until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx carpool.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	q querier
}

// =============================================================================
// LEDGER
// =============================================================================

func (ts *txStore) AdjustBalance(ctx context.Context, id ledger.AccountID, delta ledger.Credits) (ledger.Credits, error) {
	var balance int64
	err := ts.q.QueryRow(ctx,
		"UPDATE users SET credits = credits + $1 WHERE id = $2 RETURNING credits",
		int64(delta), string(id),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return ledger.Credits(balance), nil
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO credit_transactions
		(id, user_id, amount, type, reference_kind, reference_id, description, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.ID), string(e.AccountID), int64(e.Amount), string(e.Type),
		string(e.Reference.Kind), nullString(e.Reference.ID), e.Description,
		int64(e.BalanceAfter), e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ledger.ErrInvalidPosting
	}
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, id ledger.AccountID) (ledger.Credits, error) {
	return readBalance(ctx, s.pool, id)
}

func (s *Store) Entries(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	return readEntries(ctx, s.pool, id)
}

// Snapshot reads the balance and the entries of an account in one
// REPEATABLE READ transaction, so both see the same commits.
func (s *Store) Snapshot(ctx context.Context, id ledger.AccountID) (ledger.Credits, []ledger.Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := readBalance(ctx, tx, id)
	if err != nil {
		return 0, nil, err
	}
	entries, err := readEntries(ctx, tx, id)
	if err != nil {
		return 0, nil, err
	}
	return balance, entries, nil
}

func readBalance(ctx context.Context, q querier, id ledger.AccountID) (ledger.Credits, error) {
	var balance int64
	err := q.QueryRow(ctx, "SELECT credits FROM users WHERE id = $1", string(id)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return ledger.Credits(balance), nil
}

func readEntries(ctx context.Context, q querier, id ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, amount, type, reference_kind, reference_id, description, balance_after, created_at
		FROM credit_transactions WHERE user_id = $1 ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			entryID, accountID, typ, refKind string
			refID, description               *string
			amount, balanceAfter             int64
			createdAt                        time.Time
		)
		if err := rows.Scan(&entryID, &accountID, &amount, &typ, &refKind,
			&refID, &description, &balanceAfter, &createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, ledger.Entry{
			ID:           ledger.EntryID(entryID),
			AccountID:    ledger.AccountID(accountID),
			Amount:       ledger.Credits(amount),
			Type:         ledger.EntryType(typ),
			Reference:    ledger.Reference{Kind: ledger.ReferenceKind(refKind), ID: deref(refID)},
			Description:  deref(description),
			BalanceAfter: ledger.Credits(balanceAfter),
			CreatedAt:    createdAt.UTC(),
		})
	}
	return entries, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = "id, pseudo, email, password_hash, role, credits, created_at"

func (ts *txStore) InsertAccount(ctx context.Context, a carpool.Account) error {
	_, err := ts.q.Exec(ctx,
		"INSERT INTO users ("+accountColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		string(a.ID), a.Pseudo, a.Email, a.PasswordHash, string(a.Role), int64(a.Credits), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return carpool.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetAccount locks the account row so sufficiency checks hold until commit.
func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*carpool.Account, error) {
	return getAccount(ctx, ts.q, "id = $1 FOR UPDATE", string(id))
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*carpool.Account, error) {
	return getAccount(ctx, s.pool, "id = $1", string(id))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*carpool.Account, error) {
	return getAccount(ctx, s.pool, "email = $1", strings.ToLower(email))
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]ledger.AccountID, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM users ORDER BY created_at, id")
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
	var id, role string
	var credits int64
	var a carpool.Account
	err := q.QueryRow(ctx, "SELECT "+accountColumns+" FROM users WHERE "+where, arg).
		Scan(&id, &a.Pseudo, &a.Email, &a.PasswordHash, &role, &credits, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.ID = ledger.AccountID(id)
	a.Role = carpool.Role(role)
	a.Credits = ledger.Credits(credits)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// =============================================================================
// RIDES
// =============================================================================

const rideColumns = `id, driver_id, departure_city, arrival_city, departure_at, arrival_at,
	seats_total, seats_available, price_credits, status, actual_start_at, actual_end_at, created_at`

func (ts *txStore) InsertRide(ctx context.Context, r carpool.Ride) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		r.ID, string(r.DriverID), r.DepartureCity, r.ArrivalCity, r.DepartureAt, nullTime(&r.ArrivalAt),
		r.SeatsTotal, r.SeatsAvailable, int64(r.PriceCredits), string(r.Status),
		nullTime(r.ActualStartAt), nullTime(r.ActualEndAt), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (ts *txStore) GetRide(ctx context.Context, id string) (*carpool.Ride, error) {
	return scanRide(ts.q.QueryRow(ctx, "SELECT "+rideColumns+" FROM rides WHERE id = $1 FOR UPDATE", id))
}

func (ts *txStore) TakeSeat(ctx context.Context, rideID string) (int, error) {
	var seats int
	err := ts.q.QueryRow(ctx, `
		UPDATE rides SET seats_available = seats_available - 1, updated_at = NOW()
		WHERE id = $1 AND seats_available > 0
		RETURNING seats_available`, rideID,
	).Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, carpool.ErrNoSeatsAvailable
	}
	return seats, err
}

func (ts *txStore) ReleaseSeat(ctx context.Context, rideID string) (int, error) {
	var seats int
	err := ts.q.QueryRow(ctx, `
		UPDATE rides SET seats_available = LEAST(seats_available + 1, seats_total), updated_at = NOW()
		WHERE id = $1
		RETURNING seats_available`, rideID,
	).Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, carpool.ErrRideNotFound
	}
	return seats, err
}

func (ts *txStore) UpdateRideStatus(ctx context.Context, rideID string, from []carpool.RideStatus, to carpool.RideStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := "status = $1, updated_at = $2"
	switch to {
	case carpool.RideInProgress:
		set += ", actual_start_at = $2"
	case carpool.RideCompleted:
		set += ", actual_end_at = $2"
	case carpool.RideCancelled:
		set += ", seats_available = seats_total"
	}

	tag, err := ts.q.Exec(ctx,
		"UPDATE rides SET "+set+" WHERE id = $3 AND status = ANY($4)",
		string(to), at, rideID, rideStatusStrings(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetRide(ctx context.Context, id string) (*carpool.Ride, error) {
	return scanRide(s.pool.QueryRow(ctx, "SELECT "+rideColumns+" FROM rides WHERE id = $1", id))
}

func (s *Store) ListRides(ctx context.Context, f carpool.RideFilter) ([]carpool.Ride, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DepartureCity != "" {
		where = append(where, "lower(departure_city) = lower("+arg(f.DepartureCity)+")")
	}
	if f.ArrivalCity != "" {
		where = append(where, "lower(arrival_city) = lower("+arg(f.ArrivalCity)+")")
	}
	if f.MaxPrice > 0 {
		where = append(where, "price_credits <= "+arg(int64(f.MaxPrice)))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = "+arg(string(f.DriverID)))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(rideStatusStrings(f.Statuses))+")")
	}

	query := "SELECT " + rideColumns + " FROM rides"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY departure_at, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanRide(row pgx.Row) (*carpool.Ride, error) {
	var r carpool.Ride
	var driverID, status string
	var price int64
	var arrivalAt, startedAt, endedAt *time.Time
	err := row.Scan(&r.ID, &driverID, &r.DepartureCity, &r.ArrivalCity, &r.DepartureAt, &arrivalAt,
		&r.SeatsTotal, &r.SeatsAvailable, &price, &status, &startedAt, &endedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = ledger.AccountID(driverID)
	r.Status = carpool.RideStatus(status)
	r.PriceCredits = ledger.Credits(price)
	r.DepartureAt = r.DepartureAt.UTC()
	if arrivalAt != nil {
		r.ArrivalAt = arrivalAt.UTC()
	}
	r.ActualStartAt = utcPtr(startedAt)
	r.ActualEndAt = utcPtr(endedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = "id, ride_id, passenger_id, status, credits_amount, created_at, cancelled_at"

func (ts *txStore) InsertBooking(ctx context.Context, b carpool.Booking) error {
	_, err := ts.q.Exec(ctx,
		"INSERT INTO bookings ("+bookingColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		b.ID, b.RideID, string(b.PassengerID), string(b.Status), int64(b.CreditsAmount),
		b.CreatedAt, nullTime(b.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (ts *txStore) GetBooking(ctx context.Context, id string) (*carpool.Booking, error) {
	return scanBooking(ts.q.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id))
}

func (ts *txStore) CancelBooking(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := ts.q.Exec(ctx,
		"UPDATE bookings SET status = $1, cancelled_at = $2 WHERE id = $3 AND status = $4",
		string(carpool.BookingCancelled), at, id, string(carpool.BookingConfirmed),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (ts *txStore) ConfirmedBookings(ctx context.Context, rideID string) ([]carpool.Booking, error) {
	return queryBookings(ctx, ts.q, "ride_id = $1 AND status = $2 ORDER BY seq FOR UPDATE",
		rideID, string(carpool.BookingConfirmed))
}

func (s *Store) GetBooking(ctx context.Context, id string) (*carpool.Booking, error) {
	return scanBooking(s.pool.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id))
}

func (s *Store) RideBookings(ctx context.Context, rideID string) ([]carpool.Booking, error) {
	return queryBookings(ctx, s.pool, "ride_id = $1 ORDER BY seq", rideID)
}

func (s *Store) PassengerBookings(ctx context.Context, passengerID ledger.AccountID) ([]carpool.Booking, error) {
	return queryBookings(ctx, s.pool, "passenger_id = $1 ORDER BY seq", string(passengerID))
}

func queryBookings(ctx context.Context, q querier, where string, args ...any) ([]carpool.Booking, error) {
	rows, err := q.Query(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE "+where, args...)
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

func scanBooking(row pgx.Row) (*carpool.Booking, error) {
	var b carpool.Booking
	var passengerID, status string
	var amount int64
	var cancelledAt *time.Time
	err := row.Scan(&b.ID, &b.RideID, &passengerID, &status, &amount, &b.CreatedAt, &cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.PassengerID = ledger.AccountID(passengerID)
	b.Status = carpool.BookingStatus(status)
	b.CreditsAmount = ledger.Credits(amount)
	b.CreatedAt = b.CreatedAt.UTC()
	b.CancelledAt = utcPtr(cancelledAt)
	return &b, nil
}

// =============================================================================
// DISPUTES
// =============================================================================

const disputeColumns = `id, ride_id, booking_id, reason, status, resolution_type, resolution_notes, amount,
	resolved_by, escalation_reason, escalated_by, resolved_at, escalated_at, created_at`

func (ts *txStore) InsertDispute(ctx context.Context, d carpool.Dispute) error {
	_, err := ts.q.Exec(ctx,
		"INSERT INTO disputes ("+disputeColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		d.ID, d.RideID, d.BookingID, d.Reason, string(d.Status),
		nullString(string(d.ResolutionType)), nullString(d.ResolutionNotes), int64(d.Amount),
		nullString(d.ResolvedBy), nullString(d.EscalationReason), nullString(d.EscalatedBy),
		nullTime(d.ResolvedAt), nullTime(d.EscalatedAt), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (ts *txStore) GetDispute(ctx context.Context, id string) (*carpool.Dispute, error) {
	return scanDispute(ts.q.QueryRow(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = $1 FOR UPDATE", id))
}

func (ts *txStore) BookingDispute(ctx context.Context, bookingID string) (*carpool.Dispute, error) {
	return scanDispute(ts.q.QueryRow(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE booking_id = $1", bookingID))
}

func (ts *txStore) ResolveDispute(ctx context.Context, d carpool.Dispute) (bool, error) {
	tag, err := ts.q.Exec(ctx, `
		UPDATE disputes
		SET status = $1, resolution_type = $2, resolution_notes = $3, amount = $4, resolved_by = $5, resolved_at = $6
		WHERE id = $7 AND status IN ($8, $9)`,
		string(carpool.DisputeResolved), string(d.ResolutionType), nullString(d.ResolutionNotes),
		int64(d.Amount), nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.ID, string(carpool.DisputeOpen), string(carpool.DisputeEscalated),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (ts *txStore) EscalateDispute(ctx context.Context, d carpool.Dispute) (bool, error) {
	tag, err := ts.q.Exec(ctx, `
		UPDATE disputes
		SET status = $1, escalation_reason = $2, escalated_by = $3, escalated_at = $4
		WHERE id = $5 AND status = $6`,
		string(carpool.DisputeEscalated), d.EscalationReason, nullString(d.EscalatedBy),
		nullTime(d.EscalatedAt), d.ID, string(carpool.DisputeOpen),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetDispute(ctx context.Context, id string) (*carpool.Dispute, error) {
	return scanDispute(s.pool.QueryRow(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = $1", id))
}

func (s *Store) ListDisputes(ctx context.Context, statuses ...carpool.DisputeStatus) ([]carpool.Dispute, error) {
	query := "SELECT " + disputeColumns + " FROM disputes"
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += " WHERE status = ANY($1)"
		args = append(args, names)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanDispute(row pgx.Row) (*carpool.Dispute, error) {
	var d carpool.Dispute
	var status string
	var resolutionType, notes, resolvedBy, escalationReason, escalatedBy *string
	var resolvedAt, escalatedAt *time.Time
	var amount int64
	err := row.Scan(&d.ID, &d.RideID, &d.BookingID, &d.Reason, &status, &resolutionType, &notes, &amount,
		&resolvedBy, &escalationReason, &escalatedBy, &resolvedAt, &escalatedAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Status = carpool.DisputeStatus(status)
	d.ResolutionType = carpool.ResolutionType(deref(resolutionType))
	d.ResolutionNotes = deref(notes)
	d.Amount = ledger.Credits(amount)
	d.ResolvedBy = deref(resolvedBy)
	d.EscalationReason = deref(escalationReason)
	d.EscalatedBy = deref(escalatedBy)
	d.ResolvedAt = utcPtr(resolvedAt)
	d.EscalatedAt = utcPtr(escalatedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// Helper functions

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func rideStatusStrings(statuses []carpool.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
