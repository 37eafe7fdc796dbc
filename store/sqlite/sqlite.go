/*
Package sqlite provides a SQLite-backed implementation of studio.Store.

PURPOSE:
  Persists class sessions, subscriptions, bookings, annual fee records and
  the credit journal. In production the same patterns apply to PostgreSQL
  with minor dialect differences.

INTERFACES IMPLEMENTED:
  studio.Store:  repositories + WithTx
  generic.Store: the append-only credit journal (Journal())

APPEND-ONLY ENFORCEMENT:
  The journal table is never updated or deleted from. A restored credit is a
  new "credit" line, not an edit of the "debit" line.

OPTIMISTIC CONCURRENCY:
  Mutable rows carry a version column. Updates run
    UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?
  and report a VersionConflictError when no row matched.

KEY TABLES:
  class_sessions:   capacity counters, soft-cancel flag
  subscriptions:    remaining credits, status, validity window
  bookings:         one row per reservation or waitlist entry
  annual_fees:      UNIQUE(user_id, year)
  transactions:     the credit journal, UNIQUE(idempotency_key)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/studio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := studio.NewService(store, plans, cfg)

SEE ALSO:
  - studio/repository.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

// timeLayout is fixed-width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrCorruptRow is returned when a stored column cannot be decoded.
var ErrCorruptRow = errors.New("corrupt row")

// Store implements studio.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ studio.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS class_sessions (
		id TEXT PRIMARY KEY,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		category TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		instructor TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		max_capacity INTEGER NOT NULL,
		current_bookings INTEGER NOT NULL DEFAULT 0,
		price_amount TEXT NOT NULL,
		price_currency TEXT NOT NULL,
		cancelled BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 0,
		CHECK (current_bookings >= 0 AND current_bookings <= max_capacity)
	);

	CREATE INDEX IF NOT EXISTS idx_class_sessions_starts_at
		ON class_sessions(starts_at);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		validity_weeks INTEGER NOT NULL,
		price_amount TEXT NOT NULL,
		price_currency TEXT NOT NULL,
		status TEXT NOT NULL,
		purchase_date TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		has_matrix BOOLEAN NOT NULL DEFAULT FALSE,
		matrix_expiry TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		CHECK (remaining >= 0 AND remaining <= duration)
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_user
		ON subscriptions(user_id, purchase_date);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status_end
		ON subscriptions(status, end_date);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		booking_date TEXT NOT NULL,
		cancellation_deadline TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(user_id, booking_date);
	CREATE INDEX IF NOT EXISTS idx_bookings_class
		ON bookings(class_id, booking_date);

	CREATE TABLE IF NOT EXISTS annual_fees (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		UNIQUE(user_id, year)
	);

	-- Credit journal (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_owner
		ON transactions(owner_id, effective_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all rows. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "annual_fees", "bookings", "subscriptions", "class_sessions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// REPOSITORY ACCESS
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) auto() *repos { return &repos{q: s.db, db: s.db, mu: &s.mu} }

func (s *Store) Classes() studio.ClassRepository              { return s.auto() }
func (s *Store) Subscriptions() studio.SubscriptionRepository { return s.auto() }
func (s *Store) Bookings() studio.BookingRepository           { return s.auto() }
func (s *Store) Fees() studio.AnnualFeeRepository             { return s.auto() }
func (s *Store) Journal() generic.Store                       { return s.auto() }

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. Every repository handed
// to fn writes through the same *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(studio.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&repos{q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

// repos implements every repository on one querier. Outside a transaction
// mu guards each call and db is used to open batch transactions; inside one
// both are nil.
type repos struct {
	q  querier
	db *sql.DB
	mu *sync.RWMutex
}

func (r *repos) Classes() studio.ClassRepository              { return r }
func (r *repos) Subscriptions() studio.SubscriptionRepository { return r }
func (r *repos) Bookings() studio.BookingRepository           { return r }
func (r *repos) Fees() studio.AnnualFeeRepository             { return r }
func (r *repos) Journal() generic.Store                       { return r }

func (r *repos) read() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *repos) write() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// checkUpdated turns a zero-row UPDATE into NotFound or a version conflict.
func (r *repos) checkUpdated(ctx context.Context, res sql.Result, table, kind, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return &generic.VersionConflictError{Kind: kind, ID: id, Expected: expected}
}

// =============================================================================
// CLASS SESSIONS
// =============================================================================

const sessionColumns = `id, starts_at, ends_at, category, subtype, instructor, location, address,
	description, max_capacity, current_bookings, price_amount, price_currency, cancelled, version`

func (r *repos) GetSession(ctx context.Context, id generic.ClassID) (*studio.ClassSession, error) {
	defer r.read()()

	row := r.q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM class_sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "class", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repos) ListSessions(ctx context.Context, from, to time.Time) ([]studio.ClassSession, error) {
	defer r.read()()

	rows, err := r.q.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE starts_at >= ? AND starts_at < ? ORDER BY starts_at, id",
		formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []studio.ClassSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repos) CreateSession(ctx context.Context, s studio.ClassSession) error {
	defer r.write()()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO class_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, formatTime(s.StartsAt), formatTime(s.EndsAt), s.Category, s.Subtype, s.Instructor,
		s.Location, s.Address, s.Description, s.MaxCapacity, s.CurrentBookings,
		s.Price.Amount.String(), s.Price.Currency, s.Cancelled, s.Version,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *repos) UpdateSession(ctx context.Context, s *studio.ClassSession) error {
	defer r.write()()

	res, err := r.q.ExecContext(ctx, `
		UPDATE class_sessions SET
			starts_at = ?, ends_at = ?, category = ?, subtype = ?, instructor = ?, location = ?,
			address = ?, description = ?, max_capacity = ?, current_bookings = ?,
			price_amount = ?, price_currency = ?, cancelled = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		formatTime(s.StartsAt), formatTime(s.EndsAt), s.Category, s.Subtype, s.Instructor, s.Location,
		s.Address, s.Description, s.MaxCapacity, s.CurrentBookings,
		s.Price.Amount.String(), s.Price.Currency, s.Cancelled,
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if err := r.checkUpdated(ctx, res, "class_sessions", "class", string(s.ID), s.Version); err != nil {
		return err
	}
	s.Version++
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (studio.ClassSession, error) {
	var (
		s                studio.ClassSession
		startsAt, endsAt string
		amount, currency string
	)
	err := sc.Scan(
		&s.ID, &startsAt, &endsAt, &s.Category, &s.Subtype, &s.Instructor, &s.Location, &s.Address,
		&s.Description, &s.MaxCapacity, &s.CurrentBookings, &amount, &currency, &s.Cancelled, &s.Version,
	)
	if err != nil {
		return s, err
	}
	d := decoder{row: "class session " + string(s.ID)}
	s.StartsAt = d.timestamp("starts_at", startsAt)
	s.EndsAt = d.timestamp("ends_at", endsAt)
	s.Price = d.money(amount, currency)
	return s, d.err
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

const subscriptionColumns = `id, user_id, plan_id, plan_type, category, duration, remaining, validity_weeks,
	price_amount, price_currency, status, purchase_date, start_date, end_date, has_matrix, matrix_expiry, version`

func (r *repos) GetSubscription(ctx context.Context, id generic.SubscriptionID) (*studio.Subscription, error) {
	defer r.read()()

	row := r.q.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "subscription", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repos) ListByUser(ctx context.Context, userID generic.UserID) ([]studio.Subscription, error) {
	defer r.read()()
	return r.querySubscriptions(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? ORDER BY purchase_date, rowid",
		userID)
}

func (r *repos) ListOverdue(ctx context.Context, now time.Time) ([]studio.Subscription, error) {
	defer r.read()()
	return r.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN (?, ?) AND end_date IS NOT NULL AND end_date < ?
		ORDER BY id`,
		studio.SubscriptionActive, studio.SubscriptionUsed, formatTime(now))
}

func (r *repos) querySubscriptions(ctx context.Context, query string, args ...any) ([]studio.Subscription, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []studio.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repos) CreateSubscription(ctx context.Context, s studio.Subscription) error {
	defer r.write()()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.PlanID, s.PlanType, s.Category, s.Duration, s.Remaining, s.ValidityWeeks,
		s.Price.Amount.String(), s.Price.Currency, s.Status, formatTime(s.PurchaseDate),
		nullTime(s.StartDate), nullTime(s.EndDate), s.HasMatrix, nullTime(s.MatrixExpiry), s.Version,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *repos) UpdateSubscription(ctx context.Context, s *studio.Subscription) error {
	defer r.write()()

	res, err := r.q.ExecContext(ctx, `
		UPDATE subscriptions SET
			remaining = ?, status = ?, start_date = ?, end_date = ?,
			has_matrix = ?, matrix_expiry = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		s.Remaining, s.Status, nullTime(s.StartDate), nullTime(s.EndDate),
		s.HasMatrix, nullTime(s.MatrixExpiry),
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := r.checkUpdated(ctx, res, "subscriptions", "subscription", string(s.ID), s.Version); err != nil {
		return err
	}
	s.Version++
	return nil
}

func scanSubscription(sc scanner) (studio.Subscription, error) {
	var (
		s                            studio.Subscription
		amount, currency, purchased  string
		startDate, endDate, matrixTo sql.NullString
	)
	err := sc.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.PlanType, &s.Category, &s.Duration, &s.Remaining, &s.ValidityWeeks,
		&amount, &currency, &s.Status, &purchased, &startDate, &endDate, &s.HasMatrix, &matrixTo, &s.Version,
	)
	if err != nil {
		return s, err
	}
	d := decoder{row: "subscription " + string(s.ID)}
	s.Price = d.money(amount, currency)
	s.PurchaseDate = d.timestamp("purchase_date", purchased)
	s.StartDate = d.nullTime("start_date", startDate)
	s.EndDate = d.nullTime("end_date", endDate)
	s.MatrixExpiry = d.nullTime("matrix_expiry", matrixTo)
	return s, d.err
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, user_id, class_id, subscription_id, status, booking_date,
	cancellation_deadline, updated_at, notes, version`

func (r *repos) GetBooking(ctx context.Context, id generic.BookingID) (*studio.Booking, error) {
	defer r.read()()

	row := r.q.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "booking", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repos) ListBookings(ctx context.Context, f studio.BookingFilter) ([]studio.Booking, error) {
	defer r.read()()

	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ClassID != "" {
		where = append(where, "class_id = ?")
		args = append(args, f.ClassID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY booking_date, rowid"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []studio.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repos) CreateBooking(ctx context.Context, b studio.Booking) error {
	defer r.write()()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.ClassID, b.SubscriptionID, b.Status, formatTime(b.BookingDate),
		formatTime(b.CancellationDeadline), formatTime(b.UpdatedAt), b.Notes, b.Version,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (r *repos) UpdateBooking(ctx context.Context, b *studio.Booking) error {
	defer r.write()()

	res, err := r.q.ExecContext(ctx, `
		UPDATE bookings SET
			subscription_id = ?, status = ?, updated_at = ?, notes = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		b.SubscriptionID, b.Status, formatTime(b.UpdatedAt), b.Notes,
		b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if err := r.checkUpdated(ctx, res, "bookings", "booking", string(b.ID), b.Version); err != nil {
		return err
	}
	b.Version++
	return nil
}

func scanBooking(sc scanner) (studio.Booking, error) {
	var (
		b                           studio.Booking
		booked, deadline, updatedAt string
	)
	err := sc.Scan(
		&b.ID, &b.UserID, &b.ClassID, &b.SubscriptionID, &b.Status, &booked,
		&deadline, &updatedAt, &b.Notes, &b.Version,
	)
	if err != nil {
		return b, err
	}
	d := decoder{row: "booking " + string(b.ID)}
	b.BookingDate = d.timestamp("booking_date", booked)
	b.CancellationDeadline = d.timestamp("cancellation_deadline", deadline)
	b.UpdatedAt = d.timestamp("updated_at", updatedAt)
	return b, d.err
}

// =============================================================================
// ANNUAL FEES
// =============================================================================

func (r *repos) ListFees(ctx context.Context, userID generic.UserID) ([]studio.AnnualFeeRecord, error) {
	defer r.read()()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, year, valid_from, valid_to, amount, currency, paid_at
		FROM annual_fees WHERE user_id = ? ORDER BY valid_from`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query annual fees: %w", err)
	}
	defer rows.Close()

	var out []studio.AnnualFeeRecord
	for rows.Next() {
		var (
			rec              studio.AnnualFeeRecord
			from, to, paidAt string
			amount, currency string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Year, &from, &to, &amount, &currency, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan annual fee: %w", err)
		}
		d := decoder{row: "annual fee " + string(rec.ID)}
		rec.ValidFrom = d.timestamp("valid_from", from)
		rec.ValidTo = d.timestamp("valid_to", to)
		rec.Amount = d.money(amount, currency)
		rec.PaidAt = d.timestamp("paid_at", paidAt)
		if d.err != nil {
			return nil, d.err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repos) CreateFee(ctx context.Context, rec studio.AnnualFeeRecord) error {
	defer r.write()()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO annual_fees (id, user_id, year, valid_from, valid_to, amount, currency, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Year, formatTime(rec.ValidFrom), formatTime(rec.ValidTo),
		rec.Amount.Amount.String(), rec.Amount.Currency, formatTime(rec.PaidAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert annual fee: %w", err)
	}
	return nil
}

// =============================================================================
// CREDIT JOURNAL (generic.Store interface)
// =============================================================================

// Append adds a transaction to the journal.
func (r *repos) Append(ctx context.Context, tx generic.Transaction) error {
	defer r.write()()
	return appendTx(ctx, r.q, tx)
}

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, owner_id, account_id, effective_at, delta, tx_type, reference_id, reason,
		 idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.OwnerID,
		tx.AccountID,
		formatTime(tx.EffectiveAt),
		tx.Delta,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (r *repos) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	defer r.write()()

	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if keys[tx.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			keys[tx.IdempotencyKey] = true
		}
	}

	// Already inside WithTx: the outer transaction provides atomicity.
	if r.db == nil {
		for _, tx := range txs {
			if err := appendTx(ctx, r.q, tx); err != nil {
				return err
			}
		}
		return nil
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

const txColumns = `id, owner_id, account_id, effective_at, delta, tx_type, reference_id, reason,
	idempotency_key, metadata_json, created_by, created_at`

// Load returns all transactions for an account.
func (r *repos) Load(ctx context.Context, accountID generic.SubscriptionID) ([]generic.Transaction, error) {
	defer r.read()()
	return r.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE account_id = ? ORDER BY effective_at, rowid",
		accountID)
}

func (r *repos) LoadByOwner(ctx context.Context, ownerID generic.UserID) ([]generic.Transaction, error) {
	defer r.read()()
	return r.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE owner_id = ? ORDER BY effective_at, rowid",
		ownerID)
}

// LoadRange returns transactions in [from, to].
func (r *repos) LoadRange(ctx context.Context, accountID generic.SubscriptionID, from, to time.Time) ([]generic.Transaction, error) {
	defer r.read()()
	return r.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at, rowid`,
		accountID, formatTime(from), formatTime(to))
}

// Exists checks if an idempotency key exists.
func (r *repos) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	defer r.read()()

	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func (r *repos) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.OwnerID, &tx.AccountID, &effectiveAt, &tx.Delta, &tx.Type,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	d := decoder{row: "transaction " + string(tx.ID)}
	tx.EffectiveAt = d.timestamp("effective_at", effectiveAt)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt = d.timestamp("created_at", createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil && d.err == nil {
			d.err = fmt.Errorf("%w: %s metadata_json: %v", ErrCorruptRow, d.row, err)
		}
	}

	return tx, d.err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// decoder parses the TEXT columns of one row and keeps the first failure.
type decoder struct {
	row string
	err error
}

func (d *decoder) fail(col, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s %s %q: %v", ErrCorruptRow, d.row, col, value, err)
	}
}

func (d *decoder) timestamp(col, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		d.fail(col, s, err)
	}
	return t
}

func (d *decoder) nullTime(col string, ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := d.timestamp(col, ns.String)
	return &t
}

func (d *decoder) money(amount, currency string) generic.Money {
	v, err := decimal.NewFromString(amount)
	if err != nil {
		d.fail("amount", amount, err)
	}
	return generic.Money{Amount: v, Currency: generic.Currency(currency)}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
