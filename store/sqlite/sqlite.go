/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface in the engine (class registry,
  bookings, waitlist entries, credit grants, catalog, purchases,
  payments, review queue) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  classes:          Class schedule and capacity
  bookings:         Reservation state machine records
  waitlist_entries: Per-class FIFO queue (dense positions)
  credit_grants:    Member credit balances, expiry-aware
  pending_purchases / payments / unresolved_events: payment reconciliation

EXACTLY-ONCE RECONCILIATION:
  payments.external_tx_id carries a UNIQUE constraint. RecordSettlement
  writes the payment, the grant, and the purchase confirmation in one
  SQL transaction; a duplicate external id fails the whole write with
  purchase.ErrDuplicateExternalTx and nothing is granted twice.

CONCURRENCY:
  Three keyed lock domains back the engine's critical sections (class,
  queue, member), mirroring the in-memory store; member locks nest
  inside class locks, so a single store-wide mutex would deadlock.
  SQLite itself serializes writers.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/studio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/policy"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/waitlist"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB

	classLocks  *keyedMutex
	queueLocks  *keyedMutex
	memberLocks *keyedMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The keyed lock domains assume one writer per key; a second pooled
	// connection would defeat them for :memory: databases entirely.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:          db,
		classLocks:  newKeyedMutex(),
		queueLocks:  newKeyedMutex(),
		memberLocks: newKeyedMutex(),
	}
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
	-- Classes (schedule, capacity, lifecycle)
	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_classes_start_at ON classes(start_at);

	-- Per-class credit prices (absent row = default price)
	CREATE TABLE IF NOT EXISTS class_prices (
		class_id TEXT PRIMARY KEY,
		credits INTEGER NOT NULL
	);

	-- Members
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_email ON members(email);

	-- Products (credit packages / memberships)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		link_id TEXT,
		price TEXT NOT NULL,
		credits_total INTEGER,
		expiration_days INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_products_link ON products(link_id) WHERE link_id != '';

	-- Bookings (reservation state machine)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		status TEXT NOT NULL,
		credits_debited INTEGER NOT NULL DEFAULT 0,
		debit_lines_json TEXT,
		cancelled_at TEXT,
		classification TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: capacity counts and duplicate checks
	CREATE INDEX IF NOT EXISTS idx_bookings_class_status
		ON bookings(class_id, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_member
		ON bookings(member_id);

	-- At most one confirmed booking per (class, member)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_unique_active
		ON bookings(class_id, member_id)
		WHERE status = 'confirmed';

	-- Waitlist entries (dense positions per class)
	CREATE TABLE IF NOT EXISTS waitlist_entries (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		notified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		UNIQUE(class_id, member_id)
	);

	CREATE INDEX IF NOT EXISTS idx_waitlist_class_position
		ON waitlist_entries(class_id, position);

	-- Credit grants (NULL credits_total = unlimited; NULL expires_at = never)
	CREATE TABLE IF NOT EXISTS credit_grants (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		credits_total INTEGER,
		credits_remaining INTEGER,
		expires_at TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		source TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_member
		ON credit_grants(member_id, active);
	CREATE INDEX IF NOT EXISTS idx_grants_expiry
		ON credit_grants(expires_at) WHERE expires_at IS NOT NULL;

	-- Pending purchases
	CREATE TABLE IF NOT EXISTS pending_purchases (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_member_status
		ON pending_purchases(member_id, status);

	-- Payments: external_tx_id uniqueness is the exactly-once guarantee
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		purchase_id TEXT,
		product_id TEXT NOT NULL,
		external_tx_id TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Webhook events parked for manual review
	CREATE TABLE IF NOT EXISTS unresolved_events (
		id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		external_tx_id TEXT,
		email TEXT,
		link_id TEXT,
		amount TEXT,
		payload TEXT,
		received_at TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_unresolved_open
		ON unresolved_events(resolved, received_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCK DOMAINS
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) with(key string, fn func() error) error {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}

func (s *Store) WithClassLock(_ context.Context, classID string, fn func() error) error {
	return s.classLocks.with(classID, fn)
}

func (s *Store) WithQueueLock(_ context.Context, classID string, fn func() error) error {
	return s.queueLocks.with(classID, fn)
}

func (s *Store) WithMemberLock(_ context.Context, memberID string, fn func() error) error {
	return s.memberLocks.with(memberID, fn)
}

// =============================================================================
// CLASS STORE (registry.ClassStore)
// =============================================================================

func (s *Store) SaveClass(ctx context.Context, c registry.Class) error {
	query := `
		INSERT INTO classes (id, name, start_at, end_at, capacity, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			capacity = excluded.capacity,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name,
		c.StartAt.Format(time.RFC3339), c.EndAt.Format(time.RFC3339),
		c.Capacity, string(c.Status),
		c.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetClass(ctx context.Context, id string) (*registry.Class, error) {
	var c registry.Class
	var startAt, endAt, status, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, start_at, end_at, capacity, status, created_at FROM classes WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &startAt, &endAt, &c.Capacity, &status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.StartAt, _ = time.Parse(time.RFC3339, startAt)
	c.EndAt, _ = time.Parse(time.RFC3339, endAt)
	c.Status = registry.ClassStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *Store) ListClasses(ctx context.Context) ([]registry.Class, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, start_at, end_at, capacity, status, created_at FROM classes ORDER BY start_at ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []registry.Class
	for rows.Next() {
		var c registry.Class
		var startAt, endAt, status, createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &startAt, &endAt, &c.Capacity, &status, &createdAt); err != nil {
			return nil, err
		}
		c.StartAt, _ = time.Parse(time.RFC3339, startAt)
		c.EndAt, _ = time.Parse(time.RFC3339, endAt)
		c.Status = registry.ClassStatus(status)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// =============================================================================
// PRICE STORE (catalog.PriceStore)
// =============================================================================

func (s *Store) SetClassPrice(ctx context.Context, classID string, credits int) error {
	query := `
		INSERT INTO class_prices (class_id, credits) VALUES (?, ?)
		ON CONFLICT(class_id) DO UPDATE SET credits = excluded.credits
	`
	_, err := s.db.ExecContext(ctx, query, classID, credits)
	return err
}

func (s *Store) ClassPrice(ctx context.Context, classID string) (int, bool, error) {
	var credits int
	err := s.db.QueryRowContext(ctx,
		"SELECT credits FROM class_prices WHERE class_id = ?", classID,
	).Scan(&credits)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return credits, true, nil
}

// =============================================================================
// MEMBER STORE (catalog.MemberStore)
// =============================================================================

func (s *Store) SaveMember(ctx context.Context, m catalog.Member) error {
	query := `
		INSERT INTO members (id, name, email) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`
	_, err := s.db.ExecContext(ctx, query, m.ID, m.Name, m.Email)
	return err
}

func (s *Store) GetMember(ctx context.Context, id string) (*catalog.Member, error) {
	var m catalog.Member
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM members WHERE id = ?", id,
	).Scan(&m.ID, &m.Name, &m.Email)

	if err == sql.ErrNoRows {
		return nil, catalog.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) MemberByEmail(ctx context.Context, email string) (*catalog.Member, error) {
	var m catalog.Member
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM members WHERE email = ? LIMIT 1", email,
	).Scan(&m.ID, &m.Name, &m.Email)

	if err == sql.ErrNoRows {
		return nil, catalog.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// =============================================================================
// PRODUCT STORE (catalog.ProductStore)
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p catalog.Product) error {
	query := `
		INSERT INTO products (id, name, link_id, price, credits_total, expiration_days)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			link_id = excluded.link_id,
			price = excluded.price,
			credits_total = excluded.credits_total,
			expiration_days = excluded.expiration_days
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.LinkID, p.Price.String(),
		nullInt(p.CreditsTotal), nullInt(p.ExpirationDays),
	)
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	return s.queryProduct(ctx, "SELECT id, name, link_id, price, credits_total, expiration_days FROM products WHERE id = ?", id)
}

func (s *Store) ProductByLinkID(ctx context.Context, linkID string) (*catalog.Product, error) {
	return s.queryProduct(ctx, "SELECT id, name, link_id, price, credits_total, expiration_days FROM products WHERE link_id = ? LIMIT 1", linkID)
}

func (s *Store) ProductByPrice(ctx context.Context, price decimal.Decimal) (*catalog.Product, error) {
	// Prices are stored in canonical decimal string form; compare in Go to
	// avoid trailing-zero mismatches.
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if p.Price.Equal(price) {
			p := p
			return &p, nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, link_id, price, credits_total, expiration_days FROM products ORDER BY id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) queryProduct(ctx context.Context, query string, args ...any) (*catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, catalog.ErrProductNotFound
	}
	p, err := scanProduct(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProduct(rows *sql.Rows) (catalog.Product, error) {
	var p catalog.Product
	var linkID sql.NullString
	var price string
	var creditsTotal, expirationDays sql.NullInt64

	if err := rows.Scan(&p.ID, &p.Name, &linkID, &price, &creditsTotal, &expirationDays); err != nil {
		return p, err
	}

	p.LinkID = linkID.String
	p.Price, _ = decimal.NewFromString(price)
	p.CreditsTotal = intPtr(creditsTotal)
	p.ExpirationDays = intPtr(expirationDays)
	return p, nil
}

// =============================================================================
// BOOKING STORE (booking.BookingStore)
// =============================================================================

func (s *Store) CreateBooking(ctx context.Context, b booking.Booking) error {
	linesJSON, err := json.Marshal(b.DebitLines)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bookings
		(id, class_id, member_id, status, credits_debited, debit_lines_json,
		 cancelled_at, classification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		b.ID, b.ClassID, b.MemberID, string(b.Status),
		b.CreditsDebited, string(linesJSON),
		nullTime(b.CancelledAt), nullClassification(b.Classification),
		b.CreatedAt.Format(time.RFC3339),
	)
	if err != nil && isUniqueConstraintError(err) {
		return booking.ErrDuplicateBooking
	}
	return err
}

func (s *Store) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	return s.queryBooking(ctx, bookingSelect+" WHERE id = ?", id)
}

func (s *Store) UpdateBooking(ctx context.Context, b booking.Booking) error {
	linesJSON, err := json.Marshal(b.DebitLines)
	if err != nil {
		return err
	}

	query := `
		UPDATE bookings SET
			status = ?,
			credits_debited = ?,
			debit_lines_json = ?,
			cancelled_at = ?,
			classification = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(b.Status), b.CreditsDebited, string(linesJSON),
		nullTime(b.CancelledAt), nullClassification(b.Classification),
		b.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (s *Store) BookingsByClass(ctx context.Context, classID string, status booking.Status) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		bookingSelect+" WHERE class_id = ? AND status = ? ORDER BY created_at ASC",
		classID, string(status))
}

func (s *Store) BookingsByMember(ctx context.Context, memberID string) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		bookingSelect+" WHERE member_id = ? ORDER BY created_at DESC",
		memberID)
}

func (s *Store) ActiveBookingFor(ctx context.Context, classID, memberID string) (*booking.Booking, error) {
	return s.queryBooking(ctx,
		bookingSelect+" WHERE class_id = ? AND member_id = ? AND status = 'confirmed' LIMIT 1",
		classID, memberID)
}

func (s *Store) ConfirmedSeatCount(ctx context.Context, classID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bookings WHERE class_id = ? AND status = 'confirmed'",
		classID,
	).Scan(&count)
	return count, err
}

// HasConfirmedBooking implements waitlist.BookingGuard.
func (s *Store) HasConfirmedBooking(ctx context.Context, classID, memberID string) (bool, error) {
	b, err := s.ActiveBookingFor(ctx, classID, memberID)
	return b != nil, err
}

const bookingSelect = `
	SELECT id, class_id, member_id, status, credits_debited, debit_lines_json,
	       cancelled_at, classification, created_at
	FROM bookings`

func (s *Store) queryBooking(ctx context.Context, query string, args ...any) (*booking.Booking, error) {
	bookings, err := s.queryBookings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, nil
	}
	return &bookings[0], nil
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		var b booking.Booking
		var status, createdAt string
		var linesJSON, cancelledAt, classification sql.NullString

		if err := rows.Scan(
			&b.ID, &b.ClassID, &b.MemberID, &status, &b.CreditsDebited,
			&linesJSON, &cancelledAt, &classification, &createdAt,
		); err != nil {
			return nil, err
		}

		b.Status = booking.Status(status)
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if linesJSON.Valid && linesJSON.String != "" {
			json.Unmarshal([]byte(linesJSON.String), &b.DebitLines)
		}
		if cancelledAt.Valid {
			t, _ := time.Parse(time.RFC3339, cancelledAt.String)
			b.CancelledAt = &t
		}
		if classification.Valid && classification.String != "" {
			c := policy.Classification(classification.String)
			b.Classification = &c
		}

		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// WAITLIST ENTRY STORE (waitlist.EntryStore)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e waitlist.Entry) error {
	query := `
		INSERT INTO waitlist_entries (id, class_id, member_id, position, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.ClassID, e.MemberID, e.Position, e.Notified,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil && isUniqueConstraintError(err) {
		return waitlist.ErrDuplicateEntry
	}
	return err
}

func (s *Store) UpdateEntry(ctx context.Context, e waitlist.Entry) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE waitlist_entries SET position = ?, notified = ? WHERE id = ?",
		e.Position, e.Notified, e.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return waitlist.ErrEntryNotFound
	}
	return nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM waitlist_entries WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return waitlist.ErrEntryNotFound
	}
	return nil
}

func (s *Store) EntriesByClass(ctx context.Context, classID string) ([]waitlist.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, class_id, member_id, position, notified, created_at
		 FROM waitlist_entries WHERE class_id = ? ORDER BY position ASC`,
		classID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []waitlist.Entry
	for rows.Next() {
		var e waitlist.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ClassID, &e.MemberID, &e.Position, &e.Notified, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EntryFor(ctx context.Context, classID, memberID string) (*waitlist.Entry, error) {
	var e waitlist.Entry
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, class_id, member_id, position, notified, created_at
		 FROM waitlist_entries WHERE class_id = ? AND member_id = ?`,
		classID, memberID,
	).Scan(&e.ID, &e.ClassID, &e.MemberID, &e.Position, &e.Notified, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// =============================================================================
// GRANT STORE (ledger.GrantStore)
// =============================================================================

func (s *Store) CreateGrant(ctx context.Context, g ledger.CreditGrant) error {
	return s.insertGrant(ctx, s.db, g)
}

func (s *Store) insertGrant(ctx context.Context, db execer, g ledger.CreditGrant) error {
	query := `
		INSERT INTO credit_grants
		(id, member_id, credits_total, credits_remaining, expires_at, active, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		string(g.ID), g.MemberID,
		nullInt(g.CreditsTotal), nullInt(g.CreditsRemaining),
		nullTime(g.ExpiresAt), g.Active, g.Source,
		g.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetGrant(ctx context.Context, id ledger.GrantID) (*ledger.CreditGrant, error) {
	grants, err := s.queryGrants(ctx, grantSelect+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return &grants[0], nil
}

func (s *Store) GrantsByMember(ctx context.Context, memberID string) ([]ledger.CreditGrant, error) {
	return s.queryGrants(ctx, grantSelect+" WHERE member_id = ? ORDER BY created_at ASC", memberID)
}

func (s *Store) UpdateGrant(ctx context.Context, g ledger.CreditGrant) error {
	query := `
		UPDATE credit_grants SET
			credits_total = ?,
			credits_remaining = ?,
			expires_at = ?,
			active = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		nullInt(g.CreditsTotal), nullInt(g.CreditsRemaining),
		nullTime(g.ExpiresAt), g.Active, string(g.ID),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrGrantNotFound
	}
	return nil
}

func (s *Store) ExpireGrants(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE credit_grants SET active = FALSE WHERE active = TRUE AND expires_at IS NOT NULL AND expires_at < ?",
		now.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const grantSelect = `
	SELECT id, member_id, credits_total, credits_remaining, expires_at, active, source, created_at
	FROM credit_grants`

func (s *Store) queryGrants(ctx context.Context, query string, args ...any) ([]ledger.CreditGrant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []ledger.CreditGrant
	for rows.Next() {
		var g ledger.CreditGrant
		var id, createdAt string
		var source sql.NullString
		var creditsTotal, creditsRemaining sql.NullInt64
		var expiresAt sql.NullString

		if err := rows.Scan(&id, &g.MemberID, &creditsTotal, &creditsRemaining,
			&expiresAt, &g.Active, &source, &createdAt); err != nil {
			return nil, err
		}

		g.ID = ledger.GrantID(id)
		g.CreditsTotal = intPtr(creditsTotal)
		g.CreditsRemaining = intPtr(creditsRemaining)
		g.Source = source.String
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if expiresAt.Valid {
			t, _ := time.Parse(time.RFC3339, expiresAt.String)
			g.ExpiresAt = &t
		}

		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// =============================================================================
// PURCHASE STORE (purchase.Store)
// =============================================================================

func (s *Store) CreatePurchase(ctx context.Context, p purchase.PendingPurchase) error {
	query := `
		INSERT INTO pending_purchases (id, member_id, product_id, amount, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.MemberID, p.ProductID, p.Amount.String(), string(p.Status),
		p.CreatedAt.Format(time.RFC3339), nullTime(p.ResolvedAt),
	)
	return err
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*purchase.PendingPurchase, error) {
	purchases, err := s.queryPurchases(ctx, purchaseSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, nil
	}
	return &purchases[0], nil
}

func (s *Store) UpdatePurchase(ctx context.Context, p purchase.PendingPurchase) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_purchases SET status = ?, resolved_at = ? WHERE id = ?",
		string(p.Status), nullTime(p.ResolvedAt), p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return purchase.ErrPurchaseNotFound
	}
	return nil
}

func (s *Store) PurchasesByMember(ctx context.Context, memberID string) ([]purchase.PendingPurchase, error) {
	return s.queryPurchases(ctx,
		purchaseSelect+" WHERE member_id = ? ORDER BY created_at ASC", memberID)
}

func (s *Store) FindPendingPurchase(ctx context.Context, memberID, productID string) (*purchase.PendingPurchase, error) {
	purchases, err := s.queryPurchases(ctx,
		purchaseSelect+` WHERE member_id = ? AND product_id = ? AND status = 'pending'
		 ORDER BY created_at ASC LIMIT 1`,
		memberID, productID)
	if err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, nil
	}
	return &purchases[0], nil
}

const purchaseSelect = `
	SELECT id, member_id, product_id, amount, status, created_at, resolved_at
	FROM pending_purchases`

func (s *Store) queryPurchases(ctx context.Context, query string, args ...any) ([]purchase.PendingPurchase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []purchase.PendingPurchase
	for rows.Next() {
		var p purchase.PendingPurchase
		var amount, status, createdAt string
		var resolvedAt sql.NullString

		if err := rows.Scan(&p.ID, &p.MemberID, &p.ProductID, &amount, &status, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}

		p.Amount, _ = decimal.NewFromString(amount)
		p.Status = purchase.PurchaseStatus(status)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			p.ResolvedAt = &t
		}

		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) PaymentByExternalID(ctx context.Context, externalTxID string) (*purchase.Payment, error) {
	payments, err := s.queryPayments(ctx, paymentSelect+" WHERE external_tx_id = ?", externalTxID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}

func (s *Store) ListPayments(ctx context.Context) ([]purchase.Payment, error) {
	return s.queryPayments(ctx, paymentSelect+" ORDER BY created_at ASC")
}

const paymentSelect = `
	SELECT id, member_id, purchase_id, product_id, external_tx_id, amount, method, created_at
	FROM payments`

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]purchase.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []purchase.Payment
	for rows.Next() {
		var p purchase.Payment
		var purchaseID sql.NullString
		var amount, method, createdAt string

		if err := rows.Scan(&p.ID, &p.MemberID, &purchaseID, &p.ProductID,
			&p.ExternalTxID, &amount, &method, &createdAt); err != nil {
			return nil, err
		}

		p.PurchaseID = purchaseID.String
		p.Amount, _ = decimal.NewFromString(amount)
		p.Method = purchase.PaymentMethod(method)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// RecordSettlement writes the payment, the grant, and the purchase
// confirmation in one SQL transaction. The UNIQUE constraint on
// payments.external_tx_id makes a duplicate settlement fail the whole
// write; nothing is granted twice.
func (s *Store) RecordSettlement(ctx context.Context, settlement purchase.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if settlement.PurchaseID != "" {
		res, err := tx.ExecContext(ctx,
			"UPDATE pending_purchases SET status = 'confirmed', resolved_at = ? WHERE id = ? AND status = 'pending'",
			settlement.ResolvedAt.Format(time.RFC3339), settlement.PurchaseID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Missing or already resolved; distinguish for the caller.
			var count int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM pending_purchases WHERE id = ?", settlement.PurchaseID,
			).Scan(&count); err != nil {
				return err
			}
			if count == 0 {
				return purchase.ErrPurchaseNotFound
			}
			return purchase.ErrAlreadyProcessed
		}
	}

	p := settlement.Payment
	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, member_id, purchase_id, product_id, external_tx_id, amount, method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MemberID, nullString(p.PurchaseID), p.ProductID,
		p.ExternalTxID, p.Amount.String(), string(p.Method),
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return purchase.ErrDuplicateExternalTx
		}
		return err
	}

	if err := s.insertGrant(ctx, tx, settlement.Grant); err != nil {
		return err
	}

	return tx.Commit()
}

// =============================================================================
// UNRESOLVED EVENTS
// =============================================================================

func (s *Store) SaveUnresolved(ctx context.Context, e purchase.UnresolvedEvent) error {
	query := `
		INSERT INTO unresolved_events
		(id, reason, external_tx_id, email, link_id, amount, payload, received_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Reason, e.ExternalTxID, e.Email, e.LinkID,
		e.Amount.String(), string(e.Payload),
		e.ReceivedAt.Format(time.RFC3339), e.Resolved,
	)
	return err
}

func (s *Store) GetUnresolved(ctx context.Context, id string) (*purchase.UnresolvedEvent, error) {
	events, err := s.queryUnresolved(ctx, unresolvedSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (s *Store) ListUnresolved(ctx context.Context) ([]purchase.UnresolvedEvent, error) {
	return s.queryUnresolved(ctx,
		unresolvedSelect+" WHERE resolved = FALSE ORDER BY received_at ASC")
}

func (s *Store) MarkUnresolvedResolved(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE unresolved_events SET resolved = TRUE WHERE id = ?", id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return purchase.ErrEventNotFound
	}
	return nil
}

const unresolvedSelect = `
	SELECT id, reason, external_tx_id, email, link_id, amount, payload, received_at, resolved
	FROM unresolved_events`

func (s *Store) queryUnresolved(ctx context.Context, query string, args ...any) ([]purchase.UnresolvedEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []purchase.UnresolvedEvent
	for rows.Next() {
		var e purchase.UnresolvedEvent
		var amount, receivedAt string
		var payload sql.NullString

		if err := rows.Scan(&e.ID, &e.Reason, &e.ExternalTxID, &e.Email, &e.LinkID,
			&amount, &payload, &receivedAt, &e.Resolved); err != nil {
			return nil, err
		}

		e.Amount, _ = decimal.NewFromString(amount)
		e.Payload = json.RawMessage(payload.String)
		e.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)

		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"bookings", "waitlist_entries", "credit_grants",
		"payments", "pending_purchases", "unresolved_events",
		"classes", "class_prices", "members", "products",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullClassification(c *policy.Classification) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
