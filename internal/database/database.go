package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a row expected to exist is missing.
	ErrNotFound = errors.New("database: not found")
	// ErrStaleState is returned when a guarded update matched no row because
	// the row was no longer in the expected state.
	ErrStaleState = errors.New("database: row changed since it was read")
)

// timeLayout is fixed width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every ledger read and write. The same methods run against
// the pool or inside a transaction.
type Queries struct {
	q querier
}

// DB wraps the database connection and provides methods for data access.
type DB struct {
	*Queries
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers, which is the single-writer model
	// the ledgers assume.
	conn.SetMaxOpenConns(1)

	db := &DB{Queries: &Queries{q: conn}, conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The commit is the point at which the
// work becomes durable; any error from fn or the commit rolls everything back.
func (db *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS month_passes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			month TEXT NOT NULL,
			tier TEXT NOT NULL CHECK (tier IN ('go', 'run', 'fly')),
			status TEXT NOT NULL CHECK (status IN ('active', 'upgraded', 'refunded')),
			max_companions INTEGER NOT NULL,
			current_companions INTEGER NOT NULL DEFAULT 0
				CHECK (current_companions >= 0 AND current_companions <= max_companions),
			price_paid INTEGER NOT NULL CHECK (price_paid >= 0),
			purchased_at TEXT NOT NULL,
			upgraded_to_id TEXT,
			refunded_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_month_passes_active
			ON month_passes(user_id, month) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_month_passes_status_month ON month_passes(status, month)`,
		`CREATE TABLE IF NOT EXISTS pass_transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pass_id TEXT NOT NULL REFERENCES month_passes(id),
			month TEXT NOT NULL,
			tier TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('charge', 'upgrade_charge', 'refund')),
			amount INTEGER NOT NULL CHECK (amount >= 0),
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_pass_transactions_refund
			ON pass_transactions(pass_id) WHERE kind = 'refund'`,
		`CREATE INDEX IF NOT EXISTS idx_pass_transactions_user ON pass_transactions(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS match_statuses (
			user_id TEXT NOT NULL,
			month TEXT NOT NULL,
			matched INTEGER NOT NULL DEFAULT 0,
			matched_at TEXT,
			matched_with_user_id TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, month)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
