// Package pg is the Postgres implementation of the account, pass and audit
// stores. Every guarded transition is a conditional update (the expected
// prior status sits in the predicate) and the audit event is inserted in the
// same transaction, so zero rows affected means a concurrent transition won
// and nothing at all was written.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/passes"
)

const (
	pgErrUniqueViolation = "23505"
)

type Store struct {
	db *sql.DB
}

var (
	_ directory.Store = (*Store)(nil)
	_ passes.Store    = (*Store)(nil)
	_ audit.Trail     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests use sqlmock through this).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// insertEvent appends the audit event inside the caller's transaction and
// returns the assigned monotonic id.
func insertEvent(ctx context.Context, tx *sql.Tx, evt audit.Event) (int64, error) {
	meta := []byte("{}")
	if len(evt.Metadata) > 0 {
		raw, err := json.Marshal(evt.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = raw
	}
	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		insert into audit_events(actor_account_id, action, target_type, target_id, occurred_at, metadata, outcome)
		values (nullif($1,''), $2, $3, $4, $5, $6, $7)
		returning id
	`, evt.ActorAccountID, evt.Action, evt.TargetType, evt.TargetID, occurred, meta, evt.Outcome).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
