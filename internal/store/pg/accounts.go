package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
)

const accountColumns = `
	id, external_identity, role, full_name, phone_number, coalesce(apartment,''),
	status, blocked_until, coalesce(block_reason,''), created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (directory.Account, error) {
	var (
		acc     directory.Account
		role    string
		status  string
		blocked sql.NullTime
	)
	err := row.Scan(
		&acc.ID, &acc.ExternalIdentity, &role, &acc.FullName, &acc.PhoneNumber, &acc.Apartment,
		&status, &blocked, &acc.BlockReason, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return directory.Account{}, err
	}
	acc.Role = directory.Role(role)
	acc.Status = directory.Status(status)
	if blocked.Valid {
		t := blocked.Time.UTC()
		acc.BlockedUntil = &t
	}
	return acc, nil
}

func (s *Store) CreateAccount(ctx context.Context, acc directory.Account, evt audit.Event) (directory.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into accounts(id, external_identity, role, full_name, phone_number, apartment, status)
		values ($1, $2, $3, $4, $5, nullif($6,''), $7)
		returning`+accountColumns,
		acc.ID, acc.ExternalIdentity, string(acc.Role), acc.FullName, acc.PhoneNumber, acc.Apartment, string(acc.Status),
	)
	created, err := scanAccount(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.Account{}, directory.ErrDuplicateIdentity
		}
		return directory.Account{}, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return directory.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return directory.Account{}, err
	}
	return created, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (directory.Account, error) {
	row := s.db.QueryRowContext(ctx, `select`+accountColumns+` from accounts where id = $1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Account{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Account{}, err
	}
	return acc, nil
}

func (s *Store) GetAccountByIdentity(ctx context.Context, externalIdentity string) (directory.Account, error) {
	row := s.db.QueryRowContext(ctx, `select`+accountColumns+` from accounts where external_identity = $1`, externalIdentity)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Account{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Account{}, err
	}
	return acc, nil
}

func (s *Store) ListAccountsByStatus(ctx context.Context, status directory.Status) ([]directory.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+accountColumns+`
		from accounts
		where status = $1
		order by created_at, id
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) TransitionAccountStatus(ctx context.Context, id string, expect directory.Status, change directory.StatusChange, evt audit.Event) (directory.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Conditional update: the expected prior status is part of the predicate.
	row := tx.QueryRowContext(ctx, `
		update accounts
		set status = $3, blocked_until = $4, block_reason = nullif($5,''), updated_at = now()
		where id = $1 and status = $2
		returning`+accountColumns,
		id, string(expect), string(change.Status), change.BlockedUntil, change.BlockReason,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Account{}, s.accountGuardFailure(ctx, tx, id)
	}
	if err != nil {
		return directory.Account{}, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return directory.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return directory.Account{}, err
	}
	return acc, nil
}

func (s *Store) ReassignAccountRole(ctx context.Context, id string, expect, next directory.Role, evt audit.Event) (directory.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update accounts
		set role = $3, updated_at = now()
		where id = $1 and role = $2
		returning`+accountColumns,
		id, string(expect), string(next),
	)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Account{}, s.accountGuardFailure(ctx, tx, id)
	}
	if err != nil {
		return directory.Account{}, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return directory.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return directory.Account{}, err
	}
	return acc, nil
}

// accountGuardFailure distinguishes a missing row from a lost race after a
// conditional update matched nothing.
func (s *Store) accountGuardFailure(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `select 1 from accounts where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ErrNotFound
	}
	if err != nil {
		return err
	}
	return directory.ErrConflict
}
