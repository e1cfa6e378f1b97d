package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/passes"
)

const passColumns = `
	id, owner_account_id, car_number, car_number_normalized, status,
	created_at, used_at, coalesce(used_by_account_id,''), archived`

func scanPass(row interface{ Scan(dest ...any) error }) (passes.Pass, error) {
	var (
		p      passes.Pass
		status string
		usedAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.OwnerAccountID, &p.CarNumber, &p.CarNumberNormalized, &status,
		&p.CreatedAt, &usedAt, &p.UsedByAccountID, &p.Archived,
	)
	if err != nil {
		return passes.Pass{}, err
	}
	p.Status = passes.Status(status)
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		p.UsedAt = &t
	}
	return p, nil
}

func (s *Store) CreatePass(ctx context.Context, p passes.Pass, evt audit.Event) (passes.Pass, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return passes.Pass{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into passes(id, owner_account_id, car_number, car_number_normalized, status)
		values ($1, $2, $3, $4, $5)
		returning`+passColumns,
		p.ID, p.OwnerAccountID, p.CarNumber, p.CarNumberNormalized, string(p.Status),
	)
	created, err := scanPass(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return passes.Pass{}, passes.ErrDuplicatePass
		}
		return passes.Pass{}, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return passes.Pass{}, err
	}
	if err := tx.Commit(); err != nil {
		return passes.Pass{}, err
	}
	return created, nil
}

func (s *Store) GetPass(ctx context.Context, id string) (passes.Pass, error) {
	row := s.db.QueryRowContext(ctx, `select`+passColumns+` from passes where id = $1`, id)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return passes.Pass{}, passes.ErrNotFound
	}
	if err != nil {
		return passes.Pass{}, err
	}
	return p, nil
}

func (s *Store) TransitionPassStatus(ctx context.Context, id string, expect passes.Status, change passes.StatusChange, evt audit.Event) (passes.Pass, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return passes.Pass{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Conditional update: used_at/used_by are written together, exactly once,
	// atomically with the status change.
	row := tx.QueryRowContext(ctx, `
		update passes
		set status = $3, used_at = $4, used_by_account_id = nullif($5,'')
		where id = $1 and status = $2
		returning`+passColumns,
		id, string(expect), string(change.Status), change.UsedAt, change.UsedBy,
	)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		var one int
		probeErr := tx.QueryRowContext(ctx, `select 1 from passes where id = $1`, id).Scan(&one)
		if errors.Is(probeErr, sql.ErrNoRows) {
			return passes.Pass{}, passes.ErrNotFound
		}
		if probeErr != nil {
			return passes.Pass{}, probeErr
		}
		return passes.Pass{}, passes.ErrConflict
	}
	if err != nil {
		return passes.Pass{}, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return passes.Pass{}, err
	}
	if err := tx.Commit(); err != nil {
		return passes.Pass{}, err
	}
	return p, nil
}

func (s *Store) FindPassesByPlate(ctx context.Context, normalizedFragment string, limit int) ([]passes.Pass, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+passColumns+`
		from passes
		where car_number_normalized like '%' || $1 || '%'
		order by created_at desc, id desc
		limit $2
	`, normalizedFragment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []passes.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListActivePassesForOwner(ctx context.Context, ownerAccountID string) ([]passes.Pass, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+passColumns+`
		from passes
		where owner_account_id = $1 and status = 'active'
		order by created_at desc, id desc
	`, ownerAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []passes.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountActivePassesForOwner(ctx context.Context, ownerAccountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from passes where owner_account_id = $1 and status = 'active'
	`, ownerAccountID).Scan(&n)
	return n, err
}

func (s *Store) HasActivePlateForOwner(ctx context.Context, ownerAccountID, normalized string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from passes
		where owner_account_id = $1 and status = 'active' and car_number_normalized = $2
	`, ownerAccountID, normalized).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ArchivePassesBefore(ctx context.Context, cutoff time.Time, evt audit.Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update passes
		set archived = true
		where archived = false and status in ('used','cancelled') and created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := insertEvent(ctx, tx, evt); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
