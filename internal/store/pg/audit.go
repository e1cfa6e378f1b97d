package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gatepass.org/internal/audit"
)

const eventColumns = `
	id, coalesce(actor_account_id,''), action, target_type, target_id,
	occurred_at, metadata, outcome`

func scanEvent(row interface{ Scan(dest ...any) error }) (audit.Event, error) {
	var (
		evt audit.Event
		raw []byte
	)
	err := row.Scan(
		&evt.ID, &evt.ActorAccountID, &evt.Action, &evt.TargetType, &evt.TargetID,
		&evt.OccurredAt, &raw, &evt.Outcome,
	)
	if err != nil {
		return audit.Event{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &evt.Metadata); err != nil {
			return audit.Event{}, fmt.Errorf("decode audit metadata: %w", err)
		}
	}
	return evt, nil
}

// Record appends a standalone event (one not tied to an entity mutation,
// e.g. a denied attempt the caller chose to keep). Mutating store calls do
// not use this; they insert their event inside their own transaction.
func (s *Store) Record(ctx context.Context, evt audit.Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertEvent(ctx, tx, evt)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ByTarget(ctx context.Context, targetType, targetID string, afterID int64, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select`+eventColumns+`
		from audit_events
		where target_type = $1 and target_id = $2 and id > $3
		order by id asc
		limit $4
	`, targetType, targetID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *Store) ByActor(ctx context.Context, actorAccountID string, since time.Time, afterID int64, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select`+eventColumns+`
		from audit_events
		where actor_account_id = $1 and occurred_at >= $2 and id > $3
		order by id asc
		limit $4
	`, actorAccountID, since, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
