// Package migrate applies the schema and seed SQL shipped under
// ops/migrations, keeping a per-file ledger so reruns are no-ops.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gatepass.org/internal/obs"
)

const (
	schemaLedger = "schema_migrations"
	seedLedger   = "schema_seeds"
)

// Runner applies the SQL files for one database.
type Runner struct {
	db        *sql.DB
	schemaDir string
	seedDir   string
}

func New(db *sql.DB, schemaDir, seedDir string) *Runner {
	return &Runner{db: db, schemaDir: schemaDir, seedDir: seedDir}
}

// Up applies every pending .up.sql file in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	return r.applyPending(ctx, schemaLedger, r.schemaDir, ".up.sql", "migration_applied")
}

// Seed applies pending seed files. Seeds run once, like migrations.
func (r *Runner) Seed(ctx context.Context) error {
	return r.applyPending(ctx, seedLedger, r.seedDir, ".sql", "seed_applied")
}

func (r *Runner) applyPending(ctx context.Context, ledger, dir, suffix, logMsg string) error {
	applied, err := r.appliedSet(ctx, ledger)
	if err != nil {
		return err
	}
	names, err := listSQL(dir, suffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		start := time.Now()
		if err := r.applyFile(ctx, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := r.record(ctx, ledger, name); err != nil {
			return err
		}
		obs.LogEvent(logMsg, map[string]any{
			"file":        name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	return nil
}

// Down rolls back the most recently applied migration, if its .down.sql exists.
func (r *Runner) Down(ctx context.Context) error {
	history, err := r.appliedOrder(ctx, schemaLedger)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	down := filepath.Join(r.schemaDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.applyFile(ctx, down); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, schemaLedger), last); err != nil {
		return err
	}
	obs.LogEvent("migration_rolled_back", map[string]any{"file": last})
	return nil
}

// Status returns applied migrations in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	return r.appliedOrder(ctx, schemaLedger)
}

func (r *Runner) ensureLedger(ctx context.Context, ledger string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, ledger))
	return err
}

func (r *Runner) appliedSet(ctx context.Context, ledger string) (map[string]bool, error) {
	if err := r.ensureLedger(ctx, ledger); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, ledger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (r *Runner) appliedOrder(ctx context.Context, ledger string) ([]string, error) {
	if err := r.ensureLedger(ctx, ledger); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at, name`, ledger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		history = append(history, name)
	}
	return history, rows.Err()
}

// applyFile runs every statement of one SQL file inside a single transaction.
func (r *Runner) applyFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitSQL(string(src)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, ledger, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, ledger),
		name, time.Now().UTC())
	return err
}

// listSQL returns the file names in dir with the given suffix, in lexical
// order. A missing directory yields no files rather than an error.
func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// splitSQL splits a file into statements on semicolons, ignoring
// semicolons inside single-quoted string literals.
func splitSQL(src string) []string {
	var (
		stmts  []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for _, r := range src {
		if r == '\'' {
			quoted = !quoted
		}
		if r == ';' && !quoted {
			cur.WriteRune(r)
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return stmts
}
