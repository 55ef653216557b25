package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the SQL files under migrations/ in filename order,
// following golang-migrate naming: {version}_{name}.up.sql with a
// matching .down.sql. Applied versions are recorded in
// event_log.schema_migrations so the vault's whole database footprint
// stays inside its own schemas.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every pending up-migration. Each file runs in one
// transaction together with its bookkeeping row.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("applied versions: %w", err)
	}

	names, err := m.sqlFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, name := range names {
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}

		err = m.runFile(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO event_log.schema_migrations (version, filename) VALUES ($1, $2)`,
				version, name,
			)
			return err
		})
		if err != nil {
			return err
		}
		log.Printf("INFO: migration %s applied", name)
	}

	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM event_log.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upName)
	if err == sql.ErrNoRows {
		log.Println("INFO: nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	downName := strings.TrimSuffix(upName, ".up.sql") + ".down.sql"
	err = m.runFile(ctx, downName, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM event_log.schema_migrations WHERE version = $1`, version,
		)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: migration %s rolled back", downName)
	return nil
}

// runFile executes one migration file plus its bookkeeping statement in
// a single transaction.
func (m *Migrator) runFile(ctx context.Context, name string, record func(*sql.Tx) error) error {
	sqlText, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec %s: %w", name, err)
	}
	if err := record(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", name, err)
	}

	return tx.Commit()
}

// The version table lives in event_log, created here because the
// migration that normally creates the schema has not run yet on a
// fresh database.
func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS event_log`); err != nil {
		return fmt.Errorf("ensure event_log schema: %w", err)
	}
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_log.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM event_log.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) sqlFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// migrationVersion extracts the numeric prefix from a migration
// filename, e.g. "000001" from "000001_event_log.up.sql".
func migrationVersion(name string) (string, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok || prefix == "" {
		return "", fmt.Errorf("migration %s: missing version prefix", name)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("migration %s: version %q is not numeric", name, prefix)
		}
	}
	return prefix, nil
}
