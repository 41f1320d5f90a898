// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	embeddedmigrations "github.com/adiadia/session-recorder/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLock serializes recorderd instances bootstrapping one database.
const migrationLock int64 = 0x5245435f4d494752 // "REC_MIGR"

const eventsTable = "recorded_events"

// eventsColumns are the columns the snapshot store reads and writes.
var eventsColumns = []string{"storage_key", "seq", "type", "occurred_at", "details", "priority"}

var errNilPool = errors.New("nil database pool")

// Readiness reports whether the snapshot schema is usable.
type Readiness func(ctx context.Context) error

func (r Readiness) Check(ctx context.Context) error {
	return r(ctx)
}

func SchemaReadiness(pool *pgxpool.Pool) Readiness {
	return func(ctx context.Context) error {
		return SchemaReady(ctx, pool)
	}
}

// EnsureSchema applies the embedded migrations that have not run yet and
// then verifies the snapshot table.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errNilPool
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		// ctx may already be done; the lock must still be released.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, migrationLock); err != nil {
			logger.Error("migration unlock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	todo := pendingMigrations(files, applied)
	for _, f := range todo {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, f.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		logger.Info("migration applied", "file", f.Name)
	}

	logger.Info("schema ready",
		"applied", len(todo),
		"skipped", len(files)-len(todo),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return SchemaReady(ctx, pool)
}

// pendingMigrations keeps the order of files and drops every name in applied.
func pendingMigrations(files []embeddedmigrations.File, applied []string) []embeddedmigrations.File {
	var out []embeddedmigrations.File
	for _, f := range files {
		if !slices.Contains(applied, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// SchemaReady fails when the snapshot table or one of its columns is missing.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errNilPool
	}
	rows, err := pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, eventsTable)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", eventsTable, err)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("inspect %s: %w", eventsTable, err)
	}
	return checkColumns(present)
}

func checkColumns(present []string) error {
	if len(present) == 0 {
		return fmt.Errorf("table %s missing", eventsTable)
	}
	var missing []string
	for _, col := range eventsColumns {
		if !slices.Contains(present, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s missing columns %v", eventsTable, missing)
	}
	return nil
}
