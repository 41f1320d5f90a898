// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database file at path in WAL mode.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStorage(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStorage(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS recorded_events (
		storage_key  TEXT    NOT NULL,
		seq          INTEGER NOT NULL,
		type         TEXT    NOT NULL,
		occurred_at  TEXT    NOT NULL,
		details_json TEXT    NOT NULL CHECK (json_valid(details_json)),
		priority     TEXT,
		PRIMARY KEY (storage_key, seq)
	);`)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Put(ctx context.Context, key string, records []domain.EventRecord) error {
	if err := checkKey(key); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recorded_events WHERE storage_key = ?`, key); err != nil {
		return fmt.Errorf("clear recorded events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO recorded_events (storage_key, seq, type, occurred_at, details_json, priority)
	VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		details, err := encodeDetails(rec.Details)
		if err != nil {
			return err
		}
		var priority any
		if rec.Priority != "" {
			priority = string(rec.Priority)
		}
		if _, err := stmt.ExecContext(ctx,
			key, rec.Seq, rec.Type, rec.Time.UTC().Format(time.RFC3339Nano), string(details), priority,
		); err != nil {
			s.logger.Error("insert recorded event failed", "seq", rec.Seq, "event_type", rec.Type, "error", err)
			return fmt.Errorf("insert event %d: %w", rec.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]domain.EventRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT seq, type, occurred_at, details_json, priority
	FROM recorded_events
	WHERE storage_key = ?
	ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("query recorded events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.EventRecord, 0, 16)
	for rows.Next() {
		var (
			rec        domain.EventRecord
			occurredAt string
			details    string
			priority   sql.NullString
		)
		if err := rows.Scan(&rec.Seq, &rec.Type, &occurredAt, &details, &priority); err != nil {
			return nil, fmt.Errorf("scan recorded event: %w", err)
		}
		if rec.Time, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at of event %d: %w", rec.Seq, err)
		}
		if rec.Details, err = decodeDetails([]byte(details)); err != nil {
			return nil, err
		}
		if priority.Valid {
			rec.Priority = domain.Priority(priority.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
