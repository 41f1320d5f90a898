// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var recordedEventColumns = []string{"storage_key", "seq", "type", "occurred_at", "details", "priority"}

type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStorage(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStorage {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStorage{
		pool:   pool,
		logger: logger,
	}
}

// Put replaces the rows stored under key in one transaction.
func (r *PostgresStorage) Put(ctx context.Context, key string, records []domain.EventRecord) error {
	if err := checkKey(key); err != nil {
		return err
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		details, err := encodeDetails(rec.Details)
		if err != nil {
			r.logger.Error("encode event details failed", "seq", rec.Seq, "event_type", rec.Type, "error", err)
			return err
		}
		var priority *string
		if rec.Priority != "" {
			p := string(rec.Priority)
			priority = &p
		}
		rows = append(rows, []any{key, rec.Seq, rec.Type, rec.Time.UTC(), details, priority})
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin put transaction failed", "key", key, "error", err)
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM recorded_events WHERE storage_key=$1`, key); err != nil {
		r.logger.Error("clear recorded events failed", "key", key, "error", err)
		return err
	}

	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"recorded_events"}, recordedEventColumns, pgx.CopyFromRows(rows))
		if err != nil {
			r.logger.Error("copy recorded events failed", "key", key, "rows", len(rows), "error", err)
			return err
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("copy recorded events: wrote %d of %d rows", copied, len(rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit put transaction failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *PostgresStorage) Get(ctx context.Context, key string) ([]domain.EventRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT seq, type, occurred_at, details, priority
		FROM recorded_events
		WHERE storage_key=$1
		ORDER BY seq ASC
	`, key)
	if err != nil {
		r.logger.Error("list recorded events query failed", "key", key, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 16)
	for rows.Next() {
		var (
			rec      domain.EventRecord
			details  []byte
			priority *string
		)
		if err := rows.Scan(&rec.Seq, &rec.Type, &rec.Time, &details, &priority); err != nil {
			r.logger.Error("scan recorded event failed", "key", key, "error", err)
			return nil, err
		}
		rec.Time = rec.Time.UTC()
		if rec.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		if priority != nil {
			rec.Priority = domain.Priority(*priority)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("recorded events rows iteration failed", "key", key, "error", err)
		return nil, err
	}

	return out, nil
}
