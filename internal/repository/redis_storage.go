// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the log as one JSON array per key.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

func NewRedisStorage(client *redis.Client, logger *slog.Logger) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStorage{client: client, logger: logger}
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) Put(ctx context.Context, key string, records []domain.EventRecord) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if records == nil {
		records = []domain.EventRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		s.logger.Error("redis set failed", "key", key, "error", err)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns an empty log when the key does not exist.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]domain.EventRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.EventRecord{}, nil
	}
	if err != nil {
		s.logger.Error("redis get failed", "key", key, "error", err)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var records []domain.EventRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for i := range records {
		if records[i].Details == nil {
			records[i].Details = map[string]any{}
		}
	}
	return records, nil
}
