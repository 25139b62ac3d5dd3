// Package store persists the reading history in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thermoscope/internal/model"
)

var ErrNoReadings = errors.New("store: no readings recorded yet")

const maxQueryLimit = 10000

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) RecordReading(ctx context.Context, reading model.Reading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO readings(temperature, humidity, recorded_at)
		VALUES ($1, $2, $3)
	`, reading.Temperature, reading.Humidity, reading.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// ListReadings returns readings in [start, end], oldest first, capped at
// limit (default and maximum 10000).
func (s *Store) ListReadings(ctx context.Context, start, end time.Time, limit int) ([]model.StoredReading, error) {
	if limit < 1 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, temperature, humidity, recorded_at
		FROM readings
		WHERE recorded_at >= $1 AND recorded_at <= $2
		ORDER BY recorded_at ASC
		LIMIT $3
	`, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := []model.StoredReading{}
	for rows.Next() {
		var reading model.StoredReading
		if err := rows.Scan(&reading.ID, &reading.Temperature, &reading.Humidity, &reading.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}

func (s *Store) LatestReading(ctx context.Context) (model.StoredReading, error) {
	var reading model.StoredReading
	err := s.pool.QueryRow(ctx, `
		SELECT id, temperature, humidity, recorded_at
		FROM readings
		ORDER BY recorded_at DESC
		LIMIT 1
	`).Scan(&reading.ID, &reading.Temperature, &reading.Humidity, &reading.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StoredReading{}, ErrNoReadings
	}
	if err != nil {
		return model.StoredReading{}, fmt.Errorf("query latest reading: %w", err)
	}
	return reading, nil
}

// PruneBefore deletes readings older than cutoff and reports how many went.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM readings WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return tag.RowsAffected(), nil
}
