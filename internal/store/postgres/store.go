// Package postgres is an EventStore backed by a PostgreSQL events table.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dayplanner/internal/model"
	"dayplanner/internal/store"
	"dayplanner/internal/timecoord"
)

//go:embed schema.sql
var schema string

const selectColumns = `id, title, start_time, end_time, event_date, recurring, recurrence_days, status`

type EventStore struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*EventStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &EventStore{Pool: pool}, nil
}

func (s *EventStore) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *EventStore) Ready(ctx context.Context) error {
	var one int
	return s.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Migrate creates the events table if it does not exist.
func (s *EventStore) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (s *EventStore) List(ctx context.Context) ([]model.Event, error) {
	rows, err := s.Pool.Query(ctx, "SELECT "+selectColumns+" FROM events ORDER BY event_date NULLS FIRST, start_time, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *EventStore) Get(ctx context.Context, id string) (model.Event, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM events WHERE id=$1", id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return ev, err
}

func (s *EventStore) UpdateTimes(ctx context.Context, id string, start, end timecoord.TimeOfDay) (model.Event, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return model.Event{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, "SELECT "+selectColumns+" FROM events WHERE id=$1 FOR UPDATE", id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return model.Event{}, err
	}
	moved := ev.WithTimes(start, end)
	if err := moved.Validate(); err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", store.ErrInvalid, err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE events SET start_time=$2, end_time=$3, updated_at=now() WHERE id=$1",
		id, moved.Start.String(), moved.End.String())
	if err != nil {
		return model.Event{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Event{}, err
	}
	return moved, nil
}

func (s *EventStore) MarkCompleted(ctx context.Context, id string) error {
	ct, err := s.Pool.Exec(ctx,
		"UPDATE events SET status=$2, updated_at=now() WHERE id=$1",
		id, string(model.StatusCompleted))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *EventStore) Upsert(ctx context.Context, events ...model.Event) error {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalid, err)
		}
	}
	if len(events) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return upsert(ctx, tx, events)
	})
}

func (s *EventStore) ReplaceSource(ctx context.Context, source string, events []model.Event) error {
	for _, ev := range events {
		if !store.FromSource(ev.ID, source) {
			return fmt.Errorf("%w: %s does not belong to source %s", store.ErrInvalid, ev.ID, source)
		}
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalid, err)
		}
	}
	prefix := source + ":"

	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"DELETE FROM events WHERE starts_with(id, $1) RETURNING id, status", prefix)
		if err != nil {
			return err
		}
		completed := make(map[string]bool)
		for rows.Next() {
			var id, status string
			if err := rows.Scan(&id, &status); err != nil {
				rows.Close()
				return err
			}
			completed[id] = status == string(model.StatusCompleted)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		in := make([]model.Event, len(events))
		for i, ev := range events {
			if completed[ev.ID] {
				ev.Status = model.StatusCompleted
			}
			in[i] = ev
		}
		return upsert(ctx, tx, in)
	})
}

func upsert(ctx context.Context, tx pgx.Tx, events []model.Event) error {
	const q = `
INSERT INTO events (id, title, start_time, end_time, event_date, recurring, recurrence_days, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  start_time = EXCLUDED.start_time,
  end_time = EXCLUDED.end_time,
  event_date = EXCLUDED.event_date,
  recurring = EXCLUDED.recurring,
  recurrence_days = EXCLUDED.recurrence_days,
  status = EXCLUDED.status,
  updated_at = now()`

	batch := &pgx.Batch{}
	for _, ev := range events {
		r := toRow(ev)
		batch.Queue(q, r.ID, r.Title, r.Start, r.End, r.Date, r.Recurring, r.Days, r.Status)
	}
	return tx.SendBatch(ctx, batch).Close()
}
