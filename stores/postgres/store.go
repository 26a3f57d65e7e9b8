package postgres

import (
	"context"
	"errors"
	"fmt"

	"roomhub-server/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	room_id    TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL store with a connection pool and ensures its table exists.
func NewStore(ctx context.Context, databaseURL string) (*pgStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set for postgres storage")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create room_snapshots table: %w", err)
	}

	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM room_snapshots WHERE room_id = $1`, roomID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}
	return data, nil
}

func (s *pgStore) Set(ctx context.Context, roomID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_snapshots (room_id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, roomID, data)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to store snapshot")
	}
	return err
}

func (s *pgStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE room_id = $1`, roomID)
	return err
}

func (s *pgStore) ClearAll(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM room_snapshots`)
	if err != nil {
		return err
	}
	logrus.WithField("count", tag.RowsAffected()).Warn("All snapshots cleared")
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
