package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roomhub-server/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dataSourceName and creates the rooms table.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	if !strings.HasPrefix(dataSourceName, "file:") && dataSourceName != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dataSourceName), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL lets readers proceed while an update is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	roomsTable := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(roomsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rooms table: %w", err)
	}

	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	log := logrus.WithField("room_id", roomID)

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM rooms WHERE id = ?", roomID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}

	log.Debug("Snapshot retrieved")
	return data, nil
}

func (s *sqliteStore) Set(ctx context.Context, roomID string, data []byte) error {
	log := logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"data_length": len(data),
	})

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, data, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at",
		roomID, data, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to store snapshot")
		return err
	}

	log.Debug("Snapshot stored")
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to delete snapshot")
		return err
	}
	return nil
}

func (s *sqliteStore) ClearAll(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rooms")
	if err != nil {
		return err
	}

	n, _ := result.RowsAffected()
	logrus.WithField("count", n).Warn("All snapshots cleared")
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
