package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomhub-server/core"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const scanBatch = 500

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to redisURL. A positive ttl expires snapshots that are not
// updated for that long.
func NewStore(ctx context.Context, redisURL string, ttl time.Duration) (*redisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client, ttl: ttl}, nil
}

// snapshotKey returns the key holding a room's snapshot.
func snapshotKey(roomID string) string {
	return fmt.Sprintf("room:%s:snapshot", roomID)
}

func (s *redisStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	data, err := s.client.Get(ctx, snapshotKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}
	return data, nil
}

func (s *redisStore) Set(ctx context.Context, roomID string, data []byte) error {
	if err := s.client.Set(ctx, snapshotKey(roomID), data, s.ttl).Err(); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to store snapshot")
		return err
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, snapshotKey(roomID)).Err()
}

// ClearAll deletes every snapshot key. Keys owned by other applications are left alone.
func (s *redisStore) ClearAll(ctx context.Context) error {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, snapshotKey("*"), scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan snapshot keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete snapshot keys: %w", err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	logrus.WithField("count", removed).Warn("All snapshots cleared")
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
