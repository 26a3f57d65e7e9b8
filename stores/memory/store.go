package memory

import (
	"context"
	"sync"

	"roomhub-server/core"

	"github.com/sirupsen/logrus"
)

type memStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewStore creates an in-memory snapshot store. Snapshots are lost on restart.
func NewStore() *memStore {
	return &memStore{
		snapshots: make(map[string][]byte),
	}
}

func (s *memStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.snapshots[roomID]
	s.mu.RUnlock()

	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memStore) Set(ctx context.Context, roomID string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.snapshots[roomID] = stored
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"data_length": len(data),
	}).Debug("Snapshot stored")
	return nil
}

func (s *memStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	delete(s.snapshots, roomID)
	s.mu.Unlock()
	return nil
}

func (s *memStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.snapshots)
	s.snapshots = make(map[string][]byte)
	s.mu.Unlock()

	logrus.WithField("count", n).Warn("All snapshots cleared")
	return nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) Close() error { return nil }
