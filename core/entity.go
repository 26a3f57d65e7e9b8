package core

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a SnapshotStore when a room has no stored snapshot.
var ErrNotFound = errors.New("room not found")

type (
	// SnapshotStore persists the latest state payload of each room.
	// Every room is a single independent key; no multi-key atomicity is required.
	SnapshotStore interface {
		// Get returns the stored snapshot or ErrNotFound.
		Get(ctx context.Context, roomID string) ([]byte, error)

		// Set overwrites the snapshot of a room.
		Set(ctx context.Context, roomID string, data []byte) error

		// Delete removes the snapshot of a room. Deleting an absent room is not an error.
		Delete(ctx context.Context, roomID string) error

		// ClearAll removes every stored snapshot.
		ClearAll(ctx context.Context) error

		Ping(ctx context.Context) error
		Close() error
	}

	// Room is the reporting view of a room with live subscribers.
	Room struct {
		ID          string   `json:"id"`
		Subscribers int      `json:"subscribers"`
		Present     []string `json:"present,omitempty"`
	}
)
