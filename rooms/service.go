package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomhub-server/core"
	"roomhub-server/hub"
	"roomhub-server/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Service ties the snapshot store to the hub. Updates to one room are persisted and
// published one at a time, so every channel sees them in the order they were stored.
type Service struct {
	store core.SnapshotStore
	hub   *hub.Hub
	locks *roomLocks
}

func NewService(store core.SnapshotStore, h *hub.Hub) *Service {
	return &Service{
		store: store,
		hub:   h,
		locks: newRoomLocks(),
	}
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Create stores data under a fresh room ID and returns the ID.
func (s *Service) Create(ctx context.Context, data json.RawMessage) (string, error) {
	if !json.Valid(data) {
		return "", ErrInvalidPayload
	}

	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"room_id":     id,
		"data_length": len(data),
	})

	start := time.Now()
	err := s.store.Set(ctx, id, data)
	observe("set", start)
	if err != nil {
		log.WithError(err).Error("Failed to create room")
		return "", fmt.Errorf("create room: %w", err)
	}

	metrics.RoomsCreated.Inc()
	log.Info("Room created")
	return id, nil
}

// Get returns the stored snapshot of roomID, or core.ErrNotFound.
func (s *Service) Get(ctx context.Context, roomID string) (json.RawMessage, error) {
	start := time.Now()
	data, err := s.store.Get(ctx, roomID)
	observe("get", start)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return data, nil
}

// Update persists data as the new snapshot of roomID and then pushes it to every
// attached channel not excluded by origin. A room without a snapshot is created.
// Nothing is published if the store fails.
func (s *Service) Update(ctx context.Context, roomID string, data json.RawMessage, origin hub.Origin) (int, error) {
	if !json.Valid(data) {
		return 0, ErrInvalidPayload
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	start := time.Now()
	err := s.store.Set(ctx, roomID, data)
	observe("set", start)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"origin":  origin.Label,
		}).WithError(err).Error("Failed to save room")
		return 0, fmt.Errorf("save room %s: %w", roomID, err)
	}

	return s.hub.Publish(roomID, data, origin), nil
}

// Destroy deletes the room's snapshot, then forgets its subscribers and presence.
// Channels still open on the room are left open but receive nothing further. When the
// delete fails the registry is left untouched.
func (s *Service) Destroy(ctx context.Context, roomID string) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	start := time.Now()
	err := s.store.Delete(ctx, roomID)
	observe("delete", start)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}

	orphaned := s.hub.Drop(roomID)

	logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"orphaned": orphaned,
	}).Info("Room destroyed")
	return nil
}

// ClearAll deletes every snapshot and forgets every room. It is an administrative
// operation and is never reached through Destroy.
func (s *Service) ClearAll(ctx context.Context) error {
	start := time.Now()
	err := s.store.ClearAll(ctx)
	observe("clear_all", start)
	if err != nil {
		return fmt.Errorf("clear all rooms: %w", err)
	}

	s.hub.DropAll()
	logrus.Warn("All rooms cleared")
	return nil
}

// Status maps each room with attached channels to its subscriber count.
func (s *Service) Status() map[string]int {
	return s.hub.Status()
}

// Presence reports the live subscribers and present labels of roomID.
func (s *Service) Presence(roomID string) core.Room {
	return core.Room{
		ID:          roomID,
		Subscribers: len(s.hub.Channels(roomID)),
		Present:     s.hub.Labels(roomID),
	}
}

// Inbound handles a message received on ch. Errors wrapping ErrMalformedMessage,
// ErrUnknownMessage or ErrInvalidPayload concern only the message; the channel stays usable.
func (s *Service) Inbound(ctx context.Context, ch *hub.Channel, msg InboundMessage) error {
	switch msg.Type {
	case MessageInit:
		label := msg.label()
		if label == "" {
			return fmt.Errorf("%w: init without label", ErrMalformedMessage)
		}
		if !s.hub.AssignLabel(ch, label) {
			return fmt.Errorf("%w: label already set", ErrMalformedMessage)
		}
		return nil

	case MessageUpdate:
		if len(msg.Payload) == 0 {
			return fmt.Errorf("%w: update without payload", ErrMalformedMessage)
		}
		_, err := s.Update(ctx, ch.RoomID(), msg.Payload, hub.Origin{Label: ch.Label(), Channel: ch})
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// IsMessageError reports whether err concerns a single inbound message rather than the server.
func IsMessageError(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownMessage) || errors.Is(err, ErrInvalidPayload)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
