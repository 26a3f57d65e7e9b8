package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"roomhub-server/metrics"

	"github.com/sirupsen/logrus"
)

// ExclusionPolicy selects which channels are skipped when an update is published.
type ExclusionPolicy int

const (
	// ExcludeByLabel withholds an update from every channel carrying the originator's
	// label, including other tabs or devices using the same name.
	ExcludeByLabel ExclusionPolicy = iota
	// ExcludeByChannel withholds an update only from the channel that sent it.
	ExcludeByChannel
)

func ParseExclusionPolicy(s string) (ExclusionPolicy, error) {
	switch s {
	case "", "label":
		return ExcludeByLabel, nil
	case "channel":
		return ExcludeByChannel, nil
	}
	return ExcludeByLabel, fmt.Errorf("unknown exclusion policy: %s", s)
}

func (p ExclusionPolicy) String() string {
	if p == ExcludeByChannel {
		return "channel"
	}
	return "label"
}

// Origin identifies who submitted an update. Both fields are optional.
type Origin struct {
	Label   string
	Channel *Channel
}

type Options struct {
	Exclusion ExclusionPolicy
}

// Hub owns the subscriber registry and presence set of every room.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Channel]struct{}
	presence  *presence
	exclusion ExclusionPolicy
}

func New(opts Options) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Channel]struct{}),
		presence:  newPresence(),
		exclusion: opts.Exclusion,
	}
}

// Attach registers ch in its room and, if label is not empty, sets its presence label.
// Closing ch later detaches it. Attaching a closed channel is a no-op.
func (h *Hub) Attach(ch *Channel, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !ch.bind(h.Detach) {
		return
	}

	roomID := ch.RoomID()
	channels, ok := h.rooms[roomID]
	if !ok {
		channels = make(map[*Channel]struct{})
		h.rooms[roomID] = channels
	}
	if _, exists := channels[ch]; exists {
		return
	}
	channels[ch] = struct{}{}
	metrics.ChannelsAttached.Inc()

	if ch.setLabel(label) {
		h.presence.mark(roomID, label)
	}

	logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"channel_id":  ch.ID(),
		"label":       label,
		"subscribers": len(channels),
	}).Debug("Channel attached")
}

// Detach removes ch from its room's registry and presence set. It is idempotent.
func (h *Hub) Detach(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	roomID := ch.RoomID()
	channels, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := channels[ch]; !ok {
		return
	}
	delete(channels, ch)
	metrics.ChannelsAttached.Dec()
	h.presence.unmark(roomID, ch.Label())
	if len(channels) == 0 {
		delete(h.rooms, roomID)
	}

	logrus.WithFields(logrus.Fields{
		"room_id":     roomID,
		"channel_id":  ch.ID(),
		"subscribers": len(channels),
	}).Debug("Channel detached")
}

// AssignLabel sets the presence label of an attached channel. A channel's label
// can be set only once; later calls report false.
func (h *Hub) AssignLabel(ch *Channel, label string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !ch.setLabel(label) {
		return false
	}
	if _, attached := h.rooms[ch.RoomID()][ch]; attached {
		h.presence.mark(ch.RoomID(), label)
	}
	return true
}

// Channels returns a snapshot of the channels attached to roomID.
func (h *Hub) Channels(roomID string) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := h.rooms[roomID]
	out := make([]*Channel, 0, len(channels))
	for ch := range channels {
		out = append(out, ch)
	}
	return out
}

// Labels returns the sorted presence labels of roomID.
func (h *Hub) Labels(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.labels(roomID)
}

// Present reports whether label is held by an attached channel in roomID.
func (h *Hub) Present(roomID, label string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.has(roomID, label)
}

// Publish delivers payload to every eligible channel of roomID and returns how many
// channels it was queued for. Channels are written after the registry lock is
// released; a closed or overflowing channel is detached and the pass continues.
func (h *Hub) Publish(roomID string, payload json.RawMessage, origin Origin) int {
	frame := Frame{Type: FrameUpdate, Payload: payload, Username: origin.Label}
	log := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"origin":  origin.Label,
	})

	delivered := 0
	for _, ch := range h.Channels(roomID) {
		if h.excluded(ch, origin) {
			continue
		}

		dropped, err := ch.Send(frame)
		switch {
		case err == nil:
			delivered++
			metrics.FramesDelivered.Inc()
			if dropped {
				metrics.FramesDropped.WithLabelValues("overflow_drop").Inc()
				log.WithField("channel_id", ch.ID()).Warn("Dropped oldest frame for slow channel")
			}
		case errors.Is(err, ErrQueueFull):
			metrics.FramesDropped.WithLabelValues("overflow_close").Inc()
			log.WithField("channel_id", ch.ID()).Warn("Closed slow channel")
		default:
			// Closed between the snapshot and the send; make sure it is gone.
			metrics.FramesDropped.WithLabelValues("closed").Inc()
			h.Detach(ch)
		}
	}

	log.WithField("delivered", delivered).Debug("Update published")
	return delivered
}

func (h *Hub) excluded(ch *Channel, origin Origin) bool {
	if h.exclusion == ExcludeByChannel {
		return origin.Channel != nil && ch == origin.Channel
	}
	if origin.Label == "" {
		return false
	}
	return ch.Label() == origin.Label
}

// Status maps every room with attached channels to its subscriber count.
func (h *Hub) Status() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := make(map[string]int, len(h.rooms))
	for roomID, channels := range h.rooms {
		status[roomID] = len(channels)
	}
	return status
}

// RoomIDs returns the sorted IDs of rooms with attached channels.
func (h *Hub) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drop forgets the registry and presence entries of roomID without closing its
// channels. They stay open but no longer receive updates.
func (h *Hub) Drop(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.rooms[roomID])
	delete(h.rooms, roomID)
	h.presence.drop(roomID)
	metrics.ChannelsAttached.Sub(float64(n))
	return n
}

// DropAll forgets every room. Used by the administrative wipe.
func (h *Hub) DropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, channels := range h.rooms {
		metrics.ChannelsAttached.Sub(float64(len(channels)))
		h.presence.drop(roomID)
	}
	h.rooms = make(map[string]map[*Channel]struct{})
}

// Shutdown closes every attached channel.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Channel
	for _, channels := range h.rooms {
		for ch := range channels {
			all = append(all, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range all {
		ch.Close()
	}
	logrus.WithField("channels", len(all)).Info("Hub shut down")
}
