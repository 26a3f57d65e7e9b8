package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"roomhub-server/core"
	"roomhub-server/hub"

	"github.com/gin-contrib/sse"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type (
	// SnapshotSource loads the current snapshot sent when a stream opens.
	SnapshotSource interface {
		Get(ctx context.Context, roomID string) (json.RawMessage, error)
	}

	Options struct {
		QueueSize int
		Overflow  hub.OverflowPolicy
		// Heartbeat is the interval of keep-alive comments; zero disables them.
		Heartbeat time.Duration
	}
)

func writeFrame(w io.Writer, f hub.Frame) error {
	return sse.Encode(w, sse.Event{Data: f})
}

// HandleEvents streams a room's updates as server-sent events. Each event's data is a
// JSON frame such as {"type":"update","payload":...,"username":"bob"}. The optional
// username query parameter becomes the channel's presence label.
func HandleEvents(src SnapshotSource, h *hub.Hub, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		username := r.URL.Query().Get("username")
		log := logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"username": username,
		})

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ch := hub.NewChannel(roomID, opts.QueueSize, opts.Overflow)
		h.Attach(ch, username)
		defer ch.Close()
		log = log.WithField("channel_id", ch.ID())
		log.Info("Event stream opened")

		// Attached before loading, so an update racing the load is queued rather than lost.
		data, err := src.Get(r.Context(), roomID)
		switch {
		case err == nil:
			if err := writeFrame(w, hub.Frame{Type: hub.FrameSnapshot, Payload: data}); err != nil {
				return
			}
		case errors.Is(err, core.ErrNotFound):
		default:
			log.WithError(err).Warn("Failed to load snapshot for new stream")
		}
		if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
			return
		}
		flusher.Flush()

		var heartbeat <-chan time.Time
		if opts.Heartbeat > 0 {
			ticker := time.NewTicker(opts.Heartbeat)
			defer ticker.Stop()
			heartbeat = ticker.C
		}

		for {
			select {
			case <-r.Context().Done():
				log.Info("Event stream closed by client")
				return
			case <-ch.Done():
				log.Info("Event stream closed by server")
				return
			case f := <-ch.Frames():
				if err := writeFrame(w, f); err != nil {
					log.WithError(err).Debug("Failed to write frame")
					return
				}
				flusher.Flush()
			case <-heartbeat:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
