package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"roomhub-server/core"
	"roomhub-server/hub"
	"roomhub-server/metrics"
	roomsvc "roomhub-server/rooms"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// Service is the room lifecycle the handlers drive.
	Service interface {
		Create(ctx context.Context, data json.RawMessage) (string, error)
		Get(ctx context.Context, roomID string) (json.RawMessage, error)
		Update(ctx context.Context, roomID string, data json.RawMessage, origin hub.Origin) (int, error)
		Destroy(ctx context.Context, roomID string) error
		ClearAll(ctx context.Context) error
		Status() map[string]int
		Presence(roomID string) core.Room
		Ping(ctx context.Context) error
	}

	CreateRoomResponse struct {
		RoomID string `json:"roomId"`
	}

	UpdateRoomRequest struct {
		Data     json.RawMessage `json:"data"`
		Username string          `json:"username"`
	}

	UpdateRoomResponse struct {
		Status    string `json:"status"`
		Delivered int    `json:"delivered"`
	}

	HealthResponse struct {
		Status    string `json:"status"`
		Store     string `json:"store"`
		Latency   string `json:"latency,omitempty"`
		Timestamp string `json:"timestamp"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// HandleCreate stores the request body as the first snapshot of a new room.
func HandleCreate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logrus.WithError(err).Warn("Failed to read request body")
			renderError(w, r, http.StatusRequestEntityTooLarge, "Failed to read request body")
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		id, err := svc.Create(r.Context(), body)
		if err != nil {
			if errors.Is(err, roomsvc.ErrInvalidPayload) {
				renderError(w, r, http.StatusBadRequest, "Room data must be valid JSON")
				return
			}
			logrus.WithError(err).Error("Failed to create room")
			renderError(w, r, http.StatusInternalServerError, "Failed to save room")
			return
		}

		render.JSON(w, r, CreateRoomResponse{RoomID: id})
	}
}

// HandleGet returns the stored snapshot as-is.
func HandleGet(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")

		data, err := svc.Get(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				renderError(w, r, http.StatusNotFound, "Room not found")
				return
			}
			logrus.WithField("room_id", roomID).WithError(err).Error("Failed to load room")
			renderError(w, r, http.StatusInternalServerError, "Failed to load room")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

func HandleDelete(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")

		if err := svc.Destroy(r.Context(), roomID); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Error("Failed to delete room")
			renderError(w, r, http.StatusInternalServerError, "Failed to delete room")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUpdate persists {data} and pushes it to the room, skipping channels labelled {username}.
func HandleUpdate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")
		log := logrus.WithField("room_id", roomID)

		var req UpdateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.WithError(err).Warn("Failed to decode request")
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.Data) == 0 {
			renderError(w, r, http.StatusBadRequest, "data is required")
			return
		}

		delivered, err := svc.Update(r.Context(), roomID, req.Data, hub.Origin{Label: req.Username})
		if err != nil {
			if errors.Is(err, roomsvc.ErrInvalidPayload) {
				renderError(w, r, http.StatusBadRequest, "Room data must be valid JSON")
				return
			}
			log.WithError(err).Error("Failed to update room")
			renderError(w, r, http.StatusInternalServerError, "Failed to save room")
			return
		}

		metrics.UpdatesSubmitted.WithLabelValues("http").Inc()
		render.JSON(w, r, UpdateRoomResponse{Status: "ok", Delivered: delivered})
	}
}

// HandleStatus maps every room with live subscribers to its subscriber count.
func HandleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, svc.Status())
	}
}

func HandlePresence(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, svc.Presence(chi.URLParam(r, "id")))
	}
}

// HandleClearAll wipes every room. The caller must pass confirm=all.
func HandleClearAll(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") != "all" {
			renderError(w, r, http.StatusBadRequest, "confirm=all is required")
			return
		}

		if err := svc.ClearAll(r.Context()); err != nil {
			logrus.WithError(err).Error("Failed to clear rooms")
			renderError(w, r, http.StatusInternalServerError, "Failed to clear rooms")
			return
		}

		logrus.WithField("remote_addr", r.RemoteAddr).Warn("All rooms cleared by admin request")
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleHealth(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:    "healthy",
			Store:     "pass",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		start := time.Now()
		if err := svc.Ping(ctx); err != nil {
			logrus.WithError(err).Warn("Store health check failed")
			resp.Status = "degraded"
			resp.Store = "fail"
			render.Status(r, http.StatusServiceUnavailable)
		} else {
			resp.Latency = time.Since(start).String()
		}

		render.JSON(w, r, resp)
	}
}
