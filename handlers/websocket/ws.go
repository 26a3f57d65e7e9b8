package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"roomhub-server/core"
	"roomhub-server/hub"
	"roomhub-server/metrics"
	"roomhub-server/rooms"

	"github.com/go-chi/chi/v5"
	ws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients exceeding the inbound rate this many times in a row are disconnected.
	maxRateViolations = 100
)

type (
	// Service handles inbound messages and provides the snapshot sent on connect.
	Service interface {
		Get(ctx context.Context, roomID string) (json.RawMessage, error)
		Inbound(ctx context.Context, ch *hub.Channel, msg rooms.InboundMessage) error
	}

	Options struct {
		QueueSize       int
		Overflow        hub.OverflowPolicy
		MaxMessageBytes int64
		InboundRate     float64
		InboundBurst    int
		AllowedOrigins  []string
	}
)

func newUpgrader(allowed []string) ws.Upgrader {
	return ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowed),
	}
}

// originChecker accepts any origin when allowed is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		if len(set) == 0 || set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.InboundRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := opts.InboundBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.InboundRate), burst)
}

// HandleWebSocket upgrades the request to a duplex channel on the room named by the
// roomId URL parameter. Outbound frames are JSON text messages; inbound messages are
// {"type":"init","label":...} or {"type":"update","payload":...}.
func HandleWebSocket(svc Service, h *hub.Hub, opts Options) http.HandlerFunc {
	upgrader := newUpgrader(opts.AllowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		username := r.URL.Query().Get("username")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("WebSocket upgrade failed")
			return
		}

		ch := hub.NewChannel(roomID, opts.QueueSize, opts.Overflow)
		h.Attach(ch, username)

		log := logrus.WithFields(logrus.Fields{
			"room_id":    roomID,
			"channel_id": ch.ID(),
			"username":   username,
		})
		log.Info("WebSocket connected")

		// The snapshot is written ahead of the queue: updates published while it was
		// being read are already queued and must reach the client after it.
		if data, err := svc.Get(r.Context(), roomID); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(hub.Frame{Type: hub.FrameSnapshot, Payload: data}); err != nil {
				log.WithError(err).Debug("WebSocket write failed")
				ch.Close()
				conn.Close()
				return
			}
		} else if !errors.Is(err, core.ErrNotFound) {
			log.WithError(err).Warn("Failed to load snapshot for new connection")
		}

		c := &client{
			conn:    conn,
			ch:      ch,
			svc:     svc,
			limiter: newLimiter(opts),
			log:     log,
		}
		go c.writePump()
		c.readPump(r.Context(), opts.MaxMessageBytes)
	}
}

type client struct {
	conn    *ws.Conn
	ch      *hub.Channel
	svc     Service
	limiter *rate.Limiter
	log     *logrus.Entry
}

func (c *client) readPump(ctx context.Context, maxMessageBytes int64) {
	defer func() {
		c.ch.Close()
		c.conn.Close()
		c.log.Info("WebSocket disconnected")
	}()

	if maxMessageBytes > 0 {
		c.conn.SetReadLimit(maxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	violations := 0
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure, ws.CloseNoStatusReceived) {
				c.log.WithError(err).Warn("WebSocket read failed")
			}
			return
		}

		if !c.limiter.Allow() {
			violations++
			c.reject("rate limit exceeded")
			if violations >= maxRateViolations {
				c.log.Warn("Disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}
		violations = 0

		msg, err := rooms.DecodeInbound(raw)
		if err == nil {
			err = c.svc.Inbound(ctx, c.ch, msg)
		}
		switch {
		case err == nil:
			if msg.Type == rooms.MessageUpdate {
				metrics.UpdatesSubmitted.WithLabelValues("websocket").Inc()
			}
		case rooms.IsMessageError(err):
			c.log.WithError(err).Warn("Rejected inbound message")
			c.reject(err.Error())
		default:
			c.log.WithError(err).Error("Failed to apply inbound message")
			c.reject("failed to save update")
		}
	}
}

// reject reports a problem with one message to the sender only.
func (c *client) reject(reason string) {
	_, _ = c.ch.Send(hub.Frame{Type: hub.FrameError, Error: reason})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// A failed write is a transport failure; closing the channel detaches it.
		c.ch.Close()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.ch.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.WithError(err).Debug("WebSocket write failed")
				return
			}

		case <-c.ch.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
