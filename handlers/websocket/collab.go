package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"roomhub-server/core"
	"roomhub-server/hub"
	"roomhub-server/metrics"
	"roomhub-server/rooms"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

func socketIOOrigins(allowed []string) []any {
	if len(allowed) == 0 {
		return []any{"tauri://localhost", localhostOrigin}
	}
	origins := make([]any, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return []any{"*"}
		}
		origins = append(origins, o)
	}
	return origins
}

// SetupSocketIO serves the Socket.IO duplex transport. A socket joins a room with
// join-room(roomId[, label]), optionally sets its label with init(label), and submits
// snapshots with server-broadcast(roomId, payload). Frames are pushed as "snapshot",
// "update" and "error" events.
func SetupSocketIO(svc Service, h *hub.Hub, opts Options) *socketio.Server {
	sopts := socketio.DefaultServerOptions()
	if opts.MaxMessageBytes > 0 {
		sopts.SetMaxHttpBufferSize(opts.MaxMessageBytes)
	}
	sopts.SetPath("/socket.io")
	sopts.SetAllowEIO3(true)
	sopts.SetCors(&types.Cors{
		Origin:      socketIOOrigins(opts.AllowedOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, sopts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		s := newIOSession(socketPeer{srv: srv, socket: socket}, svc, h, opts,
			logrus.WithField("socket_id", socket.Id()))
		s.log.Debug("Socket.IO connected")
		_ = socket.Emit("init-room")

		//nolint:errcheck
		socket.On("join-room", s.handleJoin)
		//nolint:errcheck
		socket.On("init", s.handleInit)
		//nolint:errcheck
		socket.On("server-broadcast", s.handleBroadcast)
		//nolint:errcheck
		socket.On("disconnect", func(...any) {
			s.closeAll()
			socket.RemoveAllListeners("")
			s.log.Debug("Socket.IO disconnected")
		})
	})

	return srv
}

// emitter sends one event to a single client.
type emitter interface {
	Emit(ev string, args ...any) error
}

// peer is the client side of a session: the socket itself and the Socket.IO rooms it joins.
type peer interface {
	emitter
	Join(roomID string)
	EmitToRoom(roomID, ev string, args ...any) error
}

type socketPeer struct {
	srv    *socketio.Server
	socket *socketio.Socket
}

func (p socketPeer) Emit(ev string, args ...any) error { return p.socket.Emit(ev, args...) }
func (p socketPeer) Join(roomID string) { p.socket.Join(socketio.Room(roomID)) }

func (p socketPeer) EmitToRoom(roomID, ev string, args ...any) error {
	return p.srv.To(socketio.Room(roomID)).Emit(ev, args...)
}

// ioSession holds the hub channels of one socket, one per joined room.
type ioSession struct {
	peer peer
	svc  Service
	hub  *hub.Hub
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	channels map[string]*hub.Channel
	label    string
}

func newIOSession(p peer, svc Service, h *hub.Hub, opts Options, log *logrus.Entry) *ioSession {
	return &ioSession{
		peer:     p,
		svc:      svc,
		hub:      h,
		opts:     opts,
		log:      log,
		channels: make(map[string]*hub.Channel),
	}
}

func (s *ioSession) channel(roomID string) *hub.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[roomID]
}

func (s *ioSession) handleJoin(datas ...any) {
	ack, args := extractAck(datas)
	if len(args) == 0 {
		err := errors.New("room id is required")
		respond(s.peer, ack, "join-room-ack", ackPayload(err), err)
		return
	}
	roomID, _ := args[0].(string)
	if roomID == "" {
		err := errors.New("invalid room id")
		respond(s.peer, ack, "join-room-ack", ackPayload(err), err)
		return
	}

	s.mu.Lock()
	if len(args) > 1 {
		if label, ok := args[1].(string); ok && s.label == "" {
			s.label = label
		}
	}
	label := s.label
	if _, joined := s.channels[roomID]; joined {
		s.mu.Unlock()
		respond(s.peer, ack, "join-room-ack", ackPayload(nil), nil)
		return
	}
	ch := hub.NewChannel(roomID, s.opts.QueueSize, s.opts.Overflow)
	s.channels[roomID] = ch
	s.mu.Unlock()

	s.hub.Attach(ch, label)
	s.peer.Join(roomID)
	log := s.log.WithFields(logrus.Fields{"room_id": roomID, "channel_id": ch.ID(), "label": label})
	log.Info("Socket.IO joined room")

	// Emitted before the forwarder starts so updates queued during the read follow it.
	if data, err := s.svc.Get(context.Background(), roomID); err == nil {
		_ = s.peer.Emit(hub.FrameSnapshot, frameBody(hub.Frame{Type: hub.FrameSnapshot, Payload: data}))
	} else if !errors.Is(err, core.ErrNotFound) {
		log.WithError(err).Warn("Failed to load snapshot for new connection")
	}
	go s.forward(ch)

	s.announce(roomID)
	payload := ackPayload(nil)
	payload["user_count"] = len(s.hub.Channels(roomID))
	respond(s.peer, ack, "join-room-ack", payload, nil)
}

func (s *ioSession) handleInit(datas ...any) {
	ack, args := extractAck(datas)
	label := ""
	if len(args) > 0 {
		label, _ = args[0].(string)
	}
	if label == "" {
		err := fmt.Errorf("%w: label is required", rooms.ErrMalformedMessage)
		respond(s.peer, ack, "init-ack", ackPayload(err), err)
		return
	}

	s.mu.Lock()
	if s.label == "" {
		s.label = label
	}
	channels := make([]*hub.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		msg := rooms.InboundMessage{Type: rooms.MessageInit, Label: label}
		if err := s.svc.Inbound(context.Background(), ch, msg); err != nil {
			s.log.WithError(err).Warn("Failed to assign label")
			continue
		}
		s.announce(ch.RoomID())
	}
	respond(s.peer, ack, "init-ack", ackPayload(nil), nil)
}

func (s *ioSession) handleBroadcast(datas ...any) {
	req, ack, err := parseBroadcast(datas)
	if err != nil {
		respond(s.peer, ack, "broadcast-ack", ackPayload(err), err)
		return
	}

	ch := s.channel(req.roomID)
	if ch == nil {
		err := fmt.Errorf("%w: join room %s first", rooms.ErrMalformedMessage, req.roomID)
		respond(s.peer, ack, "broadcast-ack", ackPayload(err), err)
		return
	}

	data, err := json.Marshal(req.payload)
	if err != nil {
		err = fmt.Errorf("%w: %v", rooms.ErrInvalidPayload, err)
		respond(s.peer, ack, "broadcast-ack", ackPayload(err), err)
		return
	}

	msg := rooms.InboundMessage{Type: rooms.MessageUpdate, Payload: data}
	if err := s.svc.Inbound(context.Background(), ch, msg); err != nil {
		if !rooms.IsMessageError(err) {
			s.log.WithError(err).WithField("room_id", req.roomID).Error("Failed to apply update")
			err = errors.New("failed to save update")
		}
		respond(s.peer, ack, "broadcast-ack", ackPayload(err), err)
		return
	}
	metrics.UpdatesSubmitted.WithLabelValues("socketio").Inc()

	payload := ackPayload(nil)
	if req.messageID != "" {
		payload["messageId"] = req.messageID
	}
	respond(s.peer, ack, "broadcast-ack", payload, nil)
}

// forward pushes ch's frames to the socket until the channel closes.
func (s *ioSession) forward(ch *hub.Channel) {
	for {
		select {
		case f := <-ch.Frames():
			if err := s.peer.Emit(f.Type, frameBody(f)); err != nil {
				s.log.WithError(err).Debug("Socket.IO emit failed")
				ch.Close()
				return
			}
		case <-ch.Done():
			if s.forget(ch) {
				// Closed by the hub rather than by this socket leaving.
				_ = s.peer.Emit(hub.FrameError, map[string]any{"error": "subscription closed, rejoin the room"})
			}
			return
		}
	}
}

func (s *ioSession) forget(ch *hub.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[ch.RoomID()] != ch {
		return false
	}
	delete(s.channels, ch.RoomID())
	return true
}

// frameBody is the event argument for f; payloads are decoded so the client receives
// structured data rather than a JSON string.
func frameBody(f hub.Frame) map[string]any {
	body := map[string]any{}
	if len(f.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(f.Payload, &payload); err == nil {
			body["payload"] = payload
		}
	}
	if f.Username != "" {
		body["username"] = f.Username
	}
	if f.Error != "" {
		body["error"] = f.Error
	}
	return body
}

// announce tells every socket in roomID who is present.
func (s *ioSession) announce(roomID string) {
	_ = s.peer.EmitToRoom(roomID, "room-user-change", s.hub.Labels(roomID))
}

func (s *ioSession) closeAll() {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*hub.Channel)
	s.mu.Unlock()

	for roomID, ch := range channels {
		ch.Close()
		s.announce(roomID)
	}
}
