package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ashwalker/streammux/internal/socket"
)

// AuthMinter mints authorization tokens for private channels given the
// channel name and the socket id from the handshake.
type AuthMinter interface {
	MintChannelAuth(ctx context.Context, channel, socketID string) (string, error)
}

// conn is the slice of socket.Socket the multiplexer uses. Tests substitute
// a fake.
type conn interface {
	Connect()
	Disconnect()
	Send(payload []byte) error
	Frames() <-chan socket.Frame
	Events() <-chan socket.Event
	State() socket.State
}

// Mux multiplexes every held room over one chat-protocol socket.
type Mux struct {
	cfg    Config
	auth   AuthMinter // nil skips private channels
	logger *slog.Logger

	newSocket func(socket.Config) conn

	events chan Event

	mu        sync.Mutex
	rooms     map[int64]*Room
	subs      mapset.Set[string]
	sock      conn
	stop      chan struct{}
	socketID  string
	connected bool
}

// New creates a chat multiplexer. No socket is opened until the first room
// is added.
func New(cfg Config, auth AuthMinter, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 256
	}
	m := &Mux{
		cfg:    cfg,
		auth:   auth,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
		rooms:  make(map[int64]*Room),
		subs:   mapset.NewSet[string](),
	}
	m.newSocket = func(sc socket.Config) conn {
		return socket.New(sc, logger.With("socket", "chat"))
	}
	return m
}

// Events returns the typed event channel.
func (m *Mux) Events() <-chan Event { return m.events }

// State returns the underlying socket state.
func (m *Mux) State() socket.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock == nil {
		return socket.StateDisconnected
	}
	return m.sock.State()
}

// RoomCount returns the number of held rooms.
func (m *Mux) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// SubscriptionCount returns the number of active channel subscriptions.
func (m *Mux) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.Cardinality()
}

// Room returns a copy of a held room's membership record.
func (m *Mux) Room(roomID int64) (Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// AddRoom registers a room on the shared socket. The first room opens the
// socket; subscription happens immediately when already connected,
// otherwise on the next handshake. Re-adding a held room is a no-op.
func (m *Mux) AddRoom(ctx context.Context, roomID, ownerID int64, meta map[string]string) {
	m.mu.Lock()
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return
	}
	room := &Room{
		ID:       roomID,
		OwnerID:  ownerID,
		Channels: channelVariants(roomID),
		Meta:     meta,
	}
	m.rooms[roomID] = room

	if m.sock == nil {
		sc := m.socketConfig()
		m.sock = m.newSocket(sc)
		m.stop = make(chan struct{})
		go m.run(m.sock, m.stop)
		sock := m.sock
		m.mu.Unlock()

		m.logger.Info("opening chat socket", "room_id", roomID)
		sock.Connect()
		return
	}

	connected := m.connected
	sock := m.sock
	m.mu.Unlock()

	if connected {
		m.subscribeRoom(ctx, sock, room)
	}
}

// RemoveRoom evicts a room, unsubscribing its channels. Removing the last
// room closes the socket entirely.
func (m *Mux) RemoveRoom(roomID int64) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	subscribed := room.Subscribed
	connected := m.connected
	sock := m.sock

	if len(m.rooms) == 0 {
		stop := m.stop
		m.sock = nil
		m.stop = nil
		m.connected = false
		m.socketID = ""
		m.subs.Clear()
		m.mu.Unlock()

		if sock != nil {
			sock.Disconnect()
		}
		if stop != nil {
			close(stop)
		}
		m.logger.Info("closed chat socket, no rooms held")
		return
	}

	for _, ch := range subscribed {
		m.subs.Remove(ch)
	}
	m.mu.Unlock()

	if connected && sock != nil {
		for _, ch := range subscribed {
			if err := sock.Send(unsubscribeFrame(ch)); err != nil {
				m.logger.Warn("unsubscribe send failed", "channel", ch, "error", err)
			}
		}
	}
}

// SetLiveSession records a room's current livestream id, feeding the
// livestream-scoped routing rule.
func (m *Mux) SetLiveSession(roomID, sessionID int64) {
	m.mu.Lock()
	room, found := m.rooms[roomID]
	changed := found && room.LiveSessionID != sessionID
	if changed {
		room.LiveSessionID = sessionID
	}
	m.mu.Unlock()
	if changed {
		m.emit(Event{Kind: EventRoomUpdated, RoomID: roomID})
	}
}

// Close tears down the socket regardless of held rooms.
func (m *Mux) Close() {
	m.mu.Lock()
	sock := m.sock
	stop := m.stop
	m.sock = nil
	m.stop = nil
	m.connected = false
	m.socketID = ""
	m.subs.Clear()
	m.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	if stop != nil {
		close(stop)
	}
}

func (m *Mux) socketConfig() socket.Config {
	sc := m.cfg.Socket
	if sc.URL == "" {
		sc.URL = m.cfg.URL
	}
	sc.Ping = pingFrame
	sc.IsPong = isPongFrame
	return sc
}

// run consumes frames and lifecycle events for one socket generation.
func (m *Mux) run(sock conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-sock.Events():
			m.handleSocketEvent(ev)
		case raw := <-sock.Frames():
			m.handleFrame(sock, raw)
		}
	}
}

func (m *Mux) handleSocketEvent(ev socket.Event) {
	switch ev.Kind {
	case socket.EventConnected:
		// Subscriptions wait for the handshake frame, which carries the
		// socket id needed for private-channel auth.
	case socket.EventDisconnected:
		m.clearSubscriptions()
		m.emit(Event{Kind: EventConnection, Connected: false, Err: ev.Err})
	case socket.EventGaveUp, socket.EventRejected:
		m.clearSubscriptions()
		m.emit(Event{Kind: EventError, Err: ev.Err})
	}
}

// clearSubscriptions drops the socket-scoped subscription set. Membership
// survives; channels are re-subscribed on the next handshake.
func (m *Mux) clearSubscriptions() {
	m.mu.Lock()
	m.connected = false
	m.socketID = ""
	m.subs.Clear()
	for _, r := range m.rooms {
		r.Subscribed = nil
	}
	m.mu.Unlock()
}

func (m *Mux) handleFrame(sock conn, raw socket.Frame) {
	f, err := DecodeFrame(raw.Data, raw.ReceivedAt)
	if err != nil {
		m.logger.Warn("malformed chat frame", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	switch f.Kind {
	case KindConnectionEstablished:
		m.handleHandshake(sock, f)
	case KindSubscriptionSucceeded:
		m.mu.Lock()
		id, _ := m.resolveRoom(f.Channel)
		m.mu.Unlock()
		m.emit(Event{Kind: EventSubscriptionSucceeded, RoomID: id, Frame: f})
	case KindPong:
		// Heartbeat replies are normally consumed by the socket.
	case KindStreamStart, KindStreamStop:
		m.handleLivestream(f)
	default:
		m.route(f)
	}
}

func (m *Mux) handleHandshake(sock conn, f Frame) {
	h, err := DecodeHandshake(f)
	if err != nil {
		m.logger.Warn("malformed handshake", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	m.mu.Lock()
	m.connected = true
	m.socketID = h.SocketID
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	m.logger.Info("chat handshake complete", "socket_id", h.SocketID, "rooms", len(rooms))
	m.emit(Event{Kind: EventConnection, Connected: true, Frame: f})

	ctx := context.Background()
	if m.cfg.UserID != 0 {
		m.subscribeChannels(ctx, sock, globalChannels(m.cfg.UserID), nil)
	}
	for _, r := range rooms {
		m.subscribeRoom(ctx, sock, r)
	}
}

// subscribeRoom subscribes every still-unsubscribed channel variant of one
// room, plus its private form when an auth minter is available.
func (m *Mux) subscribeRoom(ctx context.Context, sock conn, room *Room) {
	m.mu.Lock()
	wanted := make([]string, 0, len(room.Channels)+3)
	wanted = append(wanted, room.Channels...)
	wanted = append(wanted, ownerChannels(room.OwnerID)...)
	if m.auth != nil {
		wanted = append(wanted, privateRoomChannel(room.ID))
	}
	channels := wanted[:0]
	for _, ch := range wanted {
		if !m.subs.Contains(ch) {
			channels = append(channels, ch)
		}
	}
	m.mu.Unlock()

	m.subscribeChannels(ctx, sock, channels, room)
}

// subscribeChannels sends fire-and-forget subscribe frames. An auth-minting
// failure skips only that channel.
func (m *Mux) subscribeChannels(ctx context.Context, sock conn, channels []string, room *Room) {
	m.mu.Lock()
	socketID := m.socketID
	m.mu.Unlock()

	for _, ch := range channels {
		auth := ""
		if isPrivate(ch) {
			if m.auth == nil {
				continue
			}
			a, err := m.auth.MintChannelAuth(ctx, ch, socketID)
			if err != nil {
				m.logger.Warn("channel auth minting failed, skipping channel",
					"channel", ch,
					"error", err,
				)
				continue
			}
			auth = a
		}

		if err := sock.Send(subscribeFrame(ch, auth)); err != nil {
			m.logger.Warn("subscribe send failed", "channel", ch, "error", err)
			continue
		}

		m.mu.Lock()
		m.subs.Add(ch)
		if room != nil {
			room.Subscribed = append(room.Subscribed, ch)
		}
		m.mu.Unlock()
	}
}

// handleLivestream routes a stream start/stop frame and updates the room's
// tracked live session id.
func (m *Mux) handleLivestream(f Frame) {
	m.mu.Lock()
	id, ok := m.resolveRoom(f.Channel)
	if ok {
		room := m.rooms[id]
		if f.Kind == KindStreamStart {
			if ls, err := DecodeLivestream(f); err == nil && ls.Livestream.ID != 0 {
				room.LiveSessionID = ls.Livestream.ID
			}
		} else {
			room.LiveSessionID = 0
		}
	}
	m.mu.Unlock()

	if !ok {
		m.unroutable(f)
		return
	}
	m.emit(Event{Kind: EventChannel, RoomID: id, Frame: f})
	m.emit(Event{Kind: EventRoomUpdated, RoomID: id, Frame: f})
}

// route dispatches a classified frame to its room.
func (m *Mux) route(f Frame) {
	m.mu.Lock()
	id, ok := m.resolveRoom(f.Channel)
	m.mu.Unlock()

	if !ok {
		m.unroutable(f)
		return
	}

	switch f.Class {
	case ClassMessage:
		m.emit(Event{Kind: EventMessage, RoomID: id, Frame: f})
	case ClassChannel:
		m.emit(Event{Kind: EventChannel, RoomID: id, Frame: f})
		if f.Kind == KindChatroomUpdated {
			m.emit(Event{Kind: EventRoomUpdated, RoomID: id, Frame: f})
		}
	default:
		m.emit(Event{Kind: EventRaw, RoomID: id, Frame: f})
	}
}

// unroutable surfaces a frame matching no routing rule: a structured
// diagnostic plus the catch-all raw event.
func (m *Mux) unroutable(f Frame) {
	m.logger.Warn("unroutable chat frame", "event", f.Event, "channel", f.Channel)
	m.emit(Event{Kind: EventUnroutable, Frame: f})
	m.emit(Event{Kind: EventRaw, Frame: f})
}

func (m *Mux) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("chat event buffer full, dropping event", "kind", ev.Kind)
	}
}

// Outbound frame builders.

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type subscribeData struct {
	Auth    string `json:"auth,omitempty"`
	Channel string `json:"channel"`
}

type unsubscribeData struct {
	Channel string `json:"channel"`
}

func subscribeFrame(channel, auth string) []byte {
	b, _ := json.Marshal(outFrame{Event: "pusher:subscribe", Data: subscribeData{Auth: auth, Channel: channel}})
	return b
}

func unsubscribeFrame(channel string) []byte {
	b, _ := json.Marshal(outFrame{Event: "pusher:unsubscribe", Data: unsubscribeData{Channel: channel}})
	return b
}

func pingFrame() []byte {
	return []byte(`{"event":"pusher:ping","data":{}}`)
}

func isPongFrame(data []byte) bool {
	var wire wireFrame
	if err := json.Unmarshal(data, &wire); err != nil {
		return false
	}
	return wire.Event == "pusher:pong"
}
