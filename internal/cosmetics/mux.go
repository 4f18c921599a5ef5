package cosmetics

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ashwalker/streammux/internal/socket"
)

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

// Mux multiplexes every held room over one cosmetics-protocol socket.
type Mux struct {
	cfg    Config
	logger *slog.Logger

	newSocket func(socket.Config) conn

	events chan Event

	mu         sync.Mutex
	rooms      map[int64]*Room
	subs       mapset.Set[string]
	sock       conn
	stop       chan struct{}
	accountSub bool // global account-events subscription issued this connection
	rejected   bool
}

// New creates a cosmetics multiplexer. No socket is opened until the first
// room is added.
func New(cfg Config, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 256
	}
	m := &Mux{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
		rooms:  make(map[int64]*Room),
		subs:   mapset.NewSet[string](),
	}
	m.newSocket = func(sc socket.Config) conn {
		return socket.New(sc, logger.With("socket", "cosmetics"))
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

// SubscriptionCount returns the number of active subscriptions.
func (m *Mux) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs.Cardinality()
}

// Rejected reports whether the server permanently rejected this session.
func (m *Mux) Rejected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}

// AddRoom registers a room. Identifiers that are empty, zero, or
// placeholders are skipped rather than subscribed. Re-adding a held room
// updates identifiers that were unknown at registration time.
func (m *Mux) AddRoom(roomID int64, platformUserID, cosmeticsUserID, emoteSetID string) {
	m.mu.Lock()
	if room, ok := m.rooms[roomID]; ok {
		// Late-arriving identifiers are filled in, never overwritten.
		updated := false
		if room.CosmeticsUserID == "" && usableID(cosmeticsUserID) {
			room.CosmeticsUserID = cosmeticsUserID
			updated = true
		}
		if room.EmoteSetID == "" && usableID(emoteSetID) {
			room.EmoteSetID = emoteSetID
			updated = true
		}
		connected := m.connectedLocked()
		sock := m.sock
		m.mu.Unlock()
		if updated && connected {
			m.subscribeRoom(sock, room)
		}
		return
	}

	room := &Room{ID: roomID}
	if usableID(platformUserID) {
		room.PlatformUserID = platformUserID
	}
	if usableID(cosmeticsUserID) {
		room.CosmeticsUserID = cosmeticsUserID
	}
	if usableID(emoteSetID) {
		room.EmoteSetID = emoteSetID
	}
	m.rooms[roomID] = room

	if m.sock == nil {
		sc := m.socketConfig()
		m.sock = m.newSocket(sc)
		m.stop = make(chan struct{})
		go m.run(m.sock, m.stop)
		sock := m.sock
		m.mu.Unlock()

		m.logger.Info("opening cosmetics socket", "room_id", roomID)
		sock.Connect()
		return
	}

	connected := m.connectedLocked()
	sock := m.sock
	m.mu.Unlock()

	if connected {
		m.subscribeRoom(sock, room)
	}
}

// RemoveRoom evicts a room. Removing the last room closes the socket.
func (m *Mux) RemoveRoom(roomID int64) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	connected := m.connectedLocked()
	sock := m.sock

	if len(m.rooms) == 0 {
		stop := m.stop
		m.sock = nil
		m.stop = nil
		m.accountSub = false
		m.subs.Clear()
		m.mu.Unlock()

		if sock != nil {
			sock.Disconnect()
		}
		if stop != nil {
			close(stop)
		}
		m.logger.Info("closed cosmetics socket, no rooms held")
		return
	}

	frames := make([][]byte, 0, len(room.Subscribed))
	for _, key := range room.Subscribed {
		m.subs.Remove(key)
		if typ, cond, ok := parseSubKey(key); ok {
			frames = append(frames, unsubscribeFrame(typ, cond))
		}
	}
	m.mu.Unlock()

	if connected && sock != nil {
		for _, f := range frames {
			if err := sock.Send(f); err != nil {
				m.logger.Warn("unsubscribe send failed", "error", err)
			}
		}
	}
}

// Close tears down the socket regardless of held rooms.
func (m *Mux) Close() {
	m.mu.Lock()
	sock := m.sock
	stop := m.stop
	m.sock = nil
	m.stop = nil
	m.accountSub = false
	m.subs.Clear()
	m.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	if stop != nil {
		close(stop)
	}
}

func (m *Mux) connectedLocked() bool {
	return m.sock != nil && m.sock.State() == socket.StateConnected
}

func (m *Mux) socketConfig() socket.Config {
	sc := m.cfg.Socket
	if sc.URL == "" {
		sc.URL = m.cfg.URL
	}
	if sc.Permanent == nil {
		sc.Permanent = func(code int) bool { return code == CloseNoIdentifiers }
	}
	sc.IsPong = isHeartbeat
	return sc
}

func (m *Mux) run(sock conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-sock.Events():
			m.handleSocketEvent(sock, ev)
		case raw := <-sock.Frames():
			m.handleFrame(raw)
		}
	}
}

func (m *Mux) handleSocketEvent(sock conn, ev socket.Event) {
	switch ev.Kind {
	case socket.EventConnected:
		m.emit(Event{Kind: EventConnection, Connected: true})
		m.subscribeAll(sock)
	case socket.EventDisconnected:
		m.clearSubscriptions()
		m.emit(Event{Kind: EventConnection, Connected: false, Err: ev.Err})
	case socket.EventRejected:
		m.mu.Lock()
		m.rejected = true
		m.mu.Unlock()
		m.clearSubscriptions()
		m.logger.Warn("cosmetics session permanently rejected", "code", ev.Code)
		m.emit(Event{Kind: EventRejected, Err: ev.Err})
	case socket.EventGaveUp:
		m.clearSubscriptions()
		m.emit(Event{Kind: EventError, Err: ev.Err})
	}
}

func (m *Mux) clearSubscriptions() {
	m.mu.Lock()
	m.accountSub = false
	m.subs.Clear()
	for _, r := range m.rooms {
		r.Subscribed = nil
	}
	m.mu.Unlock()
}

// subscribeAll issues the once-per-socket global account subscription and
// every held room's subscriptions.
func (m *Mux) subscribeAll(sock conn) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	needAccount := !m.accountSub && usableID(m.cfg.AccountID)
	if needAccount {
		m.accountSub = true
	}
	m.mu.Unlock()

	if needAccount {
		if err := sock.Send(subscribeFrame(TypeUserUpdate, condition{ObjectID: m.cfg.AccountID})); err != nil {
			m.logger.Warn("account subscription send failed", "error", err)
		}
	}
	for _, r := range rooms {
		m.subscribeRoom(sock, r)
	}
}

// subscribeRoom subscribes a room's usable identifiers, skipping anything
// already covered on this socket.
func (m *Mux) subscribeRoom(sock conn, room *Room) {
	type sub struct {
		typ  string
		cond condition
	}
	var subs []sub

	if room.EmoteSetID != "" {
		subs = append(subs, sub{TypeEmoteSetUpdate, condition{ObjectID: room.EmoteSetID}})
	}
	if room.CosmeticsUserID != "" {
		subs = append(subs, sub{TypeUserUpdate, condition{ObjectID: room.CosmeticsUserID}})
	}
	if room.PlatformUserID != "" {
		chCond := condition{Platform: "KICK", Ctx: "channel", ID: room.PlatformUserID}
		subs = append(subs, sub{TypeCosmeticCreate, chCond})
		subs = append(subs, sub{TypeEntitlementCreate, chCond})
	}

	for _, s := range subs {
		key := subKey(s.typ, s.cond)

		m.mu.Lock()
		if m.subs.Contains(key) {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		if err := sock.Send(subscribeFrame(s.typ, s.cond)); err != nil {
			m.logger.Warn("subscribe send failed", "type", s.typ, "error", err)
			continue
		}

		m.mu.Lock()
		m.subs.Add(key)
		room.Subscribed = append(room.Subscribed, key)
		m.mu.Unlock()
	}
}

func (m *Mux) handleFrame(raw socket.Frame) {
	f, err := DecodeFrame(raw.Data, raw.ReceivedAt)
	if err != nil {
		m.logger.Warn("malformed cosmetics frame", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	switch f.Kind {
	case KindHello:
		m.emit(Event{Kind: EventOpen, Frame: f})
	case KindHeartbeat, KindAck:
		// Liveness and acknowledgements need no routing.
	case KindError, KindEndOfStream:
		m.logger.Warn("cosmetics server error frame", "op", f.Op)
		m.emit(Event{Kind: EventError, Frame: f})
	case KindEmoteSetUpdate:
		m.routeEmoteSet(f)
	case KindCosmeticCreate, KindEntitlementCreate:
		m.broadcastCreation(f)
	case KindUserUpdate:
		m.routeUserUpdate(f)
	default:
		m.logger.Debug("unknown cosmetics dispatch", "type", f.Type)
		m.broadcast(f, "")
	}
}

// routeEmoteSet routes an emote_set.update to the room owning the set.
func (m *Mux) routeEmoteSet(f Frame) {
	ref, err := DecodeEmoteSetRef(f)
	if err != nil {
		m.logger.Warn("malformed emote set body", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	m.mu.Lock()
	var roomID int64
	for id, r := range m.rooms {
		if r.EmoteSetID != "" && r.EmoteSetID == ref.ID {
			roomID = id
			break
		}
	}
	m.mu.Unlock()

	if roomID == 0 {
		m.logger.Warn("emote set update for unheld set", "set_id", ref.ID)
	}
	m.emit(Event{Kind: EventMessage, RoomID: roomID, Frame: f})
}

// routeUserUpdate routes a user.update to the room owning the cosmetics
// user. Updates for the session account (or any unheld user) stay
// account-scoped and go to every room.
func (m *Mux) routeUserUpdate(f Frame) {
	ref, err := DecodeObjectRef(f)
	if err != nil {
		m.logger.Warn("malformed user update body", "error", err)
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	m.mu.Lock()
	var roomID int64
	for id, r := range m.rooms {
		if r.CosmeticsUserID != "" && r.CosmeticsUserID == ref.ID {
			roomID = id
			break
		}
	}
	m.mu.Unlock()

	if roomID == 0 {
		m.broadcast(f, "")
		return
	}
	m.emit(Event{Kind: EventMessage, RoomID: roomID, Frame: f})
}

// broadcastCreation normalizes the addressed username, then broadcasts.
func (m *Mux) broadcastCreation(f Frame) {
	username := ""
	if body, err := DecodeCreation(f); err == nil {
		username = NormalizeUsername(body.Object.User.Username)
	}
	m.broadcast(f, username)
}

// broadcast delivers an account-scoped frame to every held room.
func (m *Mux) broadcast(f Frame, username string) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.emit(Event{Kind: EventMessage, RoomID: id, Frame: f, Username: username})
	}
}

func (m *Mux) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("cosmetics event buffer full, dropping event", "kind", ev.Kind)
	}
}

// Subscription keys pack (type, condition) into a comparable string.

func subKey(typ string, cond condition) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", typ, cond.ObjectID, cond.Platform, cond.Ctx, cond.ID)
}

func parseSubKey(key string) (string, condition, bool) {
	parts := strings.Split(key, "|")
	if len(parts) != 5 {
		return "", condition{}, false
	}
	cond := condition{ObjectID: parts[1], Platform: parts[2], Ctx: parts[3], ID: parts[4]}
	return parts[0], cond, true
}
