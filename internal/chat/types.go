package chat

import (
	"time"

	"github.com/ashwalker/streammux/internal/socket"
)

// Room tracks one held room's membership on the shared socket.
type Room struct {
	ID      int64
	OwnerID int64

	// Channels are the derived channel-name variants this room may be
	// addressed by on the wire.
	Channels []string

	// Subscribed records the exact channel strings subscribed for this
	// room on the current socket. Cleared on disconnect.
	Subscribed []string

	// LiveSessionID is the currently-known livestream id, 0 while offline.
	LiveSessionID int64

	Meta map[string]string
}

// EventKind identifies a typed event emitted by the multiplexer.
type EventKind int

const (
	// EventConnection fires on handshake completion and on disconnect.
	EventConnection EventKind = iota
	// EventMessage is a content-bearing frame routed to a room.
	EventMessage
	// EventChannel is a room-state frame routed to a room.
	EventChannel
	// EventSubscriptionSucceeded confirms a channel subscription.
	EventSubscriptionSucceeded
	// EventRoomUpdated fires when a room's tracked state changes
	// (live session start/stop, chatroom settings).
	EventRoomUpdated
	// EventUnroutable is the structured diagnostic for a frame matching
	// no routing rule.
	EventUnroutable
	// EventRaw is the catch-all carrying the undecoded frame.
	EventRaw
	// EventError reports a malformed frame or socket failure.
	EventError
)

// Event is a typed notification from the multiplexer.
type Event struct {
	Kind      EventKind
	RoomID    int64 // 0 when the event is not room-scoped
	Frame     Frame
	Connected bool // for EventConnection
	Err       error
}

// Config configures the chat multiplexer.
type Config struct {
	URL string

	// UserID scopes the once-per-socket global channels.
	UserID int64

	// Socket carries the resilience settings for the underlying socket.
	// Heartbeat framing is filled in by the multiplexer.
	Socket socket.Config

	// EventBuffer is the outbound event channel capacity.
	EventBuffer int
}

// DefaultConfig returns sensible defaults. URL and UserID must still be set.
func DefaultConfig() Config {
	sock := socket.DefaultConfig()
	sock.Backoff = socket.Exponential(time.Second, 2, 60*time.Second)
	return Config{
		Socket:      sock,
		EventBuffer: 256,
	}
}
