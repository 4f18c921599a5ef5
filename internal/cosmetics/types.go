package cosmetics

import (
	"time"

	"github.com/ashwalker/streammux/internal/socket"
)

// CloseNoIdentifiers is the close code meaning the server found no usable
// external identifiers for this session. It is a permanent rejection.
const CloseNoIdentifiers = 4004

// Room tracks one held room's cosmetics identifiers.
type Room struct {
	ID              int64
	PlatformUserID  string // channel owner's id on the chat platform
	CosmeticsUserID string // owner's id on the cosmetics service
	EmoteSetID      string // active emote set id

	// Subscribed records the subscription keys issued for this room on
	// the current socket. Cleared on disconnect.
	Subscribed []string
}

// EventKind identifies a typed event emitted by the multiplexer.
type EventKind int

const (
	// EventConnection fires on socket connect and disconnect.
	EventConnection EventKind = iota
	// EventOpen fires when the server hello is received.
	EventOpen
	// EventMessage is a dispatch routed to a room (or broadcast to each
	// held room when account-scoped).
	EventMessage
	// EventRejected fires on permanent rejection by the server.
	EventRejected
	// EventError reports a malformed frame or socket failure.
	EventError
)

// Event is a typed notification from the multiplexer.
type Event struct {
	Kind      EventKind
	RoomID    int64
	Frame     Frame
	Connected bool
	// Username is the case-folded, separator-normalized platform
	// username carried by entitlement and cosmetic creation events.
	Username string
	Err      error
}

// Config configures the cosmetics multiplexer.
type Config struct {
	URL string

	// AccountID is this session's cosmetics-service user id. The global
	// account-events subscription is issued only when it is usable.
	AccountID string

	// Socket carries the resilience settings for the underlying socket.
	Socket socket.Config

	// EventBuffer is the outbound event channel capacity.
	EventBuffer int
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	sock := socket.DefaultConfig()
	// This protocol's reconnect schedule is pure powers of two.
	sock.Backoff = socket.PowersOfTwo(60 * time.Second)
	sock.Permanent = func(code int) bool { return code == CloseNoIdentifiers }
	return Config{
		Socket:      sock,
		EventBuffer: 256,
	}
}
