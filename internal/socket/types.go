package socket

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrFrameDropped    = errors.New("frame dropped after retry ceiling")
)

// State is the connection state of a Socket.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Frame is one inbound protocol message with its receive timestamp.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// EventKind identifies a lifecycle event emitted by a Socket.
type EventKind int

const (
	// EventConnected fires after each successful open.
	EventConnected EventKind = iota
	// EventDisconnected fires on a transient failure; a reconnect is scheduled.
	EventDisconnected
	// EventGaveUp fires when the attempt ceiling is exhausted.
	EventGaveUp
	// EventRejected fires when a close code is classified as permanent.
	// No reconnect will be attempted.
	EventRejected
)

// Event is a lifecycle notification from a Socket.
type Event struct {
	Kind    EventKind
	Err     error
	Attempt int // reconnect attempt counter at the time of the event
	Code    int // close code, when one was observed
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Threshold int           // consecutive errors before the breaker opens
	Cooldown  time.Duration // how long dials stay blocked once open
}

// Config configures a Socket.
type Config struct {
	URL    string
	Header http.Header

	DialTimeout       time.Duration // handshake bound; exceeding it is a synthetic failure
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration // 0 disables the heartbeat

	QueueLimit     int // bounded outbound queue held while disconnected
	SendRetryLimit int // replay attempts per queued frame before permanent drop
	MaxAttempts    int // reconnect ceiling; 0 means unlimited
	FrameBuffer    int // inbound frame channel capacity

	Backoff Strategy
	Breaker BreakerConfig

	// Ping builds the application-level heartbeat payload. When nil a
	// WebSocket ping control frame is sent instead.
	Ping func() []byte
	// IsPong recognizes heartbeat replies in the inbound stream. Matching
	// frames are consumed and not forwarded.
	IsPong func(data []byte) bool
	// Permanent classifies close codes that disable reconnection.
	Permanent func(code int) bool
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		QueueLimit:        100,
		SendRetryLimit:    3,
		FrameBuffer:       1000,
		Backoff:           Exponential(time.Second, 2, 60*time.Second),
		Breaker:           BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second},
	}
}
