package outbox

import (
	"errors"
	"time"
)

var (
	ErrEmptyContent = errors.New("outbox: empty message content")
	ErrNoIdentity   = errors.New("outbox: local identity unavailable")
	ErrUnknownEntry = errors.New("outbox: unknown entry")
	ErrNotFailed    = errors.New("outbox: entry is not failed")
)

// State is the lifecycle state of one outbox entry.
type State int

const (
	StateOptimistic State = iota
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Identity is the local sender identity, fetched lazily once.
type Identity struct {
	ID       string
	Username string
}

// Message is one entry in a room's outbox window.
type Message struct {
	LocalID   string
	ServerID  string
	RoomID    int64
	SenderID  string
	Sender    string
	Content   string
	Kind      string
	Meta      map[string]string
	State     State
	CreatedAt time.Time
}

// Config holds the coordinator's tunables.
type Config struct {
	// ConfirmTimeout is how long an entry may stay optimistic before it
	// is marked failed.
	ConfirmTimeout time.Duration

	// Retention is the per-room window of retained entries. It doubles
	// while a room is paused for review.
	Retention int

	// SweepInterval is how often stale optimistic entries are checked.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfirmTimeout: 30 * time.Second,
		Retention:      200,
		SweepInterval:  5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
}
