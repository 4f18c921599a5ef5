package orchestrator

import (
	"errors"
	"time"
)

var (
	ErrInitTimeout = errors.New("orchestrator: initialization timed out")
	ErrUnknownRoom = errors.New("orchestrator: unknown room")
	ErrClosed      = errors.New("orchestrator: closed")
)

// RoomSpec describes one room to admit.
type RoomSpec struct {
	ID      int64
	OwnerID int64

	// Channel is the channel slug used for emote catalog fetches.
	Channel string

	// Live prioritizes the room during batched admission.
	Live bool

	// Cosmetics identifiers; placeholders are tolerated and skipped
	// downstream.
	PlatformUserID  string
	CosmeticsUserID string
	EmoteSetID      string

	Meta map[string]string
}

// RoomStatus is the orchestrator's view of one room.
type RoomStatus struct {
	Spec     RoomSpec
	Admitted bool
	Loaded   bool
	Deferred bool
	LastErr  error
}

// Config holds admission and cache tunables.
type Config struct {
	// BatchSize rooms are admitted per wave.
	BatchSize int

	// Stagger is the delay between waves.
	Stagger time.Duration

	// FirstSuccessTimeout bounds the wait for both sockets' first
	// successful connection.
	FirstSuccessTimeout time.Duration

	// RetryInterval is how often not-yet-loaded rooms are retried.
	RetryInterval time.Duration

	// EmoteCacheTTL expires per-channel emote cache entries. Zero keeps
	// them until replaced by reconciliation.
	EmoteCacheTTL time.Duration

	// DedupLimit and DedupTTL bound the duplicate-event key set.
	DedupLimit int
	DedupTTL   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:           5,
		Stagger:             500 * time.Millisecond,
		FirstSuccessTimeout: 30 * time.Second,
		RetryInterval:       time.Minute,
		DedupLimit:          4096,
		DedupTTL:            30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FirstSuccessTimeout <= 0 {
		c.FirstSuccessTimeout = d.FirstSuccessTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.DedupLimit <= 0 {
		c.DedupLimit = d.DedupLimit
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
}
