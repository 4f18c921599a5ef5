package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL             = "https://kick.com/api/v2"
	DefaultChatWSURL           = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0&flash=false"
	DefaultCosmeticsWSURL      = "wss://events.7tv.io/v3"
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultEventBuffer         = 256
	DefaultDialTimeout         = 10 * time.Second
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultQueueLimit          = 100
	DefaultSendRetryLimit      = 3
	DefaultMaxAttempts         = 10
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 60 * time.Second
	DefaultBreakerThreshold    = 5
	DefaultBreakerCooldown     = 2 * time.Minute
	DefaultBatchSize           = 5
	DefaultStagger             = 500 * time.Millisecond
	DefaultFirstSuccessTimeout = 30 * time.Second
	DefaultRetryInterval       = time.Minute
	DefaultConfirmTimeout      = 30 * time.Second
	DefaultRetention           = 200
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultHistoryBatchSize    = 100
	DefaultHistoryFlush        = 2 * time.Second
	DefaultHistoryBuffer       = 1024
)

func (c *MuxConfig) applyDefaults() {
	// Platform defaults
	if c.Platform.RestURL == "" {
		c.Platform.RestURL = DefaultRestURL
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = DefaultAPITimeout
	}
	if c.Platform.MaxRetries == 0 {
		c.Platform.MaxRetries = DefaultMaxRetries
	}

	// Socket defaults
	if c.Chat.WSURL == "" {
		c.Chat.WSURL = DefaultChatWSURL
	}
	if c.Chat.EventBuffer == 0 {
		c.Chat.EventBuffer = DefaultEventBuffer
	}
	if c.Cosmetics.WSURL == "" {
		c.Cosmetics.WSURL = DefaultCosmeticsWSURL
	}
	if c.Cosmetics.EventBuffer == 0 {
		c.Cosmetics.EventBuffer = DefaultEventBuffer
	}
	if c.Socket.DialTimeout == 0 {
		c.Socket.DialTimeout = DefaultDialTimeout
	}
	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Socket.QueueLimit == 0 {
		c.Socket.QueueLimit = DefaultQueueLimit
	}
	if c.Socket.SendRetryLimit == 0 {
		c.Socket.SendRetryLimit = DefaultSendRetryLimit
	}
	if c.Socket.MaxAttempts == 0 {
		c.Socket.MaxAttempts = DefaultMaxAttempts
	}
	if c.Socket.ReconnectBaseDelay == 0 {
		c.Socket.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Socket.ReconnectMaxDelay == 0 {
		c.Socket.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Socket.BreakerThreshold == 0 {
		c.Socket.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Socket.BreakerCooldown == 0 {
		c.Socket.BreakerCooldown = DefaultBreakerCooldown
	}

	// Admission defaults
	if c.Admission.BatchSize == 0 {
		c.Admission.BatchSize = DefaultBatchSize
	}
	if c.Admission.Stagger == 0 {
		c.Admission.Stagger = DefaultStagger
	}
	if c.Admission.FirstSuccessTimeout == 0 {
		c.Admission.FirstSuccessTimeout = DefaultFirstSuccessTimeout
	}
	if c.Admission.RetryInterval == 0 {
		c.Admission.RetryInterval = DefaultRetryInterval
	}

	// Outbox defaults
	if c.Outbox.ConfirmTimeout == 0 {
		c.Outbox.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.Outbox.Retention == 0 {
		c.Outbox.Retention = DefaultRetention
	}

	// History defaults
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultHistoryBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultHistoryFlush
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultHistoryBuffer
	}

	// Database defaults only matter when history is enabled.
	if c.History.Enabled {
		applyDBDefaults(&c.Database)
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
