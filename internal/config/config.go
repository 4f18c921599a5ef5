package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MuxConfig is the full configuration for one streammux instance.
type MuxConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Platform  PlatformConfig  `yaml:"platform"`
	Chat      ChatConfig      `yaml:"chat"`
	Cosmetics CosmeticsConfig `yaml:"cosmetics"`
	Socket    SocketConfig    `yaml:"socket"`
	Admission AdmissionConfig `yaml:"admission"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	History   HistoryConfig   `yaml:"history"`
	Database  DBConfig        `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Rooms     []RoomConfig    `yaml:"rooms"`
}

// MetricsConfig configures the health endpoint.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// RoomConfig declares one room to join at startup.
type RoomConfig struct {
	ID              int64  `yaml:"id"`
	OwnerID         int64  `yaml:"owner_id"`
	Channel         string `yaml:"channel"`
	Live            bool   `yaml:"live"`
	PlatformUserID  string `yaml:"platform_user_id"`
	CosmeticsUserID string `yaml:"cosmetics_user_id"`
	EmoteSetID      string `yaml:"emote_set_id"`
	Deferred        bool   `yaml:"deferred"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// PlatformConfig configures the REST client.
type PlatformConfig struct {
	RestURL    string        `yaml:"rest_url"`
	AuthToken  string        `yaml:"auth_token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ChatConfig configures the chat protocol socket.
type ChatConfig struct {
	WSURL       string `yaml:"ws_url"`
	UserID      int64  `yaml:"user_id"`
	EventBuffer int    `yaml:"event_buffer"`
}

// CosmeticsConfig configures the cosmetics protocol socket.
type CosmeticsConfig struct {
	WSURL       string `yaml:"ws_url"`
	AccountID   string `yaml:"account_id"`
	EventBuffer int    `yaml:"event_buffer"`
}

// SocketConfig carries the shared resilience settings for both sockets.
type SocketConfig struct {
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	QueueLimit         int           `yaml:"queue_limit"`
	SendRetryLimit     int           `yaml:"send_retry_limit"`
	MaxAttempts        int           `yaml:"max_attempts"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	BreakerThreshold   int           `yaml:"breaker_threshold"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`
}

// AdmissionConfig controls batched room admission.
type AdmissionConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	Stagger             time.Duration `yaml:"stagger"`
	FirstSuccessTimeout time.Duration `yaml:"first_success_timeout"`
	RetryInterval       time.Duration `yaml:"retry_interval"`
}

// OutboxConfig controls the optimistic send coordinator.
type OutboxConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	Retention      int           `yaml:"retention"`
}

// HistoryConfig controls the message history writer.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig configures the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Load reads a YAML config file, substitutes ${VAR} environment
// references, applies defaults, and validates.
func Load(path string) (*MuxConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg MuxConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
