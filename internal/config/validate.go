package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MuxConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Platform.AuthToken == "" {
		return errors.New("platform.auth_token is required")
	}

	if c.Chat.UserID <= 0 {
		return errors.New("chat.user_id must be > 0")
	}

	if c.Socket.QueueLimit < 1 {
		return errors.New("socket.queue_limit must be >= 1")
	}
	if c.Socket.MaxAttempts < 1 {
		return errors.New("socket.max_attempts must be >= 1")
	}
	if c.Socket.ReconnectBaseDelay > c.Socket.ReconnectMaxDelay {
		return fmt.Errorf("socket.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Socket.ReconnectBaseDelay, c.Socket.ReconnectMaxDelay)
	}

	if c.Admission.BatchSize < 1 {
		return errors.New("admission.batch_size must be >= 1")
	}

	if c.Outbox.Retention < 1 {
		return errors.New("outbox.retention must be >= 1")
	}

	for i, room := range c.Rooms {
		if room.ID <= 0 {
			return fmt.Errorf("rooms[%d].id must be > 0", i)
		}
		if room.Channel == "" {
			return fmt.Errorf("rooms[%d].channel is required", i)
		}
	}

	if c.History.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.History.BatchSize < 1 {
			return errors.New("history.batch_size must be >= 1")
		}
		if c.History.BufferSize < 1 {
			return errors.New("history.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
