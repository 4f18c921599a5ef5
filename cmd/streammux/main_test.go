package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashwalker/streammux/internal/chat"
	"github.com/ashwalker/streammux/internal/config"
	"github.com/ashwalker/streammux/internal/cosmetics"
)

func loadTestConfig(t *testing.T) *config.MuxConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streammux.yaml")
	data := `
instance:
  id: test
platform:
  auth_token: token
chat:
  user_id: 42
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestSocketOverlayKeepsCosmeticsPowersOfTwo(t *testing.T) {
	cfg := loadTestConfig(t)

	cosCfg := cosmetics.DefaultConfig()
	applySocketConfig(&cosCfg.Socket, cfg.Socket)
	cosCfg.Socket.Backoff = cosmeticsBackoff(cfg.Socket)

	// Pure 2^attempt seconds, capped at the configured ceiling.
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := cosCfg.Socket.Backoff(i + 1); got != w {
			t.Errorf("cosmetics backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := cosCfg.Socket.Backoff(30); got != cfg.Socket.ReconnectMaxDelay {
		t.Errorf("cosmetics backoff(30) = %v, want cap %v", got, cfg.Socket.ReconnectMaxDelay)
	}
}

func TestSocketOverlayAppliesChatExponential(t *testing.T) {
	cfg := loadTestConfig(t)

	chatCfg := chat.DefaultConfig()
	applySocketConfig(&chatCfg.Socket, cfg.Socket)
	chatCfg.Socket.Backoff = chatBackoff(cfg.Socket)

	base := cfg.Socket.ReconnectBaseDelay
	want := []time.Duration{base, 2 * base, 4 * base}
	for i, w := range want {
		if got := chatCfg.Socket.Backoff(i + 1); got != w {
			t.Errorf("chat backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestSocketOverlaySharedSettings(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Socket.QueueLimit = 7
	cfg.Socket.MaxAttempts = 4

	cosCfg := cosmetics.DefaultConfig()
	applySocketConfig(&cosCfg.Socket, cfg.Socket)

	if cosCfg.Socket.QueueLimit != 7 {
		t.Errorf("QueueLimit = %d, want 7", cosCfg.Socket.QueueLimit)
	}
	if cosCfg.Socket.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cosCfg.Socket.MaxAttempts)
	}
	if cosCfg.Socket.Permanent == nil {
		t.Error("Permanent classifier should survive the overlay")
	}
}
