package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOKEN", "t0k")

	cfg, err := Load(ModeChat)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReconnectBaseDelay != time.Second {
		t.Errorf("expected 1s base delay, got %v", cfg.ReconnectBaseDelay)
	}
	if cfg.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("expected 30s max delay, got %v", cfg.ReconnectMaxDelay)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.HistoryPage != 100 {
		t.Errorf("expected page size 100, got %d", cfg.HistoryPage)
	}
	if cfg.DMChannelID != "dm" {
		t.Errorf("expected dm channel, got %s", cfg.DMChannelID)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		env  map[string]string
	}{
		{"Chat without credentials", ModeChat, map[string]string{}},
		{"Platform without secret", ModePlatform, map[string]string{}},
		{"Bad duration", ModeCLI, map[string]string{"RECONNECT_BASE_DELAY": "soon"}},
		{"Max below base", ModeCLI, map[string]string{"RECONNECT_BASE_DELAY": "10s", "RECONNECT_MAX_DELAY": "1s"}},
		{"Zero page", ModeCLI, map[string]string{"HISTORY_PAGE_SIZE": "0"}},
		{"Zero rate", ModePlatform, map[string]string{"AUTH_SECRET": "s", "INBOUND_RATE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TOKEN", "")
			t.Setenv("USER_ID", "")
			t.Setenv("AUTH_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.mode); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_Platform(t *testing.T) {
	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("TOKEN_EXPIRY", "1h")

	cfg, err := Load(ModePlatform)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TokenExpiry != time.Hour {
		t.Errorf("expected 1h expiry, got %v", cfg.TokenExpiry)
	}
}
