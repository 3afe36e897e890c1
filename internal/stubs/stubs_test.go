package stubs

import (
	"chatline/internal/auth"
	"chatline/internal/storage"
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"
)

func TestSeed_Idempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: base64.StdEncoding.EncodeToString([]byte("s"))})
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := Seed(authService, store, now); err != nil {
			t.Fatalf("Seed #%d failed: %v", i, err)
		}
	}

	channels, _ := store.ListChannels()
	if len(channels) != len(Channels) {
		t.Errorf("expected %d channels, got %d", len(Channels), len(channels))
	}
	clients, _ := store.ListClients()
	if len(clients) != len(Clients) {
		t.Errorf("expected %d clients, got %d", len(Clients), len(clients))
	}

	page, _ := store.ListMessages(Workspace, "general", storage.MessageQuery{Limit: 10})
	if page.Total != 2 {
		t.Errorf("expected 2 greetings in general, got %d", page.Total)
	}

	if _, _, err := authService.IssueToken("alice", "alice-dev-secret"); err != nil {
		t.Errorf("expected seeded credentials to work, got %v", err)
	}
}
