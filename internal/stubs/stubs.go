package stubs

import (
	"chatline/internal/auth"
	"chatline/internal/models"
	"chatline/internal/storage"
	"chatline/internal/topic"
	"errors"
	"fmt"
	"time"
)

const Workspace = "demo"

// Client is a seeded platform client. Secrets are for local development only.
type Client struct {
	ID     string
	Name   string
	Secret string
}

var Clients = []Client{
	{ID: "alice", Name: "Alice", Secret: "alice-dev-secret"},
	{ID: "bob", Name: "Bob", Secret: "bob-dev-secret"},
	{ID: "charlie", Name: "Charlie", Secret: "charlie-dev-secret"},
}

var Channels = []models.ChannelInfo{
	{WorkspaceID: Workspace, ID: "general", Name: "General"},
	{WorkspaceID: Workspace, ID: "random", Name: "Random"},
	{WorkspaceID: Workspace, ID: "dm", Name: "Direct messages"},
}

// Seed creates the demo workspace, clients and a few greetings. Existing
// clients and non-empty channels are left alone, so it is safe on every start.
func Seed(authService *auth.AuthService, store *storage.BboltStorage, now time.Time) error {
	for _, ch := range Channels {
		if err := store.UpsertChannel(ch); err != nil {
			return fmt.Errorf("failed to seed channel %s: %w", ch.ID, err)
		}
	}

	for _, c := range Clients {
		creds, _, err := authService.AddClient(c.ID, c.Name, c.Secret)
		if errors.Is(err, auth.ErrClientExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed client %s: %w", c.ID, err)
		}
		if err := store.UpsertClient(creds); err != nil {
			return fmt.Errorf("failed to persist client %s: %w", c.ID, err)
		}
	}

	greetings := []struct {
		channel string
		msg     models.ChatMessage
	}{
		{"general", models.ChatMessage{Topic: "general", Publisher: "alice", Value: "Hello everyone!", TimeNanos: now.Add(-5 * time.Minute).UnixNano()}},
		{"general", models.ChatMessage{Topic: "general", Publisher: "bob", Value: "Hi Alice!", TimeNanos: now.Add(-4 * time.Minute).UnixNano()}},
		{"dm", models.ChatMessage{Topic: topic.DirectTopic("alice", "bob"), Publisher: "bob", Value: "Got a minute?", TimeNanos: now.Add(-time.Minute).UnixNano()}},
	}
	empty := make(map[string]bool)
	for _, ch := range Channels {
		page, err := store.ListMessages(Workspace, ch.ID, storage.MessageQuery{Limit: 1})
		if err != nil {
			return err
		}
		empty[ch.ID] = page.Total == 0
	}
	for _, g := range greetings {
		if !empty[g.channel] {
			continue
		}
		if err := store.AppendMessage(Workspace, g.channel, g.msg, "seed"); err != nil {
			return fmt.Errorf("failed to seed message: %w", err)
		}
	}
	return nil
}
