package main

import (
	"bytes"
	"chatline/internal/api"
	"chatline/internal/commands"
	"chatline/internal/config"
	"chatline/internal/models"
	"chatline/internal/remote"
	"chatline/internal/topic"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	adminAddr = "127.0.0.1:18788"
	apiAddr   = "127.0.0.1:18787"
)

func TestIntegration(t *testing.T) {
	t.Setenv("PLATFORM_DB", filepath.Join(t.TempDir(), "integration_test.db"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("PLATFORM_ADDR", apiAddr)
	t.Setenv("AUTH_SECRET", "very-secure-test-secret")
	t.Setenv("CHATLINE_API_URL", "http://"+apiAddr)
	t.Setenv("CHATLINE_WS_URL", "ws://"+apiAddr)
	t.Setenv("LOG_LEVEL", "error")

	// Start platform in background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		root := newRootCmd()
		root.SetArgs([]string{"platform"})
		root.SetErr(&bytes.Buffer{})
		done <- root.ExecuteContext(ctx)
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("platform did not stop")
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/metrics", apiAddr), 50)

	cfg, err := config.Load(config.ModeCLI)
	require.NoError(t, err)

	// Step 1: Create client via Admin API
	reqBody, _ := json.Marshal(api.AddClientRequest{ID: "dora", Name: "Dora"})
	resp, err := http.Post(fmt.Sprintf("http://%s/admin/clients", adminAddr), "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	var created api.AddClientResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, created.Success)
	require.NotEmpty(t, created.Secret)

	// Step 2: Token issue with wrong and right secret
	dora := remote.New(cfg.APIURL, "")
	_, err = dora.IssueToken(ctx, "dora", "wrong")
	require.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = dora.IssueToken(ctx, "dora", created.Secret)
	require.NoError(t, err)

	info, err := dora.ClientInfo(ctx, cfg.WorkspaceID, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", info.Name)

	// Step 3: Alice opens general and sees the seeded history, then goes live
	alice := remote.New(cfg.APIURL, "")
	_, err = alice.IssueToken(ctx, "alice", "alice-dev-secret")
	require.NoError(t, err)
	aliceCtrl, aliceTracker := commands.NewController(ctx, cfg, alice, "alice", nil, nil, nil, zerolog.Nop())
	defer aliceTracker.Close()
	defer aliceCtrl.Close()

	require.NoError(t, aliceCtrl.Select(ctx, models.Channel{ID: "general"}))
	require.Eventually(t, func() bool {
		snap := aliceCtrl.Snapshot()
		return snap.State == models.StateOpen && len(snap.Messages) == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Step 4: Dora posts, Alice receives it live with Dora as publisher
	doraCtrl, doraTracker := commands.NewController(ctx, cfg, dora, "dora", nil, nil, nil, zerolog.Nop())
	defer doraTracker.Close()
	defer doraCtrl.Close()

	require.NoError(t, doraCtrl.Select(ctx, models.Channel{ID: "general"}))
	require.Eventually(t, func() bool {
		return doraCtrl.Snapshot().State == models.StateOpen
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, doraCtrl.Send("hi from **dora**"))

	require.Eventually(t, func() bool {
		msgs := aliceCtrl.Snapshot().Messages
		return len(msgs) == 3 && msgs[2].Publisher == "dora" && msgs[2].Value == "hi from **dora**"
	}, 5*time.Second, 20*time.Millisecond)

	// Step 5: Read marker reaches the profile
	aliceTracker.Close()
	last := aliceCtrl.Snapshot().Messages[2].TimeNanos
	profile, err := alice.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, last, profile.Metadata.UI.LastRead["general"])

	// Step 6: Alice switches to her DM with Bob over the shared DM channel
	require.NoError(t, aliceCtrl.Select(ctx, models.DirectMessage{LocalUserID: "alice", PeerUserID: "bob"}))
	require.Eventually(t, func() bool {
		snap := aliceCtrl.Snapshot()
		return snap.Topic == topic.DirectTopic("alice", "bob") &&
			len(snap.Messages) == 1 && snap.Messages[0].Value == "Got a minute?"
	}, 5*time.Second, 20*time.Millisecond)

	// Messages for general no longer reach the DM view
	require.NoError(t, doraCtrl.Send("anyone?"))
	time.Sleep(200 * time.Millisecond)
	require.Len(t, aliceCtrl.Snapshot().Messages, 1)

	// Step 7: Rendering
	model := aliceCtrl.View(ctx, time.UTC, time.Now())
	require.Equal(t, topic.DirectTopic("alice", "bob"), model.Topic)
	require.Len(t, model.Sections, 1)
	require.Equal(t, "Bob", model.Sections[0].Rows[0].Sender)
}

func TestTopicCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"topic", "bob", "alice"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	require.Equal(t, "alice-bob\n", out.String())
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
