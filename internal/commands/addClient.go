package commands

import (
	"bytes"
	"chatline/internal/api"
	"chatline/internal/config"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AddClient asks a running platform's admin API to create a client and
// prints its one-time secret to out.
func AddClient(name, id string, cfg *config.Config, out io.Writer) error {
	reqBody, err := json.Marshal(api.AddClientRequest{ID: id, Name: name})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/clients", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the platform running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add client (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddClientResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\nClient Created Successfully!\n")
	_, _ = fmt.Fprintf(out, "ID:      %s\n", result.ID)
	_, _ = fmt.Fprintf(out, "Name:    %s\n", result.Name)
	_, _ = fmt.Fprintf(out, "Secret:  %s\n\n", result.Secret)
	_, _ = fmt.Fprintln(out, "The secret is shown only once. Start a chat with:")
	_, _ = fmt.Fprintf(out, "  USER_ID=%s USER_SECRET=%s chatline chat\n", result.ID, result.Secret)
	return nil
}
