package commands

import (
	"chatline/internal/models"
	"testing"
)

func TestParseConversation(t *testing.T) {
	tests := []struct {
		arg  string
		want models.Conversation
	}{
		{"general", models.Channel{ID: "general"}},
		{"@bob", models.DirectMessage{LocalUserID: "alice", PeerUserID: "bob"}},
		{"@", models.DirectMessage{LocalUserID: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			if got := ParseConversation(tt.arg, "alice"); got != tt.want {
				t.Errorf("ParseConversation(%q) = %#v, want %#v", tt.arg, got, tt.want)
			}
		})
	}
}
