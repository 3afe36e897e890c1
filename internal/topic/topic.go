package topic

import (
	"chatline/internal/models"
	"fmt"
)

const dmSeparator = "-"

// Resolve computes the logical conversation key for a target.
// A channel's topic is its id; a direct message's topic is both user ids
// ordered lexicographically, so either participant derives the same key.
// A self-conversation resolves to "id-id".
func Resolve(conv models.Conversation) (string, error) {
	switch c := conv.(type) {
	case models.Channel:
		if c.ID == "" {
			return "", fmt.Errorf("%w: empty channel id", models.ErrInvalidConversation)
		}
		return c.ID, nil
	case models.DirectMessage:
		if c.LocalUserID == "" || c.PeerUserID == "" {
			return "", fmt.Errorf("%w: direct message needs both user ids", models.ErrInvalidConversation)
		}
		return DirectTopic(c.LocalUserID, c.PeerUserID), nil
	case nil:
		return "", fmt.Errorf("%w: no conversation", models.ErrInvalidConversation)
	default:
		return "", fmt.Errorf("%w: unsupported conversation %T", models.ErrInvalidConversation, conv)
	}
}

// DirectTopic returns the order-independent composite of two user ids.
func DirectTopic(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return u1 + dmSeparator + u2
}

// IsSelf reports whether conv is a direct message with oneself.
func IsSelf(conv models.Conversation) bool {
	dm, ok := conv.(models.DirectMessage)
	return ok && dm.LocalUserID == dm.PeerUserID
}
