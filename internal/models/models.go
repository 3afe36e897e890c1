package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidConversation = errors.New("invalid conversation")
	ErrEmptyMessage        = errors.New("empty message")
	ErrUnauthorized        = errors.New("unauthorized")
)

// ChatMessage is one unit of conversation content.
// Two messages agreeing on all four fields are the same message.
type ChatMessage struct {
	Topic     string `json:"topic"`
	Publisher string `json:"publisher"`
	Value     string `json:"value"`
	TimeNanos int64  `json:"timeNanos"`
}

// Conversation is the addressable chat target: either a Channel or a DirectMessage.
type Conversation interface {
	isConversation()
}

// Channel is a group conversation scoped to a workspace-level channel.
type Channel struct {
	ID string `json:"id"`
}

func (Channel) isConversation() {}

// DirectMessage is a pairwise conversation between the local user and a peer.
type DirectMessage struct {
	LocalUserID string `json:"localUserId"`
	PeerUserID  string `json:"peerUserId"`
}

func (DirectMessage) isConversation() {}

// Profile is the subset of the user's profile record this client reads and writes.
type Profile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Metadata ProfileMetadata `json:"metadata"`
}

type ProfileMetadata struct {
	UI UIMetadata `json:"ui"`
}

type UIMetadata struct {
	LastRead map[string]int64 `json:"lastRead,omitempty"`
}

type ClientStatus string

const (
	ClientStatusEnabled  ClientStatus = "enabled"
	ClientStatusDisabled ClientStatus = "disabled"
)

// ClientInfo describes a message publisher (user or device).
type ClientInfo struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Status ClientStatus `json:"status"`
}

// MessagesPage is a bounded page of stored messages as returned by the history endpoint.
type MessagesPage struct {
	Total    int64           `json:"total"`
	Offset   int64           `json:"offset"`
	Limit    int64           `json:"limit"`
	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is the record shape the platform keeps for every published frame.
type StoredMessage struct {
	Channel     string      `json:"channel,omitempty"`
	Name        string      `json:"name"`
	Publisher   string      `json:"publisher"`
	Protocol    string      `json:"protocol,omitempty"`
	Time        json.Number `json:"time"`
	Value       *float64    `json:"value,omitempty"`
	StringValue *string     `json:"string_value,omitempty"`
}

type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
	StateFailed       ConnectionState = "failed"
)

type IssueTokenRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

type Token struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// ChannelInfo describes a platform channel inside a workspace.
type ChannelInfo struct {
	WorkspaceID string `json:"workspaceId"`
	ID          string `json:"id"`
	Name        string `json:"name"`
}
