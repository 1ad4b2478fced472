package domain

import (
	"strconv"
	"strings"
	"time"
)

// ConversationID is the store-assigned conversation identifier.
type ConversationID int64

// MessageID is the store-assigned message identifier.
type MessageID int64

// Sender identifies who authored a persisted message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is a persisted sender value.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// ChatRole maps the persisted sender to the chat-completion role.
func (s Sender) ChatRole() string {
	if s == SenderUser {
		return RoleUser
	}
	return RoleAssistant
}

// Conversation groups an ordered sequence of messages. It is never mutated.
type Conversation struct {
	ID        ConversationID
	CreatedAt time.Time
}

// Message is a single persisted conversation turn.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Sender         Sender
	Content        string
	CreatedAt      time.Time
}

// FormatSessionID returns the wire form of a conversation id.
func FormatSessionID(id ConversationID) string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseSessionID parses the wire form of a conversation id. Only positive
// base-10 integers are accepted.
func ParseSessionID(s string) (ConversationID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return ConversationID(n), true
}
