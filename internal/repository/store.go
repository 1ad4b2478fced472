// Package repository persists conversations and their messages.
//
// Three backends implement Store: SQLite (default, single file), PostgreSQL
// (pgx pool owned by the caller) and DynamoDB (single-table layout). All of
// them return history in chronological order, including windowed reads that
// select the newest N messages.
package repository

import (
	"context"
	"errors"
	"time"

	"support-chat/internal/domain"
)

// ErrConversationNotFound is returned when a message references a
// conversation that does not exist.
var ErrConversationNotFound = errors.New("repository: conversation not found")

// Store is the conversation persistence contract consumed by the chat service.
type Store interface {
	// CreateConversation allocates a new conversation with no messages.
	CreateConversation(ctx context.Context) (domain.ConversationID, error)
	// GetConversation returns nil and no error when the conversation is unknown.
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	// SaveMessage appends a message; it fails with ErrConversationNotFound for
	// unknown conversations.
	SaveMessage(ctx context.Context, conversationID domain.ConversationID, sender domain.Sender, content string) (domain.MessageID, error)
	// GetMessages returns messages ascending by creation time. A positive limit
	// keeps only the newest limit messages, still ascending.
	GetMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error)
	Close() error
}

// timestampLayout is fixed-width so lexical order matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err == nil {
		return t, nil
	}
	// Rows written by hand or by older tooling may use plain RFC3339.
	return time.Parse(time.RFC3339Nano, s)
}

// reverseMessages flips newest-first reads into chronological order.
func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

var nowUTC = func() time.Time {
	return time.Now().UTC()
}
