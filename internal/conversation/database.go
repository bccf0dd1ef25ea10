package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Database defines the methods for conversation store operations.
type Database interface {
	// Close closes the database connection.
	Close() error

	// CreateConversation creates a new conversation.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation gets a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations gets all conversations for an owner, most recently
	// updated first.
	ListConversations(ctx context.Context, ownerID string) ([]*Conversation, error)

	// UpdateTitle updates the title of a conversation.
	UpdateTitle(ctx context.Context, id, title string) error

	// TouchConversation bumps a conversation's updated timestamp.
	TouchConversation(ctx context.Context, id string) error

	// DeleteConversation deletes a conversation and its messages and files.
	DeleteConversation(ctx context.Context, id string) error

	// SaveMessage saves a message.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages gets all messages for a conversation in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// ListMessagesPage gets one page of messages for a conversation.
	ListMessagesPage(ctx context.Context, conversationID string, page, pageSize int) ([]*Message, error)

	// SaveFile records a file attached to a conversation.
	SaveFile(ctx context.Context, file *File) error

	// ListFiles gets all files attached to a conversation.
	ListFiles(ctx context.Context, conversationID string) ([]*File, error)

	// DeleteFile removes a file record.
	DeleteFile(ctx context.Context, id string) error
}
