package chat

import (
	"context"

	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/domain/repositories"
)

// BlockRepository defines data access for content blocks
type BlockRepository interface {
	// CreateBlock inserts a new block.
	// Returns domain.ErrNotFound if the owning message does not exist.
	CreateBlock(ctx context.Context, block *chat.Block) error

	// UpsertBlock inserts the block or overwrites type, payload, status,
	// metadata and updated_at of an existing one.
	UpsertBlock(ctx context.Context, block *chat.Block) error

	// GetBlock returns domain.ErrNotFound if the block does not exist
	GetBlock(ctx context.Context, blockID string) (*chat.Block, error)

	// ListBlocksByMessage returns every block owned by the message, oldest first
	ListBlocksByMessage(ctx context.Context, messageID string) ([]*chat.Block, error)
}

// MessageRepository defines data access for messages
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *chat.Message) error

	// UpdateMessage writes status, block order, model, metadata and updated_at.
	// Returns domain.ErrNotFound if the message does not exist.
	UpdateMessage(ctx context.Context, msg *chat.Message) error

	GetMessage(ctx context.Context, messageID string) (*chat.Message, error)

	// ListMessagesByTopic returns messages in creation order
	ListMessagesByTopic(ctx context.Context, topicID string) ([]*chat.Message, error)

	// ListMessagesByStatus returns messages of the role in any of the statuses.
	// Used at startup to find responses a crash left unfinished.
	ListMessagesByStatus(ctx context.Context, role chat.Role, statuses ...chat.MessageStatus) ([]*chat.Message, error)
}

// TopicRepository defines data access for topics
type TopicRepository interface {
	CreateTopic(ctx context.Context, topic *chat.Topic) error
	GetTopic(ctx context.Context, topicID string) (*chat.Topic, error)

	// UpdateTopic writes the message snapshots, last_message_time and updated_at
	UpdateTopic(ctx context.Context, topic *chat.Topic) error

	// UpdateTopicTitle sets only the title
	UpdateTopicTitle(ctx context.Context, topicID, title string) error
}

// Store groups the repositories the engine writes through with the
// transaction manager that makes those writes atomic.
type Store struct {
	Tx       repositories.TransactionManager
	Blocks   BlockRepository
	Messages MessageRepository
	Topics   TopicRepository
}
