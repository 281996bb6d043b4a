package chat

import (
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/postgres"
)

// NewStore wires the PostgreSQL repositories and transaction manager.
func NewStore(config *postgres.RepositoryConfig) *chatRepo.Store {
	return &chatRepo.Store{
		Tx:       postgres.NewTransactionManager(config.Pool, config.Logger),
		Blocks:   NewBlockRepository(config),
		Messages: NewMessageRepository(config),
		Topics:   NewTopicRepository(config),
	}
}
