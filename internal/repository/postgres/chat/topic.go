package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/postgres"
)

// PostgresTopicRepository implements chatRepo.TopicRepository
type PostgresTopicRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTopicRepository creates a new PostgresTopicRepository
func NewTopicRepository(config *postgres.RepositoryConfig) chatRepo.TopicRepository {
	return &PostgresTopicRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func (r *PostgresTopicRepository) CreateTopic(ctx context.Context, topic *chat.Topic) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, messages, last_message_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.tables.Topics)

	messages := topic.Messages
	if messages == nil {
		messages = []chat.MessageSnapshot{}
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		topic.ID,
		topic.Title,
		messages,
		topic.LastMessageTime,
		topic.CreatedAt,
		topic.UpdatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "create topic", "topic", topic.ID)
	}
	return nil
}

func (r *PostgresTopicRepository) GetTopic(ctx context.Context, topicID string) (*chat.Topic, error) {
	query := fmt.Sprintf(`
		SELECT id, title, messages, last_message_time, created_at, updated_at
		FROM %s WHERE id = $1
	`, r.tables.Topics)

	var t chat.Topic
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, topicID).Scan(
		&t.ID,
		&t.Title,
		&t.Messages,
		&t.LastMessageTime,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, postgres.TranslateError(err, "get topic", "topic", topicID)
	}
	return &t, nil
}

func (r *PostgresTopicRepository) UpdateTopic(ctx context.Context, topic *chat.Topic) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET messages = $2, last_message_time = $3, updated_at = $4
		WHERE id = $1
	`, r.tables.Topics)

	messages := topic.Messages
	if messages == nil {
		messages = []chat.MessageSnapshot{}
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, topic.ID, messages, topic.LastMessageTime, topic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "topic", ID: topic.ID}
	}
	return nil
}

func (r *PostgresTopicRepository) UpdateTopicTitle(ctx context.Context, topicID, title string) error {
	query := fmt.Sprintf(`UPDATE %s SET title = $2, updated_at = NOW() WHERE id = $1`, r.tables.Topics)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, topicID, title)
	if err != nil {
		return fmt.Errorf("update topic title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "topic", ID: topicID}
	}
	return nil
}
