package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/postgres"
)

// PostgresMessageRepository implements chatRepo.MessageRepository
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *postgres.RepositoryConfig) chatRepo.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const messageColumns = `id, topic_id, role, status, block_ids, model, metadata, created_at, updated_at`

func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, msg *chat.Message) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.tables.Messages, messageColumns)

	blockIDs := msg.BlockIDs
	if blockIDs == nil {
		blockIDs = []string{}
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		msg.ID,
		msg.TopicID,
		msg.Role,
		msg.Status,
		blockIDs, // pgx handles slice -> JSONB
		nullable(msg.Model),
		msg.Metadata,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "create message", "message", msg.ID)
	}
	return nil
}

func (r *PostgresMessageRepository) UpdateMessage(ctx context.Context, msg *chat.Message) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, block_ids = $3, model = $4, metadata = $5, updated_at = $6
		WHERE id = $1
	`, r.tables.Messages)

	blockIDs := msg.BlockIDs
	if blockIDs == nil {
		blockIDs = []string{}
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		msg.ID,
		msg.Status,
		blockIDs,
		nullable(msg.Model),
		msg.Metadata,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "message", ID: msg.ID}
	}
	return nil
}

func (r *PostgresMessageRepository) GetMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	msg, err := scanMessage(executor.QueryRow(ctx, query, messageID))
	if err != nil {
		return nil, postgres.TranslateError(err, "get message", "message", messageID)
	}
	return msg, nil
}

func (r *PostgresMessageRepository) ListMessagesByTopic(ctx context.Context, topicID string) ([]*chat.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE topic_id = $1
		ORDER BY created_at ASC, id ASC
	`, messageColumns, r.tables.Messages)

	return r.list(ctx, query, topicID)
}

func (r *PostgresMessageRepository) ListMessagesByStatus(ctx context.Context, role chat.Role, statuses ...chat.MessageStatus) ([]*chat.Message, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE role = $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`, messageColumns, r.tables.Messages)

	return r.list(ctx, query, role, values)
}

func (r *PostgresMessageRepository) list(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var (
		m     chat.Message
		model *string
	)
	if err := row.Scan(
		&m.ID,
		&m.TopicID,
		&m.Role,
		&m.Status,
		&m.BlockIDs,
		&model,
		&m.Metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if model != nil {
		m.Model = *model
	}
	return &m, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
