package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/postgres"
)

// PostgresBlockRepository implements chatRepo.BlockRepository
type PostgresBlockRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewBlockRepository creates a new PostgresBlockRepository
func NewBlockRepository(config *postgres.RepositoryConfig) chatRepo.BlockRepository {
	return &PostgresBlockRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const blockColumns = `id, message_id, block_type, content, status, metadata, created_at, updated_at`

func (r *PostgresBlockRepository) CreateBlock(ctx context.Context, block *chat.Block) error {
	content, err := chat.EncodePayload(block.Payload)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Blocks, blockColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		block.ID,
		block.MessageID,
		block.Type,
		content, // []byte -> JSONB, nil becomes NULL
		block.Status,
		block.Metadata,
		block.CreatedAt,
		block.UpdatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "create block", "block", block.ID)
	}
	return nil
}

func (r *PostgresBlockRepository) UpsertBlock(ctx context.Context, block *chat.Block) error {
	content, err := chat.EncodePayload(block.Payload)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			block_type = EXCLUDED.block_type,
			content = EXCLUDED.content,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, r.tables.Blocks, blockColumns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		block.ID,
		block.MessageID,
		block.Type,
		content,
		block.Status,
		block.Metadata,
		block.CreatedAt,
		block.UpdatedAt,
	)
	if err != nil {
		return postgres.TranslateError(err, "upsert block", "block", block.ID)
	}
	return nil
}

func (r *PostgresBlockRepository) GetBlock(ctx context.Context, blockID string) (*chat.Block, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, blockColumns, r.tables.Blocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	block, err := scanBlock(executor.QueryRow(ctx, query, blockID))
	if err != nil {
		return nil, postgres.TranslateError(err, "get block", "block", blockID)
	}
	return block, nil
}

func (r *PostgresBlockRepository) ListBlocksByMessage(ctx context.Context, messageID string) ([]*chat.Block, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE message_id = $1
		ORDER BY created_at ASC, id ASC
	`, blockColumns, r.tables.Blocks)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*chat.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

func scanBlock(row pgx.Row) (*chat.Block, error) {
	var (
		b       chat.Block
		content []byte
	)
	if err := row.Scan(
		&b.ID,
		&b.MessageID,
		&b.Type,
		&content,
		&b.Status,
		&b.Metadata,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	payload, err := chat.DecodePayload(b.Type, content)
	if err != nil {
		return nil, err
	}
	b.Payload = payload
	return &b, nil
}
