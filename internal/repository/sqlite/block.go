package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatcompose/internal/domain/models/chat"
)

// BlockRepository implements chatRepo.BlockRepository
type BlockRepository struct {
	db *sql.DB
}

const blockColumns = `id, message_id, block_type, content_json, status, metadata_json, created_at_unix_ms, updated_at_unix_ms`

func (r *BlockRepository) CreateBlock(ctx context.Context, block *chat.Block) error {
	args, err := blockArgs(block)
	if err != nil {
		return err
	}
	_, err = getExecutor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return translateError(err, "create block", "block", block.ID)
}

func (r *BlockRepository) UpsertBlock(ctx context.Context, block *chat.Block) error {
	args, err := blockArgs(block)
	if err != nil {
		return err
	}
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, `
INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  block_type = excluded.block_type,
  content_json = excluded.content_json,
  status = excluded.status,
  metadata_json = excluded.metadata_json,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, args...)
	return translateError(err, "upsert block", "block", block.ID)
}

func (r *BlockRepository) GetBlock(ctx context.Context, blockID string) (*chat.Block, error) {
	row := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE id = ?`, blockID)
	b, err := scanBlock(row)
	if err != nil {
		return nil, translateError(err, "get block", "block", blockID)
	}
	return b, nil
}

func (r *BlockRepository) ListBlocksByMessage(ctx context.Context, messageID string) ([]*chat.Block, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE message_id = ? ORDER BY created_at_unix_ms ASC, rowid ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []*chat.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func blockArgs(b *chat.Block) ([]any, error) {
	content, err := chat.EncodePayload(b.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalNullable(b.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode block metadata: %w", err)
	}
	var contentCol sql.NullString
	if content != nil {
		contentCol = sql.NullString{String: string(content), Valid: true}
	}
	return []any{
		b.ID,
		b.MessageID,
		string(b.Type),
		contentCol,
		string(b.Status),
		metadata,
		toUnixMs(b.CreatedAt),
		toUnixMs(b.UpdatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(s scanner) (*chat.Block, error) {
	var (
		b                    chat.Block
		blockType, status    string
		content, metadata    sql.NullString
		createdMs, updatedMs int64
	)
	if err := s.Scan(&b.ID, &b.MessageID, &blockType, &content, &status, &metadata, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	b.Type = chat.BlockType(blockType)
	b.Status = chat.BlockStatus(status)
	b.CreatedAt = fromUnixMs(createdMs)
	b.UpdatedAt = fromUnixMs(updatedMs)

	var raw []byte
	if content.Valid {
		raw = []byte(content.String)
	}
	payload, err := chat.DecodePayload(b.Type, raw)
	if err != nil {
		return nil, err
	}
	b.Payload = payload

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &b.Metadata); err != nil {
			return nil, fmt.Errorf("decode block metadata: %w", err)
		}
	}
	return &b, nil
}

func marshalNullable(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
