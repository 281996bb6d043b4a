package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// MessageRepository implements chatRepo.MessageRepository
type MessageRepository struct {
	db *sql.DB
}

const messageColumns = `id, topic_id, role, status, block_ids_json, model, metadata_json, created_at_unix_ms, updated_at_unix_ms`

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *chat.Message) error {
	blockIDs, metadata, err := messageJSON(msg)
	if err != nil {
		return err
	}
	_, err = getExecutor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TopicID, string(msg.Role), string(msg.Status), blockIDs, msg.Model, metadata,
		toUnixMs(msg.CreatedAt), toUnixMs(msg.UpdatedAt),
	)
	return translateError(err, "create message", "message", msg.ID)
}

func (r *MessageRepository) UpdateMessage(ctx context.Context, msg *chat.Message) error {
	blockIDs, metadata, err := messageJSON(msg)
	if err != nil {
		return err
	}
	res, err := getExecutor(ctx, r.db).ExecContext(ctx, `
UPDATE messages
SET status = ?, block_ids_json = ?, model = ?, metadata_json = ?, updated_at_unix_ms = ?
WHERE id = ?
`, string(msg.Status), blockIDs, msg.Model, metadata, toUnixMs(msg.UpdatedAt), msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "message", ID: msg.ID}
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	row := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, translateError(err, "get message", "message", messageID)
	}
	return m, nil
}

func (r *MessageRepository) ListMessagesByTopic(ctx context.Context, topicID string) ([]*chat.Message, error) {
	return r.list(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE topic_id = ? ORDER BY created_at_unix_ms ASC, rowid ASC`,
		topicID)
}

func (r *MessageRepository) ListMessagesByStatus(ctx context.Context, role chat.Role, statuses ...chat.MessageStatus) ([]*chat.Message, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{string(role)}
	marks := make([]string, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args = append(args, string(s))
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE role = ? AND status IN (` +
		strings.Join(marks, ", ") + `) ORDER BY created_at_unix_ms ASC`
	return r.list(ctx, query, args...)
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func messageJSON(msg *chat.Message) (string, sql.NullString, error) {
	ids := msg.BlockIDs
	if ids == nil {
		ids = []string{}
	}
	blockIDs, err := json.Marshal(ids)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode block ids: %w", err)
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode message metadata: %w", err)
	}
	return string(blockIDs), metadata, nil
}

func scanMessage(s scanner) (*chat.Message, error) {
	var (
		m                    chat.Message
		role, status         string
		blockIDs             string
		metadata             sql.NullString
		createdMs, updatedMs int64
	)
	if err := s.Scan(&m.ID, &m.TopicID, &role, &status, &blockIDs, &m.Model, &metadata, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	m.Role = chat.Role(role)
	m.Status = chat.MessageStatus(status)
	m.CreatedAt = fromUnixMs(createdMs)
	m.UpdatedAt = fromUnixMs(updatedMs)
	if err := json.Unmarshal([]byte(blockIDs), &m.BlockIDs); err != nil {
		return nil, fmt.Errorf("decode block ids: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return &m, nil
}
