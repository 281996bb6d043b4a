package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// TopicRepository implements chatRepo.TopicRepository
type TopicRepository struct {
	db *sql.DB
}

func (r *TopicRepository) CreateTopic(ctx context.Context, topic *chat.Topic) error {
	messages, err := snapshotsJSON(topic.Messages)
	if err != nil {
		return err
	}
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, `
INSERT INTO topics (id, title, messages_json, last_message_at_unix_ms, created_at_unix_ms, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, topic.ID, topic.Title, messages, nullableUnixMs(topic.LastMessageTime), toUnixMs(topic.CreatedAt), toUnixMs(topic.UpdatedAt))
	return translateError(err, "create topic", "topic", topic.ID)
}

func (r *TopicRepository) GetTopic(ctx context.Context, topicID string) (*chat.Topic, error) {
	var (
		t                    chat.Topic
		messages             string
		lastMs               sql.NullInt64
		createdMs, updatedMs int64
	)
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, `
SELECT id, title, messages_json, last_message_at_unix_ms, created_at_unix_ms, updated_at_unix_ms
FROM topics WHERE id = ?
`, topicID).Scan(&t.ID, &t.Title, &messages, &lastMs, &createdMs, &updatedMs)
	if err != nil {
		return nil, translateError(err, "get topic", "topic", topicID)
	}
	if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
		return nil, fmt.Errorf("decode topic messages: %w", err)
	}
	if lastMs.Valid {
		last := fromUnixMs(lastMs.Int64)
		t.LastMessageTime = &last
	}
	t.CreatedAt = fromUnixMs(createdMs)
	t.UpdatedAt = fromUnixMs(updatedMs)
	return &t, nil
}

func (r *TopicRepository) UpdateTopic(ctx context.Context, topic *chat.Topic) error {
	messages, err := snapshotsJSON(topic.Messages)
	if err != nil {
		return err
	}
	res, err := getExecutor(ctx, r.db).ExecContext(ctx, `
UPDATE topics SET messages_json = ?, last_message_at_unix_ms = ?, updated_at_unix_ms = ?
WHERE id = ?
`, messages, nullableUnixMs(topic.LastMessageTime), toUnixMs(topic.UpdatedAt), topic.ID)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "topic", ID: topic.ID}
	}
	return nil
}

func (r *TopicRepository) UpdateTopicTitle(ctx context.Context, topicID, title string) error {
	res, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE topics SET title = ?, updated_at_unix_ms = ? WHERE id = ?`,
		title, time.Now().UnixMilli(), topicID)
	if err != nil {
		return fmt.Errorf("update topic title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "topic", ID: topicID}
	}
	return nil
}

func snapshotsJSON(s []chat.MessageSnapshot) (string, error) {
	if s == nil {
		s = []chat.MessageSnapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode topic messages: %w", err)
	}
	return string(data), nil
}
