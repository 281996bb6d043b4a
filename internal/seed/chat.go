package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lorem "github.com/bozaro/golorem"
	"github.com/google/uuid"

	"chatcompose/internal/config"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
)

// ChatSeeder fills a store with sample topics so the UI has history to render
type ChatSeeder struct {
	store  *chatRepo.Store
	lorem  *lorem.Lorem
	logger *slog.Logger
	now    func() time.Time
}

// NewChatSeeder creates a seeder
func NewChatSeeder(store *chatRepo.Store, logger *slog.Logger) *ChatSeeder {
	return &ChatSeeder{
		store:  store,
		lorem:  lorem.New(),
		logger: logger,
		now:    time.Now,
	}
}

// SeedTopics creates count topics, each with turns user/assistant exchanges.
// Every third assistant reply carries a thinking block before its text.
func (s *ChatSeeder) SeedTopics(ctx context.Context, count, turns int) ([]*chat.Topic, error) {
	topics := make([]*chat.Topic, 0, count)
	for i := 0; i < count; i++ {
		topic, err := s.seedTopic(ctx, i, turns)
		if err != nil {
			return topics, fmt.Errorf("seed topic %d: %w", i, err)
		}
		topics = append(topics, topic)
		s.logger.Info("seeded topic", "topic_id", topic.ID, "title", topic.Title, "messages", len(topic.Messages))
	}
	return topics, nil
}

func (s *ChatSeeder) seedTopic(ctx context.Context, index, turns int) (*chat.Topic, error) {
	start := s.now().Add(-time.Duration(turns) * time.Minute)
	topic := &chat.Topic{
		ID:        uuid.NewString(),
		Title:     s.title(),
		CreatedAt: start,
		UpdatedAt: start,
	}

	err := s.store.Tx.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.Topics.CreateTopic(ctx, topic); err != nil {
			return err
		}

		at := start
		for turn := 0; turn < turns; turn++ {
			question := s.lorem.Sentence(4, 12)
			user, err := s.insertMessage(ctx, topic, chat.RoleUser, "", at, &chat.TextPayload{Text: question})
			if err != nil {
				return err
			}
			topic.UpsertSnapshot(chat.Snapshot(user, question, config.MaxSnapshotPreviewLength))
			at = at.Add(20 * time.Second)

			answer := s.answer()
			payloads := []chat.Payload{&chat.TextPayload{Text: answer}}
			if (index+turn)%3 == 0 {
				thinking := &chat.ThinkingPayload{Text: s.lorem.Sentence(8, 20), DurationMs: 1200}
				payloads = append([]chat.Payload{thinking}, payloads...)
			}
			assistant, err := s.insertMessage(ctx, topic, chat.RoleAssistant, "lorem/lorem-fast", at, payloads...)
			if err != nil {
				return err
			}
			topic.UpsertSnapshot(chat.Snapshot(assistant, answer, config.MaxSnapshotPreviewLength))
			at = at.Add(40 * time.Second)
		}

		last := at
		topic.LastMessageTime = &last
		topic.UpdatedAt = last
		return s.store.Topics.UpdateTopic(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// insertMessage writes a finished message and its blocks in order
func (s *ChatSeeder) insertMessage(ctx context.Context, topic *chat.Topic, role chat.Role, model string, at time.Time, payloads ...chat.Payload) (*chat.Message, error) {
	msg := &chat.Message{
		ID:        uuid.NewString(),
		TopicID:   topic.ID,
		Role:      role,
		Status:    chat.MessageStatusSuccess,
		Model:     model,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := s.store.Messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	for _, p := range payloads {
		block := chat.NewBlock(uuid.NewString(), msg.ID, p, chat.BlockStatusSuccess, at)
		if err := s.store.Blocks.CreateBlock(ctx, block); err != nil {
			return nil, err
		}
		msg.AppendBlockID(block.ID)
	}
	if err := s.store.Messages.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// title is a short sentence without its closing period
func (s *ChatSeeder) title() string {
	t := strings.TrimRight(s.lorem.Sentence(2, 4), ".")
	if len([]rune(t)) > config.MaxTopicTitleLength {
		t = string([]rune(t)[:config.MaxTopicTitleLength])
	}
	return t
}

func (s *ChatSeeder) answer() string {
	paragraphs := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		paragraphs = append(paragraphs, s.lorem.Paragraph(2, 4))
	}
	return strings.Join(paragraphs, "\n\n")
}
