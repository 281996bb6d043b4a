// Package naming gives topics a title derived from their content.
package naming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"chatcompose/internal/config"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/events"
	"chatcompose/internal/service/converter"
)

// FirstMessageNamer titles a topic after the opening line of its first user
// message. Topics that already carry a custom title are left alone.
type FirstMessageNamer struct {
	store     *chatRepo.Store
	publisher events.Publisher
	logger    *slog.Logger
	maxLength int
}

// NewFirstMessageNamer creates a namer
func NewFirstMessageNamer(store *chatRepo.Store, publisher events.Publisher, logger *slog.Logger) *FirstMessageNamer {
	return &FirstMessageNamer{
		store:     store,
		publisher: publisher,
		logger:    logger,
		maxLength: config.GeneratedTitleLength,
	}
}

// NameTopic implements compose.TopicNamer
func (n *FirstMessageNamer) NameTopic(ctx context.Context, topicID string) error {
	topic, err := n.store.Topics.GetTopic(ctx, topicID)
	if err != nil {
		return fmt.Errorf("load topic: %w", err)
	}
	if topic.Title != "" && topic.Title != config.DefaultTopicTitle {
		return nil
	}

	text, err := n.firstUserText(ctx, topicID)
	if err != nil {
		return err
	}
	title := Title(text, n.maxLength)
	if title == "" {
		return nil
	}

	if err := n.store.Topics.UpdateTopicTitle(ctx, topicID, title); err != nil {
		return fmt.Errorf("update topic title: %w", err)
	}
	if n.publisher != nil {
		n.publisher.Publish(chat.Event{
			Type:    chat.EventTopicUpdated,
			TopicID: topicID,
			Data:    chat.TopicUpdatedEvent{TopicID: topicID, Title: title},
		})
	}
	n.logger.Debug("topic named", "topic_id", topicID, "title", title)
	return nil
}

func (n *FirstMessageNamer) firstUserText(ctx context.Context, topicID string) (string, error) {
	msgs, err := n.store.Messages.ListMessagesByTopic(ctx, topicID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		if m.Role != chat.RoleUser {
			continue
		}
		blocks, err := n.store.Blocks.ListBlocksByMessage(ctx, m.ID)
		if err != nil {
			return "", fmt.Errorf("list blocks: %w", err)
		}
		for _, b := range blocks {
			if b.Type == chat.BlockTypeMainText {
				return b.Text(), nil
			}
		}
		return "", nil
	}
	return "", nil
}

// Title derives a single-line title from markdown or HTML text, at most
// maxLength runes including the trailing ellipsis.
func Title(text string, maxLength int) string {
	line := firstLine(text)
	line = strings.TrimLeft(line, "#>*-` ")
	line = converter.PlainText(line)
	if line == "" {
		return ""
	}
	if maxLength <= 0 || utf8.RuneCountInString(line) <= maxLength {
		return line
	}
	r := []rune(line)
	cut := strings.TrimRight(string(r[:maxLength-1]), " ")
	return cut + "…"
}

func firstLine(text string) string {
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}
