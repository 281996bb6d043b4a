package streaming

import (
	"context"
	"fmt"

	"chatcompose/internal/config"
	"chatcompose/internal/domain/models/chat"
)

// RestartNotice is the error shown on responses a restart cut off
const RestartNotice = "response interrupted by restart"

// RecoverStale marks assistant messages left unfinished by a previous run
// as ERROR. Unfinished blocks are settled ERROR and an ERROR block carrying
// RestartNotice is appended. It returns how many messages were recovered.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	stale, err := s.store.Messages.ListMessagesByStatus(ctx, chat.RoleAssistant,
		chat.MessageStatusPending,
		chat.MessageStatusProcessing,
		chat.MessageStatusStreaming,
	)
	if err != nil {
		return 0, fmt.Errorf("list stale responses: %w", err)
	}

	recovered := 0
	for _, msg := range stale {
		if err := s.recoverMessage(ctx, msg); err != nil {
			s.logger.Error("failed to recover stale response", "message_id", msg.ID, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("recovered stale responses", "count", recovered)
	}
	return recovered, nil
}

func (s *Service) recoverMessage(ctx context.Context, msg *chat.Message) error {
	now := s.now()
	blocks, err := s.store.Blocks.ListBlocksByMessage(ctx, msg.ID)
	if err != nil {
		return err
	}

	errBlock := chat.NewBlock(s.newID(), msg.ID, &chat.ErrorPayload{Message: RestartNotice}, chat.BlockStatusError, now)

	return s.store.Tx.ExecTx(ctx, func(txCtx context.Context) error {
		for _, b := range blocks {
			if b.Status.IsTerminal() {
				continue
			}
			// an unresolved placeholder carries nothing worth keeping
			if b.Type == chat.BlockTypeUnknown {
				if err := b.Promote(&chat.ErrorPayload{Message: RestartNotice}); err != nil {
					return err
				}
				errBlock = nil
			}
			if err := b.SetStatus(chat.BlockStatusError); err != nil {
				return err
			}
			b.UpdatedAt = now
			if err := s.store.Blocks.UpsertBlock(txCtx, b); err != nil {
				return fmt.Errorf("settle block %s: %w", b.ID, err)
			}
		}
		if errBlock != nil {
			if err := s.store.Blocks.CreateBlock(txCtx, errBlock); err != nil {
				return fmt.Errorf("create error block: %w", err)
			}
			msg.AppendBlockID(errBlock.ID)
		}

		msg.Status = chat.MessageStatusError
		msg.UpdatedAt = now
		if err := s.store.Messages.UpdateMessage(txCtx, msg); err != nil {
			return err
		}

		topic, err := s.store.Topics.GetTopic(txCtx, msg.TopicID)
		if err != nil {
			return err
		}
		topic.UpsertSnapshot(chat.Snapshot(msg, RestartNotice, config.MaxSnapshotPreviewLength))
		topic.UpdatedAt = now
		return s.store.Topics.UpdateTopic(txCtx, topic)
	})
}
