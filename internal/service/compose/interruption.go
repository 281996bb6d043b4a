package compose

import (
	"context"
	"fmt"
	"time"

	"chatcompose/internal/domain/models/chat"
)

// CompleteWithInterruption finishes a response the user stopped. Partial
// text is kept with a notice appended and the message ends as SUCCESS,
// flagged as interrupted. If that cannot be persisted the response falls
// back to a normal completion of the partial text.
func (r *Response) CompleteWithInterruption(ctx context.Context) (string, error) {
	return r.finish(func() (string, error) {
		return r.interrupt(ctx)
	})
}

func (r *Response) interrupt(ctx context.Context) (string, error) {
	log := r.engine.deps.Logger.With("message_id", r.messageID, "topic_id", r.topicID)
	r.setState(stateFinished)
	if err := r.settleOpenTools(); err != nil {
		return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
	}

	notices := r.engine.deps.Config.Notices
	accumulated := r.processor.Content()
	text := notices.NoContent
	if accumulated != "" {
		text = accumulated + notices.Interrupted
	}

	now := r.engine.deps.Now()
	stamp := now.Format(time.RFC3339Nano)
	mark := func(b *chat.Block) error {
		b.SetText(text)
		b.SetMetadata(chat.MetadataInterrupted, true)
		b.SetMetadata(chat.MetadataInterruptedAt, stamp)
		return settle(chat.BlockStatusSuccess)(b)
	}

	if err := r.ensureTextBlock(text); err != nil {
		return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
	}
	if err := r.UpdateBlock(r.processor.TextBlockID(), mark); err != nil {
		return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
	}
	if err := r.settleThinking(); err != nil {
		return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
	}

	_, err := r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		m.Status = chat.MessageStatusSuccess
		m.SetMetadata(chat.MetadataInterrupted, true)
		m.SetMetadata(chat.MetadataInterruptedAt, stamp)
		r.rebuildBlockOrder(m)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
	}
	r.clearTopicFlags()

	r.scheduler.Stop()
	if err := r.persistFinal(context.WithoutCancel(ctx), text); err != nil {
		log.Error("persist interrupted response failed, falling back to normal completion", "error", err)
		if err := r.unmarkInterrupted(accumulated); err != nil {
			return "", fmt.Errorf("interrupt message %s: %w", r.messageID, err)
		}
		return r.complete(ctx, accumulated, false)
	}

	r.publish(chat.EventMessageComplete, chat.MessageCompleteEvent{MessageID: r.messageID, Interrupted: true})
	r.publish(chat.EventStreamTextComplete, chat.StreamTextCompleteEvent{MessageID: r.messageID, Text: text})
	r.engine.nameTopic(r.topicID)
	r.tracker.Cleanup()

	log.Info("response interrupted", "chars", len(accumulated))
	return text, nil
}

// unmarkInterrupted undoes the interrupted marks in the cache so the
// fallback completion stores a plain response.
func (r *Response) unmarkInterrupted(text string) error {
	err := r.UpdateBlock(r.processor.TextBlockID(), func(b *chat.Block) error {
		b.SetText(text)
		delete(b.Metadata, chat.MetadataInterrupted)
		delete(b.Metadata, chat.MetadataInterruptedAt)
		return nil
	})
	if err != nil {
		return err
	}
	_, err = r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		delete(m.Metadata, chat.MetadataInterrupted)
		delete(m.Metadata, chat.MetadataInterruptedAt)
		return nil
	})
	return err
}

// ensureTextBlock makes sure there is a MAIN_TEXT block to carry the
// notice: the placeholder if it is still unresolved, a new block otherwise.
func (r *Response) ensureTextBlock(text string) error {
	if r.processor.TextBlockID() != "" {
		return nil
	}
	if r.processor.BlockType() == chat.BlockTypeUnknown {
		id := r.processor.PlaceholderID()
		if err := r.PromoteBlock(id, &chat.TextPayload{Text: text}, chat.BlockStatusSuccess); err != nil {
			return err
		}
		r.processor.adoptTextBlock(id)
		return nil
	}
	id, err := r.CreateBlock(&chat.TextPayload{Text: text}, chat.BlockStatusSuccess)
	if err != nil {
		return err
	}
	r.processor.adoptTextBlock(id)
	return nil
}
