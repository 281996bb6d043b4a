package compose

import (
	"context"
	"errors"
	"fmt"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// Fail records a provider failure as an ERROR block and moves the message
// to ERROR. An abort (context cancellation or a user interrupt) is not a
// failure and goes through CompleteWithInterruption instead.
//
// The returned error is non-nil only when the failure itself could not be
// recorded.
func (r *Response) Fail(ctx context.Context, cause error) error {
	if cause == nil {
		cause = errors.New("response failed without an error")
	}
	if IsAbort(cause) {
		_, err := r.CompleteWithInterruption(ctx)
		return err
	}
	_, err := r.finish(func() (string, error) {
		return "", r.fail(ctx, cause)
	})
	return err
}

// IsAbort reports whether err means the response was stopped rather than
// failed.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrInterrupted)
}

func (r *Response) fail(ctx context.Context, cause error) error {
	log := r.engine.deps.Logger.With("message_id", r.messageID, "topic_id", r.topicID)
	r.setState(stateFinished)
	if err := r.settleOpenTools(); err != nil {
		return fmt.Errorf("fail message %s: %w", r.messageID, err)
	}

	pe := domain.AsProviderError(cause)
	payload := &chat.ErrorPayload{StatusCode: pe.Code, Message: pe.Message, RawBody: pe.Body}

	var errorBlockID string
	if r.processor.BlockType() == chat.BlockTypeUnknown {
		errorBlockID = r.processor.PlaceholderID()
		if err := r.PromoteBlock(errorBlockID, payload, chat.BlockStatusError); err != nil {
			return fmt.Errorf("fail message %s: %w", r.messageID, err)
		}
	} else {
		id, err := r.CreateBlock(payload, chat.BlockStatusError)
		if err != nil {
			return fmt.Errorf("fail message %s: %w", r.messageID, err)
		}
		errorBlockID = id
	}

	if textID := r.processor.TextBlockID(); textID != "" {
		if err := r.UpdateBlock(textID, settle(chat.BlockStatusError)); err != nil {
			return fmt.Errorf("fail message %s: %w", r.messageID, err)
		}
	}
	if err := r.settleThinking(); err != nil {
		return fmt.Errorf("fail message %s: %w", r.messageID, err)
	}

	now := r.engine.deps.Now()
	_, err := r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		m.Status = chat.MessageStatusError
		m.SetMetadata("error", pe.Message)
		r.rebuildBlockOrder(m)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail message %s: %w", r.messageID, err)
	}
	r.clearTopicFlags()

	r.scheduler.Stop()
	persistErr := r.persistFinal(context.WithoutCancel(ctx), pe.Message)

	r.publish(chat.EventMessageError, chat.MessageErrorEvent{
		MessageID:  r.messageID,
		BlockID:    errorBlockID,
		StatusCode: pe.Code,
		Error:      pe.Message,
	})
	r.tracker.Cleanup()

	log.Warn("response failed", "status_code", pe.Code, "error", pe.Message)
	if persistErr != nil {
		return fmt.Errorf("persist failed message %s: %w", r.messageID, persistErr)
	}
	return nil
}
