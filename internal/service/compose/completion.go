package compose

import (
	"context"
	"errors"
	"fmt"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// Complete finishes the response normally and returns the resolved text.
//
// finalContent is the provider's own copy of the answer. Text accumulated
// from chunks wins whenever there is any, so nothing streamed is lost to a
// shorter or different final value.
func (r *Response) Complete(ctx context.Context, finalContent string) (string, error) {
	return r.finish(func() (string, error) {
		return r.complete(ctx, finalContent, true)
	})
}

func (r *Response) complete(ctx context.Context, finalContent string, waitTools bool) (string, error) {
	log := r.engine.deps.Logger.With("message_id", r.messageID, "topic_id", r.topicID)

	if waitTools {
		r.setState(stateFinishing)
		if r.tracker.WaitForAllToolsComplete(ctx, r.engine.deps.Config.ToolWaitTimeout) {
			log.Warn("tools still running, completing without them", "outstanding", r.tracker.Outstanding())
		}
		// a stop while waiting on tools is still a stop
		if errors.Is(context.Cause(ctx), domain.ErrInterrupted) {
			return r.interrupt(ctx)
		}
	}
	r.setState(stateFinished)
	if err := r.settleOpenTools(); err != nil {
		return "", fmt.Errorf("complete message %s: %w", r.messageID, err)
	}

	comparison := r.processor.IsComparison()
	resolved := r.processor.Content()
	if resolved == "" {
		resolved = finalContent
	}

	if !comparison {
		if err := r.reconcileText(resolved, finalContent); err != nil {
			return resolved, fmt.Errorf("complete message %s: %w", r.messageID, err)
		}
	}
	if err := r.settlePlaceholder(chat.BlockStatusSuccess); err != nil {
		return resolved, fmt.Errorf("complete message %s: %w", r.messageID, err)
	}

	now := r.engine.deps.Now()
	_, err := r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		m.Status = chat.MessageStatusSuccess
		r.rebuildBlockOrder(m)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return resolved, fmt.Errorf("complete message %s: %w", r.messageID, err)
	}
	r.clearTopicFlags()

	r.scheduler.Stop()
	if err := r.persistFinal(context.WithoutCancel(ctx), resolved); err != nil {
		r.tracker.Cleanup()
		log.Error("persist completed response failed", "error", err)
		return resolved, fmt.Errorf("complete message %s: %w", r.messageID, err)
	}

	r.publish(chat.EventMessageComplete, chat.MessageCompleteEvent{MessageID: r.messageID})
	r.publish(chat.EventStreamTextComplete, chat.StreamTextCompleteEvent{MessageID: r.messageID, Text: resolved})
	r.engine.nameTopic(r.topicID)
	r.tracker.Cleanup()

	log.Info("response completed", "chars", len(resolved), "comparison", comparison)
	return resolved, nil
}

// reconcileText writes the resolved text into the MAIN_TEXT block, creating
// one when final content arrived without any streamed text, and settles the
// thinking block.
func (r *Response) reconcileText(resolved, finalContent string) error {
	if r.processor.TextBlockID() == "" && finalContent != "" {
		id, err := r.CreateBlock(&chat.TextPayload{Text: resolved}, chat.BlockStatusSuccess)
		if err != nil {
			return fmt.Errorf("create main text: %w", err)
		}
		r.processor.adoptTextBlock(id)
	}

	if textID := r.processor.TextBlockID(); textID != "" {
		err := r.UpdateBlock(textID, func(b *chat.Block) error {
			if resolved != "" {
				b.SetText(resolved)
			}
			return settle(chat.BlockStatusSuccess)(b)
		})
		if err != nil {
			return fmt.Errorf("update main text: %w", err)
		}
	}

	return r.settleThinking()
}

func (r *Response) settleThinking() error {
	thinkingID := r.processor.ThinkingBlockID()
	if thinkingID == "" {
		return nil
	}
	thinking := r.processor.Thinking()
	elapsed := r.engine.deps.Now().Sub(r.processor.ThinkingStarted()).Milliseconds()
	err := r.UpdateBlock(thinkingID, func(b *chat.Block) error {
		if tp, ok := b.Payload.(*chat.ThinkingPayload); ok {
			tp.Text = thinking
			if tp.DurationMs == 0 {
				tp.DurationMs = elapsed
			}
		}
		return settle(chat.BlockStatusSuccess)(b)
	})
	if err != nil {
		return fmt.Errorf("update thinking: %w", err)
	}
	return nil
}

// settlePlaceholder finishes a placeholder that never received content.
func (r *Response) settlePlaceholder(status chat.BlockStatus) error {
	b, ok := r.engine.deps.Cache.Block(r.processor.PlaceholderID())
	if !ok || b.Status.IsTerminal() {
		return nil
	}
	return r.UpdateBlock(b.ID, settle(status))
}
