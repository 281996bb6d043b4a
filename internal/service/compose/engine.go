// Package compose turns a stream of model output into the ordered, typed
// blocks of an assistant message, keeping the entity cache and durable
// storage consistent and finishing each response exactly once.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcompose/internal/cache"
	"chatcompose/internal/config"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/events"
)

// StartFailedNotice is the error shown on a response that never started
const StartFailedNotice = "response could not be started"

// TopicNamer gives a topic a title once it has content. Failures are
// logged and otherwise ignored.
type TopicNamer interface {
	NameTopic(ctx context.Context, topicID string) error
}

// Deps are the collaborators shared by every response.
type Deps struct {
	Cache     *cache.Store
	Store     *chatRepo.Store
	Publisher events.Publisher
	Namer     TopicNamer // optional
	Logger    *slog.Logger
	Config    config.EngineConfig

	// Now and NewID are replaceable in tests
	Now   func() time.Time
	NewID func() string
}

// Engine creates responses and owns the background work they start.
type Engine struct {
	deps   Deps
	naming sync.WaitGroup
}

// NewEngine fills defaults for unset tuning values
func NewEngine(deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Config.ToolWaitTimeout <= 0 {
		deps.Config.ToolWaitTimeout = config.DefaultToolWaitTimeout
	}
	if deps.Config.PersistInterval <= 0 {
		deps.Config.PersistInterval = config.DefaultPersistInterval
	}
	if deps.Config.NamingTimeout <= 0 {
		deps.Config.NamingTimeout = config.DefaultNamingTimeout
	}
	defaults := config.DefaultNotices()
	if deps.Config.Notices.Interrupted == "" {
		deps.Config.Notices.Interrupted = defaults.Interrupted
	}
	if deps.Config.Notices.NoContent == "" {
		deps.Config.Notices.NoContent = defaults.NoContent
	}
	if deps.Publisher == nil {
		deps.Publisher = events.PublisherFunc(func(chat.Event) {})
	}
	return &Engine{deps: deps}
}

// Begin attaches a placeholder block to a pending assistant message, moves
// it to PROCESSING and returns the response that will fill it. The message
// must already be in the cache.
func (e *Engine) Begin(ctx context.Context, messageID string) (*Response, error) {
	msg, ok := e.deps.Cache.Message(messageID)
	if !ok {
		return nil, fmt.Errorf("begin response: message %s not cached", messageID)
	}
	if msg.Role != chat.RoleAssistant {
		return nil, fmt.Errorf("begin response: message %s has role %s", messageID, msg.Role)
	}

	now := e.deps.Now()
	placeholder := chat.NewPlaceholderBlock(e.deps.NewID(), messageID, now)

	err := e.deps.Store.Tx.ExecTx(ctx, func(txCtx context.Context) error {
		if err := e.deps.Store.Blocks.CreateBlock(txCtx, placeholder); err != nil {
			return err
		}
		msg.AppendBlockID(placeholder.ID)
		msg.Status = chat.MessageStatusProcessing
		msg.UpdatedAt = now
		return e.deps.Store.Messages.UpdateMessage(txCtx, msg)
	})
	if err != nil {
		if aerr := e.abandon(ctx, messageID); aerr != nil {
			e.deps.Logger.Error("record failed start", "message_id", messageID, "error", aerr)
		}
		return nil, fmt.Errorf("begin response: %w", err)
	}

	e.deps.Cache.UpsertBlock(placeholder)
	e.deps.Cache.UpsertMessage(msg)
	e.deps.Cache.SetTopicLoading(msg.TopicID, true)

	r := newResponse(e, msg.TopicID, messageID, placeholder.ID)
	e.deps.Publisher.Publish(chat.Event{
		Type:    chat.EventBlockUpdated,
		TopicID: msg.TopicID,
		Data:    chat.BlockUpdatedEvent{MessageID: messageID, Block: placeholder},
	})
	e.deps.Logger.Debug("response started",
		"topic_id", msg.TopicID,
		"message_id", messageID,
		"placeholder_id", placeholder.ID,
	)
	return r, nil
}

// abandon ends a message whose response could not start: an ERROR block
// carrying StartFailedNotice is appended and the message moves to ERROR.
// The cache is updated even when the write fails; restart recovery
// settles the store in that case.
func (e *Engine) abandon(ctx context.Context, messageID string) error {
	now := e.deps.Now()
	block := chat.NewBlock(e.deps.NewID(), messageID, &chat.ErrorPayload{Message: StartFailedNotice}, chat.BlockStatusError, now)
	e.deps.Cache.UpsertBlock(block)
	msg, err := e.deps.Cache.UpdateMessage(messageID, func(m *chat.Message) error {
		m.AppendBlockID(block.ID)
		m.Status = chat.MessageStatusError
		m.SetMetadata("error", StartFailedNotice)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	e.deps.Publisher.Publish(chat.Event{
		Type:    chat.EventMessageError,
		TopicID: msg.TopicID,
		Data:    chat.MessageErrorEvent{MessageID: messageID, BlockID: block.ID, Error: StartFailedNotice},
	})

	store := e.deps.Store
	return store.Tx.ExecTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		if err := store.Blocks.CreateBlock(txCtx, block); err != nil {
			return fmt.Errorf("create error block: %w", err)
		}
		if err := store.Messages.UpdateMessage(txCtx, msg); err != nil {
			return fmt.Errorf("persist message: %w", err)
		}
		topic, err := store.Topics.GetTopic(txCtx, msg.TopicID)
		if err != nil {
			return fmt.Errorf("load topic: %w", err)
		}
		topic.UpsertSnapshot(chat.Snapshot(msg, StartFailedNotice, config.MaxSnapshotPreviewLength))
		topic.UpdatedAt = now
		return store.Topics.UpdateTopic(txCtx, topic)
	})
}

// nameTopic runs the namer detached from the response.
func (e *Engine) nameTopic(topicID string) {
	if e.deps.Namer == nil {
		return
	}
	e.naming.Add(1)
	go func() {
		defer e.naming.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.deps.Config.NamingTimeout)
		defer cancel()
		if err := e.deps.Namer.NameTopic(ctx, topicID); err != nil {
			e.deps.Logger.Warn("topic naming failed", "topic_id", topicID, "error", err)
		}
	}()
}

// Wait blocks until background naming has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.naming.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
