package compose

import (
	"context"
	"fmt"
	"sync"

	"chatcompose/internal/config"
	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// ToolUnfinishedError is recorded on tool blocks still running when their
// response finished.
const ToolUnfinishedError = "tool did not finish"

type responseState int

const (
	stateActive    responseState = iota
	stateFinishing               // waiting for tools; only tool results accepted
	stateFinished
)

// Response composes one assistant message. Call OnChunk for each chunk,
// then exactly one of Complete, CompleteWithInterruption or Fail. Later
// terminal calls return the first call's outcome.
type Response struct {
	engine    *Engine
	topicID   string
	messageID string

	processor *ChunkProcessor
	tracker   *ToolExecutionTracker
	scheduler *PersistScheduler

	mu        sync.Mutex
	state     responseState
	streaming bool

	touchMu   sync.Mutex
	touched   []string // every block this response wrote, in order
	touchedAt map[string]bool

	finishOnce sync.Once
	done       chan struct{}
	result     string
	err        error
}

func newResponse(e *Engine, topicID, messageID, placeholderID string) *Response {
	r := &Response{
		engine:    e,
		topicID:   topicID,
		messageID: messageID,
		tracker:   NewToolExecutionTracker(),
		touchedAt: make(map[string]bool),
		done:      make(chan struct{}),
	}
	r.processor = NewChunkProcessor(placeholderID, r, r.tracker, e.deps.Now)
	r.scheduler = NewPersistScheduler(e.deps.Config.PersistInterval, r.flushBlocks, e.deps.Logger)
	r.touch(placeholderID)
	return r
}

// MessageID returns the assistant message being composed
func (r *Response) MessageID() string { return r.messageID }

// TopicID returns the topic of the message
func (r *Response) TopicID() string { return r.topicID }

// Processor exposes the chunk state for reads
func (r *Response) Processor() *ChunkProcessor { return r.processor }

// Tracker is the tool runtime's handle for register/complete signals
func (r *Response) Tracker() *ToolExecutionTracker { return r.tracker }

// Done is closed once a terminal call has finished
func (r *Response) Done() <-chan struct{} { return r.done }

// OnChunk applies one chunk to the cache. A chunk with Interrupted set
// finishes the response through the interruption path.
func (r *Response) OnChunk(ctx context.Context, chunk chat.Chunk) error {
	r.mu.Lock()
	switch r.state {
	case stateFinished:
		r.mu.Unlock()
		return domain.ErrResponseFinished
	case stateFinishing:
		if chunk.Tool == nil || chunk.Tool.Kind != chat.ToolEventResult {
			r.mu.Unlock()
			return domain.ErrResponseFinished
		}
		chunk = chat.Chunk{Tool: chunk.Tool}
	}

	interrupted, err := r.processor.Process(chunk)
	if err == nil && !r.streaming && r.processor.Phase() != PhaseIdle {
		r.streaming = true
		err = r.markStreaming()
	}
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("process chunk: %w", err)
	}
	if interrupted {
		_, err := r.CompleteWithInterruption(ctx)
		return err
	}
	// a tool may run for a while; make its block durable before it starts
	if chunk.Tool != nil && chunk.Tool.Kind == chat.ToolEventStart {
		if err := r.scheduler.Flush(ctx); err != nil {
			r.engine.deps.Logger.Warn("flush tool start failed", "message_id", r.messageID, "error", err)
		}
	}
	return nil
}

func (r *Response) markStreaming() error {
	_, err := r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		if m.Status.IsTerminal() {
			return nil
		}
		m.Status = chat.MessageStatusStreaming
		m.UpdatedAt = r.engine.deps.Now()
		return nil
	})
	r.engine.deps.Cache.SetTopicStreaming(r.topicID, true)
	return err
}

// SetUsage records provider metadata on the message
func (r *Response) SetUsage(model, stopReason string, inputTokens, outputTokens int) {
	_, err := r.engine.deps.Cache.UpdateMessage(r.messageID, func(m *chat.Message) error {
		if model != "" {
			m.Model = model
		}
		if stopReason != "" {
			m.SetMetadata(chat.MetadataStopReason, stopReason)
		}
		if inputTokens > 0 {
			m.SetMetadata(chat.MetadataInputTokens, inputTokens)
		}
		if outputTokens > 0 {
			m.SetMetadata(chat.MetadataOutputTokens, outputTokens)
		}
		return nil
	})
	if err != nil {
		r.engine.deps.Logger.Warn("record usage failed", "message_id", r.messageID, "error", err)
	}
}

// finish runs fn for the first terminal call only.
func (r *Response) finish(fn func() (string, error)) (string, error) {
	r.finishOnce.Do(func() {
		r.result, r.err = fn()
		r.mu.Lock()
		r.state = stateFinished
		r.mu.Unlock()
		close(r.done)
	})
	<-r.done
	return r.result, r.err
}

func (r *Response) setState(s responseState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// --- BlockSink -----------------------------------------------------------

func (r *Response) touch(id string) {
	r.touchMu.Lock()
	defer r.touchMu.Unlock()
	if !r.touchedAt[id] {
		r.touchedAt[id] = true
		r.touched = append(r.touched, id)
	}
}

func (r *Response) touchedIDs() []string {
	r.touchMu.Lock()
	defer r.touchMu.Unlock()
	return append([]string(nil), r.touched...)
}

// PromoteBlock implements BlockSink
func (r *Response) PromoteBlock(blockID string, payload chat.Payload, status chat.BlockStatus) error {
	b, err := r.engine.deps.Cache.UpdateBlock(blockID, func(b *chat.Block) error {
		if err := b.Promote(payload); err != nil {
			return err
		}
		b.UpdatedAt = r.engine.deps.Now()
		return b.SetStatus(status)
	})
	if err != nil {
		return err
	}
	r.touch(blockID)
	r.blockChanged(b)
	return nil
}

// CreateBlock implements BlockSink
func (r *Response) CreateBlock(payload chat.Payload, status chat.BlockStatus) (string, error) {
	b := chat.NewBlock(r.engine.deps.NewID(), r.messageID, payload, status, r.engine.deps.Now())
	r.engine.deps.Cache.UpsertBlock(b)
	if err := r.engine.deps.Cache.AppendBlockID(r.messageID, b.ID); err != nil {
		return "", err
	}
	r.touch(b.ID)
	r.blockChanged(b)
	return b.ID, nil
}

// UpdateBlock implements BlockSink
func (r *Response) UpdateBlock(blockID string, fn func(*chat.Block) error) error {
	b, err := r.engine.deps.Cache.UpdateBlock(blockID, func(b *chat.Block) error {
		if err := fn(b); err != nil {
			return err
		}
		b.UpdatedAt = r.engine.deps.Now()
		return nil
	})
	if err != nil {
		return err
	}
	r.touch(blockID)
	r.blockChanged(b)
	return nil
}

// blockChanged queues the intermediate write and notifies listeners.
func (r *Response) blockChanged(b *chat.Block) {
	r.scheduler.Schedule(b)
	r.publish(chat.EventBlockUpdated, chat.BlockUpdatedEvent{MessageID: r.messageID, Block: b})
}

func (r *Response) publish(eventType string, data any) {
	r.engine.deps.Publisher.Publish(chat.Event{Type: eventType, TopicID: r.topicID, Data: data})
}

// flushBlocks is the intermediate write: the blocks plus the message's
// current block list, in one transaction.
func (r *Response) flushBlocks(ctx context.Context, blocks []*chat.Block) error {
	msg, ok := r.engine.deps.Cache.Message(r.messageID)
	if !ok {
		return fmt.Errorf("message %s not cached", r.messageID)
	}
	store := r.engine.deps.Store
	return store.Tx.ExecTx(ctx, func(txCtx context.Context) error {
		for _, b := range blocks {
			if err := store.Blocks.UpsertBlock(txCtx, b); err != nil {
				return err
			}
		}
		return store.Messages.UpdateMessage(txCtx, msg)
	})
}

// persistFinal writes every touched block, the message and the topic
// snapshot in a single transaction.
func (r *Response) persistFinal(ctx context.Context, preview string) error {
	c := r.engine.deps.Cache
	msg, ok := c.Message(r.messageID)
	if !ok {
		return fmt.Errorf("message %s not cached", r.messageID)
	}
	var blocks []*chat.Block
	for _, id := range r.touchedIDs() {
		if b, ok := c.Block(id); ok {
			blocks = append(blocks, b)
		}
	}

	now := r.engine.deps.Now()
	store := r.engine.deps.Store
	return store.Tx.ExecTx(ctx, func(txCtx context.Context) error {
		for _, b := range blocks {
			if err := store.Blocks.UpsertBlock(txCtx, b); err != nil {
				return fmt.Errorf("persist block %s: %w", b.ID, err)
			}
		}
		if err := store.Messages.UpdateMessage(txCtx, msg); err != nil {
			return fmt.Errorf("persist message: %w", err)
		}

		topic, err := store.Topics.GetTopic(txCtx, r.topicID)
		if err != nil {
			return fmt.Errorf("load topic: %w", err)
		}
		topic.UpsertSnapshot(chat.Snapshot(msg, preview, config.MaxSnapshotPreviewLength))
		last := msg.UpdatedAt
		topic.LastMessageTime = &last
		topic.UpdatedAt = now
		if err := store.Topics.UpdateTopic(txCtx, topic); err != nil {
			return fmt.Errorf("persist topic: %w", err)
		}
		return nil
	})
}

// rebuildBlockOrder swaps the placeholder id for the thinking and text ids.
// With neither present the list is left alone.
func (r *Response) rebuildBlockOrder(m *chat.Message) {
	thinkingID := r.processor.ThinkingBlockID()
	textID := r.processor.TextBlockID()
	if thinkingID == "" && textID == "" {
		return
	}
	m.ReplaceBlockID(r.processor.PlaceholderID(), thinkingID, textID)
}

// settleOpenTools fails tool blocks that never got a result. Once the
// response is finished no later result can be applied to them.
func (r *Response) settleOpenTools() error {
	for _, id := range r.touchedIDs() {
		b, ok := r.engine.deps.Cache.Block(id)
		if !ok || b.Type != chat.BlockTypeTool || b.Status.IsTerminal() {
			continue
		}
		err := r.UpdateBlock(id, func(b *chat.Block) error {
			if tp, ok := b.Payload.(*chat.ToolPayload); ok && tp.Error == "" {
				tp.Error = ToolUnfinishedError
			}
			return settle(chat.BlockStatusError)(b)
		})
		if err != nil {
			return fmt.Errorf("settle tool block %s: %w", id, err)
		}
	}
	return nil
}

func (r *Response) clearTopicFlags() {
	r.engine.deps.Cache.SetTopicLoading(r.topicID, false)
	r.engine.deps.Cache.SetTopicStreaming(r.topicID, false)
}

// settle marks a block terminal, leaving already-terminal blocks alone.
func settle(status chat.BlockStatus) func(*chat.Block) error {
	return func(b *chat.Block) error {
		if b.Status.IsTerminal() {
			return nil
		}
		return b.SetStatus(status)
	}
}
