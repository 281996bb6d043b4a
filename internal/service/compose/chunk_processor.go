package compose

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatcompose/internal/domain/models/chat"
)

// Phase is where a response is in its text lifecycle.
type Phase int

const (
	PhaseIdle      Phase = iota // nothing received yet
	PhaseThinking               // reasoning is streaming
	PhaseStreaming              // answer text is streaming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseThinking:
		return "thinking"
	case PhaseStreaming:
		return "streaming"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// BlockSink applies block changes decided by the ChunkProcessor.
type BlockSink interface {
	// PromoteBlock resolves the placeholder to the payload's type
	PromoteBlock(blockID string, payload chat.Payload, status chat.BlockStatus) error
	// CreateBlock adds a new block to the message and returns its id
	CreateBlock(payload chat.Payload, status chat.BlockStatus) (string, error)
	// UpdateBlock mutates an existing block
	UpdateBlock(blockID string, fn func(*chat.Block) error) error
}

// ChunkProcessor turns chunks into block changes for one response.
//
// Reasoning arriving first promotes the placeholder to THINKING. The first
// answer text after reasoning goes to a new MAIN_TEXT block; without prior
// reasoning the placeholder itself becomes MAIN_TEXT. The accumulated answer
// text is kept here and is what completion writes out.
type ChunkProcessor struct {
	mu      sync.Mutex
	sink    BlockSink
	tracker *ToolExecutionTracker
	now     func() time.Time

	phase           Phase
	placeholderID   string
	blockID         string
	blockType       chat.BlockType
	textBlockID     string
	thinkingBlockID string

	content       strings.Builder
	thinking      strings.Builder
	thinkingStart time.Time

	toolBlocks  map[string]string // tool call id -> block id
	comparison  bool
	interrupted bool
}

// NewChunkProcessor creates a processor for the response whose placeholder
// block is placeholderID.
func NewChunkProcessor(placeholderID string, sink BlockSink, tracker *ToolExecutionTracker, now func() time.Time) *ChunkProcessor {
	if now == nil {
		now = time.Now
	}
	return &ChunkProcessor{
		sink:          sink,
		tracker:       tracker,
		now:           now,
		placeholderID: placeholderID,
		blockID:       placeholderID,
		blockType:     chat.BlockTypeUnknown,
		toolBlocks:    make(map[string]string),
	}
}

// Process applies one chunk. It reports whether the chunk signalled an
// interruption; the caller then takes the interruption path.
func (p *ChunkProcessor) Process(chunk chat.Chunk) (interrupted bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if chunk.ReasoningDelta != "" {
		if err := p.onReasoning(chunk.ReasoningDelta); err != nil {
			return false, err
		}
	}
	if chunk.ContentDelta != "" {
		if err := p.onContent(chunk.ContentDelta); err != nil {
			return false, err
		}
	}
	if chunk.Tool != nil {
		if err := p.onTool(chunk.Tool); err != nil {
			return false, err
		}
	}
	if chunk.Image != nil {
		payload := &chat.ImagePayload{URLs: chunk.Image.URLs, MIMEType: chunk.Image.MIMEType}
		if _, err := p.sink.CreateBlock(payload, chat.BlockStatusSuccess); err != nil {
			return false, fmt.Errorf("image block: %w", err)
		}
	}
	if len(chunk.Comparison) > 0 {
		payload := &chat.ComparisonPayload{Results: chunk.Comparison}
		if _, err := p.sink.CreateBlock(payload, chat.BlockStatusSuccess); err != nil {
			return false, fmt.Errorf("comparison block: %w", err)
		}
		p.comparison = true
	}
	if chunk.Interrupted {
		p.interrupted = true
	}
	return p.interrupted, nil
}

func (p *ChunkProcessor) onReasoning(delta string) error {
	switch p.phase {
	case PhaseIdle:
		p.thinking.WriteString(delta)
		p.thinkingStart = p.now()
		payload := &chat.ThinkingPayload{Text: p.thinking.String()}
		if err := p.sink.PromoteBlock(p.placeholderID, payload, chat.BlockStatusStreaming); err != nil {
			return fmt.Errorf("promote to thinking: %w", err)
		}
		p.phase = PhaseThinking
		p.blockType = chat.BlockTypeThinking
		p.thinkingBlockID = p.placeholderID
		return nil

	default:
		p.thinking.WriteString(delta)
		// Reasoning after the answer started has no block to go to unless
		// a thinking block already exists.
		if p.thinkingBlockID == "" {
			return nil
		}
		text := p.thinking.String()
		return p.sink.UpdateBlock(p.thinkingBlockID, func(b *chat.Block) error {
			b.SetText(text)
			return nil
		})
	}
}

func (p *ChunkProcessor) onContent(delta string) error {
	p.content.WriteString(delta)
	text := p.content.String()

	switch p.phase {
	case PhaseIdle:
		if err := p.sink.PromoteBlock(p.placeholderID, &chat.TextPayload{Text: text}, chat.BlockStatusStreaming); err != nil {
			return fmt.Errorf("promote to main text: %w", err)
		}
		p.textBlockID = p.placeholderID
		p.blockType = chat.BlockTypeMainText
		p.phase = PhaseStreaming
		return nil

	case PhaseThinking:
		if err := p.closeThinking(); err != nil {
			return err
		}
		id, err := p.sink.CreateBlock(&chat.TextPayload{Text: text}, chat.BlockStatusStreaming)
		if err != nil {
			return fmt.Errorf("create main text: %w", err)
		}
		p.textBlockID = id
		p.blockID = id
		p.blockType = chat.BlockTypeMainText
		p.phase = PhaseStreaming
		return nil

	default:
		return p.sink.UpdateBlock(p.textBlockID, func(b *chat.Block) error {
			b.SetText(text)
			return b.SetStatus(chat.BlockStatusStreaming)
		})
	}
}

// closeThinking records how long reasoning took and settles the block.
func (p *ChunkProcessor) closeThinking() error {
	elapsed := p.now().Sub(p.thinkingStart).Milliseconds()
	text := p.thinking.String()
	return p.sink.UpdateBlock(p.thinkingBlockID, func(b *chat.Block) error {
		if tp, ok := b.Payload.(*chat.ThinkingPayload); ok {
			tp.Text = text
			tp.DurationMs = elapsed
		}
		return b.SetStatus(chat.BlockStatusSuccess)
	})
}

func (p *ChunkProcessor) onTool(ev *chat.ToolEvent) error {
	if ev.ToolCallID == "" {
		return errors.New("tool event without call id")
	}

	blockID, known := p.toolBlocks[ev.ToolCallID]
	if !known {
		p.tracker.Register(ev.ToolCallID)
		payload := &chat.ToolPayload{ToolCallID: ev.ToolCallID, Name: ev.Name, Arguments: ev.Arguments}
		id, err := p.sink.CreateBlock(payload, chat.BlockStatusProcessing)
		if err != nil {
			return fmt.Errorf("tool block: %w", err)
		}
		p.toolBlocks[ev.ToolCallID] = id
		blockID = id
	}

	if ev.Kind != chat.ToolEventResult {
		return nil
	}

	status := chat.BlockStatusSuccess
	var outcome ToolOutcome
	if ev.Error != "" {
		status = chat.BlockStatusError
		outcome.Err = errors.New(ev.Error)
	}
	err := p.sink.UpdateBlock(blockID, func(b *chat.Block) error {
		if tp, ok := b.Payload.(*chat.ToolPayload); ok {
			if ev.Name != "" {
				tp.Name = ev.Name
			}
			tp.Result = ev.Result
			tp.Error = ev.Error
		}
		return b.SetStatus(status)
	})
	p.tracker.Complete(ev.ToolCallID, outcome)
	return err
}

// adoptTextBlock makes id the MAIN_TEXT block when the response finishes
// without one having been streamed.
func (p *ChunkProcessor) adoptTextBlock(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.textBlockID != "" {
		return
	}
	p.textBlockID = id
	p.blockID = id
	p.blockType = chat.BlockTypeMainText
}

// Content returns the accumulated answer text
func (p *ChunkProcessor) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content.String()
}

// Thinking returns the accumulated reasoning text
func (p *ChunkProcessor) Thinking() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thinking.String()
}

// BlockType returns the type of the active block
func (p *ChunkProcessor) BlockType() chat.BlockType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockType
}

// BlockID returns the id of the active block
func (p *ChunkProcessor) BlockID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockID
}

// TextBlockID returns the MAIN_TEXT block id, empty until answer text arrives
func (p *ChunkProcessor) TextBlockID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textBlockID
}

// ThinkingBlockID returns the THINKING block id, empty without reasoning
func (p *ChunkProcessor) ThinkingBlockID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thinkingBlockID
}

// PlaceholderID returns the id of the block the response started with
func (p *ChunkProcessor) PlaceholderID() string {
	return p.placeholderID
}

// Phase returns the current phase
func (p *ChunkProcessor) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// IsComparison reports whether a comparison result was received
func (p *ChunkProcessor) IsComparison() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comparison
}

// ThinkingStarted returns when reasoning began, zero without reasoning
func (p *ChunkProcessor) ThinkingStarted() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thinkingStart
}

// ToolBlockID returns the block created for a tool call
func (p *ChunkProcessor) ToolBlockID(toolCallID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.toolBlocks[toolCallID]
	return id, ok
}
