package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"chatcompose/internal/domain"
)

// BlockType identifies what a block carries.
type BlockType string

const (
	BlockTypeUnknown    BlockType = "unknown" // placeholder, not yet resolved
	BlockTypeMainText   BlockType = "main_text"
	BlockTypeThinking   BlockType = "thinking"
	BlockTypeTool       BlockType = "tool"
	BlockTypeImage      BlockType = "image"
	BlockTypeError      BlockType = "error"
	BlockTypeComparison BlockType = "comparison"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeUnknown, BlockTypeMainText, BlockTypeThinking, BlockTypeTool,
		BlockTypeImage, BlockTypeError, BlockTypeComparison:
		return true
	}
	return false
}

// BlockStatus is the lifecycle state of a block.
type BlockStatus string

const (
	BlockStatusProcessing BlockStatus = "processing"
	BlockStatusStreaming  BlockStatus = "streaming"
	BlockStatusSuccess    BlockStatus = "success"
	BlockStatusError      BlockStatus = "error"
)

// IsTerminal returns true for SUCCESS and ERROR
func (s BlockStatus) IsTerminal() bool {
	return s == BlockStatusSuccess || s == BlockStatusError
}

// Block is one typed unit of content inside a message.
//
// The payload is a closed union keyed by Type; see payload.go. Type moves
// from unknown to a concrete type at most once, and Status never leaves a
// terminal state.
type Block struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	Type      BlockType      `json:"type"`
	Payload   Payload        `json:"-"`
	Status    BlockStatus    `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewPlaceholderBlock returns the unresolved block attached to a new
// assistant message before the first chunk arrives.
func NewPlaceholderBlock(id, messageID string, now time.Time) *Block {
	return &Block{
		ID:        id,
		MessageID: messageID,
		Type:      BlockTypeUnknown,
		Payload:   &UnknownPayload{},
		Status:    BlockStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewBlock creates a block whose type is implied by the payload.
func NewBlock(id, messageID string, payload Payload, status BlockStatus, now time.Time) *Block {
	return &Block{
		ID:        id,
		MessageID: messageID,
		Type:      payload.BlockType(),
		Payload:   payload,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Promote resolves a placeholder to a concrete type with its payload.
// Promoting to the type the block already has is a no-op.
func (b *Block) Promote(payload Payload) error {
	t := payload.BlockType()
	if b.Type == t {
		return nil
	}
	if b.Type != BlockTypeUnknown {
		return fmt.Errorf("promote block %s from %s to %s: %w", b.ID, b.Type, t, domain.ErrBlockTypeLocked)
	}
	b.Type = t
	b.Payload = payload
	return nil
}

// SetStatus moves the block to s unless it is already terminal.
// Re-applying the same terminal status is allowed.
func (b *Block) SetStatus(s BlockStatus) error {
	if b.Status.IsTerminal() && s != b.Status {
		return fmt.Errorf("block %s %s -> %s: %w", b.ID, b.Status, s, domain.ErrTerminalStatus)
	}
	b.Status = s
	return nil
}

// SetText replaces the text of a main text or thinking block.
func (b *Block) SetText(text string) {
	switch p := b.Payload.(type) {
	case *TextPayload:
		p.Text = text
	case *ThinkingPayload:
		p.Text = text
	}
}

// Text returns the text of a main text or thinking block, empty otherwise.
func (b *Block) Text() string {
	switch p := b.Payload.(type) {
	case *TextPayload:
		return p.Text
	case *ThinkingPayload:
		return p.Text
	}
	return ""
}

// SetMetadata sets one metadata key, allocating the map when needed.
func (b *Block) SetMetadata(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]any)
	}
	b.Metadata[key] = value
}

// Clone returns a deep copy. Cache readers only ever see clones.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	c.Payload = clonePayload(b.Payload)
	if b.Metadata != nil {
		c.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

type blockJSON struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Type      BlockType       `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Status    BlockStatus     `json:"status"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON writes the payload under "content".
func (b Block) MarshalJSON() ([]byte, error) {
	content, err := EncodePayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blockJSON{
		ID:        b.ID,
		MessageID: b.MessageID,
		Type:      b.Type,
		Content:   content,
		Status:    b.Status,
		Metadata:  b.Metadata,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	})
}

// UnmarshalJSON decodes "content" according to "type".
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	*b = Block{
		ID:        raw.ID,
		MessageID: raw.MessageID,
		Type:      raw.Type,
		Payload:   payload,
		Status:    raw.Status,
		Metadata:  raw.Metadata,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}
