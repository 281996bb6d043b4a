package chat

import (
	"time"
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the lifecycle state of a message.
// Assistant messages go pending -> processing -> streaming -> success|error.
// User messages are created as success.
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusStreaming  MessageStatus = "streaming"
	MessageStatusSuccess    MessageStatus = "success"
	MessageStatusError      MessageStatus = "error"
)

// IsTerminal returns true for SUCCESS and ERROR
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusSuccess || s == MessageStatusError
}

// Metadata keys written by the engine
const (
	MetadataInterrupted   = "interrupted"
	MetadataInterruptedAt = "interrupted_at"
	MetadataStopReason    = "stop_reason"
	MetadataInputTokens   = "input_tokens"
	MetadataOutputTokens  = "output_tokens"
)

// Message is one entry in a topic. BlockIDs is ordered; thinking comes
// before the main text it annotates.
type Message struct {
	ID        string         `json:"id"`
	TopicID   string         `json:"topic_id"`
	Role      Role           `json:"role"`
	Status    MessageStatus  `json:"status"`
	BlockIDs  []string       `json:"blocks"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasBlock reports whether id is already listed.
func (m *Message) HasBlock(id string) bool {
	for _, b := range m.BlockIDs {
		if b == id {
			return true
		}
	}
	return false
}

// AppendBlockID adds id at the end unless it is already present.
func (m *Message) AppendBlockID(id string) {
	if !m.HasBlock(id) {
		m.BlockIDs = append(m.BlockIDs, id)
	}
}

// ReplaceBlockID substitutes old with the given ids in place. Every other
// id keeps its position, and ids that already appear elsewhere are not
// repeated. If old is absent the replacements are appended.
func (m *Message) ReplaceBlockID(old string, with ...string) {
	keep := make(map[string]bool, len(m.BlockIDs))
	for _, id := range m.BlockIDs {
		if id != old {
			keep[id] = true
		}
	}
	var fresh []string
	seen := make(map[string]bool, len(with))
	for _, id := range with {
		if id == "" || keep[id] || seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, id)
	}

	out := make([]string, 0, len(m.BlockIDs)+len(fresh))
	replaced := false
	for _, id := range m.BlockIDs {
		if id == old {
			if !replaced {
				out = append(out, fresh...)
				replaced = true
			}
			continue
		}
		out = append(out, id)
	}
	if !replaced {
		out = append(out, fresh...)
	}
	m.BlockIDs = out
}

// SetMetadata sets one metadata key, allocating the map when needed.
func (m *Message) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.BlockIDs = append([]string(nil), m.BlockIDs...)
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// MessageWithBlocks is the read model returned to clients.
type MessageWithBlocks struct {
	*Message
	Blocks []*Block `json:"content_blocks"`
}
