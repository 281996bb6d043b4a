package chat

import (
	"time"
)

// MessageSnapshot is the denormalized copy of a message kept on its topic
// so a topic list can render without loading every block.
type MessageSnapshot struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Status    MessageStatus `json:"status"`
	BlockIDs  []string      `json:"blocks"`
	Preview   string        `json:"preview,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Topic is an ordered conversation.
type Topic struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Messages        []MessageSnapshot `json:"messages"`
	LastMessageTime *time.Time        `json:"last_message_time,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MessageIDs returns the ordered message ids.
func (t *Topic) MessageIDs() []string {
	ids := make([]string, len(t.Messages))
	for i, m := range t.Messages {
		ids[i] = m.ID
	}
	return ids
}

// UpsertSnapshot replaces the snapshot with the same id or appends a new one.
func (t *Topic) UpsertSnapshot(s MessageSnapshot) {
	for i := range t.Messages {
		if t.Messages[i].ID == s.ID {
			t.Messages[i] = s
			return
		}
	}
	t.Messages = append(t.Messages, s)
}

// Snapshot builds the topic copy of m. preview is truncated to maxPreview runes.
func Snapshot(m *Message, preview string, maxPreview int) MessageSnapshot {
	r := []rune(preview)
	if maxPreview > 0 && len(r) > maxPreview {
		preview = string(r[:maxPreview])
	}
	return MessageSnapshot{
		ID:        m.ID,
		Role:      m.Role,
		Status:    m.Status,
		BlockIDs:  append([]string(nil), m.BlockIDs...),
		Preview:   preview,
		UpdatedAt: m.UpdatedAt,
	}
}
