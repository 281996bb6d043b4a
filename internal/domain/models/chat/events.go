package chat

import (
	"encoding/json"
	"fmt"
)

// Event type constants
const (
	EventBlockUpdated       = "block_updated"        // Block content or status changed
	EventMessageComplete    = "message_complete"     // Assistant message finished (normally or interrupted)
	EventStreamTextComplete = "stream_text_complete" // Final resolved text is available
	EventMessageError       = "message_error"        // Assistant message failed
	EventTopicUpdated       = "topic_updated"        // Topic title or snapshot changed
)

// Event is an outbound notification. TopicID routes it to subscribers.
type Event struct {
	Type    string `json:"type"`
	TopicID string `json:"topic_id"`
	Data    any    `json:"data"`
}

// BlockUpdatedEvent carries the current state of a block
type BlockUpdatedEvent struct {
	MessageID string `json:"message_id"`
	Block     *Block `json:"block"`
}

// MessageCompleteEvent signals that a message reached SUCCESS
type MessageCompleteEvent struct {
	MessageID   string `json:"message_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// StreamTextCompleteEvent carries the resolved text of a finished response
type StreamTextCompleteEvent struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// MessageErrorEvent signals that a message reached ERROR
type MessageErrorEvent struct {
	MessageID  string `json:"message_id"`
	BlockID    string `json:"block_id,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// TopicUpdatedEvent carries a topic change
type TopicUpdatedEvent struct {
	TopicID string `json:"topic_id"`
	Title   string `json:"title,omitempty"`
}

// FormatSSE formats an event for transmission:
//
//	event: event_name
//	data: {"field": "value"}
func FormatSSE(eventType string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal SSE event data: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)), nil
}
