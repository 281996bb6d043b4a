package tools

import "chatcompose/internal/cache"

// Built-in tool names
const (
	ToolCurrentTime    = "current_time"
	ToolWordCount      = "word_count"
	ToolSearchMessages = "search_messages"
)

// NewTopicRegistry builds the tools available while answering in one
// topic. Call it per response so topic-scoped tools see the right topic.
func NewTopicRegistry(topicID string, store *cache.Store, cfg *ToolConfig) *ToolRegistry {
	if cfg == nil {
		cfg = DefaultToolConfig()
	}
	r := NewToolRegistry()
	r.Register(ToolCurrentTime, NewClockTool())
	r.Register(ToolWordCount, WordCountTool{})
	r.Register(ToolSearchMessages, NewMessageSearchTool(topicID, store, cfg))
	return r
}
