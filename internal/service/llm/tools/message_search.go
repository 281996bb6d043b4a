package tools

import (
	"context"
	"errors"
	"strings"

	"chatcompose/internal/cache"
	"chatcompose/internal/domain/models/chat"
)

// MessageSearchTool finds earlier messages in one topic whose text
// contains a query, case-insensitively. It reads the entity cache.
//
// Input:
//   - query (string, required)
//   - limit (number, optional)
type MessageSearchTool struct {
	topicID string
	cache   *cache.Store
	config  *ToolConfig
}

// NewMessageSearchTool creates a search tool scoped to topicID
func NewMessageSearchTool(topicID string, store *cache.Store, cfg *ToolConfig) *MessageSearchTool {
	return &MessageSearchTool{topicID: topicID, cache: store, config: cfg}
}

type searchHit struct {
	MessageID string    `json:"message_id"`
	Role      chat.Role `json:"role"`
	Snippet   string    `json:"snippet"`
}

// Execute implements ToolExecutor
func (t *MessageSearchTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	query, _ := input["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("missing required parameter: query (string)")
	}

	limit := t.config.SearchDefaultLimit
	if v, ok := input["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if limit > t.config.SearchMaxLimit {
		limit = t.config.SearchMaxLimit
	}

	needle := strings.ToLower(query)
	hits := []searchHit{}
	for _, msg := range t.cache.TopicMessages(t.topicID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(hits) == limit {
			break
		}
		blocks, err := t.cache.MessageBlocks(msg.ID)
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type != chat.BlockTypeMainText {
				continue
			}
			text := b.Text()
			if idx := strings.Index(strings.ToLower(text), needle); idx >= 0 {
				hits = append(hits, searchHit{
					MessageID: msg.ID,
					Role:      msg.Role,
					Snippet:   snippet(text, idx, len(needle), t.config.SnippetLength),
				})
				break
			}
		}
	}
	return map[string]any{"results": hits, "count": len(hits)}, nil
}

// snippet returns a window of about size bytes centred on the match,
// widened to rune boundaries.
func snippet(text string, idx, n, size int) string {
	if len(text) <= size {
		return text
	}
	start := idx - (size-n)/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(text) {
		end = len(text)
		start = max(0, end-size)
	}
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
