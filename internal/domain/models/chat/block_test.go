package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/domain"
)

func TestBlockPromoteOnce(t *testing.T) {
	b := NewPlaceholderBlock("b1", "m1", time.Now())

	require.NoError(t, b.Promote(&ThinkingPayload{Text: "hmm"}))
	assert.Equal(t, BlockTypeThinking, b.Type)

	// same type again is fine
	require.NoError(t, b.Promote(&ThinkingPayload{}))
	assert.Equal(t, "hmm", b.Text())

	err := b.Promote(&TextPayload{Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBlockTypeLocked))
	assert.Equal(t, BlockTypeThinking, b.Type)
}

func TestBlockStatusMonotonic(t *testing.T) {
	tests := []struct {
		name    string
		from    BlockStatus
		to      BlockStatus
		wantErr bool
	}{
		{"processing to streaming", BlockStatusProcessing, BlockStatusStreaming, false},
		{"streaming to success", BlockStatusStreaming, BlockStatusSuccess, false},
		{"processing to error", BlockStatusProcessing, BlockStatusError, false},
		{"success again", BlockStatusSuccess, BlockStatusSuccess, false},
		{"success to streaming", BlockStatusSuccess, BlockStatusStreaming, true},
		{"error to success", BlockStatusError, BlockStatusSuccess, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Block{ID: "b", Status: tt.from}
			err := b.SetStatus(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrTerminalStatus)
				assert.Equal(t, tt.from, b.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, b.Status)
		})
	}
}

func TestBlockJSONKeepsPayload(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBlock("b1", "m1", &ToolPayload{ToolCallID: "call_1", Name: "clock", Arguments: map[string]any{"tz": "UTC"}}, BlockStatusProcessing, now)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_call_id":"call_1"`)

	var got Block
	require.NoError(t, json.Unmarshal(data, &got))
	p, ok := got.Payload.(*ToolPayload)
	require.True(t, ok)
	assert.Equal(t, "clock", p.Name)
	assert.Equal(t, BlockTypeTool, got.Type)
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload(BlockType("video"), nil)
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	b := NewBlock("b1", "m1", &TextPayload{Text: "a"}, BlockStatusStreaming, time.Now())
	b.SetMetadata("k", "v")

	c := b.Clone()
	c.SetText("changed")
	c.Metadata["k"] = "other"

	assert.Equal(t, "a", b.Text())
	assert.Equal(t, "v", b.Metadata["k"])
}

func TestReplaceBlockID(t *testing.T) {
	tests := []struct {
		name   string
		blocks []string
		old    string
		with   []string
		want   []string
	}{
		{"placeholder to text", []string{"p"}, "p", []string{"t"}, []string{"t"}},
		{"placeholder to thinking and text", []string{"p"}, "p", []string{"p", "t"}, []string{"p", "t"}},
		{"keeps tool blocks in place", []string{"p", "tool"}, "p", []string{"th", "t"}, []string{"th", "t", "tool"}},
		{"no duplicate when text already listed", []string{"p", "t"}, "p", []string{"p", "t"}, []string{"p", "t"}},
		{"missing old appends", []string{"a"}, "p", []string{"t"}, []string{"a", "t"}},
		{"skips empty ids", []string{"p"}, "p", []string{"", "t"}, []string{"t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{BlockIDs: tt.blocks}
			m.ReplaceBlockID(tt.old, tt.with...)
			assert.Equal(t, tt.want, m.BlockIDs)
		})
	}
}
