package seed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/repository/sqlite"
)

func TestSeedTopics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "seed.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := db.Store()
	ctx := context.Background()

	topics, err := NewChatSeeder(store, logger).SeedTopics(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, topics, 2)

	// first topic, first turn: (0+0)%3 == 0 so the reply opens with thinking
	stored, err := store.Topics.GetTopic(ctx, topics[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Title)
	require.Len(t, stored.Messages, 6)
	require.NotNil(t, stored.LastMessageTime)

	msgs, err := store.Messages.ListMessagesByTopic(ctx, topics[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)

	blocks, err := store.Blocks.ListBlocksByMessage(ctx, msgs[1].ID)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, chat.BlockTypeThinking, blocks[0].Type)
	assert.Equal(t, chat.BlockTypeMainText, blocks[1].Type)
	assert.Equal(t, []string{blocks[0].ID, blocks[1].ID}, msgs[1].BlockIDs)

	for _, m := range msgs {
		assert.Equal(t, chat.MessageStatusSuccess, m.Status)
	}
}
