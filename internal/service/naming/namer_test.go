package naming

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/config"
	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/sqlite"
)

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Publish(e chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openStore(t *testing.T) *chatRepo.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Store()
}

func seed(t *testing.T, store *chatRepo.Store, title, userText string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.Topics.CreateTopic(ctx, &chat.Topic{ID: "t1", Title: title, CreatedAt: now, UpdatedAt: now}))
	user := &chat.Message{ID: "u1", TopicID: "t1", Role: chat.RoleUser, Status: chat.MessageStatusSuccess, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Messages.CreateMessage(ctx, user))
	block := chat.NewBlock("b1", "u1", &chat.TextPayload{Text: userText}, chat.BlockStatusSuccess, now)
	require.NoError(t, store.Blocks.CreateBlock(ctx, block))

	later := now.Add(time.Millisecond)
	assistant := &chat.Message{ID: "a1", TopicID: "t1", Role: chat.RoleAssistant, Status: chat.MessageStatusSuccess, CreatedAt: later, UpdatedAt: later}
	require.NoError(t, store.Messages.CreateMessage(ctx, assistant))
}

func TestNameTopicFromFirstUserMessage(t *testing.T) {
	store := openStore(t)
	seed(t, store, config.DefaultTopicTitle, "\n## How do **goroutines** work?\nMore detail here")
	rec := &recorder{}

	n := NewFirstMessageNamer(store, rec, testLogger())
	require.NoError(t, n.NameTopic(context.Background(), "t1"))

	topic, err := store.Topics.GetTopic(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "How do **goroutines** work?", topic.Title)

	require.Len(t, rec.events, 1)
	assert.Equal(t, chat.EventTopicUpdated, rec.events[0].Type)
	assert.Equal(t, topic.Title, rec.events[0].Data.(chat.TopicUpdatedEvent).Title)
}

func TestNameTopicKeepsCustomTitle(t *testing.T) {
	store := openStore(t)
	seed(t, store, "My notes", "hello")
	rec := &recorder{}

	require.NoError(t, NewFirstMessageNamer(store, rec, testLogger()).NameTopic(context.Background(), "t1"))

	topic, err := store.Topics.GetTopic(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "My notes", topic.Title)
	assert.Empty(t, rec.events)
}

func TestNameTopicMissing(t *testing.T) {
	err := NewFirstMessageNamer(openStore(t), nil, testLogger()).NameTopic(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"first non-empty line", "\n\n  hello there\nsecond", 60, "hello there"},
		{"heading markers", "# Plan the trip", 60, "Plan the trip"},
		{"tags stripped", "<b>bold</b> idea", 60, "bold idea"},
		{"truncated with ellipsis", "abcdefghij", 5, "abcd…"},
		{"runes not bytes", "日本語のタイトル", 4, "日本語…"},
		{"blank", "   \n ", 60, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.text, tt.max))
		})
	}
}
