package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/cache"
	"chatcompose/internal/capabilities"
	"chatcompose/internal/config"
	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/sqlite"
	"chatcompose/internal/service/compose"
	"chatcompose/internal/service/converter"
)

// scriptedModel replays events, then optionally holds the stream open
// until it is canceled.
type scriptedModel struct {
	events []ModelEvent
	hold   bool

	mu       sync.Mutex
	requests []ModelRequest
}

func (m *scriptedModel) Stream(ctx context.Context, req ModelRequest) (<-chan ModelEvent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	out := make(chan ModelEvent)
	go func() {
		defer close(out)
		for _, ev := range m.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if m.hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (m *scriptedModel) lastRequest() ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Publish(e chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func text(s string) ModelEvent {
	return ModelEvent{DeltaType: deltaText, BlockType: blockTypeText, Text: s}
}

func usage() ModelEvent {
	return ModelEvent{Usage: &ModelUsage{Model: "lorem-fast", InputTokens: 3, OutputTokens: 5, StopReason: "end_turn"}}
}

type fixture struct {
	svc    *Service
	store  *chatRepo.Store
	cache  *cache.Store
	events *recorder
	model  *scriptedModel
	cfg    *config.Config
}

func newFixture(t *testing.T, model *scriptedModel) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		store:  db.Store(),
		cache:  cache.NewStore(),
		events: &recorder{},
		model:  model,
		cfg: &config.Config{
			DefaultProvider: "lorem",
			DefaultModel:    "lorem-fast",
			ToolsEnabled:    true,
		},
	}
	engine := compose.NewEngine(compose.Deps{
		Cache:     f.cache,
		Store:     f.store,
		Publisher: f.events,
		Logger:    logger,
		Config: config.EngineConfig{
			ToolWaitTimeout: 2 * time.Second,
			PersistInterval: 5 * time.Millisecond,
		},
	})
	providers := ProviderSourceFunc(func(name string) (ModelStream, error) {
		if name != "lorem" {
			return nil, errors.New("unknown provider: " + name)
		}
		return f.model, nil
	})
	f.svc = NewService(f.store, f.cache, engine, providers, mstream.NewRegistry(), converter.NewRegistry(), nil, f.cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
		_ = engine.Wait(ctx)
	})
	return f
}

func (f *fixture) topic(t *testing.T) *chat.Topic {
	t.Helper()
	topic, err := f.svc.CreateTopic(context.Background(), &CreateTopicRequest{})
	require.NoError(t, err)
	return topic
}

func (f *fixture) respond(t *testing.T, topicID, content string) *CreateResponseResult {
	t.Helper()
	res, err := f.svc.CreateResponse(context.Background(), &CreateResponseRequest{TopicID: topicID, Content: content})
	require.NoError(t, err)
	return res
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.svc.ActiveCount() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func blocksOfType(m *chat.MessageWithBlocks, typ chat.BlockType) []*chat.Block {
	var out []*chat.Block
	for _, b := range m.Blocks {
		if b.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

func TestCreateTopicDefaultsTitle(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	topic := f.topic(t)
	assert.Equal(t, config.DefaultTopicTitle, topic.Title)

	view, err := f.svc.GetTopic(context.Background(), topic.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Contents)
	assert.False(t, view.Loading)
}

func TestCreateResponseStreamsToCompletion(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{
		{DeltaType: deltaThinking, Text: "let me think"},
		text("Hello"),
		text(" world"),
		usage(),
	}})
	topic := f.topic(t)

	res := f.respond(t, topic.ID, "Say hello")
	assert.Equal(t, chat.RoleUser, res.UserMessage.Role)
	assert.Equal(t, "/api/topics/"+topic.ID+"/events", res.EventsURL)
	f.waitIdle(t)

	msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusSuccess, msg.Status)
	require.Len(t, msg.Blocks, 2)
	assert.Equal(t, chat.BlockTypeThinking, msg.Blocks[0].Type)
	assert.Equal(t, chat.BlockTypeMainText, msg.Blocks[1].Type)
	assert.Equal(t, "Hello world", msg.Blocks[1].Text())
	assert.Equal(t, "end_turn", msg.Metadata[chat.MetadataStopReason])

	// durable state matches the cache
	stored, err := f.store.Messages.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusSuccess, stored.Status)
	assert.Equal(t, msg.BlockIDs, stored.BlockIDs)

	req := f.model.lastRequest()
	assert.Equal(t, "lorem-fast", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Say hello", req.Messages[0].Text)

	assert.Equal(t, 1, f.events.count(chat.EventMessageComplete))
	state, _ := f.cache.Topic(topic.ID)
	assert.False(t, state.Loading)
	assert.False(t, state.Streaming)
}

func TestHistoryIncludesEarlierTurns(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{text("First answer"), usage()}})
	topic := f.topic(t)

	f.respond(t, topic.ID, "first question")
	f.waitIdle(t)
	f.respond(t, topic.ID, "second question")
	f.waitIdle(t)

	req := f.model.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, []string{"user", "assistant", "user"},
		[]string{req.Messages[0].Role, req.Messages[1].Role, req.Messages[2].Role})
	assert.Equal(t, "First answer", req.Messages[1].Text)
	assert.Equal(t, "second question", req.Messages[2].Text)

	view, err := f.svc.GetTopic(context.Background(), topic.ID)
	require.NoError(t, err)
	assert.Len(t, view.Contents, 4)
	assert.Len(t, view.Messages, 4)
}

func TestCreateResponseRunsTools(t *testing.T) {
	script := []ModelEvent{
		{BlockIndex: 0, DeltaType: deltaToolCallStart, ToolCallID: "call-1", ToolName: "word_count"},
		{BlockIndex: 0, DeltaType: deltaInputJSON, InputJSON: `{"text":`},
		{BlockIndex: 0, DeltaType: deltaInputJSON, InputJSON: `"one two three"}`},
		{BlockIndex: 1, DeltaType: deltaText, Text: "Counted."},
		usage(),
	}

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, &scriptedModel{events: script})
		res := f.respond(t, f.topic(t).ID, "count please")
		f.waitIdle(t)

		msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
		require.NoError(t, err)
		toolBlocks := blocksOfType(msg, chat.BlockTypeTool)
		require.Len(t, toolBlocks, 1)
		assert.Equal(t, chat.BlockStatusSuccess, toolBlocks[0].Status)

		payload := toolBlocks[0].Payload.(*chat.ToolPayload)
		assert.Equal(t, "word_count", payload.Name)
		assert.Equal(t, "one two three", payload.Arguments["text"])
		assert.Empty(t, payload.Error)

		textBlocks := blocksOfType(msg, chat.BlockTypeMainText)
		require.Len(t, textBlocks, 1)
		assert.Equal(t, "Counted.", textBlocks[0].Text())
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, &scriptedModel{events: script})
		f.cfg.ToolsEnabled = false
		res := f.respond(t, f.topic(t).ID, "count please")
		f.waitIdle(t)

		msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
		require.NoError(t, err)
		toolBlocks := blocksOfType(msg, chat.BlockTypeTool)
		require.Len(t, toolBlocks, 1)
		assert.Equal(t, chat.BlockStatusError, toolBlocks[0].Status)
		assert.Equal(t, "tools are disabled", toolBlocks[0].Payload.(*chat.ToolPayload).Error)
		assert.Equal(t, chat.MessageStatusSuccess, msg.Status)
	})

	t.Run("model without tool support", func(t *testing.T) {
		f := newFixture(t, &scriptedModel{events: script})
		catalog, err := capabilities.NewRegistry()
		require.NoError(t, err)
		f.svc.catalog = catalog
		res := f.respond(t, f.topic(t).ID, "count please")
		f.waitIdle(t)

		msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
		require.NoError(t, err)
		toolBlocks := blocksOfType(msg, chat.BlockTypeTool)
		require.Len(t, toolBlocks, 1)
		assert.Equal(t, "tools are disabled", toolBlocks[0].Payload.(*chat.ToolPayload).Error)
		assert.NotEmpty(t, f.svc.ListModels())
	})
}

func TestCreateResponseRunsTurnToolsTogether(t *testing.T) {
	script := []ModelEvent{
		{BlockIndex: 0, DeltaType: deltaToolCallStart, ToolCallID: "call-1", ToolName: "word_count"},
		{BlockIndex: 0, DeltaType: deltaInputJSON, InputJSON: `{"text":"one two"}`},
		{BlockIndex: 1, DeltaType: deltaToolCallStart, ToolCallID: "call-2", ToolName: "word_count"},
		{BlockIndex: 1, DeltaType: deltaInputJSON, InputJSON: `{}`},
		{BlockIndex: 2, DeltaType: deltaText, Text: "Counted twice."},
		usage(),
	}
	f := newFixture(t, &scriptedModel{events: script})
	res := f.respond(t, f.topic(t).ID, "count both")
	f.waitIdle(t)

	msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusSuccess, msg.Status)

	byCall := map[string]*chat.Block{}
	for _, b := range blocksOfType(msg, chat.BlockTypeTool) {
		byCall[b.Payload.(*chat.ToolPayload).ToolCallID] = b
	}
	require.Len(t, byCall, 2)

	assert.Equal(t, chat.BlockStatusSuccess, byCall["call-1"].Status)
	assert.Empty(t, byCall["call-1"].Payload.(*chat.ToolPayload).Error)

	assert.Equal(t, chat.BlockStatusError, byCall["call-2"].Status)
	assert.Contains(t, byCall["call-2"].Payload.(*chat.ToolPayload).Error, "missing required parameter")
}

func TestInterruptKeepsPartialText(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{text("partial answer")}, hold: true})
	topic := f.topic(t)
	res := f.respond(t, topic.ID, "tell me a story")

	require.Eventually(t, func() bool {
		m, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
		return err == nil && len(blocksOfType(m, chat.BlockTypeMainText)) == 1
	}, 3*time.Second, 5*time.Millisecond)

	// a second response is refused while this one streams
	_, err := f.svc.CreateResponse(context.Background(), &CreateResponseRequest{TopicID: topic.ID, Content: "again"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, f.svc.Interrupt(context.Background(), res.AssistantMessage.ID))
	f.waitIdle(t)

	msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusSuccess, msg.Status)
	assert.Equal(t, true, msg.Metadata[chat.MetadataInterrupted])

	textBlocks := blocksOfType(msg, chat.BlockTypeMainText)
	require.Len(t, textBlocks, 1)
	assert.Contains(t, textBlocks[0].Text(), "partial answer")
	assert.Contains(t, textBlocks[0].Text(), config.DefaultNotices().Interrupted)

	err = f.svc.Interrupt(context.Background(), res.AssistantMessage.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProviderErrorEndsInErrorBlock(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{
		{Err: &domain.ProviderError{Code: 429, Message: "rate limited"}},
	}})
	res := f.respond(t, f.topic(t).ID, "hello")
	f.waitIdle(t)

	msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusError, msg.Status)

	errBlocks := blocksOfType(msg, chat.BlockTypeError)
	require.Len(t, errBlocks, 1)
	payload := errBlocks[0].Payload.(*chat.ErrorPayload)
	assert.Equal(t, 429, payload.StatusCode)
	assert.Equal(t, 1, f.events.count(chat.EventMessageError))

	state, _ := f.cache.Topic(msg.TopicID)
	assert.False(t, state.Loading)
}

func TestCreateResponseValidation(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	topic := f.topic(t)

	tests := []struct {
		name string
		req  CreateResponseRequest
		want error
	}{
		{"empty content", CreateResponseRequest{TopicID: topic.ID}, domain.ErrValidation},
		{"unknown format", CreateResponseRequest{TopicID: topic.ID, Content: "x", Format: "docx"}, domain.ErrValidation},
		{"unknown provider", CreateResponseRequest{TopicID: topic.ID, Content: "x", Model: "nope/model"}, domain.ErrValidation},
		{"missing topic", CreateResponseRequest{TopicID: "missing", Content: "x"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.svc.CreateResponse(context.Background(), &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.svc.ActiveCount())
}

func TestCreateResponseConvertsHTML(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{text("ok"), usage()}})
	res, err := f.svc.CreateResponse(context.Background(), &CreateResponseRequest{
		TopicID: f.topic(t).ID,
		Content: `<p>Hello <b>there</b></p><script>alert(1)</script>`,
		Format:  converter.FormatHTML,
	})
	require.NoError(t, err)
	f.waitIdle(t)

	userText := res.UserMessage.Blocks[0].Text()
	assert.Contains(t, userText, "**there**")
	assert.NotContains(t, userText, "alert")
}

func TestGetMessageFallsBackToStore(t *testing.T) {
	f := newFixture(t, &scriptedModel{events: []ModelEvent{text("stored answer"), usage()}})
	res := f.respond(t, f.topic(t).ID, "hi")
	f.waitIdle(t)

	// a fresh cache forces the storage path
	f.svc.cache = cache.NewStore()
	msg, err := f.svc.GetMessage(context.Background(), res.AssistantMessage.ID)
	require.NoError(t, err)
	textBlocks := blocksOfType(msg, chat.BlockTypeMainText)
	require.Len(t, textBlocks, 1)
	assert.Equal(t, "stored answer", textBlocks[0].Text())
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	ctx := context.Background()
	topic := f.topic(t)
	now := time.Now().UTC()

	// a response that never produced output
	pending := &chat.Message{ID: "m-pending", TopicID: topic.ID, Role: chat.RoleAssistant,
		Status: chat.MessageStatusProcessing, CreatedAt: now, UpdatedAt: now}
	placeholder := chat.NewPlaceholderBlock("b-placeholder", pending.ID, now)
	pending.AppendBlockID(placeholder.ID)

	// a response cut off mid-stream
	streaming := &chat.Message{ID: "m-streaming", TopicID: topic.ID, Role: chat.RoleAssistant,
		Status: chat.MessageStatusStreaming, CreatedAt: now, UpdatedAt: now}
	partial := chat.NewBlock("b-partial", streaming.ID, &chat.TextPayload{Text: "half"}, chat.BlockStatusStreaming, now)
	streaming.AppendBlockID(partial.ID)

	for _, m := range []*chat.Message{pending, streaming} {
		require.NoError(t, f.store.Messages.CreateMessage(ctx, m))
	}
	require.NoError(t, f.store.Blocks.CreateBlock(ctx, placeholder))
	require.NoError(t, f.store.Blocks.CreateBlock(ctx, partial))

	n, err := f.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.store.Messages.GetMessage(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusError, got.Status)
	assert.Equal(t, []string{placeholder.ID}, got.BlockIDs)
	b, err := f.store.Blocks.GetBlock(ctx, placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.BlockTypeError, b.Type)

	got, err = f.store.Messages.GetMessage(ctx, streaming.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.MessageStatusError, got.Status)
	require.Len(t, got.BlockIDs, 2)
	b, err = f.store.Blocks.GetBlock(ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.BlockStatusError, b.Status)
	assert.Equal(t, "half", b.Text())

	n, err = f.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
