package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcompose/internal/cache"
	"chatcompose/internal/config"
	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/domain/repositories"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/events"
)

var errTxFailed = errors.New("tx failed")

// memStore is an in-memory stand-in for the durable store. ExecTx restores
// a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	topics   map[string]*chat.Topic
	messages map[string]*chat.Message
	blocks   map[string]*chat.Block

	failTx           int // fail this many upcoming transactions
	failTopicUpdates int // fail this many upcoming UpdateTopic calls
	txCount          int
}

func newMemStore() *memStore {
	return &memStore{
		topics:   make(map[string]*chat.Topic),
		messages: make(map[string]*chat.Message),
		blocks:   make(map[string]*chat.Block),
	}
}

func (s *memStore) store() *chatRepo.Store {
	return &chatRepo.Store{Tx: s, Blocks: memBlocks{s}, Messages: memMessages{s}, Topics: memTopics{s}}
}

func (s *memStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *memStore) failNext(n int) {
	s.mu.Lock()
	s.failTx = n
	s.mu.Unlock()
}

func (s *memStore) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	s.mu.Lock()
	if s.failTx > 0 {
		s.failTx--
		s.mu.Unlock()
		return errTxFailed
	}
	s.txCount++
	topics, messages, blocks := s.copyLocked()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.topics, s.messages, s.blocks = topics, messages, blocks
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) copyLocked() (map[string]*chat.Topic, map[string]*chat.Message, map[string]*chat.Block) {
	topics := make(map[string]*chat.Topic, len(s.topics))
	for k, v := range s.topics {
		c := *v
		c.Messages = append([]chat.MessageSnapshot(nil), v.Messages...)
		topics[k] = &c
	}
	messages := make(map[string]*chat.Message, len(s.messages))
	for k, v := range s.messages {
		messages[k] = v.Clone()
	}
	blocks := make(map[string]*chat.Block, len(s.blocks))
	for k, v := range s.blocks {
		blocks[k] = v.Clone()
	}
	return topics, messages, blocks
}

func (s *memStore) block(id string) *chat.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[id].Clone()
}

func (s *memStore) message(id string) *chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Clone()
}

func (s *memStore) topic(id string) *chat.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.topics[id]
	return &c
}

type memBlocks struct{ s *memStore }

func (r memBlocks) CreateBlock(_ context.Context, b *chat.Block) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[b.MessageID]; !ok {
		return &domain.NotFoundError{Resource: "message", ID: b.MessageID}
	}
	if _, ok := r.s.blocks[b.ID]; ok {
		return &domain.ConflictError{Message: "exists", ResourceType: "block", ResourceID: b.ID}
	}
	r.s.blocks[b.ID] = b.Clone()
	return nil
}

func (r memBlocks) UpsertBlock(_ context.Context, b *chat.Block) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.blocks[b.ID] = b.Clone()
	return nil
}

func (r memBlocks) GetBlock(_ context.Context, id string) (*chat.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.blocks[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "block", ID: id}
	}
	return b.Clone(), nil
}

func (r memBlocks) ListBlocksByMessage(_ context.Context, messageID string) ([]*chat.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*chat.Block
	for _, b := range r.s.blocks {
		if b.MessageID == messageID {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

type memMessages struct{ s *memStore }

func (r memMessages) CreateMessage(_ context.Context, m *chat.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[m.ID] = m.Clone()
	return nil
}

func (r memMessages) UpdateMessage(_ context.Context, m *chat.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[m.ID]; !ok {
		return &domain.NotFoundError{Resource: "message", ID: m.ID}
	}
	r.s.messages[m.ID] = m.Clone()
	return nil
}

func (r memMessages) GetMessage(_ context.Context, id string) (*chat.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "message", ID: id}
	}
	return m.Clone(), nil
}

func (r memMessages) ListMessagesByTopic(_ context.Context, topicID string) ([]*chat.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*chat.Message
	for _, m := range r.s.messages {
		if m.TopicID == topicID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (r memMessages) ListMessagesByStatus(_ context.Context, role chat.Role, statuses ...chat.MessageStatus) ([]*chat.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*chat.Message
	for _, m := range r.s.messages {
		for _, st := range statuses {
			if m.Role == role && m.Status == st {
				out = append(out, m.Clone())
			}
		}
	}
	return out, nil
}

type memTopics struct{ s *memStore }

func (r memTopics) CreateTopic(_ context.Context, t *chat.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *t
	r.s.topics[t.ID] = &c
	return nil
}

func (r memTopics) GetTopic(_ context.Context, id string) (*chat.Topic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "topic", ID: id}
	}
	c := *t
	c.Messages = append([]chat.MessageSnapshot(nil), t.Messages...)
	return &c, nil
}

func (r memTopics) UpdateTopic(_ context.Context, t *chat.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failTopicUpdates > 0 {
		r.s.failTopicUpdates--
		return errTxFailed
	}
	if _, ok := r.s.topics[t.ID]; !ok {
		return &domain.NotFoundError{Resource: "topic", ID: t.ID}
	}
	c := *t
	r.s.topics[t.ID] = &c
	return nil
}

func (r memTopics) UpdateTopicTitle(_ context.Context, id, title string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.topics[id]
	if !ok {
		return &domain.NotFoundError{Resource: "topic", ID: id}
	}
	t.Title = title
	return nil
}

// eventLog records published events
type eventLog struct {
	mu     sync.Mutex
	events []chat.Event
}

func (l *eventLog) Publish(e chat.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (l *eventLog) last(eventType string) (chat.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == eventType {
			return l.events[i], true
		}
	}
	return chat.Event{}, false
}

type fakeNamer struct {
	calls atomic.Int32
	err   error
}

func (n *fakeNamer) NameTopic(context.Context, string) error {
	n.calls.Add(1)
	return n.err
}

type harness struct {
	engine *Engine
	cache  *cache.Store
	mem    *memStore
	events *eventLog
	namer  *fakeNamer
}

const (
	testTopicID   = "topic-1"
	testMessageID = "msg-assistant"
)

func newHarness(t *testing.T, tune ...func(*config.EngineConfig)) *harness {
	t.Helper()

	cfg := config.EngineConfig{
		ToolWaitTimeout: time.Second,
		PersistInterval: 10 * time.Millisecond,
		Notices:         config.DefaultNotices(),
	}
	for _, fn := range tune {
		fn(&cfg)
	}

	var seq atomic.Int64
	h := &harness{
		cache:  cache.NewStore(),
		mem:    newMemStore(),
		events: &eventLog{},
		namer:  &fakeNamer{},
	}
	h.engine = NewEngine(Deps{
		Cache:     h.cache,
		Store:     h.mem.store(),
		Publisher: events.MultiPublisher{h.events},
		Namer:     h.namer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:    cfg,
		NewID:     func() string { return fmt.Sprintf("block-%d", seq.Add(1)) },
	})

	ctx := context.Background()
	now := time.Now().UTC()
	topic := &chat.Topic{ID: testTopicID, CreatedAt: now, UpdatedAt: now}
	msg := &chat.Message{
		ID: testMessageID, TopicID: testTopicID, Role: chat.RoleAssistant,
		Status: chat.MessageStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.mem.store().Topics.CreateTopic(ctx, topic))
	require.NoError(t, h.mem.store().Messages.CreateMessage(ctx, msg))
	h.cache.UpsertMessage(msg)
	return h
}

func (h *harness) begin(t *testing.T) *Response {
	t.Helper()
	r, err := h.engine.Begin(context.Background(), testMessageID)
	require.NoError(t, err)
	return r
}

func (h *harness) feed(t *testing.T, r *Response, chunks ...chat.Chunk) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, r.OnChunk(context.Background(), c))
	}
}

func (h *harness) cachedMessage(t *testing.T) *chat.Message {
	t.Helper()
	m, ok := h.cache.Message(testMessageID)
	require.True(t, ok)
	return m
}

func (h *harness) cachedBlock(t *testing.T, id string) *chat.Block {
	t.Helper()
	b, ok := h.cache.Block(id)
	require.True(t, ok, "block %s not cached", id)
	return b
}
