// Package cache holds the in-memory view of topics, messages and blocks the
// UI reads from. It is rebuilt from durable storage with Hydrate and never
// writes back on its own.
package cache

import (
	"fmt"
	"sync"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
)

// TopicState is the per-topic view: ordered message ids and UI flags.
type TopicState struct {
	MessageIDs []string `json:"message_ids"`
	Loading    bool     `json:"loading"`
	Streaming  bool     `json:"streaming"`
}

type topicEntry struct {
	messageIDs []string
	loading    bool
	streaming  bool
}

// Store is safe for concurrent use. Values handed out are copies.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*chat.Message
	blocks   map[string]*chat.Block
	topics   map[string]*topicEntry
}

// NewStore creates an empty cache
func NewStore() *Store {
	return &Store{
		messages: make(map[string]*chat.Message),
		blocks:   make(map[string]*chat.Block),
		topics:   make(map[string]*topicEntry),
	}
}

func (s *Store) topic(id string) *topicEntry {
	t, ok := s.topics[id]
	if !ok {
		t = &topicEntry{}
		s.topics[id] = t
	}
	return t
}

// UpsertMessage stores a copy of msg and lists it on its topic.
func (s *Store) UpsertMessage(msg *chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg.Clone()
	t := s.topic(msg.TopicID)
	for _, id := range t.messageIDs {
		if id == msg.ID {
			return
		}
	}
	t.messageIDs = append(t.messageIDs, msg.ID)
}

// UpsertBlock stores a copy of b.
func (s *Store) UpsertBlock(b *chat.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.ID] = b.Clone()
}

// UpdateBlock applies fn to the cached block under the write lock and
// returns a copy of the result. If fn fails the block is left unchanged.
func (s *Store) UpdateBlock(id string, fn func(*chat.Block) error) (*chat.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "block", ID: id}
	}
	work := b.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.blocks[id] = work
	return work.Clone(), nil
}

// UpdateMessage applies fn to the cached message under the write lock.
func (s *Store) UpdateMessage(id string, fn func(*chat.Message) error) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "message", ID: id}
	}
	work := m.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.messages[id] = work
	return work.Clone(), nil
}

// AppendBlockID lists blockID on the message if it is not there yet.
func (s *Store) AppendBlockID(messageID, blockID string) error {
	_, err := s.UpdateMessage(messageID, func(m *chat.Message) error {
		m.AppendBlockID(blockID)
		return nil
	})
	return err
}

// SetTopicLoading sets the topic's loading flag
func (s *Store) SetTopicLoading(topicID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic(topicID).loading = loading
}

// SetTopicStreaming sets the topic's streaming flag
func (s *Store) SetTopicStreaming(topicID string, streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic(topicID).streaming = streaming
}

// Message returns a copy of the cached message
func (s *Store) Message(id string) (*chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Block returns a copy of the cached block
func (s *Store) Block(id string) (*chat.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Topic returns the topic view
func (s *Store) Topic(id string) (TopicState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return TopicState{}, false
	}
	return TopicState{
		MessageIDs: append([]string(nil), t.messageIDs...),
		Loading:    t.loading,
		Streaming:  t.streaming,
	}, true
}

// TopicMessages returns copies of the topic's messages in order
func (s *Store) TopicMessages(topicID string) []*chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[topicID]
	if !ok {
		return nil
	}
	out := make([]*chat.Message, 0, len(t.messageIDs))
	for _, id := range t.messageIDs {
		if m, ok := s.messages[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// MessageBlocks returns the message's blocks in the message's block order.
// It fails if an id on the message has no cached block.
func (s *Store) MessageBlocks(messageID string) ([]*chat.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "message", ID: messageID}
	}
	out := make([]*chat.Block, 0, len(m.BlockIDs))
	for _, id := range m.BlockIDs {
		b, ok := s.blocks[id]
		if !ok {
			return nil, fmt.Errorf("message %s lists block %s: %w", messageID, id, domain.ErrNotFound)
		}
		out = append(out, b.Clone())
	}
	return out, nil
}

// Hydrate replaces everything cached for the topic with the given state
// loaded from storage. Flags are reset.
func (s *Store) Hydrate(topicID string, messages []*chat.Message, blocks []*chat.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.topics[topicID]; ok {
		for _, id := range old.messageIDs {
			if m, ok := s.messages[id]; ok {
				for _, bid := range m.BlockIDs {
					delete(s.blocks, bid)
				}
			}
			delete(s.messages, id)
		}
	}

	t := &topicEntry{}
	for _, m := range messages {
		s.messages[m.ID] = m.Clone()
		t.messageIDs = append(t.messageIDs, m.ID)
	}
	for _, b := range blocks {
		s.blocks[b.ID] = b.Clone()
	}
	s.topics[topicID] = t
}
