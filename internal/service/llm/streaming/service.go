// Package streaming hosts assistant responses: it records the user's
// message, starts a model stream for the reply and feeds it through the
// compose engine.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	"chatcompose/internal/cache"
	"chatcompose/internal/capabilities"
	"chatcompose/internal/config"
	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/service/compose"
	"chatcompose/internal/service/converter"
	"chatcompose/internal/service/llm"
	"chatcompose/internal/service/llm/tools"
)

// CreateResponseRequest is a new user message in a topic
type CreateResponseRequest struct {
	TopicID string `json:"-"`
	Content string `json:"content"`
	Format  string `json:"format,omitempty"` // text (default), markdown or html
	Model   string `json:"model,omitempty"`  // "provider/model"; defaults from config
}

// CreateResponseResult returns both messages and where to follow the reply
type CreateResponseResult struct {
	UserMessage      *chat.MessageWithBlocks `json:"user_message"`
	AssistantMessage *chat.MessageWithBlocks `json:"assistant_message"`
	EventsURL        string                  `json:"events_url"`
}

// CreateTopicRequest creates an empty topic
type CreateTopicRequest struct {
	Title string `json:"title,omitempty"`
}

// TopicView is a topic with its live flags and message contents
type TopicView struct {
	*chat.Topic
	Loading   bool                      `json:"loading"`
	Streaming bool                      `json:"streaming"`
	Contents  []*chat.MessageWithBlocks `json:"contents"`
}

// ModelCatalog knows which models exist and what they support
type ModelCatalog interface {
	SupportsTools(provider, model string) bool
	ListModels() []capabilities.ModelCapabilities
}

// Service orchestrates responses for the HTTP layer
type Service struct {
	store      *chatRepo.Store
	cache      *cache.Store
	engine     *compose.Engine
	providers  ProviderSource
	registry   *mstream.Registry
	converters *converter.Registry
	catalog    ModelCatalog // nil: every model may use tools
	cfg        *config.Config
	toolConfig *tools.ToolConfig
	logger     *slog.Logger

	// replaceable in tests
	now   func() time.Time
	newID func() string

	mu     sync.Mutex // serializes response creation per service
	active map[string]*ResponseExecutor
}

// NewService creates a new streaming service
func NewService(
	store *chatRepo.Store,
	entityCache *cache.Store,
	engine *compose.Engine,
	providers ProviderSource,
	registry *mstream.Registry,
	converters *converter.Registry,
	catalog ModelCatalog,
	cfg *config.Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		cache:      entityCache,
		engine:     engine,
		providers:  providers,
		registry:   registry,
		converters: converters,
		catalog:    catalog,
		cfg:        cfg,
		toolConfig: tools.DefaultToolConfig(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		active:     make(map[string]*ResponseExecutor),
	}
}

// CreateTopic creates an empty topic
func (s *Service) CreateTopic(ctx context.Context, req *CreateTopicRequest) (*chat.Topic, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.RuneLength(0, config.MaxTopicTitleLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	title := req.Title
	if title == "" {
		title = config.DefaultTopicTitle
	}
	now := s.now()
	topic := &chat.Topic{
		ID:        s.newID(),
		Title:     title,
		Messages:  []chat.MessageSnapshot{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Topics.CreateTopic(ctx, topic); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	s.cache.Hydrate(topic.ID, nil, nil)

	s.logger.Info("topic created", "topic_id", topic.ID)
	return topic, nil
}

// GetTopic returns the topic with the cached state of each message.
func (s *Service) GetTopic(ctx context.Context, topicID string) (*TopicView, error) {
	topic, err := s.store.Topics.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCached(ctx, topicID); err != nil {
		return nil, err
	}

	state, _ := s.cache.Topic(topicID)
	view := &TopicView{Topic: topic, Loading: state.Loading, Streaming: state.Streaming}
	for _, m := range s.cache.TopicMessages(topicID) {
		blocks, err := s.cache.MessageBlocks(m.ID)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", topicID, err)
		}
		view.Contents = append(view.Contents, &chat.MessageWithBlocks{Message: m, Blocks: blocks})
	}
	return view, nil
}

// GetMessage returns a message with its blocks, from the cache when present.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*chat.MessageWithBlocks, error) {
	if m, ok := s.cache.Message(messageID); ok {
		if blocks, err := s.cache.MessageBlocks(messageID); err == nil {
			return &chat.MessageWithBlocks{Message: m, Blocks: blocks}, nil
		}
	}

	m, err := s.store.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Blocks.ListBlocksByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	byID := make(map[string]*chat.Block, len(stored))
	for _, b := range stored {
		byID[b.ID] = b
	}
	blocks := make([]*chat.Block, 0, len(m.BlockIDs))
	for _, id := range m.BlockIDs {
		if b, ok := byID[id]; ok {
			blocks = append(blocks, b)
		}
	}
	return &chat.MessageWithBlocks{Message: m, Blocks: blocks}, nil
}

// ListModels returns the models clients can pick from
func (s *Service) ListModels() []capabilities.ModelCapabilities {
	if s.catalog == nil {
		return []capabilities.ModelCapabilities{}
	}
	return s.catalog.ListModels()
}

// CreateResponse records the user's message, creates the pending assistant
// message and starts streaming the reply in the background.
func (s *Service) CreateResponse(ctx context.Context, req *CreateResponseRequest) (*CreateResponseResult, error) {
	if err := s.validateCreateResponse(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	content, err := s.converters.Convert(ctx, req.Format, req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, &domain.ValidationError{Message: "content is empty after conversion"}
	}

	info, err := llm.ResolveModel(req.Model, s.cfg.DefaultProvider, s.cfg.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	model, err := s.providers.ModelStream(info.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	topic, err := s.store.Topics.GetTopic(ctx, req.TopicID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCached(ctx, topic.ID); err != nil {
		return nil, err
	}
	if state, _ := s.cache.Topic(topic.ID); state.Loading || state.Streaming {
		return nil, &domain.ConflictError{
			Message:      "topic already has a response in progress",
			ResourceType: "topic",
			ResourceID:   topic.ID,
		}
	}

	history := s.history(topic.ID)

	now := s.now()
	userMsg := &chat.Message{
		ID:        s.newID(),
		TopicID:   topic.ID,
		Role:      chat.RoleUser,
		Status:    chat.MessageStatusSuccess,
		CreatedAt: now,
		UpdatedAt: now,
	}
	userBlock := chat.NewBlock(s.newID(), userMsg.ID, &chat.TextPayload{Text: content}, chat.BlockStatusSuccess, now)
	userMsg.AppendBlockID(userBlock.ID)

	assistantMsg := &chat.Message{
		ID:        s.newID(),
		TopicID:   topic.ID,
		Role:      chat.RoleAssistant,
		Status:    chat.MessageStatusPending,
		BlockIDs:  []string{},
		Model:     info.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	topic.UpsertSnapshot(chat.Snapshot(userMsg, content, config.MaxSnapshotPreviewLength))
	topic.UpsertSnapshot(chat.Snapshot(assistantMsg, "", config.MaxSnapshotPreviewLength))
	topic.LastMessageTime = &now
	topic.UpdatedAt = now

	err = s.store.Tx.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Messages.CreateMessage(txCtx, userMsg); err != nil {
			return fmt.Errorf("create user message: %w", err)
		}
		if err := s.store.Blocks.CreateBlock(txCtx, userBlock); err != nil {
			return fmt.Errorf("create user block: %w", err)
		}
		if err := s.store.Messages.CreateMessage(txCtx, assistantMsg); err != nil {
			return fmt.Errorf("create assistant message: %w", err)
		}
		return s.store.Topics.UpdateTopic(txCtx, topic)
	})
	if err != nil {
		return nil, err
	}

	s.cache.UpsertBlock(userBlock)
	s.cache.UpsertMessage(userMsg)
	s.cache.UpsertMessage(assistantMsg)

	response, err := s.engine.Begin(ctx, assistantMsg.ID)
	if err != nil {
		return nil, err
	}

	var toolRegistry *tools.ToolRegistry
	if s.cfg.ToolsEnabled && (s.catalog == nil || s.catalog.SupportsTools(info.Provider, info.Model)) {
		toolRegistry = tools.NewTopicRegistry(topic.ID, s.cache, s.toolConfig)
	}
	executor := NewResponseExecutor(
		response,
		model,
		ModelRequest{Model: info.Model, Messages: append(history, ModelMessage{Role: string(chat.RoleUser), Text: content})},
		toolRegistry,
		buildCatchupFunc(s.cache, s.store, s.logger),
		s.logger,
		s.cfg.Debug,
	)

	// register before returning so an immediate interrupt finds the stream
	s.registry.Register(executor.Stream())
	s.track(executor)
	executor.Start()

	s.logger.Info("response started",
		"topic_id", topic.ID,
		"message_id", assistantMsg.ID,
		"model", info.String(),
		"history", len(history),
	)

	assistant, err := s.GetMessage(ctx, assistantMsg.ID)
	if err != nil {
		return nil, err
	}
	return &CreateResponseResult{
		UserMessage:      &chat.MessageWithBlocks{Message: userMsg, Blocks: []*chat.Block{userBlock}},
		AssistantMessage: assistant,
		EventsURL:        fmt.Sprintf("/api/topics/%s/events", topic.ID),
	}, nil
}

// Interrupt stops an active response. The response finishes through the
// interruption path and keeps whatever content it had.
func (s *Service) Interrupt(ctx context.Context, messageID string) error {
	s.mu.Lock()
	executor, ok := s.active[messageID]
	s.mu.Unlock()

	if !ok {
		if stream := s.registry.Get(messageID); stream != nil {
			stream.Cancel()
			return nil
		}
		return &domain.NotFoundError{Resource: "active response", ID: messageID}
	}

	executor.Interrupt()
	s.logger.Info("response interrupt requested", "message_id", messageID)
	return nil
}

// Shutdown interrupts every active response and waits for them to finish
// or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	executors := make([]*ResponseExecutor, 0, len(s.active))
	for _, e := range s.active {
		executors = append(executors, e)
	}
	s.mu.Unlock()

	for _, e := range executors {
		e.Interrupt()
	}
	for _, e := range executors {
		select {
		case <-e.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ActiveCount returns the number of responses still streaming
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) track(e *ResponseExecutor) {
	id := e.response.MessageID()
	s.active[id] = e
	go func() {
		<-e.Done()
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}()
}

// ensureCached loads the topic into the cache unless it is already there.
func (s *Service) ensureCached(ctx context.Context, topicID string) error {
	if _, ok := s.cache.Topic(topicID); ok {
		return nil
	}

	messages, err := s.store.Messages.ListMessagesByTopic(ctx, topicID)
	if err != nil {
		return fmt.Errorf("hydrate topic %s: %w", topicID, err)
	}
	var blocks []*chat.Block
	for _, m := range messages {
		mb, err := s.store.Blocks.ListBlocksByMessage(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("hydrate message %s: %w", m.ID, err)
		}
		blocks = append(blocks, mb...)
	}
	s.cache.Hydrate(topicID, messages, blocks)
	return nil
}

// history turns the cached conversation into model messages. Failed and
// unfinished assistant replies are left out.
func (s *Service) history(topicID string) []ModelMessage {
	var out []ModelMessage
	for _, m := range s.cache.TopicMessages(topicID) {
		if m.Role == chat.RoleAssistant && m.Status != chat.MessageStatusSuccess {
			continue
		}
		blocks, err := s.cache.MessageBlocks(m.ID)
		if err != nil {
			s.logger.Warn("skipping message in history", "message_id", m.ID, "error", err)
			continue
		}
		var parts []string
		for _, b := range blocks {
			if b.Type == chat.BlockTypeMainText && b.Text() != "" {
				parts = append(parts, b.Text())
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, ModelMessage{Role: string(m.Role), Text: strings.Join(parts, "\n\n")})
	}
	return out
}

func (s *Service) validateCreateResponse(req *CreateResponseRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.TopicID, validation.Required),
		validation.Field(&req.Content, validation.Required, validation.Length(1, config.MaxUserMessageLength)),
		validation.Field(&req.Format, validation.By(s.validateFormat)),
	)
}

func (s *Service) validateFormat(value interface{}) error {
	format, _ := value.(string)
	if format == "" || s.converters.Get(format) != nil {
		return nil
	}
	return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(s.converters.Formats(), ", "))
}
