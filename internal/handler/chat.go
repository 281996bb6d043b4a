package handler

import (
	"context"
	"log/slog"
	"net/http"

	"chatcompose/internal/capabilities"
	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/httputil"
	"chatcompose/internal/service/llm/streaming"
)

// ResponseService is what the chat routes need from the streaming service
type ResponseService interface {
	CreateTopic(ctx context.Context, req *streaming.CreateTopicRequest) (*chat.Topic, error)
	GetTopic(ctx context.Context, topicID string) (*streaming.TopicView, error)
	GetMessage(ctx context.Context, messageID string) (*chat.MessageWithBlocks, error)
	CreateResponse(ctx context.Context, req *streaming.CreateResponseRequest) (*streaming.CreateResponseResult, error)
	Interrupt(ctx context.Context, messageID string) error
	ListModels() []capabilities.ModelCapabilities
}

// ChatHandler handles topic, message and response HTTP requests
type ChatHandler struct {
	service ResponseService
	logger  *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service ResponseService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HealthCheck reports that the server is up
// GET /health
func (h *ChatHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels returns the selectable models and their capabilities
// GET /api/models
func (h *ChatHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"models": h.service.ListModels()})
}

// CreateTopic creates an empty topic
// POST /api/topics
func (h *ChatHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req streaming.CreateTopicRequest
	if r.ContentLength != 0 {
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	topic, err := h.service.CreateTopic(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, topic)
}

// GetTopic returns a topic with its messages
// GET /api/topics/{id}
func (h *ChatHandler) GetTopic(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetTopic(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, view)
}

// CreateResponse posts a user message and starts the assistant reply.
// The reply streams through the topic event feed.
// POST /api/topics/{id}/responses
func (h *ChatHandler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	var req streaming.CreateResponseRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.TopicID = r.PathValue("id")

	result, err := h.service.CreateResponse(r.Context(), &req)
	if err != nil {
		h.logger.Debug("create response rejected", "topic_id", req.TopicID, "error", err)
		h.handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, result)
}

// GetMessage returns a message with its blocks
// GET /api/messages/{id}
func (h *ChatHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}

// InterruptResponse stops a streaming response
// POST /api/messages/{id}/interrupt
func (h *ChatHandler) InterruptResponse(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	if err := h.service.Interrupt(r.Context(), messageID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.logger.Info("response interrupted", "message_id", messageID)
	w.WriteHeader(http.StatusNoContent)
}
