package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/events"
	"chatcompose/internal/handler/sse"
	"chatcompose/internal/httputil"
)

// Subscriber is the part of the event hub the feeds use
type Subscriber interface {
	Subscribe(topicID string) *events.Subscription
	Unsubscribe(sub *events.Subscription)
	SubscriberCount(topicID string) int
}

// EventsHandler streams topic events to clients over SSE or websocket
type EventsHandler struct {
	hub      Subscriber
	config   *sse.Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates the feed handler. checkOrigin may be nil to
// accept only same-origin websocket upgrades.
func NewEventsHandler(hub Subscriber, config *sse.Config, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *EventsHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &EventsHandler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// StreamTopic streams a topic's events as Server-Sent Events until the
// client disconnects.
// GET /api/topics/{id}/events
func (h *EventsHandler) StreamTopic(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("id")
	if topicID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "topic id is required")
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub := h.hub.Subscribe(topicID)
	defer h.hub.Unsubscribe(sub)
	log := h.logger.With("topic_id", topicID, "client_id", sub.ID)
	log.Debug("SSE client connected", "subscribers", h.hub.SubscriberCount(topicID))

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	keepAliveDone := keepAlive.Start(writer, log)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("SSE client disconnected", "dropped", sub.Dropped())
			return
		case <-keepAliveDone:
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				log.Info("client disconnected during event write", "error", err)
				return
			}
		}
	}
}

// SocketTopic streams a topic's events over a websocket. Each message is
// one JSON-encoded event; anything the client sends is ignored.
// GET /api/topics/{id}/ws
func (h *EventsHandler) SocketTopic(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn("websocket upgrade failed", "topic_id", topicID, "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(topicID)
	defer h.hub.Unsubscribe(sub)
	log := h.logger.With("topic_id", topicID, "client_id", sub.ID)
	log.Debug("websocket client connected", "subscribers", h.hub.SubscriberCount(topicID))

	// the read loop only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("websocket client disconnected", "dropped", sub.Dropped())
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Info("websocket ping failed", "error", err)
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(h.config.WriteTimeout))
				return
			}
			if err := h.writeSocketEvent(conn, event); err != nil {
				log.Info("client disconnected during event write", "error", err)
				return
			}
		}
	}
}

func (h *EventsHandler) writeSocketEvent(conn *websocket.Conn, event chat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "event_type", event.Type, "error", err)
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
