package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mstream "github.com/haowjy/meridian-stream-go"

	"chatcompose/internal/cache"
	"chatcompose/internal/domain/models/chat"
	chatRepo "chatcompose/internal/domain/repositories/chat"
)

// buildCatchupFunc replays a response's current blocks to a client that
// connects late or reconnects. The cache holds the live state; storage is
// read only when the message has been evicted.
func buildCatchupFunc(c *cache.Store, store *chatRepo.Store, logger *slog.Logger) mstream.CatchupFunc {
	return func(streamID string, lastEventID string) ([]mstream.Event, error) {
		messageID := streamID

		blocks, err := c.MessageBlocks(messageID)
		if err != nil {
			blocks, err = store.Blocks.ListBlocksByMessage(context.Background(), messageID)
			if err != nil {
				logger.Error("failed to load blocks for catchup", "message_id", messageID, "error", err)
				return nil, fmt.Errorf("load blocks for catchup: %w", err)
			}
		}

		events := make([]mstream.Event, 0, len(blocks))
		for _, b := range blocks {
			data, err := json.Marshal(chat.BlockUpdatedEvent{MessageID: messageID, Block: b})
			if err != nil {
				return nil, fmt.Errorf("marshal catchup block %s: %w", b.ID, err)
			}
			events = append(events, mstream.NewEvent(data).WithType(chat.EventBlockUpdated))
		}

		logger.Debug("catchup events built",
			"message_id", messageID,
			"last_event_id", lastEventID,
			"total_events", len(events),
		)
		return events, nil
	}
}
