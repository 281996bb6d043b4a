package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mstream "github.com/haowjy/meridian-stream-go"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/models/chat"
	"chatcompose/internal/service/compose"
	"chatcompose/internal/service/llm/tools"
)

// Stream event types sent through mstream. Block state changes reach
// clients through the topic feed; the stream carries raw deltas.
const (
	EventBlockDelta = "block_delta"
)

// BlockDeltaEvent is one raw provider delta for a response
type BlockDeltaEvent struct {
	MessageID  string `json:"message_id"`
	BlockIndex int    `json:"block_index"`
	DeltaType  string `json:"delta_type"`
	Text       string `json:"text,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

var errStreamClosed = errors.New("model stream closed without usage")

// pendingTool collects a tool call while its input JSON streams in.
type pendingTool struct {
	blockIndex int
	id         string
	name       string
	input      []byte
}

// ResponseExecutor wraps an mstream.Stream and feeds one model stream into
// a compose.Response. The stream id is the assistant message id.
type ResponseExecutor struct {
	stream   *mstream.Stream
	response *compose.Response
	model    ModelStream
	req      ModelRequest
	tools    *tools.ToolRegistry // nil when tools are disabled
	logger   *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelCauseFunc
	interrupted bool

	batch    []tools.ToolCall // calls opened this turn, run together at its end
	toolRuns sync.WaitGroup
	done     chan struct{}
}

// NewResponseExecutor creates the executor and its stream. Nothing runs
// until Start.
func NewResponseExecutor(
	response *compose.Response,
	model ModelStream,
	req ModelRequest,
	toolRegistry *tools.ToolRegistry,
	catchup mstream.CatchupFunc,
	logger *slog.Logger,
	debugMode bool,
) *ResponseExecutor {
	e := &ResponseExecutor{
		response: response,
		model:    model,
		req:      req,
		tools:    toolRegistry,
		logger:   logger.With("message_id", response.MessageID(), "topic_id", response.TopicID()),
		done:     make(chan struct{}),
	}
	e.stream = mstream.NewStream(
		response.MessageID(),
		e.workFunc,
		mstream.WithCatchup(catchup),
		mstream.WithEventIDs(debugMode),
	)
	return e
}

// Stream returns the underlying mstream.Stream
func (e *ResponseExecutor) Stream() *mstream.Stream { return e.stream }

// Done is closed when the work function has returned
func (e *ResponseExecutor) Done() <-chan struct{} { return e.done }

// Start runs the stream in the background.
func (e *ResponseExecutor) Start() {
	go e.stream.Start()
}

// Interrupt stops the response. It is safe to call before the work
// function has started.
func (e *ResponseExecutor) Interrupt() {
	e.mu.Lock()
	e.interrupted = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel(domain.ErrInterrupted)
	}
	e.stream.Cancel()
}

func (e *ResponseExecutor) workFunc(parent context.Context, send func(mstream.Event)) error {
	defer close(e.done)

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	e.mu.Lock()
	e.cancel = cancel
	if e.interrupted {
		cancel(domain.ErrInterrupted)
	}
	e.mu.Unlock()

	err := e.run(ctx, send)
	// tool goroutines may still be reporting on a canceled ctx
	cancel(nil)
	e.toolRuns.Wait()
	return err
}

func (e *ResponseExecutor) run(ctx context.Context, send func(mstream.Event)) error {
	modelEvents, err := e.model.Stream(ctx, e.req)
	if err != nil {
		return e.fail(ctx, fmt.Errorf("start model stream: %w", err))
	}

	var current *pendingTool
	for {
		select {
		case <-ctx.Done():
			return e.fail(ctx, context.Cause(ctx))

		case ev, ok := <-modelEvents:
			if !ok {
				if ctx.Err() != nil {
					return e.fail(ctx, context.Cause(ctx))
				}
				return e.fail(ctx, errStreamClosed)
			}
			if ev.Err != nil {
				return e.fail(ctx, ev.Err)
			}

			if current != nil && (ev.BlockIndex != current.blockIndex || ev.Usage != nil) {
				if err := e.dispatchTool(ctx, current); err != nil {
					return e.fail(ctx, err)
				}
				current = nil
			}

			if ev.DeltaType != "" {
				e.sendDelta(send, ev)
			}

			switch ev.DeltaType {
			case deltaText:
				if err := e.response.OnChunk(ctx, chat.Chunk{ContentDelta: ev.Text}); err != nil {
					return e.fail(ctx, err)
				}
			case deltaThinking:
				if err := e.response.OnChunk(ctx, chat.Chunk{ReasoningDelta: ev.Text}); err != nil {
					return e.fail(ctx, err)
				}
			case deltaToolCallStart:
				current = &pendingTool{blockIndex: ev.BlockIndex, id: ev.ToolCallID, name: ev.ToolName}
			case deltaInputJSON:
				if current != nil {
					current.input = append(current.input, ev.InputJSON...)
				}
			}

			if ev.Usage != nil {
				e.runTools(ctx)
				return e.finish(ctx, ev.Usage)
			}
		}
	}
}

// dispatchTool opens the TOOL block and queues the call for runTools.
// The result arrives as a second chunk.
func (e *ResponseExecutor) dispatchTool(ctx context.Context, call *pendingTool) error {
	args := map[string]any{}
	if len(call.input) > 0 {
		if err := json.Unmarshal(call.input, &args); err != nil {
			e.logger.Warn("tool input is not a JSON object", "tool_call_id", call.id, "error", err)
			args = map[string]any{"raw": string(call.input)}
		}
	}

	err := e.response.OnChunk(ctx, chat.Chunk{Tool: &chat.ToolEvent{
		Kind:       chat.ToolEventStart,
		ToolCallID: call.id,
		Name:       call.name,
		Arguments:  args,
	}})
	if err != nil {
		return err
	}

	if e.tools == nil {
		return e.response.OnChunk(ctx, chat.Chunk{Tool: &chat.ToolEvent{
			Kind:       chat.ToolEventResult,
			ToolCallID: call.id,
			Error:      "tools are disabled",
		}})
	}
	e.batch = append(e.batch, tools.ToolCall{ID: call.id, Name: call.name, Input: args})
	return nil
}

// runTools executes the turn's queued calls concurrently in the background
// and reports each result as a chunk.
func (e *ResponseExecutor) runTools(ctx context.Context) {
	calls := e.batch
	e.batch = nil
	if len(calls) == 0 {
		return
	}

	e.toolRuns.Add(1)
	go func() {
		defer e.toolRuns.Done()
		for _, res := range e.tools.ExecuteParallel(ctx, calls) {
			ev := &chat.ToolEvent{Kind: chat.ToolEventResult, ToolCallID: res.ID, Name: res.Name}
			if res.IsError {
				ev.Error = res.Text()
			} else {
				ev.Result = res.Result
			}
			// the result may land after completion gave up waiting
			if err := e.response.OnChunk(context.WithoutCancel(ctx), chat.Chunk{Tool: ev}); err != nil &&
				!errors.Is(err, domain.ErrResponseFinished) {
				e.logger.Warn("tool result not applied", "tool_call_id", res.ID, "error", err)
			}
		}
	}()
}

func (e *ResponseExecutor) finish(ctx context.Context, usage *ModelUsage) error {
	model := usage.Model
	if model == "" {
		model = e.req.Model
	}
	e.response.SetUsage(model, usage.StopReason, usage.InputTokens, usage.OutputTokens)

	if _, err := e.response.Complete(ctx, ""); err != nil {
		e.logger.Error("response completion failed", "error", err)
		return err
	}
	e.clearBuffered()

	e.logger.Info("response complete",
		"model", model,
		"stop_reason", usage.StopReason,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// fail routes cause through the response. Aborts end as interruptions
// and are not reported as stream errors.
func (e *ResponseExecutor) fail(ctx context.Context, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	err := e.response.Fail(ctx, cause)
	e.clearBuffered()

	if compose.IsAbort(cause) {
		e.logger.Info("response interrupted")
		return err
	}
	e.logger.Error("response failed", "error", cause)
	if err != nil {
		return err
	}
	return cause
}

// clearBuffered drops the replay buffer once the response is durable;
// catchup reads the finished blocks from then on.
func (e *ResponseExecutor) clearBuffered() {
	err := e.stream.PersistAndClear(func(events []mstream.Event) error {
		e.logger.Debug("clearing buffered stream events", "count", len(events))
		return nil
	})
	if err != nil {
		e.logger.Warn("clear buffered events failed", "error", err)
	}
}

func (e *ResponseExecutor) sendDelta(send func(mstream.Event), ev ModelEvent) {
	data, err := json.Marshal(BlockDeltaEvent{
		MessageID:  e.response.MessageID(),
		BlockIndex: ev.BlockIndex,
		DeltaType:  ev.DeltaType,
		Text:       ev.Text + ev.InputJSON,
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
	})
	if err != nil {
		e.logger.Error("failed to marshal delta", "error", err, "delta_type", ev.DeltaType)
		return
	}
	send(mstream.NewEvent(data).WithType(EventBlockDelta))
}
