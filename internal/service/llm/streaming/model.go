package streaming

import (
	"context"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"chatcompose/internal/service/llm"
)

// Delta and block type names used by provider stream events
const (
	deltaText          = "text_delta"
	deltaThinking      = "thinking_delta"
	deltaToolCallStart = "tool_call_start"
	deltaInputJSON     = "input_json_delta"

	blockTypeText = "text"
)

// ModelMessage is one prior turn sent to the model
type ModelMessage struct {
	Role string
	Text string
}

// ModelRequest is everything a model needs to answer
type ModelRequest struct {
	Model    string
	Messages []ModelMessage
}

// ModelUsage arrives once, on the final event of a stream
type ModelUsage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// ModelEvent is one provider stream event, flattened
type ModelEvent struct {
	BlockIndex int
	BlockType  string
	DeltaType  string
	Text       string
	InputJSON  string
	ToolCallID string
	ToolName   string

	Usage *ModelUsage
	Err   error
}

// ModelStream streams a model's answer. The channel is closed after the
// event carrying Usage or Err.
type ModelStream interface {
	Stream(ctx context.Context, req ModelRequest) (<-chan ModelEvent, error)
}

// ProviderSource resolves a provider name to a ModelStream
type ProviderSource interface {
	ModelStream(provider string) (ModelStream, error)
}

// ProviderSourceFunc adapts a function to ProviderSource
type ProviderSourceFunc func(provider string) (ModelStream, error)

// ModelStream implements ProviderSource
func (f ProviderSourceFunc) ModelStream(provider string) (ModelStream, error) { return f(provider) }

// FromFactory serves ModelStreams backed by the factory's providers.
func FromFactory(f *llm.ProviderFactory) ProviderSource {
	return ProviderSourceFunc(func(name string) (ModelStream, error) {
		p, err := f.GetProvider(name)
		if err != nil {
			return nil, err
		}
		return &libraryModel{provider: p}, nil
	})
}

// libraryModel adapts a meridian-llm-go provider
type libraryModel struct {
	provider llmprovider.Provider
}

func (m *libraryModel) Stream(ctx context.Context, req ModelRequest) (<-chan ModelEvent, error) {
	libEvents, err := m.provider.StreamResponse(ctx, toLibraryRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan ModelEvent)
	go func() {
		defer close(out)
		for ev := range libEvents {
			select {
			case out <- fromLibraryEvent(ev):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toLibraryRequest(req ModelRequest) *llmprovider.GenerateRequest {
	messages := make([]llmprovider.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		text := msg.Text
		messages = append(messages, llmprovider.Message{
			Role: msg.Role,
			Blocks: []*llmprovider.Block{{
				BlockType:   blockTypeText,
				Sequence:    0,
				TextContent: &text,
			}},
		})
	}
	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
	}
}

func fromLibraryEvent(ev llmprovider.StreamEvent) ModelEvent {
	out := ModelEvent{Err: ev.Error}
	if d := ev.Delta; d != nil {
		out.BlockIndex = d.BlockIndex
		out.BlockType = deref(d.BlockType)
		out.DeltaType = d.DeltaType
		out.Text = deref(d.TextDelta)
		out.InputJSON = deref(d.InputJSONDelta)
		out.ToolCallID = deref(d.ToolCallID)
		out.ToolName = deref(d.ToolCallName)
	}
	if md := ev.Metadata; md != nil {
		out.Usage = &ModelUsage{
			Model:        md.Model,
			InputTokens:  md.InputTokens,
			OutputTokens: md.OutputTokens,
			StopReason:   md.StopReason,
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
