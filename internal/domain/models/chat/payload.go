package chat

import (
	"encoding/json"
	"fmt"
)

// Payload is the type-specific content of a block. The set of
// implementations is closed: only types in this package satisfy it.
type Payload interface {
	BlockType() BlockType
	payload()
}

// UnknownPayload is carried by the placeholder block.
type UnknownPayload struct{}

// TextPayload is the visible answer text.
type TextPayload struct {
	Text string `json:"text"`
}

// ThinkingPayload holds reasoning text. DurationMs is filled in when the
// thinking phase closes.
type ThinkingPayload struct {
	Text       string `json:"text"`
	DurationMs int64  `json:"thinking_millsec,omitempty"`
}

// ToolPayload tracks a single tool call from request to outcome.
type ToolPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ImagePayload references generated or returned images.
type ImagePayload struct {
	URLs     []string `json:"urls"`
	MIMEType string   `json:"mime_type,omitempty"`
}

// ErrorPayload is what the user sees when a response fails.
type ErrorPayload struct {
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	RawBody    string `json:"raw_body,omitempty"`
}

// ComparisonResult is one model's answer in a side-by-side comparison.
type ComparisonResult struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// ComparisonPayload holds the results of a multi-model comparison.
type ComparisonPayload struct {
	Results []ComparisonResult `json:"results"`
}

func (*UnknownPayload) BlockType() BlockType    { return BlockTypeUnknown }
func (*TextPayload) BlockType() BlockType       { return BlockTypeMainText }
func (*ThinkingPayload) BlockType() BlockType   { return BlockTypeThinking }
func (*ToolPayload) BlockType() BlockType       { return BlockTypeTool }
func (*ImagePayload) BlockType() BlockType      { return BlockTypeImage }
func (*ErrorPayload) BlockType() BlockType      { return BlockTypeError }
func (*ComparisonPayload) BlockType() BlockType { return BlockTypeComparison }

func (*UnknownPayload) payload()    {}
func (*TextPayload) payload()       {}
func (*ThinkingPayload) payload()   {}
func (*ToolPayload) payload()       {}
func (*ImagePayload) payload()      {}
func (*ErrorPayload) payload()      {}
func (*ComparisonPayload) payload() {}

// EncodePayload serializes a payload for storage. A nil or unknown
// payload encodes as nil.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	if _, ok := p.(*UnknownPayload); ok {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.BlockType(), err)
	}
	return data, nil
}

// DecodePayload rebuilds the payload stored for a block of type t.
func DecodePayload(t BlockType, data []byte) (Payload, error) {
	var p Payload
	switch t {
	case BlockTypeUnknown:
		return &UnknownPayload{}, nil
	case BlockTypeMainText:
		p = &TextPayload{}
	case BlockTypeThinking:
		p = &ThinkingPayload{}
	case BlockTypeTool:
		p = &ToolPayload{}
	case BlockTypeImage:
		p = &ImagePayload{}
	case BlockTypeError:
		p = &ErrorPayload{}
	case BlockTypeComparison:
		p = &ComparisonPayload{}
	default:
		return nil, fmt.Errorf("unknown block type: %s", t)
	}
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case nil:
		return nil
	case *UnknownPayload:
		return &UnknownPayload{}
	case *TextPayload:
		c := *v
		return &c
	case *ThinkingPayload:
		c := *v
		return &c
	case *ToolPayload:
		c := *v
		if v.Arguments != nil {
			c.Arguments = make(map[string]any, len(v.Arguments))
			for k, a := range v.Arguments {
				c.Arguments[k] = a
			}
		}
		return &c
	case *ImagePayload:
		c := *v
		c.URLs = append([]string(nil), v.URLs...)
		return &c
	case *ErrorPayload:
		c := *v
		return &c
	case *ComparisonPayload:
		c := *v
		c.Results = append([]ComparisonResult(nil), v.Results...)
		return &c
	}
	return p
}
