package chat

// Chunk is one increment of model output. Any combination of fields may be
// set; an empty chunk is ignored.
type Chunk struct {
	ContentDelta   string      `json:"content_delta,omitempty"`
	ReasoningDelta string      `json:"reasoning_delta,omitempty"`
	Tool           *ToolEvent  `json:"tool,omitempty"`
	Image          *ImageChunk `json:"image,omitempty"`
	// Comparison carries side-by-side results; receiving it marks the
	// response as a comparison, which skips text reconciliation.
	Comparison  []ComparisonResult `json:"comparison,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`
}

// ToolEventKind distinguishes the start of a tool call from its outcome.
type ToolEventKind string

const (
	ToolEventStart  ToolEventKind = "start"
	ToolEventResult ToolEventKind = "result"
)

// ToolEvent is a tool call lifecycle signal from the provider or runtime.
type ToolEvent struct {
	Kind       ToolEventKind  `json:"kind"`
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ImageChunk is an image produced during the response.
type ImageChunk struct {
	URLs     []string `json:"urls"`
	MIMEType string   `json:"mime_type,omitempty"`
}
