package tools

import "context"

// ToolExecutor runs one tool. Implementations must be safe for concurrent
// use and respect ctx cancellation. The result must be JSON-serializable.
type ToolExecutor interface {
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// ToolFunc adapts a function to ToolExecutor
type ToolFunc func(ctx context.Context, input map[string]any) (any, error)

// Execute implements ToolExecutor
func (f ToolFunc) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f(ctx, input)
}
