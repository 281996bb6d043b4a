package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of a ToolCall.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  any    `json:"result"`
	Error   error  `json:"-"`
	IsError bool   `json:"is_error"`
}

// Text renders the result for a TOOL block: the error message on failure,
// otherwise strings as-is and anything else as JSON.
func (r ToolResult) Text() string {
	if r.IsError {
		if r.Error != nil {
			return r.Error.Error()
		}
		return "tool failed"
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(b)
}

// ToolRegistry maps tool names to executors. It is safe for concurrent use.
type ToolRegistry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
}

// NewToolRegistry creates an empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{executors: make(map[string]ToolExecutor)}
}

// Register adds an executor, replacing any earlier one with the same name.
func (r *ToolRegistry) Register(name string, executor ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
}

// Get returns the executor for name, or nil.
func (r *ToolRegistry) Get(name string) ToolExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Names lists the registered tools in sorted order
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs a single call. Unknown tools and executor errors come back
// as an error result rather than a Go error.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) ToolResult {
	res := ToolResult{ID: call.ID, Name: call.Name}

	executor := r.Get(call.Name)
	if executor == nil {
		res.Error = fmt.Errorf("tool not found: %s", call.Name)
		res.IsError = true
		return res
	}

	out, err := executor.Execute(ctx, call.Input)
	if err != nil {
		res.Error = err
		res.IsError = true
		return res
	}
	res.Result = out
	return res
}

// ExecuteParallel runs calls concurrently and returns results in call order.
func (r *ToolRegistry) ExecuteParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i] = ToolResult{ID: call.ID, Name: call.Name, Error: err, IsError: true}
				return
			}
			results[i] = r.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}
