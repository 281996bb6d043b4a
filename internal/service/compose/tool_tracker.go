package compose

import (
	"context"
	"sync"
	"time"
)

// ToolOutcome is how a tool call ended. Both outcomes finish the call.
type ToolOutcome struct {
	Err error
}

// ToolExecutionTracker counts tool calls that have started but not yet
// finished for one response.
type ToolExecutionTracker struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	finished map[string]ToolOutcome
	idle     chan struct{} // closed while nothing is pending
	cleaned  bool
}

// NewToolExecutionTracker creates an idle tracker
func NewToolExecutionTracker() *ToolExecutionTracker {
	idle := make(chan struct{})
	close(idle)
	return &ToolExecutionTracker{
		pending:  make(map[string]struct{}),
		finished: make(map[string]ToolOutcome),
		idle:     idle,
	}
}

// Register marks a tool call as outstanding. Registering a call that is
// already pending or already finished does nothing, as does any call after
// Cleanup.
func (t *ToolExecutionTracker) Register(toolCallID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cleaned {
		return
	}
	if _, ok := t.pending[toolCallID]; ok {
		return
	}
	if _, ok := t.finished[toolCallID]; ok {
		return
	}
	if len(t.pending) == 0 {
		t.idle = make(chan struct{})
	}
	t.pending[toolCallID] = struct{}{}
}

// Complete finishes a tool call. It returns false if the call was not
// outstanding.
func (t *ToolExecutionTracker) Complete(toolCallID string, outcome ToolOutcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[toolCallID]; !ok {
		return false
	}
	delete(t.pending, toolCallID)
	t.finished[toolCallID] = outcome
	if len(t.pending) == 0 {
		close(t.idle)
	}
	return true
}

// Outstanding returns the number of pending tool calls
func (t *ToolExecutionTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// WaitForAllToolsComplete blocks until nothing is pending, timeout elapses
// or ctx is done. It never fails; the result reports whether it stopped
// waiting with calls still outstanding.
func (t *ToolExecutionTracker) WaitForAllToolsComplete(ctx context.Context, timeout time.Duration) (timedOut bool) {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return false
	case <-timer.C:
	case <-ctx.Done():
	}
	return t.Outstanding() > 0
}

// Cleanup drops every pending call and releases waiters. Safe to call
// more than once.
func (t *ToolExecutionTracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cleaned {
		return
	}
	t.cleaned = true
	if len(t.pending) > 0 {
		t.pending = make(map[string]struct{})
		close(t.idle)
	}
}
