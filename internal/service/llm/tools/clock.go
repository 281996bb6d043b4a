package tools

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata" // zone data for hosts without it
)

// ClockTool reports the current time, optionally in a named time zone.
//
// Input:
//   - timezone (string, optional): IANA zone name such as "Europe/Paris"
type ClockTool struct {
	now func() time.Time
}

// NewClockTool creates a clock backed by time.Now
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

// Execute implements ToolExecutor
func (t *ClockTool) Execute(_ context.Context, input map[string]any) (any, error) {
	loc := time.UTC
	if name, ok := input["timezone"].(string); ok && name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone: %s", name)
		}
		loc = l
	}
	now := t.now().In(loc)
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	}, nil
}
