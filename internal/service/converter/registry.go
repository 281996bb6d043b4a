package converter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Input formats accepted for user messages.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ContentConverter turns user input of one format into the markdown stored
// in MAIN_TEXT blocks.
type ContentConverter interface {
	Convert(ctx context.Context, input string) (string, error)
	Formats() []string
	Name() string
}

// Registry routes input to a converter by format name.
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]ContentConverter
}

// NewRegistry creates a registry with the text, markdown and HTML converters.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]ContentConverter)}
	r.Register(NewPassthroughConverter(FormatText, "txt", "plain"))
	r.Register(NewPassthroughConverter(FormatMarkdown, "md"))
	r.Register(NewHTMLConverter())
	return r
}

// Register adds a converter under each of its formats, replacing any
// earlier one. Format names are case-insensitive.
func (r *Registry) Register(c ContentConverter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range c.Formats() {
		r.converters[strings.ToLower(f)] = c
	}
}

// Get returns the converter for format, or nil.
func (r *Registry) Get(format string) ContentConverter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.converters[strings.ToLower(format)]
}

// Convert converts input. An empty format means plain text.
func (r *Registry) Convert(ctx context.Context, format, input string) (string, error) {
	if format == "" {
		format = FormatText
	}
	c := r.Get(format)
	if c == nil {
		return "", fmt.Errorf("unsupported content format: %s", format)
	}
	return c.Convert(ctx, input)
}

// Formats lists every registered format name.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.converters))
	for f := range r.converters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
