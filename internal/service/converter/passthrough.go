package converter

import "context"

// passthroughConverter returns input unchanged. Plain text is valid markdown.
type passthroughConverter struct {
	formats []string
}

// NewPassthroughConverter creates a converter that accepts the given
// format names and leaves input alone.
func NewPassthroughConverter(format string, aliases ...string) ContentConverter {
	return &passthroughConverter{formats: append([]string{format}, aliases...)}
}

func (c *passthroughConverter) Convert(_ context.Context, input string) (string, error) {
	return input, nil
}

func (c *passthroughConverter) Formats() []string { return c.formats }

func (c *passthroughConverter) Name() string { return c.formats[0] }
