package converter

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// htmlConverter sanitizes HTML and then converts it to markdown.
type htmlConverter struct {
	sanitizer *Sanitizer
	converter *md.Converter
}

// NewHTMLConverter creates the HTML to markdown converter.
func NewHTMLConverter() ContentConverter {
	return &htmlConverter{
		sanitizer: NewSanitizer(),
		converter: md.NewConverter("", true, nil),
	}
}

func (c *htmlConverter) Convert(_ context.Context, input string) (string, error) {
	clean := c.sanitizer.Sanitize(input)
	out, err := c.converter.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *htmlConverter) Formats() []string { return []string{FormatHTML, "htm"} }

func (c *htmlConverter) Name() string { return FormatHTML }
