package converter

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips dangerous HTML. It is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer keeps common formatting and drops scripts, event handlers
// and javascript: URLs.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.UGCPolicy()}
}

// NewStrictSanitizer removes every tag.
func NewStrictSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize returns input with disallowed markup removed.
func (s *Sanitizer) Sanitize(input string) string {
	return s.policy.Sanitize(input)
}

// PlainText strips all markup from input and collapses whitespace. Used
// for short labels such as topic titles.
func PlainText(input string) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(input))
	return strings.Join(strings.Fields(stripped), " ")
}

var strictPolicy = bluemonday.StrictPolicy()
