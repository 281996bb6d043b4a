package tools

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// WordCountTool counts words in markdown text, ignoring code blocks and
// formatting markers.
//
// Input:
//   - text (string, required)
type WordCountTool struct{}

// Execute implements ToolExecutor
func (WordCountTool) Execute(_ context.Context, input map[string]any) (any, error) {
	text, ok := input["text"].(string)
	if !ok {
		return nil, errors.New("missing required parameter: text (string)")
	}
	return map[string]any{"words": CountWords(text)}, nil
}

// CountWords counts the words of a markdown string.
func CountWords(markdown string) int {
	return len(strings.FieldsFunc(stripMarkdown(markdown), unicode.IsSpace))
}

var markdownMarkers = strings.NewReplacer(
	"`", "",
	"**", "",
	"*", "",
	"__", "",
	"_", "",
	"~~", "",
	"#", "",
	">", "",
)

func stripMarkdown(text string) string {
	text = removeFences(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		if len(line) > 2 && unicode.IsDigit(rune(line[0])) && line[1] == '.' {
			line = line[2:]
		}
		if line == "---" || line == "***" {
			line = ""
		}
		lines[i] = line
	}
	return markdownMarkers.Replace(strings.Join(lines, " "))
}

// removeFences drops ``` fenced blocks, keeping an unterminated one.
func removeFences(text string) string {
	for {
		start := strings.Index(text, "```")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start+3:], "```")
		if end == -1 {
			return text
		}
		text = text[:start] + text[start+3+end+3:]
	}
}
