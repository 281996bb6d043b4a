package tools

// ToolConfig holds limits shared by the built-in tools.
type ToolConfig struct {
	// SearchDefaultLimit and SearchMaxLimit bound search_messages results
	SearchDefaultLimit int
	SearchMaxLimit     int

	// SnippetLength is the size of the text window returned around a match
	SnippetLength int
}

// DefaultToolConfig returns the default limits.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		SearchDefaultLimit: 5,
		SearchMaxLimit:     20,
		SnippetLength:      160,
	}
}
