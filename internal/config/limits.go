package config

const (
	// MaxTopicTitleLength is the maximum length for topic titles, in runes.
	MaxTopicTitleLength = 255

	// MaxSnapshotPreviewLength bounds the preview text stored on a topic
	// snapshot.
	MaxSnapshotPreviewLength = 200

	// MaxUserMessageLength bounds a single user message, in bytes.
	MaxUserMessageLength = 100_000
)

const (
	// DefaultTopicTitle is used until a topic is named from its first message.
	DefaultTopicTitle = "New chat"

	// GeneratedTitleLength bounds titles derived from message text.
	GeneratedTitleLength = 60
)
