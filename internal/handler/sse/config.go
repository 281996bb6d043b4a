package sse

import "time"

// Config holds configuration for event feed connections
type Config struct {
	// KeepAliveInterval is how often an idle connection gets a ping.
	// Most proxies drop SSE connections silent for 30s or more.
	KeepAliveInterval time.Duration

	// WriteTimeout bounds a single websocket write
	WriteTimeout time.Duration
}

// DefaultConfig returns the default feed configuration
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
