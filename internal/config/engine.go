package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultToolWaitTimeout = 60 * time.Second
	DefaultPersistInterval = 150 * time.Millisecond
	DefaultNamingTimeout   = 30 * time.Second
)

// Notices are the user-visible strings the engine writes into content.
type Notices struct {
	// Interrupted is appended to partial text when a response is stopped
	Interrupted string `yaml:"interrupted"`
	// NoContent replaces the text of a response stopped before any output
	NoContent string `yaml:"no_content"`
}

// DefaultNotices returns the built-in notice strings
func DefaultNotices() Notices {
	return Notices{
		Interrupted: "\n\n---\n\n> ⏸ Response interrupted by user",
		NoContent:   "> ⏸ Response interrupted by user, no content was generated",
	}
}

// EngineConfig tunes the response composition engine.
type EngineConfig struct {
	ToolWaitTimeout time.Duration `yaml:"tool_wait_timeout"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	NamingTimeout   time.Duration `yaml:"naming_timeout"`
	Notices         Notices       `yaml:"notices"`
}

// LoadEngineOverlay reads a YAML file and overrides every field it sets.
//
//	tool_wait_timeout: 30s
//	persist_interval: 200ms
//	notices:
//	  interrupted: "(stopped)"
func LoadEngineOverlay(path string, base EngineConfig) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read engine config: %w", err)
	}

	var overlay EngineConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("parse engine config %s: %w", path, err)
	}

	if overlay.ToolWaitTimeout > 0 {
		base.ToolWaitTimeout = overlay.ToolWaitTimeout
	}
	if overlay.PersistInterval > 0 {
		base.PersistInterval = overlay.PersistInterval
	}
	if overlay.NamingTimeout > 0 {
		base.NamingTimeout = overlay.NamingTimeout
	}
	if overlay.Notices.Interrupted != "" {
		base.Notices.Interrupted = overlay.Notices.Interrupted
	}
	if overlay.Notices.NoContent != "" {
		base.Notices.NoContent = overlay.Notices.NoContent
	}
	return base, nil
}
