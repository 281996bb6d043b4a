package llm

import (
	"fmt"
	"strings"
)

// ModelInfo contains parsed provider and model information
type ModelInfo struct {
	Provider string // "anthropic", "openrouter" or "lorem"
	Model    string // model identifier for that provider
}

// String renders the model the way ParseModel accepts it
func (m ModelInfo) String() string {
	return m.Provider + "/" + m.Model
}

// ParseModel extracts provider information from a model string.
//
// Supported formats:
//   - "claude-haiku-4-5" → {Provider: "anthropic", Model: "claude-haiku-4-5"}
//   - "lorem-fast" → {Provider: "lorem", Model: "lorem-fast"}
//   - "openrouter/openai/gpt-4o" → {Provider: "openrouter", Model: "openai/gpt-4o"}
//
// A string containing "/" is split on the first "/"; otherwise the provider
// is inferred from the model prefix.
func ParseModel(modelStr string) (*ModelInfo, error) {
	if modelStr == "" {
		return nil, fmt.Errorf("model string cannot be empty")
	}

	if provider, model, ok := strings.Cut(modelStr, "/"); ok {
		if provider == "" {
			return nil, fmt.Errorf("provider cannot be empty in model string: %s", modelStr)
		}
		if model == "" {
			return nil, fmt.Errorf("model cannot be empty in model string: %s", modelStr)
		}
		return &ModelInfo{Provider: strings.ToLower(provider), Model: model}, nil
	}

	provider := inferProvider(modelStr)
	if provider == "" {
		return nil, fmt.Errorf("unable to infer provider from model: %s", modelStr)
	}
	return &ModelInfo{Provider: provider, Model: modelStr}, nil
}

// ResolveModel parses modelStr, falling back to the default provider and
// model when it is empty and to the default provider when no provider can
// be inferred.
func ResolveModel(modelStr, defaultProvider, defaultModel string) (*ModelInfo, error) {
	modelStr = strings.TrimSpace(modelStr)
	if modelStr == "" {
		return &ModelInfo{Provider: defaultProvider, Model: defaultModel}, nil
	}
	info, err := ParseModel(modelStr)
	if err != nil && !strings.Contains(modelStr, "/") && defaultProvider != "" {
		return &ModelInfo{Provider: defaultProvider, Model: modelStr}, nil
	}
	return info, err
}

// inferProvider infers the provider from model name prefix
func inferProvider(model string) string {
	modelLower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(modelLower, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(modelLower, "lorem-"):
		return ProviderLorem
	}
	return ""
}
