package llm

import (
	"errors"
	"fmt"
	"sync"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/anthropic"
	"github.com/haowjy/meridian-llm-go/providers/lorem"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"

	"chatcompose/internal/config"
)

// Provider names accepted in model strings such as "openrouter/openai/gpt-4o"
const (
	ProviderAnthropic  = "anthropic"
	ProviderLorem      = "lorem"
	ProviderOpenRouter = "openrouter"
)

// ProviderFactory creates provider instances on first use and reuses them.
type ProviderFactory struct {
	config *config.Config

	mu        sync.Mutex
	providers map[string]llmprovider.Provider
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config) *ProviderFactory {
	return &ProviderFactory{
		config:    cfg,
		providers: make(map[string]llmprovider.Provider),
	}
}

// GetProvider returns the provider for name.
//
// Supported providers:
//   - "anthropic" - Claude models, needs ANTHROPIC_API_KEY
//   - "openrouter" - many vendors, needs OPENROUTER_API_KEY
//   - "lorem" - offline mock that streams lorem ipsum
func (f *ProviderFactory) GetProvider(name string) (llmprovider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[name]; ok {
		return p, nil
	}

	var (
		p   llmprovider.Provider
		err error
	)
	switch name {
	case ProviderAnthropic:
		if f.config.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
		}
		p, err = anthropic.NewProvider(f.config.AnthropicAPIKey)
	case ProviderOpenRouter:
		if f.config.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY environment variable not set")
		}
		p, err = openrouter.NewProvider(f.config.OpenRouterAPIKey)
	case ProviderLorem:
		p = lorem.NewProvider()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", name, err)
	}

	f.providers[name] = p
	return p, nil
}
