package capabilities

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// providerFiles is also the listing order
var providerFiles = []string{"anthropic", "openrouter", "lorem"}

// Registry holds model capabilities for every configured provider
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]*ProviderCapabilities
}

// NewRegistry loads the embedded provider files
func NewRegistry() (*Registry, error) {
	r := &Registry{providers: make(map[string]*ProviderCapabilities)}
	for _, name := range providerFiles {
		data, err := configFiles.ReadFile(fmt.Sprintf("config/%s.yaml", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s capabilities: %w", name, err)
		}
		if err := r.Load(data); err != nil {
			return nil, fmt.Errorf("failed to load %s capabilities: %w", name, err)
		}
	}
	return r, nil
}

// Load adds or replaces one provider from YAML
func (r *Registry) Load(data []byte) error {
	var caps ProviderCapabilities
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return err
	}
	if caps.Provider == "" {
		return fmt.Errorf("provider name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[caps.Provider]; !ok {
		r.order = append(r.order, caps.Provider)
	}
	r.providers[caps.Provider] = &caps
	return nil
}

// Lookup returns the capabilities of a model, if it is listed
func (r *Registry) Lookup(provider, model string) (*ModelCapabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, ok := r.providers[provider]
	if !ok {
		return nil, false
	}
	for i := range caps.Models {
		if caps.Models[i].ID == model {
			m := caps.Models[i]
			return &m, true
		}
	}
	return nil, false
}

// SupportsTools reports whether tools may be offered to the model.
// Models missing from the registry are assumed capable.
func (r *Registry) SupportsTools(provider, model string) bool {
	m, ok := r.Lookup(provider, model)
	return !ok || m.SupportsTools
}

// ListModels returns every model, grouped by provider in load order
func (r *Registry) ListModels() []ModelCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModelCapabilities
	for _, name := range r.order {
		out = append(out, r.providers[name].Models...)
	}
	return out
}
