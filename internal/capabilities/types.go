package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities describes what one model can do
type ModelCapabilities struct {
	// Set while loading, not read from YAML
	ID       string `yaml:"-" json:"id"`
	Provider string `yaml:"-" json:"provider"`

	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description,omitempty"`

	SupportsTools    bool `yaml:"supports_tools" json:"supports_tools"`
	SupportsThinking bool `yaml:"supports_thinking" json:"supports_thinking"`

	ContextWindow int `yaml:"context_window" json:"context_window,omitempty"`
	MaxOutput     int `yaml:"max_output" json:"max_output,omitempty"`
}

// Ref is the "provider/model" string clients send back when creating a response
func (m ModelCapabilities) Ref() string {
	return m.Provider + "/" + m.ID
}

// ProviderCapabilities is one provider file
type ProviderCapabilities struct {
	Provider string              `yaml:"provider" json:"provider"`
	Models   []ModelCapabilities `yaml:"-" json:"models"` // in file order
}

// UnmarshalYAML keeps models in the order the file lists them
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	var raw struct {
		Provider string                       `yaml:"provider"`
		Models   map[string]ModelCapabilities `yaml:"models"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Provider = raw.Provider

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "models" {
			continue
		}
		// keys and values alternate
		modelsNode := node.Content[i+1]
		for j := 0; j+1 < len(modelsNode.Content); j += 2 {
			id := modelsNode.Content[j].Value
			model, ok := raw.Models[id]
			if !ok {
				continue
			}
			model.ID = id
			model.Provider = raw.Provider
			p.Models = append(p.Models, model)
		}
		break
	}
	return nil
}
