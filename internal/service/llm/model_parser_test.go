package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{DefaultProvider: ProviderLorem, DefaultModel: "lorem-fast"}
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		name         string
		modelStr     string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{name: "claude-haiku with version", modelStr: "claude-haiku-4-5", wantProvider: "anthropic", wantModel: "claude-haiku-4-5"},
		{name: "openrouter with full path", modelStr: "openrouter/openai/gpt-4o", wantProvider: "openrouter", wantModel: "openai/gpt-4o"},
		{name: "provider is lowercased", modelStr: "Anthropic/claude-sonnet-4-5", wantProvider: "anthropic", wantModel: "claude-sonnet-4-5"},
		{name: "lorem-fast model", modelStr: "lorem-fast", wantProvider: "lorem", wantModel: "lorem-fast"},
		{name: "empty string", modelStr: "", wantErr: true},
		{name: "unknown model prefix", modelStr: "unknown-model-123", wantErr: true},
		{name: "provider without model", modelStr: "anthropic/", wantErr: true},
		{name: "model without provider", modelStr: "/claude-haiku-4-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModel(tt.modelStr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, got.Provider)
			assert.Equal(t, tt.wantModel, got.Model)
		})
	}
}

func TestResolveModel(t *testing.T) {
	got, err := ResolveModel("", "lorem", "lorem-fast")
	require.NoError(t, err)
	assert.Equal(t, "lorem/lorem-fast", got.String())

	got, err = ResolveModel("my-finetune", "openrouter", "x")
	require.NoError(t, err)
	assert.Equal(t, ModelInfo{Provider: "openrouter", Model: "my-finetune"}, *got)

	_, err = ResolveModel("anthropic/", "lorem", "lorem-fast")
	assert.Error(t, err)
}

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model        string
		wantProvider string
	}{
		{"claude-haiku-4-5", "anthropic"},
		{"CLAUDE-HAIKU-4-5", "anthropic"},
		{"lorem-slow", "lorem"},
		{"LOREM-FAST", "lorem"},
		{"gpt-4", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantProvider, inferProvider(tt.model), tt.model)
	}
}

func TestProviderFactoryRequiresKeys(t *testing.T) {
	f := NewProviderFactory(testConfig())

	_, err := f.GetProvider(ProviderAnthropic)
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = f.GetProvider("bedrock")
	assert.ErrorContains(t, err, "unsupported provider")

	p1, err := f.GetProvider(ProviderLorem)
	require.NoError(t, err)
	p2, err := f.GetProvider(ProviderLorem)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
