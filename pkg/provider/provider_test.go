package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnrun/wn-core/internal/rtconfig"
)

func TestNew_BuildsEachKnownBackend(t *testing.T) {
	tests := []struct {
		name string
		cfg  rtconfig.ProviderConfig
	}{
		{"claude", rtconfig.ProviderConfig{APIKey: "key"}},
		{"anthropic", rtconfig.ProviderConfig{APIKey: "key"}},
		{"openai", rtconfig.ProviderConfig{APIKey: "key"}},
		{"gemini", rtconfig.ProviderConfig{APIKey: "key"}},
		{"compat", rtconfig.ProviderConfig{APIKey: "key", BaseURL: "http://localhost:1"}},
	}
	for _, tt := range tests {
		p, err := New(tt.name, tt.cfg).Unwrap()
		require.NoErrorf(t, err, "backend %q", tt.name)
		assert.NotNilf(t, p, "backend %q", tt.name)
	}
}

func TestNew_UnknownBackendErrors(t *testing.T) {
	_, err := New("not-a-backend", rtconfig.ProviderConfig{}).Unwrap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-backend")
}

func TestNew_PropagatesBackendConstructionError(t *testing.T) {
	_, err := New("anthropic", rtconfig.ProviderConfig{}).Unwrap()
	assert.Error(t, err)
}
