package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muckrock/foia-coach-api/internal/config"
)

func testRAGConfig() config.RAGConfig {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg.RAG
}

func TestFactoryEchoesProviderName(t *testing.T) {
	f := NewFactory(testRAGConfig(), Dependencies{})

	for _, name := range []ProviderName{ProviderOpenAI, ProviderGemini, ProviderMock} {
		p, err := f.Get(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
		assert.Equal(t, name, p.Info().Provider)
	}
}

func TestFactoryDefaultProvider(t *testing.T) {
	cfg := testRAGConfig()
	cfg.DefaultProvider = "gemini"
	f := NewFactory(cfg, Dependencies{})

	p, err := f.Get("")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p.Name())

	p, err = f.Get("  MOCK ")
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, p.Name())
}

func TestFactoryUnknownProvider(t *testing.T) {
	f := NewFactory(testRAGConfig(), Dependencies{})

	_, err := f.Get("anthropic")
	require.Error(t, err)

	var cfgErr *ProviderConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "anthropic")
	assert.Contains(t, err.Error(), "gemini, mock, openai")
}

func TestFactoryOptionsOverrideConfig(t *testing.T) {
	cfg := testRAGConfig()
	pc := cfg.Providers["openai"]
	pc.APIKey = "from-config"
	cfg.Providers["openai"] = pc
	f := NewFactory(cfg, Dependencies{})

	s := f.Settings(ProviderOpenAI, WithAPIKey("override"), WithModel("gpt-test"), WithStoreName("TestStore"))
	assert.Equal(t, "override", s.APIKey)
	assert.Equal(t, "gpt-test", s.Model)
	assert.Equal(t, "TestStore", s.StoreName)

	s = f.Settings(ProviderOpenAI)
	assert.Equal(t, "from-config", s.APIKey)
	assert.Equal(t, "gpt-4o-mini", s.Model)
	assert.Equal(t, config.DefaultStoreName, s.StoreName)
}

func TestFactoryNeverCaches(t *testing.T) {
	f := NewFactory(testRAGConfig(), Dependencies{})

	a, err := f.Get("mock")
	require.NoError(t, err)
	b, err := f.Get("mock")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegisteredIsSorted(t *testing.T) {
	assert.Equal(t, []ProviderName{ProviderGemini, ProviderMock, ProviderOpenAI}, Registered())
}
