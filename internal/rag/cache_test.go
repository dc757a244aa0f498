package rag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCacheReturnsSameInstance(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	a, err := cache.Get("mock", true)
	require.NoError(t, err)
	b, err := cache.Get("", true)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, cache.Len())
}

func TestProviderCacheConcurrentGet(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	const workers = 32
	got := make([]Provider, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "gemini"
			if i%2 == 0 {
				name = "GEMINI"
			}
			got[i], errs[i] = cache.Get(name, true)
		}(i)
	}
	wg.Wait()

	for i := range got {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, 1, cache.Len())
}

func TestProviderCacheBypass(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	cached, err := cache.Get("mock", true)
	require.NoError(t, err)
	fresh, err := cache.Get("mock", false)
	require.NoError(t, err)

	assert.NotSame(t, cached, fresh)
	assert.Equal(t, 1, cache.Len())
}

func TestProviderCacheClear(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	before, err := cache.Get("gemini", true)
	require.NoError(t, err)
	cache.Clear()
	assert.Equal(t, 0, cache.Len())

	after, err := cache.Get("gemini", true)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestProviderCacheUnknownNameNotCached(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	_, err := cache.Get("nope", true)
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestProviderCacheValidate(t *testing.T) {
	cfg := testRAGConfig()
	pc := cfg.Providers["gemini"]
	pc.APIKey = "key"
	cfg.Providers["gemini"] = pc
	cache := NewProviderCache(NewFactory(cfg, Dependencies{}))

	assert.NoError(t, cache.Validate("mock"))
	assert.NoError(t, cache.Validate("gemini"))

	err := cache.Validate("openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
	assert.Equal(t, 0, cache.Len())
}

func TestProviderCacheProviders(t *testing.T) {
	cache := NewProviderCache(NewFactory(testRAGConfig(), Dependencies{}))

	statuses := cache.Providers()
	require.Len(t, statuses, 3)

	byName := map[ProviderName]ProviderStatus{}
	for _, s := range statuses {
		byName[s.Provider] = s
	}
	assert.True(t, byName[ProviderMock].Valid)
	assert.False(t, byName[ProviderOpenAI].Valid)
	assert.False(t, byName[ProviderGemini].Valid)
	assert.Equal(t, "gemini-2.5-flash", byName[ProviderGemini].Model)
}
