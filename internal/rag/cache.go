package rag

import (
	"sync"

	"github.com/muckrock/foia-coach-api/internal/monitoring"
)

// ProviderStatus pairs a provider's info with its configuration check
type ProviderStatus struct {
	Info
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ProviderCache memoizes provider instances by name. Entries live until Clear.
type ProviderCache struct {
	factory *Factory

	mu        sync.Mutex
	providers map[ProviderName]Provider
}

// NewProviderCache creates an empty cache over factory
func NewProviderCache(factory *Factory) *ProviderCache {
	return &ProviderCache{
		factory:   factory,
		providers: make(map[ProviderName]Provider),
	}
}

// Factory returns the underlying factory
func (c *ProviderCache) Factory() *Factory {
	return c.factory
}

// Resolve maps an optional name to a registered provider
func (c *ProviderCache) Resolve(name string) (ProviderName, error) {
	return c.factory.Resolve(name)
}

// Get returns the cached instance for name, building it on first use.
// With useCache=false a new instance is built and the cache is left alone.
func (c *ProviderCache) Get(name string, useCache bool) (Provider, error) {
	if !useCache {
		return c.factory.Get(name)
	}
	resolved, err := c.factory.Resolve(name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.providers[resolved]; ok {
		return p, nil
	}
	p, err := c.factory.Get(string(resolved))
	if err != nil {
		return nil, err
	}
	c.providers[resolved] = p
	return p, nil
}

// Clear drops every cached instance
func (c *ProviderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = make(map[ProviderName]Provider)
	monitoring.RecordProviderCacheClear()
}

// Len returns the number of cached instances
func (c *ProviderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.providers)
}

// Validate dry-runs construction of name and checks its required settings.
// The cache is not touched.
func (c *ProviderCache) Validate(name string) error {
	p, err := c.factory.Get(name)
	if err != nil {
		return err
	}
	resolved, _ := c.factory.Resolve(name)
	if p.Name() != resolved {
		return configErrorf(resolved, "provider built as %q", p.Name())
	}
	if resolved != ProviderMock && c.factory.Settings(resolved).APIKey == "" {
		return configErrorf(resolved, "API key is not configured")
	}
	return nil
}

// Providers reports every registered provider with its validation result
func (c *ProviderCache) Providers() []ProviderStatus {
	names := Registered()
	out := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		p, err := c.factory.Get(string(name))
		if err != nil {
			out = append(out, ProviderStatus{Info: Info{Provider: name}, Error: err.Error()})
			continue
		}
		status := ProviderStatus{Info: p.Info(), Valid: true}
		if verr := c.Validate(string(name)); verr != nil {
			status.Valid = false
			status.Error = verr.Error()
		}
		out = append(out, status)
	}
	return out
}
