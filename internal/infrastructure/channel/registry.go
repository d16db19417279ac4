package channel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/erp/syncengine/internal/domain/integration"
)

// Registry maps channel providers to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]integration.ChannelAdapter
}

var _ integration.ChannelAdapterRegistry = (*Registry)(nil)

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]integration.ChannelAdapter)}
}

// Register binds an adapter to a provider name. Provider names are case-insensitive
// and a later registration replaces an earlier one.
func (r *Registry) Register(provider string, adapter integration.ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalizeProvider(provider)] = adapter
}

// AdapterFor returns the adapter serving the channel's provider
func (r *Registry) AdapterFor(channel *integration.Channel) (integration.ChannelAdapter, error) {
	if channel == nil {
		return nil, integration.ErrInvalidChannelID
	}
	r.mu.RLock()
	adapter, ok := r.adapters[normalizeProvider(channel.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (channel %s)", integration.ErrAdapterNotFound, channel.Provider, channel.Code)
	}
	return adapter, nil
}

// Providers returns the registered provider names in sorted order
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
