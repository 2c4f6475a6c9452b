package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// WildcardProvider matches any provider for a chain.
const WildcardProvider = "*"

// Registry resolves adapters by (chain, provider) with wildcard fallback.
// Constructed explicitly at startup and passed by reference, so tests can run
// multiple isolated pipelines side by side.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter // "chain/provider" -> adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func registryKey(chain, provider string) string {
	return strings.ToLower(chain) + "/" + strings.ToLower(provider)
}

// Register binds an adapter to a (chain, provider) pair. Registering with
// WildcardProvider makes the adapter the fallback for the chain.
func (r *Registry) Register(chain, provider string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey(chain, provider)] = adapter
}

// Resolve returns the adapter for the pair, falling back to the chain's
// wildcard registration when no exact match exists.
func (r *Registry) Resolve(chain, provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider != "" {
		if a, ok := r.adapters[registryKey(chain, provider)]; ok {
			return a, nil
		}
	}
	if a, ok := r.adapters[registryKey(chain, WildcardProvider)]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for chain %s (provider %q)", chain, provider)
}

// Chains lists all chains with at least one registered adapter.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for key := range r.adapters {
		seen[strings.SplitN(key, "/", 2)[0]] = true
	}
	chains := make([]string, 0, len(seen))
	for c := range seen {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	return chains
}
