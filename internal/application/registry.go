package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// ProviderRegistry maps account kinds to the factories that build their
// credential providers. Factories may be registered or replaced at runtime.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]driven.ProviderFactory
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]driven.ProviderFactory)}
}

// Register installs factory for kind, replacing any previous one.
func (r *ProviderRegistry) Register(kind string, factory driven.ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds in sorted order.
func (r *ProviderRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build creates a provider for entry. Unknown kinds return ErrUnknownKind.
func (r *ProviderRegistry) Build(entry model.AccountEntry, clock driven.Clock) (driven.CredentialProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("account %q kind %q: %w", entry.Name, entry.Kind, driven.ErrUnknownKind)
	}
	return factory.NewProvider(entry, clock)
}
