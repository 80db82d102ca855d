// internal/adapter/registry.go
package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"canfix-service/pkg/can"
)

// Factory creates an adapter instance
type Factory func(deps Deps) Adapter

// Registry manages adapter registration and creation by name
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates a new adapter registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register registers an adapter factory under a case-insensitive name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[strings.ToLower(name)] = factory
	r.logger.Debug("Adapter registered", zap.String("adapter", name))
}

// Create creates an adapter instance by name
func (r *Registry) Create(name string, deps Deps) (Adapter, error) {
	r.mu.RLock()
	factory, exists := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: no adapter named %q", can.ErrLookup, name)
	}
	if deps.Logger == nil {
		deps.Logger = r.logger
	}
	return factory(deps), nil
}

// IsSupported checks if an adapter name is registered
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[strings.ToLower(name)]
	return exists
}

// Names returns all registered adapter names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaultAdapters registers the built-in adapters
func RegisterDefaultAdapters(registry *Registry) {
	registry.Register("simulate", func(deps Deps) Adapter { return NewSimulate(deps) })
	registry.Register("canfixusb", func(deps Deps) Adapter { return NewCanFixUsb(deps) })
	registry.Register("easy", func(deps Deps) Adapter { return NewEasy(deps) })
	registry.Register("network", func(deps Deps) Adapter { return NewNetwork(deps) })

	registry.logger.Info("Default adapters registered", zap.Strings("adapters", registry.Names()))
}

// NewDefaultRegistry returns a registry holding the built-in adapters
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	registry := NewRegistry(logger)
	RegisterDefaultAdapters(registry)
	return registry
}
