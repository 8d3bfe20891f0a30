// Package registry creates adapters by type. Connectors register a factory in
// their package init; the scheduler and delivery workers only ever go through
// Create, so adding a connector never touches them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

// Factory creates an adapter for one configured instance.
type Factory func(ctx context.Context, instance *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error)

type entry struct {
	info    core.Info
	factory Factory
}

// Registry manages connector registration and instantiation
type Registry struct {
	mu      sync.RWMutex
	entries map[models.AdapterType]entry
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[models.AdapterType]entry)}
}

// Register adds a connector factory
func (r *Registry) Register(info core.Info, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[info.Type]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", info.Type))
	}
	r.entries[info.Type] = entry{info: info, factory: factory}
	return nil
}

// Create builds the adapter for instance
func (r *Registry) Create(ctx context.Context, instance *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
	r.mu.RLock()
	e, exists := r.entries[instance.AdapterType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s not found", instance.AdapterType)).
			WithDetail("instance_id", instance.InstanceID.String())
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	adapter, err := e.factory(ctx, instance, logger.With(
		zap.String("connector", string(instance.AdapterType)),
		zap.String("instance", instance.Name)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s", instance.AdapterType)).
			WithDetail("instance_id", instance.InstanceID.String())
	}
	return adapter, nil
}

// Info returns the catalog entry of one connector type
func (r *Registry) Info(t models.AdapterType) (core.Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e.info, ok
}

// List returns every registered connector sorted by type
func (r *Registry) List() []core.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Register adds a connector to the global registry. Connectors call it from init.
func Register(info core.Info, factory Factory) {
	if err := globalRegistry.Register(info, factory); err != nil {
		panic(err)
	}
}

// Create builds an adapter from the global registry
func Create(ctx context.Context, instance *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
	return globalRegistry.Create(ctx, instance, logger)
}

// List returns the global catalog
func List() []core.Info {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
