// Package pipeline runs the two loops that move records through Interlink:
// the polling Scheduler, which reads source instances and stages their
// records in the message store, and the Deliverer, which claims staged
// messages for each destination and writes them out.
//
// Both loops are safe to run in several processes at once. The scheduler's
// cursor only throttles polling inside one process; every cross-process
// decision goes through the store's atomic claim.
package pipeline

import (
	"context"
	"reflect"
	"sync"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Instances is the read side of the configuration store the loops need.
type Instances interface {
	ListInstances(ctx context.Context) ([]*models.AdapterInstance, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*models.AdapterInstance, error)
}

// slot holds the adapter of one instance. Its lock serializes creation for
// that instance only, so a factory that hangs on a dial never delays others.
type slot struct {
	mu       sync.Mutex
	instance models.AdapterInstance
	adapter  core.Adapter
}

// Adapters keeps one open adapter per instance so connection pools and
// OAuth2 tokens survive between ticks. An adapter is rebuilt when its
// instance configuration changes.
type Adapters struct {
	factory registry.Factory
	logger  *zap.Logger

	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

// NewAdapters creates an adapter cache. A nil factory uses the global registry.
func NewAdapters(factory registry.Factory, logger *zap.Logger) *Adapters {
	if factory == nil {
		factory = registry.Create
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapters{
		factory: factory,
		logger:  logger.With(zap.String("component", "adapters")),
		slots:   make(map[uuid.UUID]*slot),
	}
}

func (a *Adapters) slot(id uuid.UUID) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[id]
	if !ok {
		s = &slot{}
		a.slots[id] = s
	}
	return s
}

// Get returns the adapter for inst, creating it on first use. Only callers
// asking for the same instance wait on each other.
func (a *Adapters) Get(ctx context.Context, inst *models.AdapterInstance) (core.Adapter, error) {
	s := a.slot(inst.InstanceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adapter != nil {
		if reflect.DeepEqual(s.instance, *inst) {
			return s.adapter, nil
		}
		a.logger.Info("instance configuration changed, reopening adapter",
			zap.String("instance_id", inst.InstanceID.String()),
			zap.String("name", inst.Name))
		if err := s.adapter.Close(ctx); err != nil {
			a.logger.Warn("failed to close adapter", zap.String("instance_id", inst.InstanceID.String()), zap.Error(err))
		}
		s.adapter = nil
	}

	adapter, err := a.factory(ctx, inst, a.logger.With(
		zap.String("instance_id", inst.InstanceID.String()),
		zap.String("adapter_type", string(inst.AdapterType))))
	if err != nil {
		return nil, err
	}

	// Close may have dropped this slot while the factory ran
	a.mu.Lock()
	current := a.slots[inst.InstanceID]
	a.mu.Unlock()
	if current != s {
		_ = adapter.Close(ctx)
		return nil, errors.New(errors.ErrorTypeInternal, "adapter cache closed")
	}

	s.instance, s.adapter = copyInstance(inst), adapter
	return adapter, nil
}

// Close closes every cached adapter and returns the first error.
func (a *Adapters) Close(ctx context.Context) error {
	a.mu.Lock()
	slots := a.slots
	a.slots = make(map[uuid.UUID]*slot)
	a.mu.Unlock()

	var first error
	for _, s := range slots {
		s.mu.Lock()
		if s.adapter != nil {
			if err := s.adapter.Close(ctx); err != nil && first == nil {
				first = err
			}
			s.adapter = nil
		}
		s.mu.Unlock()
	}
	return first
}

func copyInstance(inst *models.AdapterInstance) models.AdapterInstance {
	c := *inst
	if inst.Settings != nil {
		c.Settings = make(map[string]string, len(inst.Settings))
		for k, v := range inst.Settings {
			c.Settings[k] = v
		}
	}
	return c
}
