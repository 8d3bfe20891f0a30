// Package subscription resolves fan-out: which destinations receive each
// source's messages. Every call reads the configuration store, so a change to
// an enabled flag is visible on the next claim.
package subscription

import (
	"context"
	"sort"

	"github.com/ajitpratap0/interlink/pkg/configstore"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
)

// Route is one effective source to destination edge.
type Route struct {
	InterfaceName   string    `json:"interface_name"`
	SourceID        uuid.UUID `json:"source_id"`
	SourceName      string    `json:"source_name"`
	DestinationID   uuid.UUID `json:"destination_id"`
	DestinationName string    `json:"destination_name"`
}

// Registry answers subscription queries over a configuration store.
type Registry struct {
	store configstore.Store
}

// NewRegistry creates a registry.
func NewRegistry(store configstore.Store) *Registry {
	return &Registry{store: store}
}

// GetSubscribers returns the enabled destinations of sourceID.
func (r *Registry) GetSubscribers(ctx context.Context, sourceID uuid.UUID) ([]uuid.UUID, error) {
	routes, err := r.Graph(ctx)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, rt := range routes {
		if rt.SourceID == sourceID {
			out = append(out, rt.DestinationID)
		}
	}
	return out, nil
}

// GetSources returns the enabled sources destinationID subscribes to.
func (r *Registry) GetSources(ctx context.Context, destinationID uuid.UUID) ([]uuid.UUID, error) {
	routes, err := r.Graph(ctx)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, rt := range routes {
		if rt.DestinationID == destinationID {
			out = append(out, rt.SourceID)
		}
	}
	return out, nil
}

// Graph returns every effective route. A route exists when the subscription is
// enabled and both ends are enabled instances with the expected roles. A
// subscription without a source expands to every source of its interface; one
// naming a source of another interface yields no route.
func (r *Registry) Graph(ctx context.Context) ([]Route, error) {
	instances, err := r.store.ListInstances(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read adapter instances")
	}
	subs, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read subscriptions")
	}

	byID := make(map[uuid.UUID]*models.AdapterInstance, len(instances))
	for _, inst := range instances {
		byID[inst.InstanceID] = inst
	}
	usable := func(id uuid.UUID, role models.Role) (*models.AdapterInstance, bool) {
		inst, ok := byID[id]
		return inst, ok && inst.IsEnabled && inst.Role == role
	}

	type edge struct{ src, dst uuid.UUID }
	seen := make(map[edge]struct{})
	var routes []Route
	add := func(iface string, src, dst *models.AdapterInstance) {
		e := edge{src.InstanceID, dst.InstanceID}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		routes = append(routes, Route{
			InterfaceName:   iface,
			SourceID:        src.InstanceID,
			SourceName:      src.Name,
			DestinationID:   dst.InstanceID,
			DestinationName: dst.Name,
		})
	}

	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		dst, ok := usable(sub.DestinationInstanceID, models.RoleDestination)
		if !ok {
			continue
		}
		if sub.SourceInstanceID != nil {
			// A pinned source must still publish the subscribed interface.
			if src, ok := usable(*sub.SourceInstanceID, models.RoleSource); ok && src.InterfaceName == sub.InterfaceName {
				add(sub.InterfaceName, src, dst)
			}
			continue
		}
		for _, inst := range instances {
			if inst.InterfaceName != sub.InterfaceName {
				continue
			}
			if src, ok := usable(inst.InstanceID, models.RoleSource); ok {
				add(sub.InterfaceName, src, dst)
			}
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].InterfaceName != routes[j].InterfaceName {
			return routes[i].InterfaceName < routes[j].InterfaceName
		}
		if routes[i].SourceName != routes[j].SourceName {
			return routes[i].SourceName < routes[j].SourceName
		}
		return routes[i].DestinationName < routes[j].DestinationName
	})
	return routes, nil
}
