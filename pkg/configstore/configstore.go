// Package configstore reads adapter instances and subscriptions owned by
// configuration management. The core never writes configuration.
package configstore

import (
	"context"

	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
)

// Store is read-only access to adapter configuration.
type Store interface {
	ListInstances(ctx context.Context) ([]*models.AdapterInstance, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*models.AdapterInstance, error)
	ListSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	Close() error
}

// Document is the on-disk shape used by the file driver.
type Document struct {
	Instances     []*models.AdapterInstance `yaml:"instances"`
	Subscriptions []*models.Subscription    `yaml:"subscriptions"`
}
