package configstore

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
)

// FileStore serves configuration from a YAML file. The file is re-read
// whenever its modification time or size changes, so edits are visible on the
// next call.
type FileStore struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	doc     *Document
}

// NewFileStore creates a store over path. The file is loaded lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*Document, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to stat adapter configuration").
			WithDetail("path", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.doc, nil
	}

	doc := &Document{}
	if err := config.Load(s.path, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load adapter configuration").
			WithDetail("path", s.path)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	s.doc, s.modTime, s.size = doc, info.ModTime(), info.Size()
	return doc, nil
}

func validateDocument(doc *Document) error {
	seen := make(map[uuid.UUID]struct{}, len(doc.Instances))
	for i, inst := range doc.Instances {
		if inst == nil || inst.InstanceID == uuid.Nil {
			return errors.Newf(errors.ErrorTypeValidation, "instance %d has no instance_id", i)
		}
		if _, dup := seen[inst.InstanceID]; dup {
			return errors.Newf(errors.ErrorTypeValidation, "duplicate instance_id %s", inst.InstanceID)
		}
		seen[inst.InstanceID] = struct{}{}
		if inst.Role != models.RoleSource && inst.Role != models.RoleDestination {
			return errors.Newf(errors.ErrorTypeValidation, "instance %s has invalid role %q", inst.InstanceID, inst.Role)
		}
	}
	for i, sub := range doc.Subscriptions {
		if sub == nil || sub.DestinationInstanceID == uuid.Nil {
			return errors.Newf(errors.ErrorTypeValidation, "subscription %d has no destination_instance_id", i)
		}
	}
	return nil
}

// ListInstances implements Store.
func (s *FileStore) ListInstances(ctx context.Context) ([]*models.AdapterInstance, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*models.AdapterInstance, len(doc.Instances))
	for i, inst := range doc.Instances {
		c := *inst
		out[i] = &c
	}
	return out, nil
}

// GetInstance implements Store.
func (s *FileStore) GetInstance(ctx context.Context, id uuid.UUID) (*models.AdapterInstance, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, inst := range doc.Instances {
		if inst.InstanceID == id {
			c := *inst
			return &c, nil
		}
	}
	return nil, errors.New(errors.ErrorTypeNotFound, "adapter instance not found").
		WithDetail("instance_id", id.String())
}

// ListSubscriptions implements Store.
func (s *FileStore) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Subscription, len(doc.Subscriptions))
	for i, sub := range doc.Subscriptions {
		c := *sub
		out[i] = &c
	}
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
