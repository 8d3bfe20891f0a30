package configstore

import (
	"context"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const instanceColumns = `instance_id, name, interface_name, role, adapter_type, is_enabled,
	polling_interval_seconds, max_retries, locator`

// PostgresStore reads configuration from the adapter_instances,
// adapter_settings and subscriptions tables.
type PostgresStore struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPostgresStore reads through an existing pool, typically the message store's.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres creates a dedicated pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to connect to configuration store")
	}
	return &PostgresStore{pool: pool, owned: true}, nil
}

// ListInstances implements Store.
func (s *PostgresStore) ListInstances(ctx context.Context) ([]*models.AdapterInstance, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+instanceColumns+` FROM adapter_instances ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list adapter instances")
	}
	instances, err := scanInstances(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSettings(ctx, instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance implements Store.
func (s *PostgresStore) GetInstance(ctx context.Context, id uuid.UUID) (*models.AdapterInstance, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+instanceColumns+` FROM adapter_instances WHERE instance_id = $1::uuid`, id.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to load adapter instance")
	}
	instances, err := scanInstances(rows)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "adapter instance not found").
			WithDetail("instance_id", id.String())
	}
	if err := s.attachSettings(ctx, instances); err != nil {
		return nil, err
	}
	return instances[0], nil
}

func scanInstances(rows pgx.Rows) ([]*models.AdapterInstance, error) {
	defer rows.Close()
	var out []*models.AdapterInstance
	for rows.Next() {
		inst := &models.AdapterInstance{Settings: map[string]string{}}
		var role, adapterType string
		if err := rows.Scan(&inst.InstanceID, &inst.Name, &inst.InterfaceName, &role, &adapterType,
			&inst.IsEnabled, &inst.PollingIntervalSeconds, &inst.MaxRetries, &inst.Locator); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan adapter instance")
		}
		inst.Role = models.Role(role)
		inst.AdapterType = models.AdapterType(adapterType)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read adapter instances")
	}
	return out, nil
}

func (s *PostgresStore) attachSettings(ctx context.Context, instances []*models.AdapterInstance) error {
	if len(instances) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.AdapterInstance, len(instances))
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		byID[inst.InstanceID] = inst
		ids = append(ids, inst.InstanceID.String())
	}

	rows, err := s.pool.Query(ctx,
		`SELECT instance_id, key, value FROM adapter_settings WHERE instance_id = ANY ($1::uuid[])`, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to load adapter settings")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id         uuid.UUID
			key, value string
		)
		if err := rows.Scan(&id, &key, &value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan adapter setting")
		}
		if inst, ok := byID[id]; ok {
			inst.Settings[key] = value
		}
	}
	return rows.Err()
}

// ListSubscriptions implements Store.
func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT interface_name, source_instance_id, destination_instance_id, enabled
		FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list subscriptions")
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub := &models.Subscription{}
		if err := rows.Scan(&sub.InterfaceName, &sub.SourceInstanceID, &sub.DestinationInstanceID, &sub.Enabled); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan subscription")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read subscriptions")
	}
	return out, nil
}

// Close implements Store. A borrowed pool is left open.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
