package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const messageColumns = `id, seq, interface_name, source_instance_id, payload, content_hash, created_at,
	retry_count, max_retries, last_retry_at, lease_expires_at, lease_owner, lease_token, last_error, dead_letter`

// claimSQL selects and leases in one statement. SKIP LOCKED keeps concurrent
// claimers off each other's candidate rows; the outer lease predicate
// re-checks the row after locking.
const claimSQL = `
UPDATE staged_messages m
SET lease_expires_at = clock_timestamp() + make_interval(secs => $3::double precision),
    lease_owner = $1::uuid,
    lease_token = gen_random_uuid()
WHERE m.id IN (
    SELECT s.id
    FROM staged_messages s
    WHERE s.source_instance_id = ANY ($2::uuid[])
      AND NOT s.dead_letter
      AND (s.lease_expires_at IS NULL OR s.lease_expires_at < clock_timestamp())
      AND NOT EXISTS (
          SELECT 1 FROM message_deliveries d
          WHERE d.message_id = s.id AND d.destination_instance_id = $1::uuid
      )
    ORDER BY s.created_at, s.seq
    LIMIT $4
    FOR UPDATE SKIP LOCKED
)
AND (m.lease_expires_at IS NULL OR m.lease_expires_at < clock_timestamp())
RETURNING ` + messageColumns

// failSQL only touches the row while $2 is still its lease token.
const failSQL = `
UPDATE staged_messages
SET retry_count = retry_count + 1,
    last_retry_at = clock_timestamp(),
    last_error = $3,
    dead_letter = (retry_count + 1 > max_retries),
    lease_expires_at = CASE WHEN retry_count + 1 > max_retries THEN lease_expires_at END,
    lease_owner = CASE WHEN retry_count + 1 > max_retries THEN lease_owner END,
    lease_token = CASE WHEN retry_count + 1 > max_retries THEN lease_token END
WHERE id = $1::uuid
  AND NOT dead_letter
  AND lease_token = $2::uuid
RETURNING retry_count, max_retries, dead_letter`

// PostgresStore is the durable message store backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	// AutoMigrate applies embedded migrations on open
	AutoMigrate bool
}

// OpenPostgres connects to PostgreSQL and returns a store.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, opts Options) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse message store DSN")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to create message store pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to reach message store")
	}

	s := NewPostgresStore(pool, opts)
	if cfg.AutoMigrate {
		if err := Migrate(ctx, pool, s.logger); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to migrate message store")
		}
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The caller owns migrations.
func NewPostgresStore(pool *pgxpool.Pool, opts Options) *PostgresStore {
	opts.normalize()
	return &PostgresStore{
		pool:   pool,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "message_store")),
	}
}

// Pool exposes the connection pool so the configuration store can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Enqueue implements Store. All rows go in with one statement, so the batch is
// staged completely or not at all.
func (s *PostgresStore) Enqueue(ctx context.Context, interfaceName string, sourceID uuid.UUID, records []models.Record, contentHash string, opts ...EnqueueOption) (int, error) {
	settings := resolveEnqueue(s.opts.DefaultMaxRetries, opts)

	n, skipped, err := enqueueOnce(s.opts.Cursor, sourceID, contentHash, func() (int, error) {
		if len(records) == 0 {
			return 0, nil
		}
		ids := make([]string, len(records))
		payloads := make([]string, len(records))
		for i, r := range records {
			p, err := r.Marshal()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode record")
			}
			ids[i] = uuid.NewString()
			payloads[i] = string(p)
		}

		var hash *string
		if contentHash != "" {
			hash = &contentHash
		}
		// WITH ORDINALITY keeps seq in record order.
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO staged_messages (id, interface_name, source_instance_id, payload, content_hash, max_retries)
			SELECT r.id, $3, $4::uuid, r.payload::jsonb, $5, $6
			FROM unnest($1::uuid[], $2::text[]) WITH ORDINALITY AS r(id, payload, ord)
			ORDER BY r.ord`,
			ids, payloads, interfaceName, sourceID.String(), hash, settings.maxRetries)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to stage records")
		}
		return int(tag.RowsAffected()), nil
	})
	if err != nil {
		return 0, err
	}
	if skipped {
		s.logger.Debug("unchanged batch skipped",
			zap.String("source_instance", sourceID.String()),
			zap.String("content_hash", contentHash))
	}
	return n, nil
}

// ClaimBatch implements Store.
func (s *PostgresStore) ClaimBatch(ctx context.Context, destinationID uuid.UUID, maxCount int, lease time.Duration) ([]*models.StagedMessage, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	sources, err := s.opts.Subscriptions.GetSources(ctx, destinationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to resolve subscriptions")
	}
	if len(sources) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, claimSQL, destinationID.String(), idStrings(sources), lease.Seconds(), maxCount)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to claim messages")
	}
	claimed, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	sortMessages(claimed)
	return claimed, nil
}

// Acknowledge implements Store.
func (s *PostgresStore) Acknowledge(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID) error {
	var sourceID uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT source_instance_id FROM staged_messages WHERE id = $1::uuid`, messageID.String()).Scan(&sourceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to load message")
	}

	subscribers, err := s.opts.Subscriptions.GetSubscribers(ctx, sourceID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to resolve subscribers")
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Lock the row so two final acknowledgements cannot both miss each other's receipt.
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM staged_messages WHERE id = $1::uuid FOR UPDATE`, messageID.String()).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to lock message")
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO message_deliveries (message_id, destination_instance_id)
			VALUES ($1::uuid, $2::uuid)
			ON CONFLICT DO NOTHING`, messageID.String(), destinationID.String()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to record delivery")
		}
		if _, err := tx.Exec(ctx, `
			UPDATE staged_messages SET lease_expires_at = NULL, lease_owner = NULL, lease_token = NULL
			WHERE id = $1::uuid AND lease_token = $2::uuid`, messageID.String(), leaseToken.String()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to release lease")
		}

		var complete bool
		if err := tx.QueryRow(ctx, `
			SELECT NOT EXISTS (
			    SELECT 1 FROM unnest($2::uuid[]) AS sub(id)
			    WHERE NOT EXISTS (
			        SELECT 1 FROM message_deliveries d
			        WHERE d.message_id = $1::uuid AND d.destination_instance_id = sub.id
			    )
			)`, messageID.String(), idStrings(subscribers)).Scan(&complete); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to check deliveries")
		}
		if !complete {
			return nil
		}

		if s.opts.ArchiveDelivered {
			if _, err := tx.Exec(ctx, `
				INSERT INTO staged_messages_archive
				    (id, seq, interface_name, source_instance_id, payload, content_hash, created_at, retry_count)
				SELECT id, seq, interface_name, source_instance_id, payload, content_hash, created_at, retry_count
				FROM staged_messages WHERE id = $1::uuid
				ON CONFLICT (id) DO NOTHING`, messageID.String()); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to archive message")
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM staged_messages WHERE id = $1::uuid`, messageID.String()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to remove delivered message")
		}
		return nil
	})
}

// Fail implements Store.
func (s *PostgresStore) Fail(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID, reason string) error {
	var (
		retryCount, maxRetries int
		dead                   bool
	)
	err := s.pool.QueryRow(ctx, failSQL, messageID.String(), leaseToken.String(), reason).
		Scan(&retryCount, &maxRetries, &dead)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to record delivery failure")
	}

	// Nothing updated: unknown id, already dead, or a stale token.
	var owner *uuid.UUID
	err = s.pool.QueryRow(ctx, `
		SELECT lease_owner FROM staged_messages
		WHERE id = $1::uuid AND NOT dead_letter AND lease_expires_at >= clock_timestamp()`,
		messageID.String()).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to inspect message lease")
	}
	return staleLease(messageID, owner)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, messageID uuid.UUID) (*models.StagedMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM staged_messages WHERE id = $1::uuid`, messageID.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to load message")
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "message not found").
			WithDetail("message_id", messageID.String())
	}
	return msgs[0], nil
}

// DeadLetters implements Store.
func (s *PostgresStore) DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.StagedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM staged_messages WHERE dead_letter`
	args := []any{}
	if filter.SourceID != nil {
		args = append(args, filter.SourceID.String())
		query += fmt.Sprintf(" AND source_instance_id = $%d::uuid", len(args))
	}
	if filter.InterfaceName != "" {
		args = append(args, filter.InterfaceName)
		query += fmt.Sprintf(" AND interface_name = $%d", len(args))
	}
	query += " ORDER BY created_at, seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list dead letters")
	}
	return collectMessages(rows)
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var oldestAge *float64
	err := s.pool.QueryRow(ctx, `
		SELECT
		    count(*) FILTER (WHERE NOT dead_letter AND (lease_expires_at IS NULL OR lease_expires_at < clock_timestamp())),
		    count(*) FILTER (WHERE NOT dead_letter AND lease_expires_at >= clock_timestamp()),
		    count(*) FILTER (WHERE dead_letter),
		    extract(epoch FROM clock_timestamp() - min(created_at) FILTER (WHERE NOT dead_letter))::double precision
		FROM staged_messages`).Scan(&stats.Pending, &stats.Leased, &stats.DeadLettered, &oldestAge)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read store stats")
	}
	if oldestAge != nil {
		stats.OldestPendingAge = time.Duration(*oldestAge * float64(time.Second))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_instance_id,
		       count(*),
		       coalesce((array_agg(last_error ORDER BY last_retry_at DESC NULLS LAST))[1], ''),
		       coalesce(max(last_retry_at), 'epoch'::timestamptz)
		FROM staged_messages
		WHERE dead_letter
		GROUP BY source_instance_id
		ORDER BY source_instance_id::text`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read dead letter stats")
	}
	defer rows.Close()
	for rows.Next() {
		var sd SourceDeadLetters
		if err := rows.Scan(&sd.SourceID, &sd.Count, &sd.LastError, &sd.LastFailedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan dead letter stats")
		}
		stats.DeadLetterSources = append(stats.DeadLetterSources, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read dead letter stats")
	}
	return stats, nil
}

// Requeue implements Store.
func (s *PostgresStore) Requeue(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE staged_messages
		SET dead_letter = false, retry_count = 0, lease_expires_at = NULL, lease_owner = NULL, lease_token = NULL
		WHERE id = $1::uuid AND dead_letter`, messageID.String())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to requeue message")
	}
	return tag.RowsAffected() == 1, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectMessages(rows pgx.Rows) ([]*models.StagedMessage, error) {
	defer rows.Close()
	out := make([]*models.StagedMessage, 0)
	for rows.Next() {
		m := &models.StagedMessage{}
		if err := rows.Scan(&m.ID, &m.Seq, &m.InterfaceName, &m.SourceInstanceID, &m.Payload, &m.ContentHash,
			&m.CreatedAt, &m.RetryCount, &m.MaxRetries, &m.LastRetryAt, &m.LeaseExpiresAt, &m.LeaseOwner,
			&m.LeaseToken, &m.LastError, &m.DeadLetter); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan staged message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read staged messages")
	}
	return out, nil
}
