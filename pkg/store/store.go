// Package store implements the staging message store: durable rows of
// debatched records awaiting delivery, and the enqueue, lease-claim,
// acknowledge, retry and dead-letter transitions over them.
//
// All coordination between delivery workers, in one process or many, goes
// through ClaimBatch. A claim sets a lease on the selected rows in the same
// atomic step that selects them, so no two callers can hold the same message.
// A lease that is neither acknowledged nor failed simply expires and the
// message becomes claimable again.
//
// Fan-out is tracked with delivery receipts: a message is claimable by a
// destination until that destination has acknowledged it, and it is removed
// once every current subscriber of its source has a receipt.
package store

import (
	"context"
	"time"

	"github.com/ajitpratap0/interlink/pkg/cursor"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the message store contract shared by every driver.
type Store interface {
	// Enqueue stages one message per record. When contentHash is non-empty and
	// matches the last hash staged for sourceID, nothing is written and 0 is
	// returned. Either every record is staged or none is.
	Enqueue(ctx context.Context, interfaceName string, sourceID uuid.UUID, records []models.Record, contentHash string, opts ...EnqueueOption) (int, error)

	// ClaimBatch leases up to maxCount messages from the sources destinationID
	// subscribes to, oldest first. Every returned message carries a fresh
	// LeaseToken. A lost race yields fewer messages, not an error.
	ClaimBatch(ctx context.Context, destinationID uuid.UUID, maxCount int, lease time.Duration) ([]*models.StagedMessage, error)

	// Acknowledge records delivery of messageID to destinationID and releases
	// the lease when leaseToken is still the current claim. Unknown ids are a no-op.
	Acknowledge(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID) error

	// Fail records a failed delivery attempt and releases the lease, or
	// dead-letters the message once its retry budget is exhausted. Only the
	// current claim may fail a message: a stale leaseToken is a no-op, or a
	// lease_conflict error while another claim's lease is live.
	Fail(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID, reason string) error

	// Get returns one message, or a not_found error.
	Get(ctx context.Context, messageID uuid.UUID) (*models.StagedMessage, error)

	// DeadLetters lists dead-lettered messages, oldest first.
	DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.StagedMessage, error)

	// Stats summarizes the store for diagnostics and gauges.
	Stats(ctx context.Context) (*Stats, error)

	// Requeue returns a dead-lettered message to the claimable pool with a
	// fresh retry budget. It reports whether a dead letter was found.
	Requeue(ctx context.Context, messageID uuid.UUID) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// Subscriptions resolves fan-out at claim and acknowledge time.
type Subscriptions interface {
	GetSubscribers(ctx context.Context, sourceID uuid.UUID) ([]uuid.UUID, error)
	GetSources(ctx context.Context, destinationID uuid.UUID) ([]uuid.UUID, error)
}

// Options configures a store driver.
type Options struct {
	// Subscriptions is required.
	Subscriptions Subscriptions
	// Cursor holds the last staged content hash per source. Nil creates a private one.
	Cursor *cursor.Cursor
	// DefaultMaxRetries applies when Enqueue is not given WithMaxRetries.
	DefaultMaxRetries int
	// ArchiveDelivered keeps fully delivered messages in an archive instead of deleting them.
	ArchiveDelivered bool
	Logger           *zap.Logger
}

func (o *Options) normalize() {
	if o.Cursor == nil {
		o.Cursor = cursor.New()
	}
	if o.DefaultMaxRetries <= 0 {
		o.DefaultMaxRetries = models.DefaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// EnqueueOption adjusts one Enqueue call.
type EnqueueOption func(*enqueueSettings)

type enqueueSettings struct {
	maxRetries int
}

// WithMaxRetries overrides the retry budget of the staged messages.
func WithMaxRetries(n int) EnqueueOption {
	return func(s *enqueueSettings) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func resolveEnqueue(defaultMax int, opts []EnqueueOption) enqueueSettings {
	s := enqueueSettings{maxRetries: defaultMax}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// DeadLetterFilter narrows DeadLetters.
type DeadLetterFilter struct {
	SourceID      *uuid.UUID
	InterfaceName string
	Limit         int
}

// Stats summarizes the store.
type Stats struct {
	Pending           int64               `json:"pending"`
	Leased            int64               `json:"leased"`
	DeadLettered      int64               `json:"dead_lettered"`
	OldestPendingAge  time.Duration       `json:"oldest_pending_age"`
	DeadLetterSources []SourceDeadLetters `json:"dead_letter_sources,omitempty"`
}

// SourceDeadLetters is the dead-letter count and most recent failure of one source.
type SourceDeadLetters struct {
	SourceID     uuid.UUID `json:"source_id"`
	Count        int64     `json:"count"`
	LastError    string    `json:"last_error,omitempty"`
	LastFailedAt time.Time `json:"last_failed_at,omitempty"`
}

// enqueueOnce runs write under the source's cursor lock unless contentHash
// matches the last staged hash. The hash is recorded only after write succeeds.
func enqueueOnce(c *cursor.Cursor, sourceID uuid.UUID, contentHash string, write func() (int, error)) (n int, skipped bool, err error) {
	if contentHash == "" {
		n, err = write()
		return n, false, err
	}
	err = c.Do(sourceID, func(e *cursor.Entry) error {
		if e.LastHash == contentHash {
			skipped = true
			return nil
		}
		var werr error
		n, werr = write()
		if werr != nil {
			return werr
		}
		e.LastHash = contentHash
		return nil
	})
	return n, skipped, err
}

func staleLease(messageID uuid.UUID, owner *uuid.UUID) error {
	e := errors.New(errors.ErrorTypeLeaseConflict, "lease has been claimed again").
		WithDetail("message_id", messageID.String())
	if owner != nil {
		e = e.WithDetail("lease_owner", owner.String())
	}
	return e
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
