package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps staged messages in process memory. A single mutex makes
// every transition atomic. It serves tests and single-process deployments.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	seq      int64
	messages map[uuid.UUID]*models.StagedMessage
	receipts map[uuid.UUID]map[uuid.UUID]time.Time
	archived map[uuid.UUID]*models.StagedMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.normalize()
	return &MemoryStore{
		opts:     opts,
		now:      time.Now,
		messages: make(map[uuid.UUID]*models.StagedMessage),
		receipts: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		archived: make(map[uuid.UUID]*models.StagedMessage),
	}
}

// SetClock replaces the time source. Tests use it to move past lease expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, interfaceName string, sourceID uuid.UUID, records []models.Record, contentHash string, opts ...EnqueueOption) (int, error) {
	settings := resolveEnqueue(s.opts.DefaultMaxRetries, opts)

	n, skipped, err := enqueueOnce(s.opts.Cursor, sourceID, contentHash, func() (int, error) {
		payloads := make([][]byte, len(records))
		for i, r := range records {
			p, err := r.Marshal()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode record")
			}
			payloads[i] = p
		}
		if err := ctx.Err(); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeTimeout, "enqueue cancelled")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		created := s.now()
		var hash *string
		if contentHash != "" {
			h := contentHash
			hash = &h
		}
		for _, p := range payloads {
			s.seq++
			m := &models.StagedMessage{
				ID:               uuid.New(),
				Seq:              s.seq,
				InterfaceName:    interfaceName,
				SourceInstanceID: sourceID,
				Payload:          p,
				ContentHash:      hash,
				CreatedAt:        created,
				MaxRetries:       settings.maxRetries,
			}
			s.messages[m.ID] = m
		}
		return len(payloads), nil
	})
	if err != nil {
		return 0, err
	}
	if skipped {
		s.opts.Logger.Debug("unchanged batch skipped",
			zap.String("source_instance", sourceID.String()),
			zap.String("content_hash", contentHash))
	}
	return n, nil
}

// ClaimBatch implements Store.
func (s *MemoryStore) ClaimBatch(ctx context.Context, destinationID uuid.UUID, maxCount int, lease time.Duration) ([]*models.StagedMessage, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	candidates := make([]*models.StagedMessage, 0)
	for _, m := range s.messages {
		if !containsID(sources, m.SourceInstanceID) || !m.Claimable(now) {
			continue
		}
		if _, done := s.receipts[m.ID][destinationID]; done {
			continue
		}
		candidates = append(candidates, m)
	}
	sortMessages(candidates)
	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	expires := now.Add(lease)
	claimed := make([]*models.StagedMessage, len(candidates))
	for i, m := range candidates {
		exp := expires
		owner := destinationID
		token := uuid.New()
		m.LeaseExpiresAt = &exp
		m.LeaseOwner = &owner
		m.LeaseToken = &token
		claimed[i] = m.Clone()
	}
	return claimed, nil
}

// Acknowledge implements Store.
func (s *MemoryStore) Acknowledge(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID) error {
	s.mu.Lock()
	m, ok := s.messages[messageID]
	var sourceID uuid.UUID
	if ok {
		sourceID = m.SourceInstanceID
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	subscribers, err := s.opts.Subscriptions.GetSubscribers(ctx, sourceID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to resolve subscribers")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok = s.messages[messageID]
	if !ok {
		return nil
	}
	now := s.now()
	if s.receipts[messageID] == nil {
		s.receipts[messageID] = make(map[uuid.UUID]time.Time)
	}
	if _, done := s.receipts[messageID][destinationID]; !done {
		s.receipts[messageID][destinationID] = now
	}
	if m.HoldsLease(leaseToken) {
		releaseLease(m)
	}

	for _, sub := range subscribers {
		if _, done := s.receipts[messageID][sub]; !done {
			return nil
		}
	}
	if s.opts.ArchiveDelivered {
		s.archived[messageID] = m
	}
	delete(s.messages, messageID)
	delete(s.receipts, messageID)
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(ctx context.Context, destinationID, messageID, leaseToken uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.DeadLetter {
		return nil
	}
	now := s.now()
	if !m.HoldsLease(leaseToken) {
		if m.Leased(now) {
			return staleLease(messageID, m.LeaseOwner)
		}
		return nil
	}

	m.RetryCount++
	m.LastRetryAt = &now
	r := reason
	m.LastError = &r
	if m.RetryCount > m.MaxRetries {
		m.DeadLetter = true
		return nil
	}
	releaseLease(m)
	return nil
}

func releaseLease(m *models.StagedMessage) {
	m.LeaseExpiresAt = nil
	m.LeaseOwner = nil
	m.LeaseToken = nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, messageID uuid.UUID) (*models.StagedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "message not found").
			WithDetail("message_id", messageID.String())
	}
	return m.Clone(), nil
}

// Archived returns a fully delivered message kept by ArchiveDelivered.
func (s *MemoryStore) Archived(messageID uuid.UUID) (*models.StagedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.archived[messageID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// DeadLetters implements Store.
func (s *MemoryStore) DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*models.StagedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.StagedMessage, 0)
	for _, m := range s.messages {
		if !m.DeadLetter {
			continue
		}
		if filter.SourceID != nil && m.SourceInstanceID != *filter.SourceID {
			continue
		}
		if filter.InterfaceName != "" && m.InterfaceName != filter.InterfaceName {
			continue
		}
		out = append(out, m.Clone())
	}
	sortMessages(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := &Stats{}
	var oldest time.Time
	bySource := make(map[uuid.UUID]*SourceDeadLetters)
	for _, m := range s.messages {
		switch {
		case m.DeadLetter:
			stats.DeadLettered++
			sd, ok := bySource[m.SourceInstanceID]
			if !ok {
				sd = &SourceDeadLetters{SourceID: m.SourceInstanceID}
				bySource[m.SourceInstanceID] = sd
			}
			sd.Count++
			if m.LastRetryAt != nil && !m.LastRetryAt.Before(sd.LastFailedAt) {
				sd.LastFailedAt = *m.LastRetryAt
				if m.LastError != nil {
					sd.LastError = *m.LastError
				}
			}
			continue
		case m.Leased(now):
			stats.Leased++
		default:
			stats.Pending++
		}
		if oldest.IsZero() || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = now.Sub(oldest)
	}
	for _, sd := range bySource {
		stats.DeadLetterSources = append(stats.DeadLetterSources, *sd)
	}
	sort.Slice(stats.DeadLetterSources, func(i, j int) bool {
		return stats.DeadLetterSources[i].SourceID.String() < stats.DeadLetterSources[j].SourceID.String()
	})
	return stats, nil
}

// Requeue implements Store.
func (s *MemoryStore) Requeue(ctx context.Context, messageID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || !m.DeadLetter {
		return false, nil
	}
	m.DeadLetter = false
	m.RetryCount = 0
	releaseLease(m)
	return true, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func sortMessages(ms []*models.StagedMessage) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].Seq < ms[j].Seq
	})
}
