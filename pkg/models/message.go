package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the retry budget of a staged message when none is configured.
const DefaultMaxRetries = 3

// StagedMessage is one debatched record awaiting delivery.
//
// DeadLetter is set only once RetryCount exceeds MaxRetries. A message is
// claimable when it is not dead-lettered and LeaseExpiresAt is nil or past.
type StagedMessage struct {
	ID               uuid.UUID  `json:"id"`
	Seq              int64      `json:"seq"`
	InterfaceName    string     `json:"interface_name"`
	SourceInstanceID uuid.UUID  `json:"source_instance_id"`
	Payload          []byte     `json:"payload"`
	ContentHash      *string    `json:"content_hash,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	LastRetryAt      *time.Time `json:"last_retry_at,omitempty"`
	LeaseExpiresAt   *time.Time `json:"lease_expires_at,omitempty"`
	LeaseOwner       *uuid.UUID `json:"lease_owner,omitempty"`
	// LeaseToken identifies one claim. Settling a message requires the token
	// of the claim that is current, so a worker whose lease was taken over
	// cannot touch the new holder's lease.
	LeaseToken *uuid.UUID `json:"lease_token,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	DeadLetter       bool       `json:"dead_letter"`
}

// Claimable reports whether the message may be leased at now.
func (m *StagedMessage) Claimable(now time.Time) bool {
	if m.DeadLetter {
		return false
	}
	return m.LeaseExpiresAt == nil || m.LeaseExpiresAt.Before(now)
}

// Leased reports whether a live lease is held at now.
func (m *StagedMessage) Leased(now time.Time) bool {
	return !m.DeadLetter && m.LeaseExpiresAt != nil && !m.LeaseExpiresAt.Before(now)
}

// HoldsLease reports whether token identifies the current claim.
func (m *StagedMessage) HoldsLease(token uuid.UUID) bool {
	return m.LeaseToken != nil && *m.LeaseToken == token
}

// Token returns the lease token of the claim that returned m, or uuid.Nil.
func (m *StagedMessage) Token() uuid.UUID {
	if m.LeaseToken == nil {
		return uuid.Nil
	}
	return *m.LeaseToken
}

// Record decodes the payload.
func (m *StagedMessage) Record() (Record, error) {
	return UnmarshalRecord(m.Payload)
}

// Clone returns a deep copy safe to hand to callers.
func (m *StagedMessage) Clone() *StagedMessage {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	if m.ContentHash != nil {
		h := *m.ContentHash
		c.ContentHash = &h
	}
	if m.LastRetryAt != nil {
		t := *m.LastRetryAt
		c.LastRetryAt = &t
	}
	if m.LeaseExpiresAt != nil {
		t := *m.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	if m.LeaseOwner != nil {
		o := *m.LeaseOwner
		c.LeaseOwner = &o
	}
	if m.LeaseToken != nil {
		tok := *m.LeaseToken
		c.LeaseToken = &tok
	}
	if m.LastError != nil {
		e := *m.LastError
		c.LastError = &e
	}
	return &c
}

// DeliveryReceipt records that one destination received one staged message.
type DeliveryReceipt struct {
	MessageID             uuid.UUID `json:"message_id"`
	DestinationInstanceID uuid.UUID `json:"destination_instance_id"`
	DeliveredAt           time.Time `json:"delivered_at"`
}
