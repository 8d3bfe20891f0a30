// Package core defines the uniform contract every connector implements.
// Sources pull raw batches without touching the message store; debatching and
// enqueueing happen one layer up so no connector duplicates them.
// Destinations must tolerate receiving the same records more than once.
package core

import (
	"context"

	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/models"
)

// Adapter is implemented once per connector type.
type Adapter interface {
	// Type returns the adapter type this instance was created for
	Type() models.AdapterType

	// SupportsRead reports whether Read is implemented
	SupportsRead() bool

	// SupportsWrite reports whether Write is implemented
	SupportsWrite() bool

	// Read pulls the batches currently available at locator. Unsupported
	// adapters return a not_supported error.
	Read(ctx context.Context, locator string) ([]*Batch, error)

	// Write delivers records to locator. Unsupported adapters return a
	// not_supported error.
	Write(ctx context.Context, locator string, columns []string, records []models.Record) (*DeliveryResult, error)

	// GetSchema describes the columns at locator.
	GetSchema(ctx context.Context, locator string) (Schema, error)

	// Close releases connections held by the adapter
	Close(ctx context.Context) error
}

// Batch is one unit pulled by a source. Exactly one of Raw or Rows is set:
// Raw holds delimited text to debatch, Rows holds a result set.
type Batch struct {
	// Locator identifies the batch, e.g. a file path or query name
	Locator string
	// Raw is a delimited text payload
	Raw []byte
	// Options controls how Raw is debatched
	Options debatch.Options
	// Columns and Rows hold a polled result set
	Columns []string
	Rows    [][]any
	// Commit is called after the batch is staged. May be nil.
	Commit func(ctx context.Context) error
	// Abort is called when the batch cannot be debatched. May be nil.
	Abort func(ctx context.Context, cause error) error
}

// IsRaw reports whether the batch carries delimited text.
func (b *Batch) IsRaw() bool {
	return b.Raw != nil
}

// DeliveryResult reports a destination write. Failed is keyed by the index of
// the record in the slice passed to Write; records not in Failed were delivered.
type DeliveryResult struct {
	Delivered int
	Failed    map[int]error
}

// NewDeliveryResult returns a result with every one of n records delivered.
func NewDeliveryResult(n int) *DeliveryResult {
	return &DeliveryResult{Delivered: n, Failed: map[int]error{}}
}

// Fail marks record i as failed.
func (r *DeliveryResult) Fail(i int, err error) {
	if r.Failed == nil {
		r.Failed = map[int]error{}
	}
	if _, already := r.Failed[i]; !already {
		r.Delivered--
	}
	r.Failed[i] = err
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	// DataType is the portable type name, e.g. "integer", "varchar", "timestamp"
	DataType string `json:"data_type"`
	// NativeType is the full type definition in the external system
	NativeType string `json:"native_type,omitempty"`
	Precision  int    `json:"precision,omitempty"`
	Scale      int    `json:"scale,omitempty"`
}

// Schema maps column name to its description.
type Schema map[string]ColumnSchema

// Info describes a registered connector type.
type Info struct {
	Type          models.AdapterType `json:"type"`
	Description   string             `json:"description"`
	SupportsRead  bool               `json:"supports_read"`
	SupportsWrite bool               `json:"supports_write"`
	// Settings lists the keys read from the instance settings
	Settings []string `json:"settings,omitempty"`
}

type interfaceKey struct{}

// WithInterface records the interface whose records are being written.
// Destinations use it to name outputs and tag messages.
func WithInterface(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, interfaceKey{}, name)
}

// InterfaceFromContext returns the interface set by WithInterface, or "".
func InterfaceFromContext(ctx context.Context) string {
	name, _ := ctx.Value(interfaceKey{}).(string)
	return name
}
