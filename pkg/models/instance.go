package models

import (
	"time"

	"github.com/google/uuid"
)

// AdapterType identifies a connector implementation.
type AdapterType string

const (
	AdapterFileDelimited  AdapterType = "file-delimited"
	AdapterSFTP           AdapterType = "sftp"
	AdapterRelationalPoll AdapterType = "relational-poll"
	AdapterERPOData       AdapterType = "erp-odata"
	AdapterERPIDoc        AdapterType = "erp-idoc"
	AdapterERPRFC         AdapterType = "erp-rfc"
	AdapterCRM            AdapterType = "crm"
	AdapterCRMFetch       AdapterType = "crm-fetch"
	AdapterKafka          AdapterType = "kafka"
)

// FileLike reports whether the adapter polls a folder of files.
func (t AdapterType) FileLike() bool {
	return t == AdapterFileDelimited || t == AdapterSFTP
}

// Role is the side of the pipeline an adapter instance sits on.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// AdapterInstance is one configured connector. Owned by configuration
// management; the core only reads it.
type AdapterInstance struct {
	InstanceID    uuid.UUID   `json:"instance_id" yaml:"instance_id"`
	Name          string      `json:"name" yaml:"name"`
	InterfaceName string      `json:"interface_name" yaml:"interface_name"`
	Role          Role        `json:"role" yaml:"role"`
	AdapterType   AdapterType `json:"adapter_type" yaml:"adapter_type"`
	IsEnabled     bool        `json:"is_enabled" yaml:"is_enabled"`
	// PollingIntervalSeconds applies to sources; zero selects the type default.
	PollingIntervalSeconds int `json:"polling_interval_seconds,omitempty" yaml:"polling_interval_seconds,omitempty"`
	// MaxRetries overrides the retry budget of messages staged by this source; zero keeps the default.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// Locator names the folder, table, entity set or topic the adapter reads or writes.
	Locator  string            `json:"locator" yaml:"locator"`
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// PollingInterval returns the configured interval or fallback when unset.
func (a *AdapterInstance) PollingInterval(fallback time.Duration) time.Duration {
	if a.PollingIntervalSeconds > 0 {
		return time.Duration(a.PollingIntervalSeconds) * time.Second
	}
	return fallback
}

// Subscription binds a destination to one source instance, or to every source
// of InterfaceName when SourceInstanceID is nil.
type Subscription struct {
	InterfaceName         string     `json:"interface_name" yaml:"interface_name"`
	SourceInstanceID      *uuid.UUID `json:"source_instance_id,omitempty" yaml:"source_instance_id,omitempty"`
	DestinationInstanceID uuid.UUID  `json:"destination_instance_id" yaml:"destination_instance_id"`
	Enabled               bool       `json:"enabled" yaml:"enabled"`
}
