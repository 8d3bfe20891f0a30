package erp

import (
	"context"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

func init() {
	registry.Register(core.Info{
		Type:        models.AdapterERPRFC,
		Description: "Remote function calls (requires the vendor's native SDK; not available)",
	}, func(_ context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return NewRFC(inst, logger)
	})
}

// RFCConnector keeps erp-rfc instances configurable while every operation
// reports not_supported.
type RFCConnector struct {
	*base.BaseConnector
}

type rfcSettings struct {
	config.ConnectorConfig `mapstructure:",squash"`
	Destination            string `mapstructure:"destination"`
}

// NewRFC creates an erp-rfc connector
func NewRFC(inst *models.AdapterInstance, logger *zap.Logger) (*RFCConnector, error) {
	var s rfcSettings
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	return &RFCConnector{BaseConnector: bc}, nil
}

func (c *RFCConnector) SupportsRead() bool  { return false }
func (c *RFCConnector) SupportsWrite() bool { return false }

func (c *RFCConnector) Read(context.Context, string) ([]*core.Batch, error) {
	return nil, c.NotSupported("read")
}

func (c *RFCConnector) Write(context.Context, string, []string, []models.Record) (*core.DeliveryResult, error) {
	return nil, c.NotSupported("write")
}

func (c *RFCConnector) GetSchema(context.Context, string) (core.Schema, error) {
	return nil, c.NotSupported("get_schema")
}

func (c *RFCConnector) Close(context.Context) error {
	return c.BaseConnector.Close(nil)
}
