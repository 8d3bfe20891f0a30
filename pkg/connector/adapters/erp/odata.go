package erp

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/clients"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/adapters/internal/odata"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterERPOData,
		Description:   "Reads and upserts ERP entity sets over OData v2/v4",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      []string{"base_url", "username", "password", "token", "token_url", "client_id", "client_secret", "select", "filter", "page_size", "max_pages", "key_columns", "numeric_key_columns", "sap_client"},
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return NewOData(ctx, inst, logger)
	})
}

// ODataSettings configures the erp-odata connector
type ODataSettings struct {
	config.ConnectorConfig `mapstructure:",squash"`
	Connection             `mapstructure:",squash"`

	Select   []string `mapstructure:"select"`
	Filter   string   `mapstructure:"filter"`
	PageSize int      `mapstructure:"page_size"`
	// MaxPages stops paging after this many pages (0 = all)
	MaxPages int `mapstructure:"max_pages"`

	// KeyColumns address the entity to update; without keys every record is created
	KeyColumns        []string `mapstructure:"key_columns"`
	NumericKeyColumns []string `mapstructure:"numeric_key_columns"`
	EmptyAsNull       bool     `mapstructure:"empty_as_null"`
}

// ODataConnector reads and writes one OData service
type ODataConnector struct {
	*base.BaseConnector
	settings ODataSettings
	client   *clients.HTTPClient
	headers  map[string]string
	numeric  map[string]bool
}

// NewOData creates an erp-odata connector
func NewOData(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (*ODataConnector, error) {
	s := ODataSettings{PageSize: 1000, EmptyAsNull: true}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	if err := s.Connection.validate(); err != nil {
		return nil, err
	}
	if s.PageSize < 0 || s.MaxPages < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "page_size and max_pages must not be negative")
	}

	numeric := make(map[string]bool, len(s.NumericKeyColumns))
	for _, k := range s.NumericKeyColumns {
		numeric[strings.ToLower(k)] = true
	}
	headers := s.Connection.headers()
	headers["Accept"] = "application/json"

	return &ODataConnector{
		BaseConnector: bc,
		settings:      s,
		client:        s.Connection.client(ctx, bc),
		headers:       headers,
		numeric:       numeric,
	}, nil
}

// SupportsRead reports true
func (c *ODataConnector) SupportsRead() bool { return true }

// SupportsWrite reports true
func (c *ODataConnector) SupportsWrite() bool { return true }

func (c *ODataConnector) entitySetURL(entitySet string) string {
	return c.settings.BaseURL + "/" + strings.TrimLeft(entitySet, "/")
}

func (c *ODataConnector) extraParams() url.Values {
	v := url.Values{}
	if c.settings.SAPClient != "" {
		v.Set("sap-client", c.settings.SAPClient)
	}
	return v
}

func (c *ODataConnector) get(ctx context.Context, u string) (*clients.Response, error) {
	var resp *clients.Response
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.client.Do(ctx, &clients.Request{Method: http.MethodGet, URL: u, Headers: c.headers})
		return err
	})
	return resp, err
}

// Read pages through the entity set named by locator and returns all
// entities as one result set batch.
func (c *ODataConnector) Read(ctx context.Context, locator string) ([]*core.Batch, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "an entity set locator is required")
	}
	next := c.entitySetURL(locator) + odata.Query(c.settings.Select, c.settings.Filter, c.settings.PageSize, c.extraParams())

	var entities []map[string]any
	for pages := 0; next != ""; pages++ {
		if c.settings.MaxPages > 0 && pages >= c.settings.MaxPages {
			c.GetLogger().Warn("max_pages reached, remaining pages are read on the next poll",
				zap.String("entity_set", locator), zap.Int("max_pages", c.settings.MaxPages))
			break
		}
		resp, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		page, err := odata.ParsePage(resp.Body)
		if err != nil {
			return nil, err
		}
		entities = append(entities, page.Entities...)

		if page.Next == "" {
			break
		}
		if next, err = odata.Resolve(next, page.Next); err != nil {
			return nil, err
		}
	}

	if len(entities) == 0 {
		return nil, nil
	}
	columns := odata.Columns(c.settings.Select, entities)
	c.GetLogger().Debug("entity set read", zap.String("entity_set", locator), zap.Int("entities", len(entities)))
	return []*core.Batch{{Locator: locator, Columns: columns, Rows: odata.Rows(columns, entities)}}, nil
}

// Write upserts each record. With key columns the entity is patched and
// created when the service reports it missing; without keys it is created.
func (c *ODataConnector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "an entity set locator is required")
	}
	result := core.NewDeliveryResult(len(records))
	setURL := c.entitySetURL(locator)
	query := odata.Query(nil, "", 0, c.extraParams())

	for i, r := range records {
		err := c.upsert(ctx, setURL, query, columns, r)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, err
		}
		result.Fail(i, errors.Wrap(err, errors.ErrorTypeDeliveryFailed, "entity upsert failed").
			WithDetail("entity_set", locator))
	}
	return result, nil
}

func (c *ODataConnector) upsert(ctx context.Context, setURL, query string, columns []string, r models.Record) error {
	create := func(ctx context.Context) error {
		body := odata.Body(columns, r, nil, c.settings.EmptyAsNull)
		_, err := c.client.DoJSON(ctx, http.MethodPost, setURL+query, body, nil, c.headers)
		return err
	}

	if len(c.settings.KeyColumns) == 0 {
		return c.Execute(ctx, create)
	}

	pred, err := odata.KeyPredicate(c.settings.KeyColumns, c.numeric, false, r)
	if err != nil {
		return err
	}
	body := odata.Body(columns, r, c.settings.KeyColumns, c.settings.EmptyAsNull)
	err = c.Execute(ctx, func(ctx context.Context) error {
		_, err := c.client.DoJSON(ctx, http.MethodPatch, setURL+pred+query, body, nil, c.headers)
		return err
	})
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return c.Execute(ctx, create)
	}
	return err
}

// GetSchema reads the entity type behind the entity set from $metadata.
func (c *ODataConnector) GetSchema(ctx context.Context, locator string) (core.Schema, error) {
	metaURL := c.settings.BaseURL + "/$metadata" + odata.Query(nil, "", 0, c.extraParams())
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}
	headers["Accept"] = "application/xml"

	var resp *clients.Response
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.client.Do(ctx, &clients.Request{Method: http.MethodGet, URL: metaURL, Headers: headers})
		return err
	})
	if err != nil {
		return nil, err
	}
	meta, err := parseMetadata(resp.Body)
	if err != nil {
		return nil, err
	}
	return meta.schema(locator)
}

// Close releases idle connections
func (c *ODataConnector) Close(_ context.Context) error {
	return c.BaseConnector.Close(c.client.Close)
}
