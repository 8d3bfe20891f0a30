// Package crm implements the CRM Web API connectors. Both authenticate with
// OAuth2 client credentials; crm reads an entity set with $select/$filter,
// crm-fetch reads with a fetchXml query. Writes upsert by alternate key.
package crm

import (
	"context"
	"fmt"
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
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

var settingNames = []string{"base_url", "token_url", "client_id", "client_secret", "scopes", "select", "filter", "fetch_xml", "page_size", "max_pages", "key_columns", "numeric_key_columns", "empty_as_null"}

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterCRM,
		Description:   "Reads and upserts CRM entity sets over the Web API",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      settingNames,
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return New(ctx, inst, logger)
	})
	registry.Register(core.Info{
		Type:          models.AdapterCRMFetch,
		Description:   "Reads CRM records with a fetchXml query and upserts over the Web API",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      settingNames,
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return New(ctx, inst, logger)
	})
}

// Settings configures both CRM connectors
type Settings struct {
	config.ConnectorConfig `mapstructure:",squash"`
	clients.OAuth2Config   `mapstructure:",squash"`

	// BaseURL is the Web API root, e.g. https://org.example.com/api/data/v9.2
	BaseURL string `mapstructure:"base_url"`

	Select []string `mapstructure:"select"`
	Filter string   `mapstructure:"filter"`
	// FetchXML is the query used by crm-fetch
	FetchXML string `mapstructure:"fetch_xml"`
	PageSize int    `mapstructure:"page_size"`
	MaxPages int    `mapstructure:"max_pages"`

	// KeyColumns name the alternate key used to upsert; without keys records are created
	KeyColumns        []string `mapstructure:"key_columns"`
	NumericKeyColumns []string `mapstructure:"numeric_key_columns"`
	EmptyAsNull       bool     `mapstructure:"empty_as_null"`
}

// Connector talks to one CRM organization
type Connector struct {
	*base.BaseConnector
	settings Settings
	client   *clients.HTTPClient
	headers  map[string]string
	numeric  map[string]bool
}

// New creates a crm or crm-fetch connector
func New(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (*Connector, error) {
	s := Settings{PageSize: 5000, EmptyAsNull: true}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	if s.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "base_url is required")
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if !s.OAuth2Config.Enabled() {
		return nil, errors.New(errors.ErrorTypeConfig, "token_url, client_id and client_secret are required")
	}
	if err := s.OAuth2Config.Validate(); err != nil {
		return nil, err
	}
	if inst.AdapterType == models.AdapterCRMFetch && inst.Role != models.RoleDestination && s.FetchXML == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "fetch_xml is required for crm-fetch sources")
	}
	if s.PageSize < 0 || s.MaxPages < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "page_size and max_pages must not be negative")
	}

	hc := clients.NewHTTPClient(bc.HTTPConfig(), bc.GetLogger())
	raw := hc.HTTP()
	inner := *raw
	raw.Transport = clients.NewOAuth2Transport(context.WithoutCancel(ctx), s.OAuth2Config, &inner)

	numeric := make(map[string]bool, len(s.NumericKeyColumns))
	for _, k := range s.NumericKeyColumns {
		numeric[strings.ToLower(k)] = true
	}
	headers := map[string]string{
		"Accept":           "application/json",
		"OData-MaxVersion": "4.0",
		"OData-Version":    "4.0",
	}
	if s.PageSize > 0 {
		headers["Prefer"] = fmt.Sprintf("odata.maxpagesize=%d", s.PageSize)
	}

	return &Connector{BaseConnector: bc, settings: s, client: hc, headers: headers, numeric: numeric}, nil
}

// SupportsRead reports true
func (c *Connector) SupportsRead() bool { return true }

// SupportsWrite reports true
func (c *Connector) SupportsWrite() bool { return true }

func (c *Connector) get(ctx context.Context, u string) (*clients.Response, error) {
	var resp *clients.Response
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.client.Do(ctx, &clients.Request{Method: http.MethodGet, URL: u, Headers: c.headers})
		return err
	})
	return resp, err
}

// fetchAnnotations carries the paging state of a fetchXml response
type fetchAnnotations struct {
	MoreRecords  bool   `json:"@Microsoft.Dynamics.CRM.morerecords"`
	PagingCookie string `json:"@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"`
}

// Read returns every record of the entity set named by locator as one batch.
func (c *Connector) Read(ctx context.Context, locator string) ([]*core.Batch, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "an entity set locator is required")
	}
	var (
		entities []map[string]any
		err      error
	)
	if c.Type() == models.AdapterCRMFetch {
		entities, err = c.readFetch(ctx, locator)
	} else {
		entities, err = c.readQuery(ctx, locator)
	}
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	columns := odata.Columns(c.settings.Select, entities)
	return []*core.Batch{{Locator: locator, Columns: columns, Rows: odata.Rows(columns, entities)}}, nil
}

func (c *Connector) readQuery(ctx context.Context, entitySet string) ([]map[string]any, error) {
	next := c.settings.BaseURL + "/" + entitySet + odata.Query(c.settings.Select, c.settings.Filter, 0, nil)
	var entities []map[string]any
	for pages := 0; next != ""; pages++ {
		if c.settings.MaxPages > 0 && pages >= c.settings.MaxPages {
			c.GetLogger().Warn("max_pages reached", zap.String("entity_set", entitySet))
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
	return entities, nil
}

// readFetch pages a fetchXml query using the paging cookie the service
// returns with each page.
func (c *Connector) readFetch(ctx context.Context, entitySet string) ([]map[string]any, error) {
	var entities []map[string]any
	cookie := ""
	for page := 1; ; page++ {
		if c.settings.MaxPages > 0 && page > c.settings.MaxPages {
			c.GetLogger().Warn("max_pages reached", zap.String("entity_set", entitySet))
			break
		}
		fetch, err := pageFetchXML(c.settings.FetchXML, page, c.settings.PageSize, cookie)
		if err != nil {
			return nil, err
		}
		u := c.settings.BaseURL + "/" + entitySet + "?fetchXml=" + url.QueryEscape(fetch)
		resp, err := c.get(ctx, u)
		if err != nil {
			return nil, err
		}
		p, err := odata.ParsePage(resp.Body)
		if err != nil {
			return nil, err
		}
		entities = append(entities, p.Entities...)

		var ann fetchAnnotations
		if err := json.Unmarshal(resp.Body, &ann); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid fetchXml response")
		}
		if !ann.MoreRecords {
			break
		}
		if cookie, err = pagingCookie(ann.PagingCookie); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// Write upserts records with PATCH entityset(key='value'); the service
// creates the record when the alternate key does not match.
func (c *Connector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "an entity set locator is required")
	}
	result := core.NewDeliveryResult(len(records))
	setURL := c.settings.BaseURL + "/" + locator

	for i, r := range records {
		err := c.upsert(ctx, setURL, columns, r)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, err
		}
		result.Fail(i, errors.Wrap(err, errors.ErrorTypeDeliveryFailed, "record upsert failed").
			WithDetail("entity_set", locator))
	}
	return result, nil
}

func (c *Connector) upsert(ctx context.Context, setURL string, columns []string, r models.Record) error {
	method, target := http.MethodPost, setURL
	skip := []string(nil)
	if len(c.settings.KeyColumns) > 0 {
		pred, err := odata.KeyPredicate(c.settings.KeyColumns, c.numeric, true, r)
		if err != nil {
			return err
		}
		method, target, skip = http.MethodPatch, setURL+pred, c.settings.KeyColumns
	}
	body := odata.Body(columns, r, skip, c.settings.EmptyAsNull)
	return c.Execute(ctx, func(ctx context.Context) error {
		_, err := c.client.DoJSON(ctx, method, target, body, nil, c.headers)
		return err
	})
}

type attributeMetadata struct {
	LogicalName       string `json:"LogicalName"`
	AttributeType     string `json:"AttributeType"`
	AttributeTypeName struct {
		Value string `json:"Value"`
	} `json:"AttributeTypeName"`
}

type entityMetadata struct {
	Value []struct {
		LogicalName string              `json:"LogicalName"`
		Attributes  []attributeMetadata `json:"Attributes"`
	} `json:"value"`
}

// GetSchema reads the attribute metadata of the entity behind locator.
func (c *Connector) GetSchema(ctx context.Context, locator string) (core.Schema, error) {
	filter := "EntitySetName eq " + odata.Literal(locator, false)
	u := c.settings.BaseURL + "/EntityDefinitions?$select=LogicalName&$filter=" + url.QueryEscape(filter) +
		"&$expand=" + url.QueryEscape("Attributes($select=LogicalName,AttributeType,AttributeTypeName)")

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var meta entityMetadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid entity metadata")
	}
	if len(meta.Value) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "entity set %s not found", locator)
	}

	out := core.Schema{}
	for _, a := range meta.Value[0].Attributes {
		native := a.AttributeTypeName.Value
		if native == "" {
			native = a.AttributeType
		}
		out[a.LogicalName] = core.ColumnSchema{DataType: a.AttributeType, NativeType: native}
	}
	return out, nil
}

// Close releases idle connections
func (c *Connector) Close(_ context.Context) error {
	return c.BaseConnector.Close(c.client.Close)
}
