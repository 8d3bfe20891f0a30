// Package relational implements the relational-poll connector. Sources run a
// query and stage its result set; destinations upsert records by key so
// redelivery does not duplicate rows.
package relational

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterRelationalPoll,
		Description:   "Polls a SQL query and upserts into tables (PostgreSQL, MySQL)",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      []string{"dialect", "dsn", "query", "after_poll_statement", "key_columns", "empty_as_null", "max_conns"},
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return Open(ctx, inst, logger)
	})
}

// Settings configures the connector
type Settings struct {
	config.ConnectorConfig `mapstructure:",squash"`

	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
	// Query overrides "SELECT * FROM <locator>" for reads
	Query string `mapstructure:"query"`
	// AfterPollStatement runs once the polled rows are staged, e.g. to flag them exported
	AfterPollStatement string `mapstructure:"after_poll_statement"`
	// KeyColumns identify a row for upserts
	KeyColumns []string `mapstructure:"key_columns"`
	// EmptyAsNull writes empty values as NULL
	EmptyAsNull bool `mapstructure:"empty_as_null"`
	MaxConns    int  `mapstructure:"max_conns"`
}

// Connector reads from and writes to a relational database
type Connector struct {
	*base.BaseConnector
	settings Settings
	dialect  dialect
	db       database
}

// Open decodes the settings and connects to the database.
func Open(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (*Connector, error) {
	s := Settings{Dialect: DialectPostgres, EmptyAsNull: true}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	d, err := dialectFor(s.Dialect)
	if err != nil {
		return nil, err
	}
	if s.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dsn is required")
	}

	var db database
	switch d.name {
	case DialectPostgres:
		db, err = openPostgres(ctx, s.DSN, s.MaxConns)
	default:
		db, err = openMySQL(s.DSN, s.MaxConns)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to open database")
	}

	if inst.Role == models.RoleDestination && len(s.KeyColumns) == 0 {
		bc.GetLogger().Warn("no key_columns configured; redelivered records will be inserted again")
	}
	return newConnector(bc, s, d, db), nil
}

func newConnector(bc *base.BaseConnector, s Settings, d dialect, db database) *Connector {
	return &Connector{BaseConnector: bc, settings: s, dialect: d, db: db}
}

// SupportsRead reports true
func (c *Connector) SupportsRead() bool { return true }

// SupportsWrite reports true
func (c *Connector) SupportsWrite() bool { return true }

// Read runs the configured query, or selects the whole locator table. An
// empty result yields no batch.
func (c *Connector) Read(ctx context.Context, locator string) ([]*core.Batch, error) {
	stmt := c.settings.Query
	if stmt == "" {
		if locator == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "either query or a table locator is required")
		}
		stmt = c.dialect.selectAll(locator)
	}

	var columns []string
	var rows [][]any
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		columns, rows, err = c.db.query(ctx, stmt)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "poll query failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	batch := &core.Batch{Locator: locator, Columns: columns, Rows: rows}
	if c.settings.AfterPollStatement != "" {
		batch.Commit = func(ctx context.Context) error {
			if err := c.db.exec(ctx, c.settings.AfterPollStatement); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnectivity, "after_poll_statement failed")
			}
			return nil
		}
	}
	return []*core.Batch{batch}, nil
}

func (c *Connector) args(columns []string, r models.Record) []any {
	args := make([]any, len(columns))
	for i, col := range columns {
		v := r.Values[col]
		if v == "" && c.settings.EmptyAsNull {
			args[i] = nil
			continue
		}
		args[i] = v
	}
	return args
}

// Write upserts all records in one transaction. When the transaction fails
// the records are retried one by one so a single bad row does not hold back
// the others.
func (c *Connector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a table locator is required for writes")
	}
	result := core.NewDeliveryResult(len(records))
	if len(records) == 0 {
		return result, nil
	}

	stmt := c.dialect.upsert(locator, columns, c.settings.KeyColumns)
	argLists := make([][]any, len(records))
	for i, r := range records {
		argLists[i] = c.args(columns, r)
	}

	err := c.Execute(ctx, func(ctx context.Context) error {
		if err := c.db.execBatch(ctx, stmt, argLists); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDeliveryFailed, "batch upsert failed")
		}
		return nil
	})
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	c.GetLogger().Warn("batch upsert failed, retrying rows individually",
		zap.String("table", locator), zap.Int("records", len(records)), zap.Error(err))
	for i, args := range argLists {
		if err := c.db.exec(ctx, stmt, args...); err != nil {
			result.Fail(i, errors.Wrap(err, errors.ErrorTypeDeliveryFailed, fmt.Sprintf("upsert into %s failed", locator)))
		}
	}
	return result, nil
}

// GetSchema reads the locator table's columns from information_schema.
func (c *Connector) GetSchema(ctx context.Context, locator string) (core.Schema, error) {
	if locator == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a table locator is required for schema discovery")
	}
	schemaName, table := splitTable(locator)
	args := []any{table}
	if schemaName != "" {
		args = append(args, schemaName)
	}

	var out core.Schema
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.db.columns(ctx, c.dialect.columnsQuery(schemaName), args...)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read column metadata")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "table %s not found", locator)
	}
	return out, nil
}

// Close closes the connection pool
func (c *Connector) Close(_ context.Context) error {
	return c.BaseConnector.Close(func() error {
		c.db.close()
		return nil
	})
}
