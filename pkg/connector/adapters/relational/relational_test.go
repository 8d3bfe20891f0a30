package relational

import (
	"context"
	"fmt"
	"testing"

	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDialectFor(t *testing.T) {
	d, err := dialectFor("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d.name)

	d, err = dialectFor("mariadb")
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, d.name)

	_, err = dialectFor("oracle")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestQuote(t *testing.T) {
	pg, _ := dialectFor(DialectPostgres)
	my, _ := dialectFor(DialectMySQL)

	assert.Equal(t, `"sales"."orders"`, pg.quote("sales.orders"))
	assert.Equal(t, `"we""ird"`, pg.quote(`we"ird`))
	assert.Equal(t, "`orders`", my.quote("orders"))
}

func TestUpsert(t *testing.T) {
	pg, _ := dialectFor(DialectPostgres)
	my, _ := dialectFor(DialectMySQL)
	cols := []string{"id", "name", "qty"}

	tests := []struct {
		name string
		d    dialect
		keys []string
		cols []string
		want string
	}{
		{
			name: "postgres update",
			d:    pg,
			keys: []string{"id"},
			cols: cols,
			want: `INSERT INTO "orders" ("id", "name", "qty") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "qty" = EXCLUDED."qty"`,
		},
		{
			name: "postgres all keys",
			d:    pg,
			keys: []string{"ID"},
			cols: []string{"id"},
			want: `INSERT INTO "orders" ("id") VALUES ($1) ON CONFLICT ("ID") DO NOTHING`,
		},
		{
			name: "postgres plain insert",
			d:    pg,
			cols: []string{"id"},
			want: `INSERT INTO "orders" ("id") VALUES ($1)`,
		},
		{
			name: "mysql update",
			d:    my,
			keys: []string{"id"},
			cols: cols,
			want: "INSERT INTO `orders` (`id`, `name`, `qty`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `name` = VALUES(`name`), `qty` = VALUES(`qty`)",
		},
		{
			name: "mysql all keys",
			d:    my,
			keys: []string{"id"},
			cols: []string{"id"},
			want: "INSERT INTO `orders` (`id`) VALUES (?) ON DUPLICATE KEY UPDATE `id` = `id`",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.upsert("orders", tt.cols, tt.keys))
		})
	}
}

func TestColumnsQuery(t *testing.T) {
	pg, _ := dialectFor(DialectPostgres)
	assert.Contains(t, pg.columnsQuery(""), "current_schema()")
	assert.Contains(t, pg.columnsQuery("sales"), "table_schema = $2")

	my, _ := dialectFor(DialectMySQL)
	assert.Contains(t, my.columnsQuery(""), "DATABASE()")

	schema, table := splitTable("sales.orders")
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", table)
	schema, table = splitTable("orders")
	assert.Empty(t, schema)
	assert.Equal(t, "orders", table)
}

// fakeDatabase records statements and fails exec for configured first values.
type fakeDatabase struct {
	columnsOut []string
	rowsOut    [][]any
	schemaOut  core.Schema

	batchErr error
	failOn   map[any]bool

	execs   []string
	batches int
	written [][]any
}

func (f *fakeDatabase) query(context.Context, string, ...any) ([]string, [][]any, error) {
	return f.columnsOut, f.rowsOut, nil
}

func (f *fakeDatabase) exec(_ context.Context, stmt string, args ...any) error {
	f.execs = append(f.execs, stmt)
	if len(args) > 0 && f.failOn[args[0]] {
		return fmt.Errorf("constraint violation")
	}
	if len(args) > 0 {
		f.written = append(f.written, args)
	}
	return nil
}

func (f *fakeDatabase) execBatch(_ context.Context, _ string, argLists [][]any) error {
	f.batches++
	if f.batchErr != nil {
		return f.batchErr
	}
	f.written = append(f.written, argLists...)
	return nil
}

func (f *fakeDatabase) columns(context.Context, string, ...any) (core.Schema, error) {
	return f.schemaOut, nil
}

func (f *fakeDatabase) close() {}

func newTestConnector(t *testing.T, settings map[string]string, db database) *Connector {
	t.Helper()
	inst := &models.AdapterInstance{
		InstanceID:  uuid.New(),
		Name:        "orders-db",
		AdapterType: models.AdapterRelationalPoll,
		Settings:    settings,
	}
	s := Settings{Dialect: DialectPostgres, EmptyAsNull: true}
	bc, err := base.NewBaseConnector(inst, zaptest.NewLogger(t), &s)
	require.NoError(t, err)
	d, err := dialectFor(s.Dialect)
	require.NoError(t, err)
	return newConnector(bc, s, d, db)
}

func TestReadStagesRowsAndCommits(t *testing.T) {
	ctx := context.Background()
	db := &fakeDatabase{
		columnsOut: []string{"id", "name"},
		rowsOut:    [][]any{{int32(1), "A"}, {int32(2), "B"}},
	}
	c := newTestConnector(t, map[string]string{
		"dsn":                  "postgres://localhost/test",
		"query":                "SELECT id, name FROM orders WHERE exported = false",
		"after_poll_statement": "UPDATE orders SET exported = true",
	}, db)

	batches, err := c.Read(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.False(t, batches[0].IsRaw())
	assert.Equal(t, []string{"id", "name"}, batches[0].Columns)
	assert.Len(t, batches[0].Rows, 2)

	require.NotNil(t, batches[0].Commit)
	require.NoError(t, batches[0].Commit(ctx))
	assert.Equal(t, []string{"UPDATE orders SET exported = true"}, db.execs)
}

func TestReadEmptyResult(t *testing.T) {
	c := newTestConnector(t, map[string]string{"dsn": "postgres://localhost/test"}, &fakeDatabase{})
	batches, err := c.Read(context.Background(), "orders")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestWriteBatch(t *testing.T) {
	db := &fakeDatabase{}
	c := newTestConnector(t, map[string]string{"dsn": "postgres://localhost/test", "key_columns": "id"}, db)

	cols := []string{"id", "name"}
	records := []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"2", ""}),
	}
	res, err := c.Write(context.Background(), "orders", cols, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, db.batches)
	require.Len(t, db.written, 2)
	assert.Nil(t, db.written[1][1], "empty values are written as NULL")
}

func TestWriteFallsBackToSingleRows(t *testing.T) {
	db := &fakeDatabase{
		batchErr: fmt.Errorf("duplicate key"),
		failOn:   map[any]bool{"2": true},
	}
	c := newTestConnector(t, map[string]string{
		"dsn":            "postgres://localhost/test",
		"key_columns":    "id",
		"retry_attempts": "1",
	}, db)

	cols := []string{"id", "name"}
	records := []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"2", "B"}),
		models.RecordFromValues(cols, []string{"3", "C"}),
	}
	res, err := c.Write(context.Background(), "orders", cols, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Contains(t, res.Failed, 1)
	assert.True(t, errors.IsType(res.Failed[1], errors.ErrorTypeDeliveryFailed))
	assert.Len(t, db.written, 2)
}

func TestGetSchemaNotFound(t *testing.T) {
	c := newTestConnector(t, map[string]string{"dsn": "postgres://localhost/test"}, &fakeDatabase{schemaOut: core.Schema{}})
	_, err := c.GetSchema(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRegistered(t *testing.T) {
	info, ok := registry.GetRegistry().Info(models.AdapterRelationalPoll)
	require.True(t, ok)
	assert.True(t, info.SupportsRead)
	assert.True(t, info.SupportsWrite)
}
