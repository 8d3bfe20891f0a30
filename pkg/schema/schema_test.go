package schema

import (
	"context"
	"testing"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCompareExtraTargetColumnIsCompatible(t *testing.T) {
	source := core.Schema{
		"id":   {DataType: "int"},
		"name": {DataType: "text"},
	}
	target := core.Schema{
		"id":        {DataType: "int"},
		"name":      {DataType: "text"},
		"createdAt": {DataType: "date"},
	}

	res := Compare(source, target)
	assert.Empty(t, res.MissingInTarget)
	assert.Equal(t, []string{"createdAt"}, res.MissingInSource)
	assert.Empty(t, res.TypeMismatches)
	assert.True(t, res.IsCompatible())
}

func TestCompareCaseInsensitiveAndCategories(t *testing.T) {
	source := core.Schema{
		"ID":      {DataType: "integer"},
		"Amount":  {DataType: "numeric(10,2)"},
		"Created": {DataType: "text"},
		"Extra":   {DataType: "text"},
	}
	target := core.Schema{
		"id":      {DataType: "bigint"},
		"amount":  {DataType: "Edm.Decimal", Precision: 18, Scale: 4},
		"created": {DataType: "timestamp with time zone"},
	}

	res := Compare(source, target)
	assert.Equal(t, []string{"Extra"}, res.MissingInTarget)
	assert.Empty(t, res.MissingInSource)
	require.Len(t, res.TypeMismatches, 1)
	assert.Equal(t, "Created", res.TypeMismatches[0].Column)
	assert.Equal(t, Text, res.TypeMismatches[0].SourceCategory)
	assert.Equal(t, DateTime, res.TypeMismatches[0].TargetCategory)
	assert.False(t, res.IsCompatible())
}

func TestCategory(t *testing.T) {
	cases := map[string]TypeCategory{
		"VARCHAR(255)":      Text,
		"character varying": Text,
		"Edm.String":        Text,
		"int unsigned":      Numeric,
		"double precision":  Numeric,
		"MoneyType":         Numeric,
		"DateTimeType":      DateTime,
		"timestamptz":       DateTime,
		"tinyint(1)":        Numeric,
		"Edm.Boolean":       Boolean,
		"jsonb":             JSON,
		"bytea":             Binary,
		"geometry":          TypeCategory("geometry"),
		TypeTimestamp:       DateTime,
		TypeDecimal:         Numeric,
	}
	for in, want := range cases {
		assert.Equal(t, want, Category(in), in)
	}
}

func TestInferColumn(t *testing.T) {
	assert.Equal(t, TypeInteger, InferColumn([]string{"1", "", "42"}))
	assert.Equal(t, TypeDecimal, InferColumn([]string{"1", "2.5"}))
	assert.Equal(t, TypeBoolean, InferColumn([]string{"true", "No"}))
	assert.Equal(t, TypeDate, InferColumn([]string{"2024-01-31"}))
	assert.Equal(t, TypeTimestamp, InferColumn([]string{"2024-01-31T10:00:00Z", "2024-01-31 10:00:00"}))
	assert.Equal(t, TypeJSON, InferColumn([]string{`{"a":1}`}))
	assert.Equal(t, TypeText, InferColumn([]string{"1", "x"}))
	assert.Equal(t, TypeText, InferColumn(nil))
}

func TestInferSchema(t *testing.T) {
	cols := []string{"id", "name"}
	recs := []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"2", "B"}),
	}
	s := InferSchema(cols, recs)
	assert.Equal(t, TypeInteger, s["id"].DataType)
	assert.Equal(t, TypeText, s["name"].DataType)
}

type schemaAdapter struct {
	core.Adapter
	schema core.Schema
}

func (a schemaAdapter) GetSchema(context.Context, string) (core.Schema, error) { return a.schema, nil }

func TestReconcile(t *testing.T) {
	r := NewReconciler(zaptest.NewLogger(t))
	res, err := r.Reconcile(context.Background(),
		schemaAdapter{schema: core.Schema{"id": {DataType: "integer"}}}, "in",
		schemaAdapter{schema: core.Schema{"ID": {DataType: "int8"}}}, "out")
	require.NoError(t, err)
	assert.True(t, res.IsCompatible())
}
