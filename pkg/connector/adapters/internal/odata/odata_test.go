package odata

import (
	"net/url"
	"testing"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageV4(t *testing.T) {
	body := []byte(`{"@odata.context":"x","value":[{"id":12345678901234567890,"name":"A","@odata.etag":"W/1"}],"@odata.nextLink":"Orders?$skiptoken=1"}`)
	p, err := ParsePage(body)
	require.NoError(t, err)
	require.Len(t, p.Entities, 1)
	assert.Equal(t, "Orders?$skiptoken=1", p.Next)
	assert.Equal(t, json.Number("12345678901234567890"), p.Entities[0]["id"])
	assert.Equal(t, []string{"id", "name"}, Columns(nil, p.Entities))
}

func TestParsePageV2(t *testing.T) {
	p, err := ParsePage([]byte(`{"d":{"results":[{"__metadata":{"uri":"u"},"Id":"1"}],"__next":"https://erp/Orders?$skiptoken=2"}}`))
	require.NoError(t, err)
	require.Len(t, p.Entities, 1)
	assert.Equal(t, "https://erp/Orders?$skiptoken=2", p.Next)
	assert.Equal(t, []string{"Id"}, Columns(nil, p.Entities))

	p, err = ParsePage([]byte(`{"d":[{"Id":"1"},{"Id":"2"}]}`))
	require.NoError(t, err)
	assert.Len(t, p.Entities, 2)
	assert.Empty(t, p.Next)

	_, err = ParsePage([]byte(`<html>`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedPayload))
}

func TestRowsFlattensNestedValues(t *testing.T) {
	entities := []map[string]any{
		{"id": "1", "tags": []any{"a", "b"}, "nav": map[string]any{"__deferred": map[string]any{"uri": "x"}}},
		{"id": "2"},
	}
	rows := Rows([]string{"id", "tags", "nav"}, entities)
	assert.Equal(t, []any{"1", `["a","b"]`, nil}, rows[0])
	assert.Equal(t, []any{"2", nil, nil}, rows[1])
}

func TestKeyPredicate(t *testing.T) {
	r := models.RecordFromValues([]string{"Order", "Item", "Name"}, []string{"O'1", "10", "x"})

	p, err := KeyPredicate([]string{"Order"}, nil, false, r)
	require.NoError(t, err)
	assert.Equal(t, "('O''1')", p)

	p, err = KeyPredicate([]string{"Order"}, nil, true, r)
	require.NoError(t, err)
	assert.Equal(t, "(Order='O''1')", p)

	p, err = KeyPredicate([]string{"Order", "Item"}, map[string]bool{"item": true}, false, r)
	require.NoError(t, err)
	assert.Equal(t, "(Order='O''1',Item=10)", p)

	_, err = KeyPredicate([]string{"Missing"}, nil, false, r)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBody(t *testing.T) {
	cols := []string{"id", "name", "note"}
	r := models.RecordFromValues(cols, []string{"1", "A", ""})
	assert.Equal(t, map[string]any{"name": "A", "note": nil}, Body(cols, r, []string{"ID"}, true))
	assert.Equal(t, map[string]any{"id": "1", "name": "A", "note": ""}, Body(cols, r, nil, false))
}

func TestQuery(t *testing.T) {
	q := Query([]string{"id", "name"}, "status eq 'open'", 100, url.Values{"$format": {"json"}})
	assert.Contains(t, q, "$select=id%2Cname")
	assert.Contains(t, q, "$filter=status+eq+%27open%27")
	assert.Contains(t, q, "$top=100")
	assert.Contains(t, q, "$format=json")
	assert.Empty(t, Query(nil, "", 0, nil))
}

func TestResolve(t *testing.T) {
	u, err := Resolve("https://erp/sap/opu/odata/svc/Orders?$top=10", "Orders?$skiptoken=10")
	require.NoError(t, err)
	assert.Equal(t, "https://erp/sap/opu/odata/svc/Orders?$skiptoken=10", u)

	u, err = Resolve("https://erp/svc/Orders", "https://other/next")
	require.NoError(t, err)
	assert.Equal(t, "https://other/next", u)
}

func TestKeyPredicateEscapesPathCharacters(t *testing.T) {
	r := models.RecordFromValues([]string{"id"}, []string{"a/b c"})
	p, err := KeyPredicate([]string{"id"}, nil, false, r)
	require.NoError(t, err)
	assert.Equal(t, "('a%2Fb%20c')", p)
}
