// Package odata holds the OData JSON conventions shared by the ERP and CRM
// connectors: response paging in both the v2 and v4 shapes, flattening
// entities into rows, and key predicates for addressing one entity.
package odata

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	json "github.com/goccy/go-json"
)

// Page is one page of an entity set query.
type Page struct {
	Entities []map[string]any
	// Next is the absolute or relative link to the following page, empty on the last page
	Next string
}

type v4Page struct {
	Value    []map[string]any `json:"value"`
	NextLink string           `json:"@odata.nextLink"`
}

type v2Envelope struct {
	D json.RawMessage `json:"d"`
}

type v2Page struct {
	Results []map[string]any `json:"results"`
	Next    string           `json:"__next"`
}

// ParsePage decodes a collection response. The v4 form is
// {"value": [...], "@odata.nextLink": ...}; the v2 form is
// {"d": {"results": [...], "__next": ...}} or {"d": [...]}.
func ParsePage(body []byte) (*Page, error) {
	var env v2Envelope
	if err := decode(body, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid OData response")
	}

	if len(env.D) == 0 {
		var p v4Page
		if err := decode(body, &p); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid OData response")
		}
		return &Page{Entities: p.Value, Next: p.NextLink}, nil
	}

	trimmed := bytes.TrimSpace(env.D)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entities []map[string]any
		if err := decode(trimmed, &entities); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid OData v2 response")
		}
		return &Page{Entities: entities}, nil
	}
	var p v2Page
	if err := decode(trimmed, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid OData v2 response")
	}
	return &Page{Entities: p.Results, Next: p.Next}, nil
}

// decode keeps numbers as json.Number so large integers and decimals keep
// their exact text.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// annotation reports whether a property is service metadata rather than data.
func annotation(name string) bool {
	return name == "__metadata" || name == "__deferred" || strings.Contains(name, "@")
}

// Columns returns selected when non-empty, else the sorted union of data
// properties across entities.
func Columns(selected []string, entities []map[string]any) []string {
	if len(selected) > 0 {
		out := make([]string, len(selected))
		copy(out, selected)
		return out
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range entities {
		for k := range e {
			if annotation(k) || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Rows flattens entities into result set rows. Nested objects and arrays
// become JSON text; a missing property becomes nil.
func Rows(columns []string, entities []map[string]any) [][]any {
	rows := make([][]any, len(entities))
	for i, e := range entities {
		row := make([]any, len(columns))
		for j, c := range columns {
			switch v := e[c].(type) {
			case map[string]any:
				if _, deferred := v["__deferred"]; deferred {
					row[j] = nil
					continue
				}
				row[j] = marshalText(v)
			case []any:
				row[j] = marshalText(v)
			default:
				row[j] = v
			}
		}
		rows[i] = row
	}
	return rows
}

func marshalText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Literal formats a key value. Values listed as numeric are emitted bare,
// everything else as a quoted string literal.
func Literal(value string, numeric bool) string {
	if numeric {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// KeyPredicate addresses one entity, e.g. ('A1') or (Order='A1',Item=10).
// A single key is written with its name when named is set, as alternate keys
// require. It fails when a key column is empty.
func KeyPredicate(keys []string, numeric map[string]bool, named bool, r models.Record) (string, error) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := r.Get(k)
		if v == "" {
			return "", errors.Newf(errors.ErrorTypeValidation, "key column %q is empty", k)
		}
		// quotes are legal in a path; everything else unsafe is escaped
		lit := strings.ReplaceAll(url.PathEscape(Literal(v, numeric[strings.ToLower(k)])), "%27", "'")
		if len(keys) == 1 && !named {
			parts = append(parts, lit)
		} else {
			parts = append(parts, k+"="+lit)
		}
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// Body builds an entity payload from the record, leaving out skip columns.
// Empty values are sent as null when emptyAsNull is set.
func Body(columns []string, r models.Record, skip []string, emptyAsNull bool) map[string]any {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[strings.ToLower(s)] = true
	}
	body := make(map[string]any, len(columns))
	for _, c := range columns {
		if skipped[strings.ToLower(c)] {
			continue
		}
		v := r.Values[c]
		if v == "" && emptyAsNull {
			body[c] = nil
			continue
		}
		body[c] = v
	}
	return body
}

// Query builds the query string for an entity set read.
func Query(selectCols []string, filter string, top int, extra url.Values) string {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = vs
	}
	if len(selectCols) > 0 {
		q.Set("$select", strings.Join(selectCols, ","))
	}
	if filter != "" {
		q.Set("$filter", filter)
	}
	if top > 0 {
		q.Set("$top", fmt.Sprint(top))
	}
	if len(q) == 0 {
		return ""
	}
	// url.Values escapes $ in keys, which some gateways reject
	return "?" + strings.ReplaceAll(q.Encode(), "%24", "$")
}

// Resolve turns a next link into an absolute URL against base.
func Resolve(base, next string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid base url")
	}
	n, err := url.Parse(next)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid next link")
	}
	return b.ResolveReference(n).String(), nil
}
