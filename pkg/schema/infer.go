package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/goccy/go-json"
)

// Inferred type names, chosen so Category maps each to the matching category
const (
	TypeBoolean   = "boolean"
	TypeInteger   = "integer"
	TypeDecimal   = "decimal"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeJSON      = "json"
	TypeText      = "text"
)

var (
	dateLayouts      = []string{"2006-01-02", "02.01.2006", "01/02/2006", "20060102"}
	timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999"}
)

// InferColumn infers the narrowest type that every non-empty sample parses
// as. Columns with no non-empty samples are text.
func InferColumn(values []string) string {
	candidates := []string{TypeBoolean, TypeInteger, TypeDecimal, TypeDate, TypeTimestamp, TypeJSON}
	seen := false
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen = true
		kept := candidates[:0]
		for _, c := range candidates {
			if matches(c, v) {
				kept = append(kept, c)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return TypeText
		}
	}
	if !seen {
		return TypeText
	}
	return candidates[0]
}

func matches(typ, v string) bool {
	switch typ {
	case TypeBoolean:
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no":
			return true
		}
		return false
	case TypeInteger:
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	case TypeDecimal:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	case TypeDate:
		return parses(dateLayouts, v)
	case TypeTimestamp:
		return parses(timestampLayouts, v)
	case TypeJSON:
		return (strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[")) && json.Valid([]byte(v))
	}
	return false
}

func parses(layouts []string, v string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, v); err == nil {
			return true
		}
	}
	return false
}

// InferSchema infers a schema from sample records.
func InferSchema(columns []string, records []models.Record) core.Schema {
	out := make(core.Schema, len(columns))
	for _, c := range columns {
		values := make([]string, 0, len(records))
		for _, r := range records {
			values = append(values, r.Values[c])
		}
		out[c] = core.ColumnSchema{DataType: InferColumn(values)}
	}
	return out
}
