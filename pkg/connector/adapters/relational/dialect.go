package relational

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/errors"
)

// Supported dialects
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// dialect builds the SQL that differs between databases.
type dialect struct {
	name string
	// quoteChar encloses identifiers
	quoteChar string
}

func dialectFor(name string) (dialect, error) {
	switch strings.ToLower(name) {
	case DialectPostgres, "postgresql", "pgx":
		return dialect{name: DialectPostgres, quoteChar: `"`}, nil
	case DialectMySQL, "mariadb":
		return dialect{name: DialectMySQL, quoteChar: "`"}, nil
	}
	return dialect{}, errors.Newf(errors.ErrorTypeConfig, "unsupported dialect %q", name)
}

// quote quotes a possibly schema-qualified identifier.
func (d dialect) quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quoteChar + strings.ReplaceAll(p, d.quoteChar, d.quoteChar+d.quoteChar) + d.quoteChar
	}
	return strings.Join(parts, ".")
}

func (d dialect) placeholder(i int) string {
	if d.name == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// upsert returns a single-row insert that updates the non-key columns when a
// row with the same key exists. Without keys it is a plain insert.
func (d dialect) upsert(table string, columns, keys []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.quote(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quote(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.placeholder(i + 1))
	}
	b.WriteString(")")

	if len(keys) == 0 {
		return b.String()
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[strings.ToLower(k)] = true
	}
	var updates []string
	for _, c := range columns {
		if isKey[strings.ToLower(c)] {
			continue
		}
		q := d.quote(c)
		if d.name == DialectPostgres {
			updates = append(updates, q+" = EXCLUDED."+q)
		} else {
			updates = append(updates, q+" = VALUES("+q+")")
		}
	}

	if d.name == DialectPostgres {
		quotedKeys := make([]string, len(keys))
		for i, k := range keys {
			quotedKeys[i] = d.quote(k)
		}
		b.WriteString(" ON CONFLICT (")
		b.WriteString(strings.Join(quotedKeys, ", "))
		if len(updates) == 0 {
			b.WriteString(") DO NOTHING")
		} else {
			b.WriteString(") DO UPDATE SET ")
			b.WriteString(strings.Join(updates, ", "))
		}
		return b.String()
	}

	if len(updates) == 0 {
		// MySQL has no DO NOTHING; a self-assignment keeps the statement idempotent
		k := d.quote(keys[0])
		updates = append(updates, k+" = "+k)
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	b.WriteString(strings.Join(updates, ", "))
	return b.String()
}

// selectAll reads a whole table
func (d dialect) selectAll(table string) string {
	return "SELECT * FROM " + d.quote(table)
}

// columnsQuery reads column metadata from information_schema. The schema
// argument may be empty to use the connection's current schema.
func (d dialect) columnsQuery(schema string) string {
	if d.name == DialectPostgres {
		schemaExpr := "current_schema()"
		if schema != "" {
			schemaExpr = "$2"
		}
		return `SELECT column_name, data_type, udt_name,
			COALESCE(numeric_precision, character_maximum_length, 0),
			COALESCE(numeric_scale, 0)
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = ` + schemaExpr + `
		ORDER BY ordinal_position`
	}
	schemaExpr := "DATABASE()"
	if schema != "" {
		schemaExpr = "?"
	}
	return `SELECT column_name, data_type, column_type,
			COALESCE(numeric_precision, character_maximum_length, 0),
			COALESCE(numeric_scale, 0)
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = ` + schemaExpr + `
		ORDER BY ordinal_position`
}

// splitTable separates an optional schema qualifier from a table name.
func splitTable(table string) (schema, name string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
