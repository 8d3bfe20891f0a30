// Package debatch splits raw batch payloads into individual records and
// fingerprints them for change detection.
package debatch

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSeparator is the ASCII unit separator. It does not occur in ordinary
// text, so values may contain commas, tabs and semicolons.
const DefaultSeparator = "\x1f"

// Options controls how a raw payload is split.
type Options struct {
	// Separator splits fields within a line. Empty selects DefaultSeparator.
	Separator string
	// HeaderAware treats the first non-empty line as column names.
	HeaderAware bool
	// TolerateRowShape pads short rows and truncates long ones instead of failing.
	TolerateRowShape bool
	// Logger receives row-shape warnings. Nil discards them.
	Logger *zap.Logger
}

// DefaultOptions returns header-aware, strict options using DefaultSeparator.
func DefaultOptions() Options {
	return Options{Separator: DefaultSeparator, HeaderAware: true}
}

func (o Options) separator() string {
	if o.Separator == "" {
		return DefaultSeparator
	}
	return o.Separator
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Debatch splits raw into column names and one record per non-empty line.
//
// Row-shape mismatches fail with ErrorTypeMalformedPayload unless
// TolerateRowShape is set. Input that cannot be parsed at all (invalid UTF-8,
// NUL bytes, an unusable header) always fails.
func Debatch(raw []byte, opts Options) ([]string, []models.Record, error) {
	if !utf8.Valid(raw) {
		return nil, nil, errors.New(errors.ErrorTypeMalformedPayload, "payload is not valid UTF-8")
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return nil, nil, errors.New(errors.ErrorTypeMalformedPayload, "payload contains NUL bytes")
	}

	sep := opts.separator()
	log := opts.logger()

	var (
		columns []string
		records []models.Record
	)

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		lineNo := i + 1
		line = strings.TrimSuffix(line, "\r")
		if blank(line, sep) {
			continue
		}
		fields := strings.Split(line, sep)

		if columns == nil {
			if opts.HeaderAware {
				cols, err := headerColumns(fields)
				if err != nil {
					return nil, nil, err.WithDetail("line", lineNo)
				}
				columns = cols
				continue
			}
			columns = positionalColumns(len(fields))
		}

		if len(fields) != len(columns) {
			if !opts.TolerateRowShape {
				return nil, nil, errors.Newf(errors.ErrorTypeMalformedPayload,
					"line %d has %d fields, expected %d", lineNo, len(fields), len(columns)).
					WithDetail("line", lineNo)
			}
			log.Warn("row shape mismatch",
				zap.Int("line", lineNo),
				zap.Int("fields", len(fields)),
				zap.Int("expected", len(columns)))
			fields = reshape(fields, len(columns))
		}

		records = append(records, models.RecordFromValues(columns, fields))
	}

	if columns == nil {
		columns = []string{}
	}
	return columns, records, nil
}

// blank reports whether line carries no record. A line holding the separator
// is a record even when every field is empty, which matters when the
// separator is itself whitespace.
func blank(line, sep string) bool {
	if line == "" {
		return true
	}
	return !strings.Contains(line, sep) && strings.TrimSpace(line) == ""
}

func headerColumns(fields []string) ([]string, *errors.Error) {
	seen := make(map[string]struct{}, len(fields))
	cols := make([]string, len(fields))
	for i, f := range fields {
		name := strings.TrimSpace(f)
		if name == "" {
			return nil, errors.Newf(errors.ErrorTypeMalformedPayload, "header column %d is empty", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, errors.Newf(errors.ErrorTypeMalformedPayload, "duplicate header column %q", name)
		}
		seen[key] = struct{}{}
		cols[i] = name
	}
	return cols, nil
}

func positionalColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = "column_" + strconv.Itoa(i+1)
	}
	return cols
}

func reshape(fields []string, n int) []string {
	if len(fields) > n {
		return fields[:n]
	}
	out := make([]string, n)
	copy(out, fields)
	return out
}

// FromResultSet converts a polled query result into records. Values are
// rendered to their string form; nil becomes the empty string.
func FromResultSet(columns []string, rows [][]any) ([]models.Record, error) {
	if _, err := headerColumns(columns); err != nil {
		return nil, err
	}
	records := make([]models.Record, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.Newf(errors.ErrorTypeMalformedPayload,
				"result row %d has %d values, expected %d", i+1, len(row), len(columns))
		}
		values := make([]string, len(row))
		for j, v := range row {
			values[j] = FormatValue(v)
		}
		records = append(records, models.RecordFromValues(columns, values))
	}
	return records, nil
}

// FormatValue renders a driver value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case [16]byte:
		return uuid.UUID(x).String()
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(x)
		}
		if _, nested := dv.(driver.Valuer); nested {
			return fmt.Sprint(dv)
		}
		return FormatValue(dv)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Render is the inverse of Debatch: a header line followed by one line per
// record. Values containing the separator or a line break are rejected.
func Render(columns []string, records []models.Record, separator string) ([]byte, error) {
	if separator == "" {
		separator = DefaultSeparator
	}
	var buf bytes.Buffer
	writeLine := func(values []string) error {
		for i, v := range values {
			if strings.Contains(v, separator) || strings.ContainsAny(v, "\r\n") {
				return errors.Newf(errors.ErrorTypeValidation,
					"value %q cannot be written with separator %q", v, separator)
			}
			if i > 0 {
				buf.WriteString(separator)
			}
			buf.WriteString(v)
		}
		buf.WriteByte('\n')
		return nil
	}

	if err := writeLine(columns); err != nil {
		return nil, err
	}
	for _, r := range records {
		values := make([]string, len(columns))
		for i, c := range columns {
			values[i] = r.Values[c]
		}
		if err := writeLine(values); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var separatorNames = map[string]string{
	"unit":      DefaultSeparator,
	"tab":       "\t",
	"comma":     ",",
	"semicolon": ";",
	"pipe":      "|",
}

// ParseSeparator resolves a configured separator. It accepts a name (tab,
// comma, semicolon, pipe, unit), a Go escape sequence such as `\x1f` or a
// literal string. Empty selects DefaultSeparator.
func ParseSeparator(s string) (string, error) {
	if s == "" {
		return DefaultSeparator, nil
	}
	if sep, ok := separatorNames[strings.ToLower(s)]; ok {
		return sep, nil
	}
	if strings.Contains(s, `\`) {
		unquoted, err := strconv.Unquote(`"` + s + `"`)
		if err != nil {
			return "", errors.Newf(errors.ErrorTypeConfig, "invalid separator %q", s)
		}
		s = unquoted
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", errors.New(errors.ErrorTypeConfig, "separator must not contain a line break")
	}
	return s, nil
}
