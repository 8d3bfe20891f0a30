// Package schema compares the columns a source produces with the columns a
// destination accepts, so incompatibilities surface before data flows.
package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"go.uber.org/zap"
)

// TypeCategory groups data types that convert into each other without loss
// of meaning. Precision and scale are ignored.
type TypeCategory string

// Type categories
const (
	Numeric  TypeCategory = "numeric"
	Text     TypeCategory = "text"
	DateTime TypeCategory = "datetime"
	Boolean  TypeCategory = "boolean"
	Binary   TypeCategory = "binary"
	JSON     TypeCategory = "json"
)

var categories = map[string]TypeCategory{}

func init() {
	register := func(c TypeCategory, names ...string) {
		for _, n := range names {
			categories[n] = c
		}
	}
	register(Numeric, "int", "integer", "smallint", "bigint", "tinyint", "mediumint", "int2", "int4", "int8",
		"serial", "bigserial", "smallserial", "decimal", "numeric", "number", "float", "float4", "float8",
		"double", "double precision", "real", "money", "smallmoney",
		"int16", "int32", "int64", "byte", "sbyte", "single", "bigint", "picklist", "state", "status")
	register(Text, "text", "char", "character", "varchar", "character varying", "nchar", "nvarchar",
		"string", "clob", "nclob", "ntext", "tinytext", "mediumtext", "longtext", "citext", "enum", "uuid",
		"uniqueidentifier", "guid", "memo", "lookup", "owner", "customer", "entityname", "xml")
	register(DateTime, "date", "time", "datetime", "datetime2", "smalldatetime", "datetimeoffset", "timestamp",
		"timestamptz", "timestamp with time zone", "timestamp without time zone", "time with time zone",
		"time without time zone", "timetz", "year", "interval", "timeofday", "duration")
	register(Boolean, "bool", "boolean", "bit", "twooptions")
	register(Binary, "bytea", "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary", "image", "stream")
	register(JSON, "json", "jsonb")
}

// Category maps a native or inferred type name to its category. Parameters
// ("varchar(20)"), array markers and the OData "Edm." prefix are ignored.
// Unknown names form their own category.
func Category(dataType string) TypeCategory {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i] + t[strings.LastIndexByte(t, ')')+1:])
	}
	t = strings.TrimPrefix(t, "edm.")
	t = strings.TrimSuffix(t, "type")
	t = strings.TrimSpace(strings.TrimSuffix(t, " unsigned"))
	if c, ok := categories[t]; ok {
		return c
	}
	return TypeCategory(t)
}

// Mismatch is a column present on both sides with different categories.
type Mismatch struct {
	Column         string       `json:"column"`
	SourceType     string       `json:"source_type"`
	TargetType     string       `json:"target_type"`
	SourceCategory TypeCategory `json:"source_category"`
	TargetCategory TypeCategory `json:"target_category"`
}

// Result lists the differences between a source and a target schema.
type Result struct {
	MissingInTarget []string   `json:"missing_in_target"`
	MissingInSource []string   `json:"missing_in_source"`
	TypeMismatches  []Mismatch `json:"type_mismatches"`
}

// IsCompatible reports whether every source column exists in the target with
// a matching category. Columns only the target has are tolerated.
func (r Result) IsCompatible() bool {
	return len(r.MissingInTarget) == 0 && len(r.TypeMismatches) == 0
}

// Compare matches columns case-insensitively. Names are reported as spelled
// on the side that has them; all lists are sorted.
func Compare(source, target core.Schema) Result {
	targetByName := make(map[string]string, len(target))
	for name := range target {
		targetByName[strings.ToLower(name)] = name
	}
	sourceByName := make(map[string]string, len(source))
	for name := range source {
		sourceByName[strings.ToLower(name)] = name
	}

	res := Result{MissingInTarget: []string{}, MissingInSource: []string{}, TypeMismatches: []Mismatch{}}
	for name, col := range source {
		targetName, ok := targetByName[strings.ToLower(name)]
		if !ok {
			res.MissingInTarget = append(res.MissingInTarget, name)
			continue
		}
		tcol := target[targetName]
		sc, tc := Category(col.DataType), Category(tcol.DataType)
		if sc != tc {
			res.TypeMismatches = append(res.TypeMismatches, Mismatch{
				Column:         name,
				SourceType:     col.DataType,
				TargetType:     tcol.DataType,
				SourceCategory: sc,
				TargetCategory: tc,
			})
		}
	}
	for name := range target {
		if _, ok := sourceByName[strings.ToLower(name)]; !ok {
			res.MissingInSource = append(res.MissingInSource, name)
		}
	}

	sort.Strings(res.MissingInTarget)
	sort.Strings(res.MissingInSource)
	sort.Slice(res.TypeMismatches, func(i, j int) bool {
		return res.TypeMismatches[i].Column < res.TypeMismatches[j].Column
	})
	return res
}

// Reconciler fetches schemas from two adapters and compares them.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger.With(zap.String("component", "schema_reconciler"))}
}

// Reconcile reads both schemas and compares them.
func (r *Reconciler) Reconcile(ctx context.Context, source core.Adapter, sourceLocator string, target core.Adapter, targetLocator string) (Result, error) {
	srcSchema, err := source.GetSchema(ctx, sourceLocator)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read source schema")
	}
	dstSchema, err := target.GetSchema(ctx, targetLocator)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read target schema")
	}

	res := Compare(srcSchema, dstSchema)
	fields := []zap.Field{
		zap.Bool("compatible", res.IsCompatible()),
		zap.Strings("missing_in_target", res.MissingInTarget),
		zap.Strings("missing_in_source", res.MissingInSource),
		zap.Int("type_mismatches", len(res.TypeMismatches)),
	}
	if res.IsCompatible() {
		r.logger.Info("schemas compatible", fields...)
	} else {
		r.logger.Warn("schemas incompatible", fields...)
	}
	return res, nil
}
