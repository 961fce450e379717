package schema

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// ErrUnsupportedType is returned when a source column type has no BigQuery
// mapping. Unknown types are never silently mapped to STRING: that would hide
// data-quality regressions behind a lossy default.
var ErrUnsupportedType = errors.New("unsupported source type")

// baseTypeMap maps MySQL base type names to BigQuery field types.
// Special cases (tinyint(1), bit) are handled before this lookup.
var baseTypeMap = map[string]bigquery.FieldType{
	// Integer types. Unsigned variants are handled by suffix stripping.
	"tinyint":   bigquery.IntegerFieldType,
	"smallint":  bigquery.IntegerFieldType,
	"mediumint": bigquery.IntegerFieldType,
	"int":       bigquery.IntegerFieldType,
	"integer":   bigquery.IntegerFieldType,
	"bigint":    bigquery.IntegerFieldType,
	"year":      bigquery.IntegerFieldType,

	// Floating point and exact numeric types.
	"float":   bigquery.FloatFieldType,
	"double":  bigquery.FloatFieldType,
	"real":    bigquery.FloatFieldType,
	"decimal": bigquery.NumericFieldType,
	"numeric": bigquery.NumericFieldType,

	// String types.
	"char":       bigquery.StringFieldType,
	"varchar":    bigquery.StringFieldType,
	"tinytext":   bigquery.StringFieldType,
	"text":       bigquery.StringFieldType,
	"mediumtext": bigquery.StringFieldType,
	"longtext":   bigquery.StringFieldType,
	"enum":       bigquery.StringFieldType,
	"set":        bigquery.StringFieldType,

	// JSON goes to STRING rather than the native JSON type: source columns
	// often hold fragments that BigQuery's JSON parser rejects.
	"json": bigquery.StringFieldType,

	// Temporal types. datetime and timestamp both carry a time component,
	// date does not; the split follows the source declaration.
	"date":      bigquery.DateFieldType,
	"time":      bigquery.TimeFieldType,
	"datetime":  bigquery.TimestampFieldType,
	"timestamp": bigquery.TimestampFieldType,

	// Binary types.
	"binary":     bigquery.BytesFieldType,
	"varbinary":  bigquery.BytesFieldType,
	"tinyblob":   bigquery.BytesFieldType,
	"blob":       bigquery.BytesFieldType,
	"mediumblob": bigquery.BytesFieldType,
	"longblob":   bigquery.BytesFieldType,

	"boolean": bigquery.BooleanFieldType,
	"bool":    bigquery.BooleanFieldType,
}

// MapType converts a full MySQL column type (as reported by
// information_schema COLUMN_TYPE, e.g. "tinyint(1)", "varchar(64)",
// "bigint unsigned") to its BigQuery field type. The mapping is total and
// deterministic; unrecognized descriptors return ErrUnsupportedType naming
// the offending type.
func MapType(columnType string) (bigquery.FieldType, error) {
	full := strings.ToLower(strings.TrimSpace(columnType))
	if full == "" {
		return "", fmt.Errorf("%w: empty column type", ErrUnsupportedType)
	}

	base, width := splitType(full)

	// tinyint(1) is MySQL's boolean idiom; wider tinyints are real integers.
	if base == "tinyint" && width == 1 {
		return bigquery.BooleanFieldType, nil
	}

	// bit(1) carries a single flag; wider bit fields are opaque bit strings.
	if base == "bit" {
		if width <= 1 {
			return bigquery.BooleanFieldType, nil
		}
		return bigquery.BytesFieldType, nil
	}

	if t, ok := baseTypeMap[base]; ok {
		return t, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, columnType)
}

// splitType splits "varchar(64) unsigned" into base type and display width.
// Width is 0 when the type carries none.
func splitType(full string) (base string, width int) {
	base = full
	if idx := strings.IndexByte(full, '('); idx >= 0 {
		base = full[:idx]
		rest := full[idx+1:]
		if end := strings.IndexByte(rest, ')'); end >= 0 {
			// decimal(10,2) has two numbers; only the first matters here.
			num := rest[:end]
			if comma := strings.IndexByte(num, ','); comma >= 0 {
				num = num[:comma]
			}
			fmt.Sscanf(num, "%d", &width)
		}
	}
	// Strip modifiers such as "unsigned" and "zerofill".
	if idx := strings.IndexByte(base, ' '); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(base)
	return base, width
}
