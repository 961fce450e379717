package source

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
	"github.com/johndauphine/mysql-bq-replicate/internal/util"
)

// CoerceRow converts one scanned MySQL row into target field values.
// Values arrive either typed (time.Time under parseTime, int64 over the
// binary protocol) or as []byte over the text protocol, so every branch
// handles both. A value that cannot be coerced fails the row; the
// extractor surfaces that as a chunk error.
func CoerceRow(cols []schema.Column, row []any) ([]bigquery.Value, error) {
	if len(row) != len(cols) {
		return nil, fmt.Errorf("row has %d values, schema has %d columns", len(row), len(cols))
	}

	out := make([]bigquery.Value, len(row))
	for i, v := range row {
		cv, err := coerceValue(&cols[i], v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cols[i].Name, err)
		}
		out[i] = cv
	}
	return out, nil
}

func coerceValue(col *schema.Column, v any) (bigquery.Value, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case bigquery.BooleanFieldType:
		return coerceBool(v)
	case bigquery.IntegerFieldType:
		return coerceInt(v)
	case bigquery.FloatFieldType:
		return coerceFloat(v)
	case bigquery.NumericFieldType:
		return coerceNumeric(v)
	case bigquery.StringFieldType:
		return coerceString(v)
	case bigquery.BytesFieldType:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		return nil, fmt.Errorf("want bytes, got %T", v)
	case bigquery.TimestampFieldType:
		return coerceTimestamp(v)
	case bigquery.DateFieldType:
		return coerceDate(v)
	case bigquery.TimeFieldType:
		return coerceTime(v)
	default:
		return nil, fmt.Errorf("no coercion for field type %s", col.Type)
	}
}

func coerceBool(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case []byte:
		// tinyint(1) and bit(1) both land here over the text protocol;
		// bit(1) carries a raw 0x00/0x01 byte, tinyint a decimal string.
		if len(t) == 1 && (t[0] == 0x00 || t[0] == 0x01) {
			return t[0] == 0x01, nil
		}
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing bool %q: %w", t, err)
		}
		return n != 0, nil
	default:
		return nil, fmt.Errorf("want bool, got %T", v)
	}
}

func coerceInt(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing integer %q: %w", t, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("want integer, got %T", v)
	}
}

func coerceFloat(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing float %q: %w", t, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("want float, got %T", v)
	}
}

func coerceNumeric(v any) (bigquery.Value, error) {
	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return nil, fmt.Errorf("want decimal, got %T", v)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("parsing decimal %q", s)
	}
	return r, nil
}

func coerceString(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case []byte:
		return util.StripNullBytes(string(t)), nil
	case string:
		return util.StripNullBytes(t), nil
	default:
		return nil, fmt.Errorf("want string, got %T", v)
	}
}

func coerceTimestamp(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		ts, err := parseMySQLDateTime(string(t))
		if err != nil {
			return nil, err
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("want timestamp, got %T", v)
	}
}

func coerceDate(v any) (bigquery.Value, error) {
	switch t := v.(type) {
	case time.Time:
		return civil.DateOf(t), nil
	case []byte:
		d, err := civil.ParseDate(string(t))
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", t, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("want date, got %T", v)
	}
}

// coerceTime handles MySQL TIME, which the driver always returns as
// text. MySQL TIME ranges beyond a clock day; values outside 00:00:00
// to 23:59:59 cannot be represented and fail the row.
func coerceTime(v any) (bigquery.Value, error) {
	b, ok := v.([]byte)
	if !ok {
		if s, isStr := v.(string); isStr {
			b = []byte(s)
		} else {
			return nil, fmt.Errorf("want time, got %T", v)
		}
	}
	ct, err := civil.ParseTime(string(b))
	if err != nil {
		return nil, fmt.Errorf("parsing time %q: %w", b, err)
	}
	return ct, nil
}

// parseMySQLDateTime parses the text-protocol DATETIME format, with or
// without fractional seconds, as UTC.
func parseMySQLDateTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing datetime %q", s)
}
