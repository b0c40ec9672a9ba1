package transform

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// coerce converts the text-form value the server sent for a column into a
// typed Go value, per the catalog-reported type name. Protocol version 1
// always sends values in text form, so every coercion starts from a string;
// the error return is reserved for values that genuinely fail to parse
// against their reported type — an offending column should not be silently
// dropped to its raw string.
func coerce(typeName string, raw string) (any, error) {
	switch {
	case isIntegerType(typeName):
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil

	case isTimestampType(typeName):
		return parseTimestamp(raw)

	case isJSONType(typeName):
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil

	case isNumericType(typeName):
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		return v, nil

	default:
		return raw, nil
	}
}

func isIntegerType(typeName string) bool {
	switch typeName {
	case "integer", "bigint", "smallint":
		return true
	default:
		return false
	}
}

func isTimestampType(typeName string) bool {
	return strings.HasPrefix(typeName, "timestamp")
}

func isJSONType(typeName string) bool {
	return typeName == "json" || typeName == "jsonb"
}

func isNumericType(typeName string) bool {
	return strings.HasPrefix(typeName, "numeric")
}

// pgTimestampLayouts covers the text forms format_type'd "timestamp with
// time zone" and "timestamp without time zone" columns are sent in, with
// and without a fractional-seconds component.
var pgTimestampLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range pgTimestampLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
