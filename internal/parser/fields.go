package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
)

// Property keys shared by the built-in parsers.
const (
	PropTimestampColumn = "ts_col_name"
	PropTimestampParser = "ts_parser"
	PropSeparator       = "separator"
)

var avroPrimitives = map[string]struct{}{
	"string": {}, "bytes": {}, "int": {}, "long": {},
	"float": {}, "double": {}, "boolean": {},
}

// flatten lowercases keys and joins nested object keys with sep.
func flatten(prefix string, in map[string]any, sep string, out map[string]any) {
	for k, v := range in {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + sep + key
		}

		if nested, ok := v.(map[string]any); ok {
			if inner, unwrapped := unwrapUnion(nested); unwrapped {
				out[key] = inner
				continue
			}
			flatten(key, nested, sep, out)
			continue
		}
		out[key] = v
	}
}

// unwrapUnion returns the value of a single-branch Avro union of a primitive type.
func unwrapUnion(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for k, v := range m {
		if _, ok := avroPrimitives[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// formatValue renders a decoded value as a column string.
func formatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case []byte:
		return string(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x), true
		}
		return string(b), true
	}
}

// Epoch timestamps must fall within 0001-01-01 and 9999-12-31T23:59:59Z.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// timestampParser converts a raw timestamp field to a time.
type timestampParser func(raw any) (time.Time, error)

// newTimestampParser returns the parser selected by the ts_parser property:
// "ms" (epoch milliseconds, default), "s" (epoch seconds) or a Go time layout.
func newTimestampParser(props parser.Properties) timestampParser {
	mode := props.Get(PropTimestampParser, "ms")
	switch mode {
	case "ms", "s":
		perSecond := int64(1000)
		if mode == "s" {
			perSecond = 1
		}
		return func(raw any) (time.Time, error) {
			n, err := toInt64(raw)
			if err != nil {
				return time.Time{}, err
			}
			if n < minEpochSeconds*perSecond || n > (maxEpochSeconds+1)*perSecond-1 {
				return time.Time{}, fmt.Errorf("epoch %s %d is outside years 0001-9999", mode, n)
			}
			if perSecond == 1 {
				return time.Unix(n, 0).UTC(), nil
			}
			return time.UnixMilli(n).UTC(), nil
		}
	default:
		return func(raw any) (time.Time, error) {
			s, ok := formatValue(raw)
			if !ok {
				return time.Time{}, fmt.Errorf("empty timestamp")
			}
			t, err := time.Parse(mode, s)
			if err != nil {
				return time.Time{}, err
			}
			return t.UTC(), nil
		}
	}
}

func toInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return floatToInt64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("timestamp %v out of range", f)
	}
	return int64(f), nil
}

// extractTimestamp reads the timestamp field from fields. A missing field
// yields the zero time; an unparsable one rejects the payload.
func extractTimestamp(fields map[string]any, column string, parse timestampParser) (time.Time, error) {
	raw, ok := fields[strings.ToLower(column)]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	ts, err := parse(raw)
	if err != nil {
		return time.Time{}, errors.Reject("invalid timestamp in %s: %v", column, err)
	}
	return ts, nil
}

func mapLookup(fields map[string]any) func(string) (string, bool) {
	return func(column string) (string, bool) {
		return formatValue(fields[strings.ToLower(column)])
	}
}
