package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// legacyTimeLayouts are the timestamp shapes found in the legacy database:
// SQLite's datetime('now'), PHP's date('Y-m-d H:i:s') and ISO 8601 variants.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Coerce converts a value read from the legacy database into the Go value
// the target column type expects. nil always passes through; empty strings
// become nil for every non-text type.
func (c Column) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && c.Type != Text {
		v = string(b)
	}
	if s, ok := v.(string); ok && c.Type != Text && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch c.Type {
	case UUID:
		s, ok := v.(string)
		if !ok {
			return nil, c.mismatch(v)
		}
		return s, nil
	case Text:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case time.Time:
			return t.UTC().Format(time.RFC3339), nil
		}
		return fmt.Sprint(v), nil
	case Int:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, c.mismatch(v)
			}
			return int64(t), nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, c.mismatch(v)
			}
			return n, nil
		}
	case Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		case float64:
			return t != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "1", "t", "true", "y", "yes", "on":
				return true, nil
			case "0", "f", "false", "n", "no", "off":
				return false, nil
			}
		}
	case Real:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, c.mismatch(v)
			}
			return f, nil
		}
	case Timestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case int64:
			return time.Unix(t, 0).UTC(), nil
		case float64:
			sec, frac := math.Modf(t)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range legacyTimeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC(), nil
				}
			}
		}
	}
	return nil, c.mismatch(v)
}

func (c Column) mismatch(v any) error {
	return fmt.Errorf("column %s: cannot use %T value %q as %s", c.Name, v, fmt.Sprint(v), c.Type)
}
