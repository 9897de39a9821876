package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", v)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to boolean", v)
		}

		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}

		return time.Time{}, fmt.Errorf("cannot convert %q to date", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to date", value)
	}
}

// looseEqual compares numbers numerically and everything else by its string form.
func looseEqual(a, b any) bool {
	if fa, err := toFloat(a); err == nil {
		if fb, err := toFloat(b); err == nil {
			return fa == fb
		}
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}
