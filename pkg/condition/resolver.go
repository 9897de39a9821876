// Package condition resolves field paths in an event context and evaluates rule conditions.
package condition

import (
	"strconv"
	"strings"

	"github.com/dukex/orgflow/pkg/models"
)

// Resolver looks up a dotted field path.
type Resolver interface {
	Resolve(path string) (any, bool)
}

// MapResolver resolves paths against nested maps and slices.
// A numeric segment indexes into a slice.
type MapResolver map[string]any

func (m MapResolver) Resolve(path string) (any, bool) {
	return Resolve(m, path)
}

// Resolve walks path through data. A missing segment, a nil value, or a
// segment that cannot be applied to the current value reports not found.
func Resolve(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for segment := range strings.SplitSeq(path, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}

		current = next
	}

	if current == nil {
		return nil, false
	}

	return current, true
}

func step(current any, segment string) (any, bool) {
	switch value := current.(type) {
	case map[string]any:
		next, ok := value[segment]

		return next, ok
	case models.EventContext:
		next, ok := value[segment]

		return next, ok
	case MapResolver:
		next, ok := value[segment]

		return next, ok
	case map[string]string:
		next, ok := value[segment]

		return next, ok
	case []any:
		return at(value, segment)
	case []map[string]any:
		return at(value, segment)
	case []string:
		return at(value, segment)
	default:
		return nil, false
	}
}

func at[T any](items []T, segment string) (any, bool) {
	i, err := strconv.Atoi(segment)
	if err != nil || i < 0 || i >= len(items) {
		return nil, false
	}

	return items[i], true
}
