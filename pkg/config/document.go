package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadDocument reads a rule, workflow or context file and returns it as JSON.
// Files ending in .yaml or .yml are converted; anything else is returned as read.
func ReadDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLToJSON(data)
	default:
		return data, nil
	}
}

// YAMLToJSON converts a YAML document to its JSON form.
func YAMLToJSON(data []byte) ([]byte, error) {
	var document any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	normalized, err := normalize(document)
	if err != nil {
		return nil, err
	}

	return json.Marshal(normalized)
}

// normalize rejects non-string map keys, which JSON cannot carry.
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}

			v[key] = normalized
		}

		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported YAML key %v of type %T", key, key)
			}

			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}

			out[name] = normalized
		}

		return out, nil
	case []any:
		for i, item := range v {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}

			v[i] = normalized
		}

		return v, nil
	default:
		return v, nil
	}
}
