package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseSchemaBytes decodes a JSON or YAML schema document. The format is picked
// from the file extension; unknown extensions are read as JSON.
func parseSchemaBytes(path string, data []byte) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML %s: %w", path, err)
		}
		// Re-encode so numbers and maps have the same shapes as decoded JSON.
		encoded, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("convert YAML %s: %w", path, err)
		}
		data = encoded
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		if pos := jsonErrorPosition(data, err); pos != "" {
			return nil, fmt.Errorf("parse JSON %s:%s: %w", path, pos, err)
		}
		return nil, fmt.Errorf("parse JSON %s: %w", path, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: top level must be an object", path)
	}
	return obj, nil
}

func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// documentCache loads schema files once per operation. It is never shared
// between operations, so the registry itself holds no mutable state.
type documentCache struct {
	docs map[string]map[string]any
}

func newDocumentCache() *documentCache {
	return &documentCache{docs: make(map[string]map[string]any)}
}

func (c *documentCache) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	if cached, ok := c.docs[absPath]; ok {
		return cached, nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	doc, err := parseSchemaBytes(path, data)
	if err != nil {
		return nil, err
	}
	c.docs[absPath] = doc
	return doc, nil
}
