package internal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Annotation keywords that do not change what a schema accepts.
var annotationKeywords = map[string]bool{
	"title":       true,
	"description": true,
	"examples":    true,
	"default":     true,
	"$comment":    true,
	"deprecated":  true,
	"readOnly":    true,
	"writeOnly":   true,
}

// canonicalShape strips annotations and extension keys so structurally equal
// schemas compare equal.
func canonicalShape(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if annotationKeywords[key] || strings.HasPrefix(key, "x-") {
				continue
			}
			if schemaMapKeywords[key] {
				if props, ok := val.(map[string]any); ok {
					m := make(map[string]any, len(props))
					for name, sub := range props {
						m[name] = canonicalShape(sub)
					}
					out[key] = m
					continue
				}
			}
			out[key] = canonicalShape(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = canonicalShape(item)
		}
		return out
	default:
		return node
	}
}

// shapeFingerprint hashes the canonical shape of a schema node.
func shapeFingerprint(node any) string {
	// encoding/json sorts map keys, so the encoding is canonical.
	encoded, err := json.Marshal(canonicalShape(node))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(encoded))
}

// schemaTypeNames returns the "type" keyword as a list.
func schemaTypeNames(node map[string]any) ([]string, error) {
	switch t := node["type"].(type) {
	case nil:
		return nil, nil
	case string:
		if !knownSchemaTypes[t] {
			return nil, fmt.Errorf("unsupported type %q", t)
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok || !knownSchemaTypes[s] {
				return nil, fmt.Errorf("unsupported type %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("type must be a string or an array of strings, got %T", t)
	}
}

var knownSchemaTypes = map[string]bool{
	"string": true, "integer": true, "number": true, "boolean": true,
	"array": true, "object": true, "null": true,
}

// nonNullTypes drops "null" from a type list.
func nonNullTypes(types []string) []string {
	out := types[:0:0]
	for _, t := range types {
		if t != "null" {
			out = append(out, t)
		}
	}
	return out
}

// mergeAllOf folds the properties and required lists of allOf members into node.
func mergeAllOf(node map[string]any) map[string]any {
	members, ok := node["allOf"].([]any)
	if !ok {
		return node
	}
	merged := make(map[string]any, len(node))
	for k, v := range node {
		if k != "allOf" {
			merged[k] = v
		}
	}
	props := map[string]any{}
	if own, ok := node["properties"].(map[string]any); ok {
		for k, v := range own {
			props[k] = v
		}
	}
	var required []any
	if own, ok := node["required"].([]any); ok {
		required = append(required, own...)
	}
	for _, m := range members {
		member, ok := m.(map[string]any)
		if !ok {
			continue
		}
		member = mergeAllOf(member)
		if p, ok := member["properties"].(map[string]any); ok {
			for k, v := range p {
				if _, exists := props[k]; !exists {
					props[k] = v
				}
			}
		}
		if r, ok := member["required"].([]any); ok {
			required = append(required, r...)
		}
		if _, ok := merged["type"]; !ok {
			if t, ok := member["type"]; ok {
				merged["type"] = t
			}
		}
	}
	if len(props) > 0 {
		merged["properties"] = props
	}
	if len(required) > 0 {
		merged["required"] = required
	}
	return merged
}

// requiredSet reads the "required" keyword.
func requiredSet(node map[string]any) map[string]bool {
	out := map[string]bool{}
	list, _ := node["required"].([]any)
	for _, item := range list {
		if s, ok := item.(string); ok {
			out[s] = true
		}
	}
	return out
}
