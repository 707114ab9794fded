package internal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// schemaRef is one "$ref" found in a document.
type schemaRef struct {
	Ref     string
	KeyPath string // dotted path of the object holding the $ref
	File    string // empty for references into the same document
	Pointer string
}

func (r schemaRef) external() bool { return r.File != "" }

// collectRefs returns every string value of a "$ref" key in node, ordered by key path.
func collectRefs(node any) []schemaRef {
	var refs []schemaRef
	var walk func(v any, path string)
	walk = func(v any, path string) {
		switch x := v.(type) {
		case map[string]any:
			if ref, ok := x["$ref"].(string); ok {
				file, pointer := parseRef(ref)
				refs = append(refs, schemaRef{Ref: ref, KeyPath: joinPath(path, "$ref"), File: file, Pointer: pointer})
			}
			for _, key := range sortedKeys(x) {
				if key == "$ref" {
					continue
				}
				walk(x[key], joinPath(path, key))
			}
		case []any:
			for i, item := range x {
				walk(item, joinPath(path, strconv.Itoa(i)))
			}
		}
	}
	walk(node, "")
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].KeyPath < refs[j].KeyPath })
	return refs
}

// parseRef parses a $ref value into file path and JSON pointer components
// Examples:
//   - "#/$defs/id" -> "", "/$defs/id"
//   - "./common.json" -> "./common.json", ""
//   - "./common.json#/$defs/address" -> "./common.json", "/$defs/address"
func parseRef(ref string) (filePath string, jsonPointer string) {
	if idx := strings.Index(ref, "#"); idx != -1 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

// resolveJSONPointer resolves a JSON pointer (RFC 6901) against a document
func resolveJSONPointer(doc any, pointer string) (any, error) {
	if pointer == "" || pointer == "/" {
		return doc, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("unsupported pointer %q: anchors are not resolved", pointer)
	}

	current := doc
	for _, part := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")

		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", part)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid array index: %s", part)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index out of bounds: %d", idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T", current)
		}
	}
	return current, nil
}

// definitionName returns the last pointer segment when the pointer addresses a
// definition ("/definitions/Contact" or "/$defs/Contact").
func definitionName(pointer string) string {
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	if len(parts) == 2 && (parts[0] == "definitions" || parts[0] == "$defs") {
		return strings.ReplaceAll(strings.ReplaceAll(parts[1], "~1", "/"), "~0", "~")
	}
	return ""
}
