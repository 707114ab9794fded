package internal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lychee-technology/metaeditor"
)

// defNameKey records the definition a subschema was inlined from, so the
// generator can name the resulting type after it.
const defNameKey = "x-def-name"

// keywords whose value is a map of name -> subschema
var schemaMapKeywords = map[string]bool{
	"properties":        true,
	"patternProperties": true,
	"dependentSchemas":  true,
}

// keywords whose value is a subschema or an array of subschemas
var subschemaKeywords = map[string]bool{
	"items":                 true,
	"additionalItems":       true,
	"additionalProperties":  true,
	"unevaluatedItems":      true,
	"unevaluatedProperties": true,
	"propertyNames":         true,
	"contains":              true,
	"not":                   true,
	"if":                    true,
	"then":                  true,
	"else":                  true,
	"contentSchema":         true,
	"allOf":                 true,
	"anyOf":                 true,
	"oneOf":                 true,
	"prefixItems":           true,
}

// schemaInliner replaces every $ref in a document with the schema it points to.
type schemaInliner struct {
	registry  *FileSchemaRegistry
	rootName  string
	cache     *documentCache
	resolving map[string]bool
	chain     []string
}

func newSchemaInliner(registry *FileSchemaRegistry, rootName string, cache *documentCache) *schemaInliner {
	return &schemaInliner{
		registry:  registry,
		rootName:  rootName,
		cache:     cache,
		resolving: make(map[string]bool),
	}
}

// inlineFile loads a schema file and returns the fully inlined version
func (s *schemaInliner) inlineFile(filePath string) (map[string]any, error) {
	doc, err := s.cache.load(filePath)
	if err != nil {
		return nil, metaeditor.NewSchemaInvalidError(s.rootName, filePath, "", err.Error())
	}
	result, err := s.inlineSchema(doc, filePath, "")
	if err != nil {
		return nil, err
	}
	delete(result, "$id")
	return result, nil
}

func (s *schemaInliner) inlineNode(node any, currentFile, keyPath string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		return s.inlineSchema(v, currentFile, keyPath)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			inlined, err := s.inlineNode(item, currentFile, joinPath(keyPath, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = inlined
		}
		return out, nil
	default:
		return node, nil
	}
}

// inlineSchema processes one schema object. Sibling keywords of a $ref are
// merged over the referenced schema.
func (s *schemaInliner) inlineSchema(obj map[string]any, currentFile, keyPath string) (map[string]any, error) {
	result := make(map[string]any, len(obj))
	defName := ""
	if ref, ok := obj["$ref"].(string); ok {
		resolved, name, err := s.resolveRef(ref, currentFile, joinPath(keyPath, "$ref"))
		if err != nil {
			return nil, err
		}
		for k, v := range resolved {
			result[k] = v
		}
		defName = name
	}

	for key, value := range obj {
		switch {
		case key == "$ref" || key == "$schema" || key == "$defs" || key == "definitions":
			continue
		case strings.HasPrefix(key, "x-"):
			continue
		case schemaMapKeywords[key]:
			m, ok := value.(map[string]any)
			if !ok {
				result[key] = value
				continue
			}
			out := make(map[string]any, len(m))
			for name, sub := range m {
				inlined, err := s.inlineNode(sub, currentFile, joinPath(keyPath, key, name))
				if err != nil {
					return nil, err
				}
				out[name] = inlined
			}
			result[key] = out
		case subschemaKeywords[key]:
			inlined, err := s.inlineNode(value, currentFile, joinPath(keyPath, key))
			if err != nil {
				return nil, err
			}
			result[key] = inlined
		default:
			result[key] = value
		}
	}

	if defName != "" {
		if _, ok := result[defNameKey]; !ok {
			result[defNameKey] = defName
		}
	}
	return result, nil
}

// resolveRef loads and inlines the target of ref. It returns the inlined target
// and the definition name it was found under, if any.
func (s *schemaInliner) resolveRef(ref, currentFile, keyPath string) (map[string]any, string, error) {
	file, pointer := parseRef(ref)
	targetFile := currentFile
	if file != "" {
		targetFile, _ = s.registry.refTarget(currentFile, "", file)
	}

	cycleKey := absPath(targetFile) + "#" + pointer
	s.chain = append(s.chain, ref)
	defer func() { s.chain = s.chain[:len(s.chain)-1] }()
	if s.resolving[cycleKey] {
		return nil, "", metaeditor.NewReferenceCycleError(s.rootName, append([]string(nil), s.chain...))
	}
	s.resolving[cycleKey] = true
	defer delete(s.resolving, cycleKey)

	doc, err := s.cache.load(targetFile)
	if err != nil {
		return nil, "", metaeditor.NewUnresolvedReferenceError(s.registry.label(currentFile), s.registry.label(targetFile), ref, keyPath).
			WithCause(err)
	}
	node, err := resolveJSONPointer(doc, pointer)
	if err != nil {
		return nil, "", metaeditor.NewUnresolvedReferenceError(s.registry.label(currentFile), s.registry.label(targetFile)+"#"+pointer, ref, keyPath).
			WithCause(err)
	}

	var target map[string]any
	switch v := node.(type) {
	case map[string]any:
		target = v
	case bool:
		if v {
			return map[string]any{}, "", nil
		}
		return map[string]any{"not": map[string]any{}}, "", nil
	default:
		return nil, "", metaeditor.NewSchemaInvalidError(s.rootName, targetFile, keyPath,
			fmt.Sprintf("$ref %q points at a %T, not a schema", ref, node))
	}

	inlined, err := s.inlineSchema(target, targetFile, keyPath)
	if err != nil {
		return nil, "", err
	}
	delete(inlined, "$id")
	return inlined, definitionName(pointer), nil
}
