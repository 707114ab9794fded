package metaeditor

import "fmt"

// Keywords whose value is a single subschema.
var subschemaKeywords = []string{
	"additionalItems", "additionalProperties", "contains", "propertyNames",
	"not", "if", "then", "else", "unevaluatedItems", "unevaluatedProperties",
}

// Keywords whose value maps names to subschemas.
var subschemaMapKeywords = []string{"properties", "patternProperties", "definitions", "$defs", "dependentSchemas"}

// Keywords whose value is a list of subschemas.
var subschemaListKeywords = []string{"allOf", "anyOf", "oneOf", "prefixItems"}

// upgradeDraft rewrites draft-04 and draft-07 keywords of node and every
// subschema into their draft 2020-12 equivalents, in place:
//
//	items: [...] (+ additionalItems)     -> prefixItems (+ items)
//	dependencies: {k: [...]}             -> dependentRequired
//	dependencies: {k: {...}}             -> dependentSchemas
//	exclusiveMinimum/Maximum: true       -> exclusiveMinimum/Maximum: <bound>
func upgradeDraft(schemaName string, node any, keyPath string) error {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	if list, ok := obj["items"].([]any); ok {
		if _, clash := obj["prefixItems"]; clash {
			return NewSchemaInvalidError(schemaName, "", joinKeyPath(keyPath, "items"), "items list cannot be combined with prefixItems")
		}
		obj["prefixItems"] = list
		delete(obj, "items")
		if extra, ok := obj["additionalItems"]; ok {
			obj["items"] = extra
			delete(obj, "additionalItems")
		}
	}

	if deps, ok := obj["dependencies"].(map[string]any); ok {
		required, _ := obj["dependentRequired"].(map[string]any)
		schemas, _ := obj["dependentSchemas"].(map[string]any)
		for _, key := range sortedKeys(deps) {
			switch dep := deps[key].(type) {
			case []any:
				if required == nil {
					required = map[string]any{}
				}
				required[key] = dep
			case map[string]any, bool:
				if schemas == nil {
					schemas = map[string]any{}
				}
				schemas[key] = dep
			default:
				return NewSchemaInvalidError(schemaName, "", joinKeyPath(keyPath, "dependencies", key),
					fmt.Sprintf("dependency must be a list of names or a schema, got %T", dep))
			}
		}
		if required != nil {
			obj["dependentRequired"] = required
		}
		if schemas != nil {
			obj["dependentSchemas"] = schemas
		}
		delete(obj, "dependencies")
	}

	for _, kw := range [][2]string{{"exclusiveMinimum", "minimum"}, {"exclusiveMaximum", "maximum"}} {
		flag, ok := obj[kw[0]].(bool)
		if !ok {
			continue
		}
		bound, hasBound := obj[kw[1]]
		delete(obj, kw[0])
		if flag && hasBound {
			obj[kw[0]] = bound
			delete(obj, kw[1])
		}
	}

	if err := upgradeDraft(schemaName, obj["items"], joinKeyPath(keyPath, "items")); err != nil {
		return err
	}
	for _, kw := range subschemaKeywords {
		if err := upgradeDraft(schemaName, obj[kw], joinKeyPath(keyPath, kw)); err != nil {
			return err
		}
	}
	for _, kw := range subschemaMapKeywords {
		m, _ := obj[kw].(map[string]any)
		for _, k := range sortedKeys(m) {
			if err := upgradeDraft(schemaName, m[k], joinKeyPath(keyPath, kw, k)); err != nil {
				return err
			}
		}
	}
	for _, kw := range subschemaListKeywords {
		list, _ := obj[kw].([]any)
		for i, sub := range list {
			if err := upgradeDraft(schemaName, sub, joinKeyPath(keyPath, kw, fmt.Sprint(i))); err != nil {
				return err
			}
		}
	}
	return nil
}
