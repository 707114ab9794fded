package internal

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/lychee-technology/metaeditor"
)

// Lint rule names.
const (
	RuleURIFormatMissing   = "uri-format-missing"
	RuleEnumDuplicateValue = "enum-duplicate-value"
	RuleRequiredUndeclared = "required-undeclared"
	RuleEnumTypeMismatch   = "enum-type-mismatch"
)

// schemaVisitor is called for every subschema reachable through properties,
// items, additionalProperties and the allOf/anyOf/oneOf combinators. name is
// the property the node belongs to, empty for the root.
type schemaVisitor func(node map[string]any, path, name string, required bool)

func visitSchema(node map[string]any, path, name string, required bool, visit schemaVisitor) {
	visit(node, path, name, required)

	if props, ok := node["properties"].(map[string]any); ok {
		req := requiredSet(node)
		for _, prop := range sortedKeys(props) {
			if sub, ok := props[prop].(map[string]any); ok {
				visitSchema(sub, joinPath(path, prop), prop, req[prop], visit)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		visitSchema(items, path+"[]", name, false, visit)
	}
	if extra, ok := node["additionalProperties"].(map[string]any); ok {
		visitSchema(extra, joinPath(path, "*"), name, false, visit)
	}
	for _, kw := range []string{"allOf", "anyOf", "oneOf"} {
		members, _ := node[kw].([]any)
		for _, m := range members {
			if sub, ok := m.(map[string]any); ok {
				for k, v := range sub {
					// Members describe the same value; visit their children only.
					if k == "properties" || k == "items" || k == "additionalProperties" {
						visitSchema(map[string]any{k: v, "required": sub["required"]}, path, name, required, func(n map[string]any, p, nm string, r bool) {
							if p != path {
								visit(n, p, nm, r)
							}
						})
					}
				}
			}
		}
	}
}

// FlattenFields lists every property of a resolved schema.
func FlattenFields(schema string, resolved map[string]any) []metaeditor.SchemaField {
	var fields []metaeditor.SchemaField
	visitSchema(resolved, "", "", false, func(node map[string]any, path, name string, required bool) {
		if path == "" || strings.HasSuffix(path, "[]") || strings.HasSuffix(path, ".*") {
			return
		}
		types, _ := schemaTypeNames(node)
		if len(types) == 0 {
			switch {
			case node["properties"] != nil:
				types = []string{"object"}
			case node["items"] != nil:
				types = []string{"array"}
			}
		}
		format, _ := node["format"].(string)
		enum, _ := node["enum"].([]any)
		fields = append(fields, metaeditor.SchemaField{
			Schema:   schema,
			Path:     path,
			Name:     name,
			Types:    types,
			Format:   format,
			Enum:     enum,
			Required: required,
			URINamed: metaeditor.IsURIFieldName(name),
		})
	})
	return fields
}

// AnalyzeDuplicates compares the object shapes of several resolved schemas.
// Shapes are named by their definition name, or the property they sit under.
func AnalyzeDuplicates(resolved map[string]map[string]any) metaeditor.DuplicationReport {
	var shapes []metaeditor.DuplicateShape
	for _, schema := range sortedKeys(resolved) {
		visitSchema(resolved[schema], "", "", false, func(node map[string]any, path, name string, _ bool) {
			props, _ := node["properties"].(map[string]any)
			if path == "" || len(props) == 0 {
				return
			}
			if def, ok := node[defNameKey].(string); ok && def != "" {
				name = def
			}
			shapes = append(shapes, metaeditor.DuplicateShape{
				Schema:      schema,
				Path:        path,
				Name:        name,
				Fingerprint: shapeFingerprint(node),
			})
		})
	}

	byName := map[string][]metaeditor.DuplicateShape{}
	byShape := map[string][]metaeditor.DuplicateShape{}
	for _, s := range shapes {
		byName[s.Name] = append(byName[s.Name], s)
		byShape[s.Fingerprint] = append(byShape[s.Fingerprint], s)
	}

	report := metaeditor.DuplicationReport{}
	for _, name := range sortedKeys(byName) {
		group := byName[name]
		if distinct(group, func(s metaeditor.DuplicateShape) string { return s.Fingerprint }) > 1 {
			report.Conflicts = append(report.Conflicts, metaeditor.DuplicateGroup{Key: name, Shapes: group})
		}
	}
	for _, fp := range sortedKeys(byShape) {
		group := byShape[fp]
		if distinct(group, func(s metaeditor.DuplicateShape) string { return s.Name }) > 1 {
			report.Equivalents = append(report.Equivalents, metaeditor.DuplicateGroup{Key: fp, Shapes: group})
		}
	}
	return report
}

func distinct(shapes []metaeditor.DuplicateShape, key func(metaeditor.DuplicateShape) string) int {
	seen := map[string]bool{}
	for _, s := range shapes {
		seen[key(s)] = true
	}
	return len(seen)
}

// LintSchema reports schema quality problems in a resolved schema.
func LintSchema(schema string, resolved map[string]any) []metaeditor.LintFinding {
	var findings []metaeditor.LintFinding
	add := func(path, rule, msg string) {
		findings = append(findings, metaeditor.LintFinding{Schema: schema, Path: path, Rule: rule, Message: msg})
	}

	visitSchema(resolved, "", "", false, func(node map[string]any, path, name string, _ bool) {
		types, _ := schemaTypeNames(node)
		display := path
		if display == "" {
			display = "(root)"
		}

		if name != "" && !strings.HasSuffix(path, "[]") && metaeditor.IsURIFieldName(name) &&
			len(types) == 1 && types[0] == "string" && node["format"] == nil {
			add(display, RuleURIFormatMissing, fmt.Sprintf("'%s' looks like a URI but declares no format", name))
		}

		if enum, ok := node["enum"].([]any); ok {
			for i := 0; i < len(enum); i++ {
				for j := 0; j < i; j++ {
					if reflect.DeepEqual(enum[i], enum[j]) {
						add(display, RuleEnumDuplicateValue, fmt.Sprintf("enum value %v is listed more than once", enum[i]))
					}
				}
			}
			if len(types) > 0 {
				for _, v := range enum {
					if !enumValueMatches(v, types) {
						add(display, RuleEnumTypeMismatch, fmt.Sprintf("enum value %v is not of type %s", v, strings.Join(types, "|")))
					}
				}
			}
		}

		if props, ok := node["properties"].(map[string]any); ok {
			req, _ := node["required"].([]any)
			var missing []string
			for _, r := range req {
				if s, ok := r.(string); ok {
					if _, declared := props[s]; !declared {
						missing = append(missing, s)
					}
				}
			}
			sort.Strings(missing)
			for _, m := range missing {
				add(display, RuleRequiredUndeclared, fmt.Sprintf("'%s' is required but not declared in properties", m))
			}
		}
	})
	return findings
}

func enumValueMatches(v any, types []string) bool {
	for _, t := range types {
		switch t {
		case "string":
			if _, ok := v.(string); ok {
				return true
			}
		case "number":
			if _, ok := v.(float64); ok {
				return true
			}
		case "integer":
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				return true
			}
		case "boolean":
			if _, ok := v.(bool); ok {
				return true
			}
		case "null":
			if v == nil {
				return true
			}
		case "array":
			if _, ok := v.([]any); ok {
				return true
			}
		case "object":
			if _, ok := v.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}
