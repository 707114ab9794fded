package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type declKind string

const (
	declStruct declKind = "struct"
	declEnum   declKind = "enum"
	declAlias  declKind = "alias"
	declNamed  declKind = "named"
)

// goDecl is one top-level type declaration of a generated file.
type goDecl struct {
	Name        string
	Kind        declKind
	Doc         []string
	Fields      []goField
	Underlying  string
	Values      []goEnumValue
	Fingerprint string
}

type goField struct {
	Name string
	Type string
	Tag  string
	Doc  []string
}

type goEnumValue struct {
	Const string
	Value string
}

// generationFailure locates a problem in the resolved schema.
type generationFailure struct {
	keyPath string
	message string
}

func (f *generationFailure) Error() string {
	if f.keyPath == "" {
		return f.message
	}
	return f.keyPath + ": " + f.message
}

func failAt(keyPath, format string, args ...any) error {
	return &generationFailure{keyPath: keyPath, message: fmt.Sprintf(format, args...)}
}

// modelBuilder maps a resolved schema onto Go type declarations.
type modelBuilder struct {
	schema   string
	reuse    bool
	describe bool

	names   nameSet
	decls   []*goDecl
	byShape map[string]string // fingerprint -> declared type name
	reused  []string
}

// newModelBuilder reserves every name declared by other files of the package.
// With reuse enabled, their shapes become reuse candidates.
func newModelBuilder(schema string, reuse, describe bool, others []modelIndexEntry) *modelBuilder {
	b := &modelBuilder{
		schema:   schema,
		reuse:    reuse,
		describe: describe,
		names:    nameSet{},
		byShape:  map[string]string{},
	}
	for _, e := range others {
		b.names[e.Name] = true
		for _, m := range e.Members {
			b.names[m] = true
		}
		if reuse && e.Fingerprint != "" && (e.Kind == string(declStruct) || e.Kind == string(declEnum)) {
			if _, seen := b.byShape[e.Fingerprint]; !seen {
				b.byShape[e.Fingerprint] = e.Name
			}
		}
	}
	return b
}

const rootMethodName = "Validate"

// build declares the root type and everything reachable from it. The root is
// always declared, never reused.
func (b *modelBuilder) build(root map[string]any, rootName string) (*goDecl, error) {
	name := b.names.claim(rootName)
	b.names.claim(name + "SchemaJSON")

	obj := mergeAllOf(root)
	if props, ok := obj["properties"].(map[string]any); ok && len(props) > 0 {
		decl, err := b.declareStruct(obj, name, "", "")
		if err != nil {
			return nil, err
		}
		return decl, nil
	}

	typ, err := b.typeFor(obj, name+"Value", "")
	if err != nil {
		return nil, err
	}
	decl := &goDecl{Name: name, Kind: declNamed, Underlying: typ, Doc: b.doc(obj)}
	b.decls = append([]*goDecl{decl}, b.decls...)
	return decl, nil
}

// typeFor returns the Go type expression for a schema node, declaring named
// types as needed. hint names the type when the node has no definition name.
func (b *modelBuilder) typeFor(node any, hint, keyPath string) (string, error) {
	if _, ok := node.(bool); ok {
		return "any", nil
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return "", failAt(keyPath, "schema must be an object, got %T", node)
	}
	obj = mergeAllOf(obj)

	types, err := schemaTypeNames(obj)
	if err != nil {
		return "", failAt(joinPath(keyPath, "type"), "%s", err.Error())
	}
	if raw, present := obj["properties"]; present {
		if _, ok := raw.(map[string]any); !ok {
			return "", failAt(joinPath(keyPath, "properties"), "properties must be an object, got %T", raw)
		}
	}
	if raw, present := obj["required"]; present {
		if _, ok := raw.([]any); !ok {
			return "", failAt(joinPath(keyPath, "required"), "required must be an array, got %T", raw)
		}
	}
	if raw, present := obj["enum"]; present {
		values, ok := raw.([]any)
		if !ok {
			return "", failAt(joinPath(keyPath, "enum"), "enum must be an array, got %T", raw)
		}
		if isStringEnum(values, nonNullTypes(types)) {
			return b.declareEnum(obj, values, hint)
		}
	}

	types = nonNullTypes(types)
	if len(types) > 1 {
		return "any", nil
	}
	kind := ""
	switch {
	case len(types) == 1:
		kind = types[0]
	case obj["properties"] != nil:
		kind = "object"
	case obj["items"] != nil:
		kind = "array"
	}

	switch kind {
	case "string":
		return "string", nil
	case "integer":
		return "int64", nil
	case "number":
		return "float64", nil
	case "boolean":
		return "bool", nil
	case "array":
		items, ok := obj["items"]
		if !ok {
			return "[]any", nil
		}
		if _, tuple := items.([]any); tuple {
			return "[]any", nil
		}
		elem, err := b.typeFor(items, hint+"Item", joinPath(keyPath, "items"))
		if err != nil {
			return "", err
		}
		return "[]" + elem, nil
	case "object":
		if props, _ := obj["properties"].(map[string]any); len(props) > 0 {
			decl, err := b.declareStruct(obj, "", hint, keyPath)
			if err != nil {
				return "", err
			}
			return decl.Name, nil
		}
		if extra, ok := obj["additionalProperties"].(map[string]any); ok && len(extra) > 0 {
			elem, err := b.typeFor(extra, hint+"Value", joinPath(keyPath, "additionalProperties"))
			if err != nil {
				return "", err
			}
			return "map[string]" + elem, nil
		}
		return "map[string]any", nil
	default:
		return "any", nil
	}
}

// declareStruct declares a struct for obj. A non-empty fixedName forces the
// name and skips reuse; otherwise the definition name or hint is used.
func (b *modelBuilder) declareStruct(obj map[string]any, fixedName, hint, keyPath string) (*goDecl, error) {
	fingerprint := shapeFingerprint(obj)
	name := fixedName
	if name == "" {
		base := b.baseName(obj, hint)
		if existing, ok := b.reuseName(fingerprint, base); ok {
			return &goDecl{Name: existing}, nil
		}
		name = b.names.claim(base)
	}

	decl := &goDecl{Name: name, Kind: declStruct, Fingerprint: fingerprint, Doc: b.doc(obj)}
	b.decls = append(b.decls, decl)
	if b.reuse {
		if _, seen := b.byShape[fingerprint]; !seen {
			b.byShape[fingerprint] = name
		}
	}

	props := obj["properties"].(map[string]any)
	required := requiredSet(obj)
	fieldNames := nameSet{}
	if fixedName != "" {
		// The root type carries a Validate method.
		fieldNames[rootMethodName] = true
	}
	for _, prop := range sortedKeys(props) {
		propPath := joinPath(keyPath, "properties", prop)
		typ, err := b.typeFor(props[prop], pascalCase(prop), propPath)
		if err != nil {
			return nil, err
		}
		if !required[prop] && !nilable(typ) {
			typ = "*" + typ
		}
		tag := fmt.Sprintf(`json:%q`, prop)
		if !required[prop] {
			tag = fmt.Sprintf(`json:"%s,omitempty"`, prop)
		}
		field := goField{
			Name: fieldNames.claim(fieldIdent(prop)),
			Type: typ,
			Tag:  tag,
		}
		if sub, ok := props[prop].(map[string]any); ok {
			field.Doc = b.fieldDoc(sub)
		}
		decl.Fields = append(decl.Fields, field)
	}
	return decl, nil
}

func (b *modelBuilder) declareEnum(obj map[string]any, values []any, hint string) (string, error) {
	fingerprint := shapeFingerprint(map[string]any{"type": "string", "enum": values})
	base := b.baseName(obj, hint)
	if existing, ok := b.reuseName(fingerprint, base); ok {
		return existing, nil
	}
	name := b.names.claim(base)
	decl := &goDecl{
		Name:        name,
		Kind:        declEnum,
		Underlying:  "string",
		Fingerprint: fingerprint,
		Doc:         b.doc(obj),
	}
	seen := map[string]bool{}
	for i, v := range values {
		s := v.(string)
		if seen[s] {
			continue
		}
		seen[s] = true
		suffix := pascalCase(s)
		if suffix == "" {
			suffix = "Value" + strconv.Itoa(i+1)
		}
		decl.Values = append(decl.Values, goEnumValue{
			Const: b.names.claim(name + suffix),
			Value: strconv.Quote(s),
		})
	}
	b.decls = append(b.decls, decl)
	if b.reuse {
		b.byShape[fingerprint] = name
	}
	return name, nil
}

// reuseName returns the type to use for a shape that was already declared.
// A different desired name becomes an alias of the first declaration.
func (b *modelBuilder) reuseName(fingerprint, base string) (string, bool) {
	if !b.reuse {
		return "", false
	}
	existing, ok := b.byShape[fingerprint]
	if !ok {
		return "", false
	}
	if existing == base || b.names[base] {
		b.reused = append(b.reused, existing)
		return existing, true
	}
	alias := b.names.claim(base)
	b.decls = append(b.decls, &goDecl{Name: alias, Kind: declAlias, Underlying: existing})
	b.reused = append(b.reused, alias)
	return alias, true
}

func (b *modelBuilder) baseName(obj map[string]any, hint string) string {
	if def, ok := obj[defNameKey].(string); ok && pascalCase(def) != "" {
		return pascalCase(def)
	}
	if hint == "" {
		return "Model"
	}
	return hint
}

func (b *modelBuilder) doc(obj map[string]any) []string {
	if !b.describe {
		return nil
	}
	desc, _ := obj["description"].(string)
	return commentLines(desc)
}

func (b *modelBuilder) fieldDoc(obj map[string]any) []string {
	lines := b.doc(obj)
	values, ok := obj["enum"].([]any)
	if !ok || isStringEnum(values, nil) {
		return lines
	}
	literals := make([]string, 0, len(values))
	for _, v := range values {
		encoded, _ := json.Marshal(v)
		literals = append(literals, string(encoded))
	}
	return append(lines, "Allowed values: "+strings.Join(literals, ", ")+".")
}

// entries describes the declarations for the model index.
func (b *modelBuilder) entries(file string) []modelIndexEntry {
	out := make([]modelIndexEntry, 0, len(b.decls))
	for _, d := range b.decls {
		e := modelIndexEntry{
			Name:        d.Name,
			Kind:        string(d.Kind),
			Fingerprint: d.Fingerprint,
			File:        file,
			Schema:      b.schema,
		}
		for _, v := range d.Values {
			e.Members = append(e.Members, v.Const)
		}
		out = append(out, e)
	}
	return out
}

func (b *modelBuilder) typeNames() []string {
	out := make([]string, 0, len(b.decls))
	for _, d := range b.decls {
		out = append(out, d.Name)
	}
	return out
}

func isStringEnum(values []any, types []string) bool {
	if len(values) == 0 {
		return false
	}
	if len(types) > 1 || (len(types) == 1 && types[0] != "string") {
		return false
	}
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func nilable(typ string) bool {
	return typ == "any" || strings.HasPrefix(typ, "[]") || strings.HasPrefix(typ, "map[")
}

// fieldIdent names a struct field after a JSON property.
func fieldIdent(prop string) string {
	if name := pascalCase(prop); name != "" {
		return name
	}
	return "Field"
}

// commentLines splits a description into comment lines.
func commentLines(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return out
}
