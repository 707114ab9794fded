package metaeditor

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationOptions tunes the checks applied on top of plain JSON Schema.
type ValidationOptions struct {
	// EnforceFormats rejects strings that do not match their declared format.
	EnforceFormats bool
	// InferURIFields treats URI-named string fields without a format as format "uri".
	InferURIFields bool
}

// DefaultValidationOptions enforces declared formats only.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{EnforceFormats: true}
}

// CompiledSchema is a resolved schema ready to validate record instances.
// It is safe for concurrent use.
type CompiledSchema struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	opts     ValidationOptions
	patterns map[string]*regexp.Regexp
}

var _ RecordSchema = (*CompiledSchema)(nil)

// CompileSchema builds a CompiledSchema from a schema without external $ref,
// given as raw JSON or as a decoded map.
func CompileSchema(name string, document any, opts ValidationOptions) (*CompiledSchema, error) {
	var raw []byte
	switch d := document.(type) {
	case []byte:
		raw = d
	case json.RawMessage:
		raw = d
	case string:
		raw = []byte(d)
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, NewSchemaInvalidError(name, "", "", "schema is not JSON encodable").WithCause(err)
		}
		raw = b
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, NewSchemaInvalidError(name, "", "", "schema is not valid JSON").WithCause(err)
	}
	root, ok := generic.(map[string]any)
	if !ok {
		return nil, NewSchemaInvalidError(name, "", "", "schema must be a JSON object")
	}
	// Older drafts are rewritten so the walker and the resolver see the same keywords.
	delete(root, "$schema")
	if err := upgradeDraft(name, root, ""); err != nil {
		return nil, err
	}
	raw, _ = json.Marshal(root)

	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, NewSchemaInvalidError(name, "", "", "schema cannot be parsed").WithCause(err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, NewSchemaInvalidError(name, "", "", "schema cannot be resolved").WithCause(err)
	}

	c := &CompiledSchema{
		name:     name,
		schema:   schema,
		resolved: resolved,
		opts:     opts,
		patterns: make(map[string]*regexp.Regexp),
	}
	if err := c.compilePatterns(schema, "", map[*jsonschema.Schema]bool{}); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the schema name used in error messages.
func (c *CompiledSchema) Name() string { return c.name }

// Schema returns the parsed schema. Callers must not modify it.
func (c *CompiledSchema) Schema() *jsonschema.Schema { return c.schema }

func (c *CompiledSchema) compilePatterns(s *jsonschema.Schema, path string, seen map[*jsonschema.Schema]bool) error {
	if s == nil || seen[s] {
		return nil
	}
	seen[s] = true
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return NewSchemaInvalidError(c.name, "", path+".pattern", "invalid pattern").WithCause(err)
		}
		c.patterns[s.Pattern] = re
	}
	for pattern := range s.PatternProperties {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return NewSchemaInvalidError(c.name, "", path+".patternProperties", "invalid pattern").WithCause(err)
		}
		c.patterns[pattern] = re
	}
	for _, key := range sortedKeys(s.Properties) {
		if err := c.compilePatterns(s.Properties[key], joinKeyPath(path, "properties", key), seen); err != nil {
			return err
		}
	}
	for key, sub := range s.PatternProperties {
		if err := c.compilePatterns(sub, joinKeyPath(path, "patternProperties", key), seen); err != nil {
			return err
		}
	}
	if err := c.compilePatterns(s.Items, joinKeyPath(path, "items"), seen); err != nil {
		return err
	}
	for i, sub := range s.PrefixItems {
		if err := c.compilePatterns(sub, joinKeyPath(path, "prefixItems", strconv.Itoa(i)), seen); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(s.DependentSchemas) {
		if err := c.compilePatterns(s.DependentSchemas[key], joinKeyPath(path, "dependentSchemas", key), seen); err != nil {
			return err
		}
	}
	if err := c.compilePatterns(s.AdditionalProperties, joinKeyPath(path, "additionalProperties"), seen); err != nil {
		return err
	}
	for i, sub := range s.AllOf {
		if err := c.compilePatterns(sub, joinKeyPath(path, "allOf", strconv.Itoa(i)), seen); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks instance against the schema and returns every violation found.
func (c *CompiledSchema) Validate(instance any) error {
	value, err := normalizeJSON(instance)
	if err != nil {
		return err
	}
	var violations []FieldViolation
	c.walk(c.schema, value, "", "", &violations)
	if len(violations) == 0 {
		// The walk covers the common keywords; the resolver covers the rest (anyOf, oneOf, not, ...).
		if err := c.resolved.Validate(value); err != nil {
			violations = append(violations, FieldViolation{
				Constraint: ConstraintSchema,
				Message:    err.Error(),
			})
		}
	}
	if len(violations) > 0 {
		return NewRecordValidationError(c.name, violations)
	}
	return nil
}

func (c *CompiledSchema) walk(s *jsonschema.Schema, v any, path, name string, out *[]FieldViolation) {
	if s == nil {
		return
	}
	if isFalseSchema(s) {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintSchema, Message: "value is not allowed here"})
		return
	}
	for _, sub := range s.AllOf {
		c.walk(sub, v, path, name, out)
	}

	types := schemaTypes(s)
	if len(types) > 0 && !matchesAnyType(v, types) {
		*out = append(*out, FieldViolation{
			Field:      path,
			Constraint: ConstraintType,
			Message:    "input should be a valid " + strings.Join(types, " or "),
			Value:      v,
		})
		return
	}
	if len(s.Enum) > 0 && !containsJSON(s.Enum, v) {
		*out = append(*out, FieldViolation{
			Field:      path,
			Constraint: ConstraintEnum,
			Message:    "input should be one of " + describeValues(s.Enum),
			Value:      v,
		})
	}
	if s.Const != nil && !reflect.DeepEqual(normalizeConst(*s.Const), v) {
		*out = append(*out, FieldViolation{
			Field:      path,
			Constraint: ConstraintConst,
			Message:    "input should be " + describeValues([]any{*s.Const}),
			Value:      v,
		})
	}

	switch val := v.(type) {
	case string:
		c.checkString(s, val, path, name, out)
	case float64:
		checkNumber(s, val, path, out)
	case []any:
		if s.MinItems != nil && len(val) < int(*s.MinItems) {
			*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMinItems,
				Message: fmt.Sprintf("list should have at least %d item(s)", *s.MinItems)})
		}
		if s.MaxItems != nil && len(val) > int(*s.MaxItems) {
			*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMaxItems,
				Message: fmt.Sprintf("list should have at most %d item(s)", *s.MaxItems)})
		}
		for i, item := range val {
			itemSchema := s.Items
			if i < len(s.PrefixItems) {
				itemSchema = s.PrefixItems[i]
			}
			c.walk(itemSchema, item, joinFieldPath(path, strconv.Itoa(i)), name, out)
		}
	case map[string]any:
		c.checkObject(s, val, path, out)
	}
}

func (c *CompiledSchema) checkString(s *jsonschema.Schema, val, path, name string, out *[]FieldViolation) {
	format := s.Format
	if format == "" && c.opts.InferURIFields && IsURIFieldName(name) {
		format = "uri"
	}
	if format != "" && c.opts.EnforceFormats {
		if msg := checkFormat(format, val); msg != "" {
			*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintFormat, Message: msg, Value: val})
		}
	}
	n := utf8.RuneCountInString(val)
	if s.MinLength != nil && n < int(*s.MinLength) {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMinLength,
			Message: fmt.Sprintf("string should have at least %d character(s)", *s.MinLength), Value: val})
	}
	if s.MaxLength != nil && n > int(*s.MaxLength) {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMaxLength,
			Message: fmt.Sprintf("string should have at most %d character(s)", *s.MaxLength), Value: val})
	}
	if s.Pattern != "" {
		if re := c.patterns[s.Pattern]; re != nil && !re.MatchString(val) {
			*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintPattern,
				Message: "string should match pattern " + strconv.Quote(s.Pattern), Value: val})
		}
	}
}

func checkNumber(s *jsonschema.Schema, val float64, path string, out *[]FieldViolation) {
	if s.Minimum != nil && val < *s.Minimum {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMinimum,
			Message: "input should be greater than or equal to " + formatNumber(*s.Minimum), Value: val})
	}
	if s.ExclusiveMinimum != nil && val <= *s.ExclusiveMinimum {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMinimum,
			Message: "input should be greater than " + formatNumber(*s.ExclusiveMinimum), Value: val})
	}
	if s.Maximum != nil && val > *s.Maximum {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMaximum,
			Message: "input should be less than or equal to " + formatNumber(*s.Maximum), Value: val})
	}
	if s.ExclusiveMaximum != nil && val >= *s.ExclusiveMaximum {
		*out = append(*out, FieldViolation{Field: path, Constraint: ConstraintMaximum,
			Message: "input should be less than " + formatNumber(*s.ExclusiveMaximum), Value: val})
	}
}

func (c *CompiledSchema) checkObject(s *jsonschema.Schema, obj map[string]any, path string, out *[]FieldViolation) {
	required := append([]string(nil), s.Required...)
	sort.Strings(required)
	for _, key := range required {
		if _, ok := obj[key]; !ok {
			*out = append(*out, FieldViolation{
				Field:      joinFieldPath(path, key),
				Constraint: ConstraintRequired,
				Message:    "field required",
			})
		}
	}

	for _, key := range sortedKeys(s.DependentRequired) {
		if _, ok := obj[key]; !ok {
			continue
		}
		for _, dep := range s.DependentRequired[key] {
			if _, ok := obj[dep]; !ok {
				*out = append(*out, FieldViolation{
					Field:      joinFieldPath(path, dep),
					Constraint: ConstraintRequired,
					Message:    fmt.Sprintf("field required when %s is present", strconv.Quote(key)),
				})
			}
		}
	}
	for _, key := range sortedKeys(s.DependentSchemas) {
		if _, ok := obj[key]; ok {
			c.walk(s.DependentSchemas[key], obj, path, "", out)
		}
	}

	for _, key := range sortedKeys(obj) {
		fieldPath := joinFieldPath(path, key)
		if sub, ok := s.Properties[key]; ok {
			c.walk(sub, obj[key], fieldPath, key, out)
			continue
		}
		matched := false
		for pattern, sub := range s.PatternProperties {
			if re := c.patterns[pattern]; re != nil && re.MatchString(key) {
				matched = true
				c.walk(sub, obj[key], fieldPath, key, out)
			}
		}
		if matched || s.AdditionalProperties == nil {
			continue
		}
		if isFalseSchema(s.AdditionalProperties) {
			*out = append(*out, FieldViolation{
				Field:      fieldPath,
				Constraint: ConstraintAdditional,
				Message:    "extra inputs are not permitted",
			})
			continue
		}
		c.walk(s.AdditionalProperties, obj[key], fieldPath, key, out)
	}
}

func isFalseSchema(s *jsonschema.Schema) bool {
	return s != nil && reflect.DeepEqual(s, &jsonschema.Schema{Not: &jsonschema.Schema{}})
}

func schemaTypes(s *jsonschema.Schema) []string {
	if s.Type != "" {
		return []string{s.Type}
	}
	return s.Types
}

func matchesAnyType(v any, types []string) bool {
	for _, t := range types {
		if matchesType(v, t) {
			return true
		}
	}
	return false
}

func matchesType(v any, t string) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && !math.IsInf(f, 0) && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "null":
		return v == nil
	}
	return true
}

func checkFormat(format, val string) string {
	switch format {
	case "uri", "url":
		u, err := url.Parse(val)
		if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
			return "input should be a valid url"
		}
	case "uri-reference":
		if _, err := url.Parse(val); err != nil {
			return "input should be a valid uri reference"
		}
	case "email":
		if _, err := mail.ParseAddress(val); err != nil {
			return "input should be a valid email address"
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, val); err != nil {
			return "input should be a valid date (YYYY-MM-DD)"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, val); err != nil {
			return "input should be a valid RFC 3339 date-time"
		}
	}
	return ""
}

// IsURIFieldName reports whether a property name suggests a URI value.
func IsURIFieldName(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case lower == "uri" || lower == "url":
		return true
	case strings.HasSuffix(lower, "_uri") || strings.HasSuffix(lower, "_url"):
		return true
	case strings.HasSuffix(name, "URI") || strings.HasSuffix(name, "Uri"):
		return true
	case strings.HasSuffix(name, "URL") || strings.HasSuffix(name, "Url"):
		return true
	}
	return false
}

func containsJSON(values []any, v any) bool {
	for _, candidate := range values {
		if reflect.DeepEqual(normalizeConst(candidate), v) {
			return true
		}
	}
	return false
}

// normalizeConst maps schema literals to the shapes produced by encoding/json.
func normalizeConst(v any) any {
	n, err := normalizeJSON(v)
	if err != nil {
		return v
	}
	return n
}

func describeValues(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		switch x := v.(type) {
		case string:
			parts = append(parts, "'"+x+"'")
		default:
			b, _ := json.Marshal(x)
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, ", ")
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinFieldPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func joinKeyPath(base string, keys ...string) string {
	for _, k := range keys {
		base = joinFieldPath(base, k)
	}
	return base
}

// ValidateModel validates a generated model against the schema it was generated from.
// Generated code calls it from each root type's Validate method.
func ValidateModel(schemaJSON []byte, model any) error {
	name := "model"
	var head struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(schemaJSON, &head); err == nil && head.Title != "" {
		name = head.Title
	}
	schema, err := CompileSchema(name, schemaJSON, DefaultValidationOptions())
	if err != nil {
		return err
	}
	_, err = NewRecord(schema, model)
	return err
}
