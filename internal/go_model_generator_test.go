package internal

import (
	"context"
	"encoding/json"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lychee-technology/metaeditor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalRegistry registers each name -> content pair as <name>-schema.json in dir.
func newLocalRegistry(t *testing.T, dir string, schemas map[string]string) *FileSchemaRegistry {
	t.Helper()
	var docs []metaeditor.SchemaDocument
	for _, name := range sortedKeys(schemas) {
		path := filepath.Join(dir, name+"-schema.json")
		writeSchemaFile(t, path, schemas[name])
		docs = append(docs, metaeditor.SchemaDocument{Name: name, LocalPath: path})
	}
	reg, err := NewFileSchemaRegistry(docs, FetcherSet{"file": FileSchemaFetcher{}}, RegistryOptions{
		Validation: metaeditor.DefaultValidationOptions(),
	})
	require.NoError(t, err)
	return reg
}

func generatorConfig(t *testing.T) metaeditor.GeneratorConfig {
	t.Helper()
	cfg := metaeditor.DefaultConfig().Generator
	cfg.OutputDir = t.TempDir()
	return cfg
}

// normalizeSpace collapses gofmt alignment so assertions can use single spaces.
func normalizeSpace(src []byte) string {
	return strings.Join(strings.FieldsFunc(string(src), func(r rune) bool { return r == ' ' || r == '\t' }), " ")
}

func requireValidGo(t *testing.T, src []byte) {
	t.Helper()
	_, err := parser.ParseFile(token.NewFileSet(), "models.go", src, parser.ParseComments)
	require.NoError(t, err, string(src))
}

func TestGoModelGenerator_Timeseries(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"timeseries": timeseriesSchemaJSON,
		"datacite":   dataciteSchemaJSON,
	})
	cfg := generatorConfig(t)
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	module, err := gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)
	requireValidGo(t, module.Source)

	assert.Equal(t, "Timeseries", module.RootType)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "timeseries.go"), module.OutputPath)
	assert.FileExists(t, module.OutputPath)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, modelIndexFile))
	assert.Equal(t, "Timeseries", module.Types[0])
	assert.Subset(t, module.Types, []string{"SeriesDescription", "DefinitionReferencesItem", "Contact", "Datacite", "CreatorsItem", "NameType", "Types", "ResourceTypeGeneral"})

	src := normalizeSpace(module.Source)
	for _, want := range []string{
		"// Code generated by metaeditor from timeseries-schema.json; DO NOT EDIT.",
		"//go:build go1.22",
		"package models",
		`"github.com/lychee-technology/metaeditor"`,
		"type Timeseries struct {",
		"Idno string `json:\"idno\"`",
		"SeriesDescription SeriesDescription `json:\"series_description\"`",
		"Contacts []Contact `json:\"contacts,omitempty\"`",
		"Datacite *Datacite `json:\"datacite,omitempty\"`",
		"// DataCite metadata",
		"URI string `json:\"uri\"`",
		"Source *string `json:\"source,omitempty\"`",
		"DefinitionReferences []DefinitionReferencesItem `json:\"definition_references,omitempty\"`",
		"NameType *NameType `json:\"nameType,omitempty\"`",
		"type NameType string",
		`NameTypePersonal NameType = "Personal"`,
		`NameTypeOrganizational NameType = "Organizational"`,
		"func (v NameType) Valid() bool {",
		"func (v *NameType) UnmarshalJSON(data []byte) error {",
		"var TimeseriesSchemaJSON = []byte(",
		"func (m *Timeseries) Validate() error {",
		"return metaeditor.ValidateModel(TimeseriesSchemaJSON, m)",
	} {
		assert.Contains(t, src, want)
	}
	assert.NotContains(t, src, defNameKey)
}

func TestGoModelGenerator_EmbeddedSchemaValidates(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"timeseries": timeseriesSchemaJSON,
		"datacite":   dataciteSchemaJSON,
	})
	gen := NewGoModelGenerator(reg, generatorConfig(t), metaeditor.DefaultValidationOptions())
	_, err := gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)

	resolved, err := reg.Resolve("timeseries")
	require.NoError(t, err)
	schemaJSON, err := json.Marshal(stripDefNames(resolved))
	require.NoError(t, err)

	type seriesDescription struct {
		Idno string `json:"idno"`
		Name string `json:"name"`
	}
	type timeseries struct {
		Idno              string            `json:"idno"`
		SeriesDescription seriesDescription `json:"series_description"`
	}
	require.NoError(t, metaeditor.ValidateModel(schemaJSON, &timeseries{
		Idno:              "TS-1",
		SeriesDescription: seriesDescription{Idno: "TS-1", Name: "GDP"},
	}))
	err = metaeditor.ValidateModel(schemaJSON, &struct {
		Idno string `json:"idno"`
	}{Idno: "TS-1"})
	require.Error(t, err)
	assert.True(t, metaeditor.IsValidationError(err))
}

func TestGoModelGenerator_ReusesModelsAcrossFiles(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"timeseries": timeseriesSchemaJSON,
		"datacite":   dataciteSchemaJSON,
	})
	cfg := generatorConfig(t)
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	datacite, err := gen.Generate(context.Background(), "datacite")
	require.NoError(t, err)
	assert.Equal(t, "Datacite", datacite.RootType)

	ts, err := gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)
	requireValidGo(t, ts.Source)
	assert.Contains(t, ts.Reused, "Datacite")
	assert.NotContains(t, ts.Types, "Datacite")
	assert.NotContains(t, ts.Types, "NameType")
	src := normalizeSpace(ts.Source)
	assert.Contains(t, src, "Datacite *Datacite `json:\"datacite,omitempty\"`")
	assert.NotContains(t, src, "type Datacite struct")
	assert.NotContains(t, src, "type NameType string")
	assert.NotContains(t, src, `"encoding/json"`, "no enums are declared in this file")

	idx, err := loadModelIndex(cfg.OutputDir)
	require.NoError(t, err)
	files := map[string]string{}
	for _, e := range idx.Entries {
		files[e.Name] = e.File
	}
	assert.Equal(t, "datacite.go", files["Datacite"])
	assert.Equal(t, "datacite.go", files["NameType"])
	assert.Equal(t, "timeseries.go", files["Timeseries"])

	// Regenerating a file replaces its own index entries.
	_, err = gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)
	again, err := loadModelIndex(cfg.OutputDir)
	require.NoError(t, err)
	assert.Len(t, again.Entries, len(idx.Entries))
}

func TestGoModelGenerator_WithoutReuseRedeclares(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"timeseries": timeseriesSchemaJSON,
		"datacite":   dataciteSchemaJSON,
	})
	cfg := generatorConfig(t)
	cfg.ReuseModels = false
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	_, err := gen.Generate(context.Background(), "datacite")
	require.NoError(t, err)
	ts, err := gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)
	requireValidGo(t, ts.Source)

	src := normalizeSpace(ts.Source)
	assert.Contains(t, src, "type Datacite2 struct")
	assert.Contains(t, src, "type NameType2 string")
	assert.Empty(t, ts.Reused)
}

func TestGoModelGenerator_AliasesIdenticalShapes(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"contact": `{
			"type": "object",
			"properties": {
				"home": {"type": "object", "properties": {"street": {"type": "string"}, "city": {"type": "string"}}},
				"work": {"type": "object", "description": "Office", "properties": {"street": {"type": "string"}, "city": {"type": "string"}}},
				"level": {"type": "integer", "enum": [1, 2, 3]}
			}
		}`,
	})
	cfg := generatorConfig(t)
	cfg.TargetVersion = ""
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	module, err := gen.Generate(context.Background(), "contact")
	require.NoError(t, err)
	requireValidGo(t, module.Source)

	src := normalizeSpace(module.Source)
	assert.Contains(t, src, "type Home struct")
	assert.Contains(t, src, "type Work = Home")
	assert.Contains(t, src, "Level *int64 `json:\"level,omitempty\"`")
	assert.Contains(t, src, "// Allowed values: 1, 2, 3.")
	assert.NotContains(t, src, "//go:build")
	assert.Equal(t, []string{"Work"}, module.Reused)
}

func TestGoModelGenerator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		keyPath string
		message string
	}{
		{
			name:    "unknown type",
			schema:  `{"type": "object", "properties": {"series": {"type": "object", "properties": {"count": {"type": "count"}}}}}`,
			keyPath: "properties.series.properties.count.type",
			message: `unsupported type "count"`,
		},
		{
			name:    "properties not an object",
			schema:  `{"type": "object", "properties": {"a": {"type": "object", "properties": ["b"]}}}`,
			keyPath: "properties.a.properties",
			message: "properties must be an object",
		},
		{
			name:    "array items with bad type",
			schema:  `{"type": "object", "properties": {"tags": {"type": "array", "items": {"type": 5}}}}`,
			keyPath: "properties.tags.items.type",
			message: "type must be a string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			reg := newLocalRegistry(t, dir, map[string]string{"broken": tt.schema})
			gen := NewGoModelGenerator(reg, generatorConfig(t), metaeditor.DefaultValidationOptions())

			_, err := gen.Generate(context.Background(), "broken")
			require.Error(t, err)
			var e *metaeditor.MetaEditorError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, metaeditor.ErrCodeGenerationFailed, e.Code)
			assert.Equal(t, tt.keyPath, e.Field)
			assert.Contains(t, e.Message, filepath.Join(dir, "broken-schema.json"))
			assert.Contains(t, e.Message, tt.message)
		})
	}
}

func TestGoModelGenerator_SyntaxErrorNamesPosition(t *testing.T) {
	dir := t.TempDir()
	reg := newLocalRegistry(t, dir, map[string]string{
		"broken": "{\"type\": \"object\",\n \"properties\": {\"a\": {\"type\": \"string\",}}}",
	})
	gen := NewGoModelGenerator(reg, generatorConfig(t), metaeditor.DefaultValidationOptions())

	_, err := gen.Generate(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, metaeditor.HasCode(err, metaeditor.ErrCodeGenerationFailed))
	assert.Contains(t, err.Error(), "broken-schema.json:2:")
}

func TestGoModelGenerator_UnresolvedReferencePassesThrough(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{"timeseries": timeseriesSchemaJSON})
	gen := NewGoModelGenerator(reg, generatorConfig(t), metaeditor.DefaultValidationOptions())

	_, err := gen.Generate(context.Background(), "timeseries")
	require.Error(t, err)
	assert.True(t, metaeditor.IsReferenceError(err))
	_, missing, ok := metaeditor.UnresolvedReference(err)
	require.True(t, ok)
	assert.Contains(t, missing, "datacite-schema.json")
}

func TestGoModelGenerator_NonObjectRoot(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"tags": `{"type": "object", "additionalProperties": {"type": "string"}}`,
	})
	cfg := generatorConfig(t)
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	module, err := gen.Generate(context.Background(), "tags")
	require.NoError(t, err)
	requireValidGo(t, module.Source)
	src := normalizeSpace(module.Source)
	assert.Contains(t, src, "type Tags map[string]string")
	assert.Contains(t, src, "func (m Tags) Validate() error {")
}

func TestGoModelGenerator_PropertyNamedValidate(t *testing.T) {
	reg := newLocalRegistry(t, t.TempDir(), map[string]string{
		"rules": `{"type": "object", "required": ["validate"], "properties": {"validate": {"type": "string"}}}`,
	})
	cfg := generatorConfig(t)
	gen := NewGoModelGenerator(reg, cfg, metaeditor.DefaultValidationOptions())

	module, err := gen.Generate(context.Background(), "rules")
	require.NoError(t, err)
	requireValidGo(t, module.Source)
	src := normalizeSpace(module.Source)
	assert.Contains(t, src, "Validate2 string `json:\"validate\"`")
	assert.Contains(t, src, "func (m *Rules) Validate() error {")
	assert.NotContains(t, src, "Validate string")
}

func TestModelIndex_DropsEntriesForMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, filepath.Join(dir, "kept.go"), "package models\n")
	idx := &modelIndex{Version: modelIndexVersion}
	idx.merge("kept.go", []modelIndexEntry{{Name: "Kept", Kind: "struct", File: "kept.go"}})
	idx.merge("gone.go", []modelIndexEntry{{Name: "Gone", Kind: "struct", File: "gone.go"}})
	require.NoError(t, idx.write(dir))

	loaded, err := loadModelIndex(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "Kept", loaded.Entries[0].Name)

	_, err = os.Stat(filepath.Join(dir, modelIndexFile))
	require.NoError(t, err)
}

func TestNaming(t *testing.T) {
	tests := []struct{ in, pascal, snake string }{
		{"series_description", "SeriesDescription", "series_description"},
		{"variable-group", "VariableGroup", "variable_group"},
		{"nameType", "NameType", "nametype"},
		{"uri", "URI", "uri"},
		{"dataset_doi", "DatasetDOI", "dataset_doi"},
		{"2d_map", "N2dMap", "2d_map"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pascal, pascalCase(tt.in), tt.in)
		assert.Equal(t, tt.snake, snakeCase(tt.in), tt.in)
	}

	names := nameSet{}
	assert.Equal(t, "Contact", names.claim("Contact"))
	assert.Equal(t, "Contact2", names.claim("Contact"))
	assert.Equal(t, "Contact3", names.claim("Contact"))
}

func TestShapeFingerprint_IgnoresAnnotations(t *testing.T) {
	a := map[string]any{"type": "object", "title": "A", "properties": map[string]any{"x": map[string]any{"type": "string", "description": "first"}}}
	b := map[string]any{"type": "object", "x-def-name": "b", "properties": map[string]any{"x": map[string]any{"type": "string"}}}
	c := map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "integer"}}}
	assert.Equal(t, shapeFingerprint(a), shapeFingerprint(b))
	assert.NotEqual(t, shapeFingerprint(a), shapeFingerprint(c))
	assert.Len(t, shapeFingerprint(a), 16)
}
