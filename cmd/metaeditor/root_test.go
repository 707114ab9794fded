package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataciteSchema = `{
	"type": "object",
	"required": ["doi"],
	"properties": {
		"doi": {"type": "string"},
		"url": {"type": "string", "format": "uri"}
	}
}`

const timeseriesSchema = `{
	"type": "object",
	"required": ["idno"],
	"properties": {
		"idno": {"type": "string"},
		"source_url": {"type": "string"},
		"datacite": {"$ref": "datacite-schema.json"}
	}
}`

// workspace writes both schemas and a config file that points at them.
func workspace(t *testing.T) (dir, configPath string) {
	t.Helper()
	color.NoColor = true
	dir = t.TempDir()
	schemas := filepath.Join(dir, "schemas")
	require.NoError(t, os.MkdirAll(schemas, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemas, "datacite-schema.json"), []byte(dataciteSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(schemas, "timeseries-schema.json"), []byte(timeseriesSchema), 0o644))

	configPath = filepath.Join(dir, "metaeditor.yaml")
	config := fmt.Sprintf(`
registry:
  schema_dir: %[1]s/schemas
  schemas:
    - name: datacite
      path: %[1]s/schemas/datacite-schema.json
    - name: timeseries
      path: %[1]s/schemas/timeseries-schema.json
generator:
  output_dir: %[1]s/models
inventory:
  db_path: %[1]s/inventory.duckdb
logging:
  level: error
`, dir)
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return dir, configPath
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "metaeditor", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"schemas", "generate", "validate", "lint", "duplicates", "inventory", "projects", "sources", "doctor"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
}

func TestSchemasCommands(t *testing.T) {
	dir, cfg := workspace(t)

	out, err := run(t, cfg, "schemas", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "datacite")
	assert.Contains(t, out, "timeseries")
	assert.NotContains(t, out, "not fetched")

	out, err = run(t, cfg, "schemas", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "timeseries resolvable")

	resolved := filepath.Join(dir, "resolved.json")
	_, err = run(t, cfg, "schemas", "resolve", "timeseries", "--out", resolved)
	require.NoError(t, err)
	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"doi"`)
	assert.NotContains(t, string(data), `$ref`)

	_, err = run(t, cfg, "schemas", "resolve", "survey")
	require.Error(t, err)
}

func TestSchemasCheck_ReportsBrokenReference(t *testing.T) {
	dir, cfg := workspace(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "schemas", "datacite-schema.json")))

	out, err := run(t, cfg, "schemas", "check", "timeseries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 checks failed")
	assert.Contains(t, out, "✗ timeseries")
}

func TestGenerateCommand(t *testing.T) {
	dir, cfg := workspace(t)

	out, err := run(t, cfg, "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "datacite ->")
	assert.Contains(t, out, "timeseries ->")
	assert.FileExists(t, filepath.Join(dir, "models", "datacite.go"))
	assert.FileExists(t, filepath.Join(dir, "models", "timeseries.go"))

	_, err = run(t, cfg, "generate", "survey")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 generations failed")
}

func TestValidateCommand(t *testing.T) {
	dir, cfg := workspace(t)

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "valid json", file: "ok.json", content: `{"doi": "10.1/abc", "url": "https://example.org/abc"}`},
		{name: "valid yaml", file: "ok.yaml", content: "doi: 10.1/abc\nurl: https://example.org/abc\n"},
		{name: "missing required", file: "missing.json", content: `{"url": "https://example.org/abc"}`, wantErr: "required: doi"},
		{name: "malformed json", file: "bad.json", content: `{"doi": `, wantErr: "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			out, err := run(t, cfg, "validate", "datacite", path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "valid datacite record")
		})
	}
}

func TestLintCommand(t *testing.T) {
	_, cfg := workspace(t)

	out, err := run(t, cfg, "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "timeseries source_url [uri-format-missing]")
	assert.Equal(t, 1, strings.Count(out, "uri-format-missing"))

	out, err = run(t, cfg, "lint", "datacite")
	require.NoError(t, err)
	assert.Contains(t, out, "1 schemas clean")
}

func TestDuplicatesCommand(t *testing.T) {
	_, cfg := workspace(t)

	out, err := run(t, cfg, "duplicates", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"conflicts"`)
	assert.Contains(t, out, `"equivalents"`)
}

func TestInventoryCommand(t *testing.T) {
	dir, cfg := workspace(t)

	out, err := run(t, cfg, "inventory")
	require.NoError(t, err)
	assert.Contains(t, out, "from 2 schemas")
	assert.Contains(t, out, "timeseries source_url looks like a URI")
	assert.FileExists(t, filepath.Join(dir, "inventory.duckdb"))
}

func TestProjectsCommand_RequiresHTTPS(t *testing.T) {
	_, cfg := workspace(t)
	t.Setenv("METAEDITOR_EDITOR_API_KEY", "key")
	t.Setenv("METAEDITOR_EDITOR_BASE_URL", "http://example.org/api")

	_, err := run(t, cfg, "projects", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "editor.base_url")
}

func TestDoctorCommand(t *testing.T) {
	_, cfg := workspace(t)

	out, err := run(t, cfg, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory database")
	assert.Contains(t, out, "editor api: skipped")
}

func TestSourcesCommand_RequiresDatabase(t *testing.T) {
	_, cfg := workspace(t)

	_, err := run(t, cfg, "sources", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.database_url")
}
