package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lychee-technology/metaeditor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)

	want := metaeditor.DefaultConfig()
	assert.Equal(t, want.Registry, cfg.Registry)
	assert.Equal(t, want.Editor, cfg.Editor)
	assert.Equal(t, want.Generator, cfg.Generator)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metaeditor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  schema_dir: local-schemas
  schemas:
    - name: timeseries
      source: https://example.org/schemas/timeseries-schema.json
    - name: datacite
      path: /tmp/datacite-schema.json
fetch:
  timeout: 5s
editor:
  rate_limit: 0.5
generator:
  package: editormodels
`), 0o644))

	t.Setenv("METAEDITOR_EDITOR_API_KEY", "secret-key")
	t.Setenv("METAEDITOR_GENERATOR_OUTPUT_DIR", "gen")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "local-schemas", cfg.Registry.SchemaDir)
	require.Len(t, cfg.Registry.Schemas, 2)
	assert.Equal(t, "timeseries", cfg.Registry.Schemas[0].Name)
	assert.Equal(t, "/tmp/datacite-schema.json", cfg.Registry.Schemas[1].Path)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 0.5, cfg.Editor.RateLimit)
	assert.Equal(t, "secret-key", cfg.Editor.APIKey)
	assert.Equal(t, "gen", cfg.Generator.OutputDir)
	assert.Equal(t, "editormodels", cfg.Generator.Package)
	// untouched keys keep their defaults
	assert.Equal(t, metaeditor.DefaultEditorURL, cfg.Editor.BaseURL)
	assert.True(t, cfg.Fetch.FollowRefs)

	docs := cfg.SchemaSources()
	assert.Equal(t, filepath.Join("local-schemas", "timeseries-schema.json"), docs[0].LocalPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		path    string
		wantErr string
	}{
		{name: "explicit file missing", path: filepath.Join(dir, "missing.yaml"), wantErr: "failed to read config file"},
		{name: "malformed yaml", content: "registry: [", wantErr: "failed to read config file"},
		{name: "invalid value", content: "editor:\n  base_url: http://example.org/api\n", wantErr: "editor.base_url"},
		{name: "unknown backend", content: "generator:\n  backend: python\n", wantErr: "generator.backend"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = filepath.Join(dir, "config"+string(rune('a'+i))+".yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			}
			_, err := loadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(metaeditor.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(metaeditor.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(metaeditor.LoggingConfig{Level: "loud"}, false)
	var cfgErr *metaeditor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "logging.level", cfgErr.Field)
}
