package factory

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/internal"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const datacite = `{
	"type": "object",
	"required": ["doi"],
	"properties": {
		"doi": {"type": "string"},
		"url": {"type": "string", "format": "uri"}
	}
}`

const timeseries = `{
	"type": "object",
	"required": ["idno"],
	"properties": {
		"idno": {"type": "string"},
		"datacite": {"$ref": "datacite-schema.json"}
	}
}`

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

func writeSchema(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+"-schema.json")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// localConfig registers timeseries and datacite as local files under dir.
func localConfig(t *testing.T, dir string) *metaeditor.Config {
	t.Helper()
	cfg := metaeditor.DefaultConfig()
	cfg.Registry.SchemaDir = dir
	cfg.Registry.Schemas = []metaeditor.SchemaSourceConfig{
		{Name: "datacite", Path: writeSchema(t, dir, "datacite", datacite)},
		{Name: "timeseries", Path: writeSchema(t, dir, "timeseries", timeseries)},
	}
	cfg.Generator.OutputDir = filepath.Join(dir, "models")
	cfg.Inventory.DBPath = ""
	return cfg
}

func withSourcePool(t *testing.T, opener func(ctx context.Context, databaseURL string) (SourceStore, error)) {
	t.Helper()
	original := sourcePoolOpener
	sourcePoolOpener = opener
	t.Cleanup(func() {
		sourcePoolOpener = original
	})
}

type stubFetcher struct{ calls int }

func (s *stubFetcher) Fetch(_ context.Context, _ *url.URL) ([]byte, error) {
	s.calls++
	return []byte(datacite), nil
}

func withS3Fetcher(t *testing.T, fetcher internal.SchemaFetcher, err error) *int {
	t.Helper()
	created := 0
	original := s3FetcherFactory
	s3FetcherFactory = func(context.Context, metaeditor.S3Config) (internal.SchemaFetcher, error) {
		created++
		return fetcher, err
	}
	t.Cleanup(func() {
		s3FetcherFactory = original
	})
	return &created
}

// ---------------------------------------------------------------------------
// NewSchemaRegistry
// ---------------------------------------------------------------------------

func TestNewSchemaRegistry_NilConfig(t *testing.T) {
	_, err := NewSchemaRegistry(context.Background(), nil)
	require.Error(t, err)
}

func TestNewSchemaRegistry_InvalidConfig(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	cfg.Generator.Backend = "python"

	_, err := NewSchemaRegistry(context.Background(), cfg)
	var cfgErr *metaeditor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "generator.backend", cfgErr.Field)
}

func TestNewSchemaRegistry_LocalFiles(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	created := withS3Fetcher(t, nil, nil)

	registry, err := NewSchemaRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, *created, "no s3 source, no s3 fetcher")

	docs := registry.List()
	require.Len(t, docs, 2)
	assert.Equal(t, "datacite", docs[0].Name)

	resolved, err := registry.Resolve("timeseries")
	require.NoError(t, err)
	props := resolved["properties"].(map[string]any)
	assert.Contains(t, props["datacite"], "properties")
}

func TestNewSchemaRegistry_MergesPostgresSources(t *testing.T) {
	dir := t.TempDir()
	cfg := localConfig(t, dir)
	cfg.Sources.DatabaseURL = "postgres://example/db"
	override := writeSchema(t, filepath.Join(dir, "override"), "datacite", datacite)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	rows := pgxmock.NewRows([]string{"name", "source_uri", "local_path"}).
		AddRow("datacite", "", override).
		AddRow("survey", "https://example.org/schemas/microdata-schema.json", "")
	mock.ExpectQuery(`SELECT name, COALESCE\(source_uri, ''\), COALESCE\(local_path, ''\) FROM "schema_sources" ORDER BY name`).
		WillReturnRows(rows)
	mock.ExpectClose()

	var gotURL string
	withSourcePool(t, func(_ context.Context, databaseURL string) (SourceStore, error) {
		gotURL = databaseURL
		return mock, nil
	})

	registry, err := NewSchemaRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://example/db", gotURL)

	docs := registry.List()
	require.Len(t, docs, 3)
	byName := map[string]metaeditor.SchemaDocument{}
	for _, d := range docs {
		byName[d.Name] = d
	}
	assert.Equal(t, override, byName["datacite"].LocalPath)
	assert.Equal(t, filepath.Join(dir, "microdata-schema.json"), byName["survey"].LocalPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSchemaRegistry_SourceDatabaseErrors(t *testing.T) {
	t.Run("connect fails", func(t *testing.T) {
		cfg := localConfig(t, t.TempDir())
		cfg.Sources.DatabaseURL = "postgres://example/db"
		withSourcePool(t, func(context.Context, string) (SourceStore, error) {
			return nil, errors.New("connection refused")
		})

		_, err := NewSchemaRegistry(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to schema source database")
	})

	t.Run("query fails", func(t *testing.T) {
		cfg := localConfig(t, t.TempDir())
		cfg.Sources.DatabaseURL = "postgres://example/db"
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectQuery(`SELECT name`).WillReturnError(assert.AnError)
		mock.ExpectClose()
		withSourcePool(t, func(context.Context, string) (SourceStore, error) { return mock, nil })

		_, err = NewSchemaRegistry(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query schema source table")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewSchemaRegistry_S3Sources(t *testing.T) {
	dir := t.TempDir()
	cfg := localConfig(t, dir)
	cfg.Registry.Schemas[0] = metaeditor.SchemaSourceConfig{Name: "datacite", Source: "s3://editor-schemas/datacite-schema.json"}

	stub := &stubFetcher{}
	created := withS3Fetcher(t, stub, nil)

	registry, err := NewSchemaRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, *created)

	res, err := registry.Fetch(context.Background(), "datacite")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, filepath.Join(dir, "datacite-schema.json"), res.Document.LocalPath)

	withS3Fetcher(t, nil, errors.New("no credentials"))
	_, err = NewSchemaRegistry(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create s3 fetcher")
}

// ---------------------------------------------------------------------------
// NewModelGenerator
// ---------------------------------------------------------------------------

func TestNewModelGenerator(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	registry, err := NewSchemaRegistry(context.Background(), cfg)
	require.NoError(t, err)

	gen, err := NewModelGenerator(cfg, registry)
	require.NoError(t, err)
	assert.IsType(t, &internal.GoModelGenerator{}, gen)

	module, err := gen.Generate(context.Background(), "timeseries")
	require.NoError(t, err)
	assert.Equal(t, "Timeseries", module.RootType)
	assert.FileExists(t, module.OutputPath)

	cfg.Generator.Backend = "external"
	cfg.Generator.ExternalCommand = ""
	_, err = NewModelGenerator(cfg, registry)
	require.Error(t, err)

	cfg.Generator.ExternalCommand = "datamodel-codegen"
	gen, err = NewModelGenerator(cfg, registry)
	require.NoError(t, err)
	assert.IsType(t, &internal.ExternalModelGenerator{}, gen)

	cfg.Generator.Backend = "python"
	_, err = NewModelGenerator(cfg, registry)
	var cfgErr *metaeditor.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = NewModelGenerator(cfg, nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// NewEditorClient
// ---------------------------------------------------------------------------

func TestNewEditorClient(t *testing.T) {
	cfg := metaeditor.DefaultConfig()
	cfg.Editor.APIKey = "key"

	client, err := NewEditorClient(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.Editor.BaseURL = "http://metadataeditorqa.worldbank.org/index.php/api"
	client, err = NewEditorClient(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, metaeditor.HasCode(err, metaeditor.ErrCodeInvalidBaseURL))

	_, err = ConnectEditorClient(context.Background(), cfg, nil)
	assert.True(t, metaeditor.HasCode(err, metaeditor.ErrCodeInvalidBaseURL))
}

// ---------------------------------------------------------------------------
// Watcher and inventory
// ---------------------------------------------------------------------------

func TestNewRegenerateWatcher(t *testing.T) {
	dir := t.TempDir()
	cfg := localConfig(t, dir)
	registry, err := NewSchemaRegistry(context.Background(), cfg)
	require.NoError(t, err)
	gen, err := NewModelGenerator(cfg, registry)
	require.NoError(t, err)

	type result struct {
		name string
		err  error
	}
	results := make(chan result, 10)
	w := NewRegenerateWatcher(registry, gen, 50*time.Millisecond, func(name string, _ *metaeditor.ModelModule, err error) {
		results <- result{name, err}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	writeSchema(t, dir, "datacite", `{"type": "object", "properties": {"doi": {"type": "string"}, "title": {"type": "string"}}}`)

	select {
	case r := <-results:
		assert.Equal(t, "datacite", r.name)
		require.NoError(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("no regeneration reported")
	}
	assert.FileExists(t, filepath.Join(cfg.Generator.OutputDir, "datacite.go"))
}

func TestOpenInventoryStore(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	store, err := OpenInventoryStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestOpenSourceStore(t *testing.T) {
	cfg := metaeditor.DefaultConfig()
	_, err := OpenSourceStore(context.Background(), cfg)
	var cfgErr *metaeditor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "sources.database_url", cfgErr.Field)

	cfg.Sources.DatabaseURL = "postgres://example/db"
	cfg.Sources.Table = ""
	_, err = OpenSourceStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.table")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	withSourcePool(t, func(context.Context, string) (SourceStore, error) { return mock, nil })
	cfg.Sources.Table = "schema_sources"
	store, err := OpenSourceStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, mock, store)
}

func TestNewSchemaRegistry_S3CredentialsMustPair(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	cfg.Registry.Schemas[0] = metaeditor.SchemaSourceConfig{Name: "datacite", Source: "s3://editor-schemas/datacite-schema.json"}
	cfg.S3.AccessKey = "minio"
	created := withS3Fetcher(t, &stubFetcher{}, nil)

	_, err := NewSchemaRegistry(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.secret_key")
	assert.Zero(t, *created)
}
