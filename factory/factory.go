package factory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/internal"
	"go.uber.org/zap"
)

// sourcePoolOpener is replaced in tests.
var sourcePoolOpener = func(ctx context.Context, databaseURL string) (SourceStore, error) {
	return pgxpool.New(ctx, databaseURL)
}

// s3FetcherFactory is replaced in tests.
var s3FetcherFactory = func(ctx context.Context, cfg metaeditor.S3Config) (internal.SchemaFetcher, error) {
	return internal.NewS3SchemaFetcher(ctx, cfg)
}

// NewSchemaRegistry builds the registry described by config.
//
// Schema sources come from config.Registry and, when config.Sources.DatabaseURL
// is set, from a Postgres table; table entries replace configured entries of
// the same name. An s3 fetcher is only created when some source uses s3://.
//
// Usage:
//
//	cfg := metaeditor.DefaultConfig()
//	registry, err := factory.NewSchemaRegistry(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	results, err := registry.FetchAll(ctx)
func NewSchemaRegistry(ctx context.Context, config *metaeditor.Config) (metaeditor.SchemaRegistry, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	docs := config.SchemaSources()
	if config.Sources.DatabaseURL != "" {
		fromTable, err := loadTableSources(ctx, config)
		if err != nil {
			return nil, err
		}
		docs = mergeSources(docs, fromTable)
	}

	fetchers := internal.FetcherSet{
		"http":  internal.NewHTTPSchemaFetcher(config.Fetch.Timeout, config.Fetch.UserAgent),
		"https": internal.NewHTTPSchemaFetcher(config.Fetch.Timeout, config.Fetch.UserAgent),
		"file":  internal.FileSchemaFetcher{},
	}
	if usesScheme(docs, "s3") {
		if err := internal.ValidateS3Config(config.S3); err != nil {
			return nil, err
		}
		s3Fetcher, err := s3FetcherFactory(ctx, config.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 fetcher: %w", err)
		}
		fetchers["s3"] = s3Fetcher
	}

	registry, err := internal.NewFileSchemaRegistry(docs, fetchers, internal.RegistryOptions{
		FollowRefs: config.Fetch.FollowRefs,
		Validation: ValidationOptions(config),
	})
	if err != nil {
		return nil, err
	}
	zap.S().Debugw("schema registry ready", "schemas", len(docs), "schemes", len(fetchers))
	return registry, nil
}

func loadTableSources(ctx context.Context, config *metaeditor.Config) ([]metaeditor.SchemaDocument, error) {
	pool, err := OpenSourceStore(ctx, config)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return internal.LoadSchemaSourcesFromPostgres(queryCtx, pool, config.Sources.Table, config.Registry.SchemaDir)
}

// SourceStore is a connection to the schema source table. Close releases it.
type SourceStore interface {
	internal.SourceStore
	Close()
}

// OpenSourceStore connects to config.Sources.DatabaseURL.
func OpenSourceStore(ctx context.Context, config *metaeditor.Config) (SourceStore, error) {
	if config.Sources.DatabaseURL == "" {
		return nil, &metaeditor.ConfigError{Field: "sources.database_url", Message: "must be set to use the schema source table"}
	}
	if err := internal.ValidateSourcesConfig(config.Sources); err != nil {
		return nil, err
	}
	pool, err := sourcePoolOpener(ctx, config.Sources.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to schema source database: %w", err)
	}
	return pool, nil
}

func mergeSources(base, overrides []metaeditor.SchemaDocument) []metaeditor.SchemaDocument {
	index := make(map[string]int, len(base))
	merged := append([]metaeditor.SchemaDocument(nil), base...)
	for i, d := range merged {
		index[d.Name] = i
	}
	for _, d := range overrides {
		if i, ok := index[d.Name]; ok {
			merged[i] = d
			continue
		}
		index[d.Name] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

func usesScheme(docs []metaeditor.SchemaDocument, scheme string) bool {
	for _, d := range docs {
		if u, err := url.Parse(d.SourceURI); err == nil && strings.EqualFold(u.Scheme, scheme) {
			return true
		}
	}
	return false
}

// ValidationOptions converts the validation section of config.
func ValidationOptions(config *metaeditor.Config) metaeditor.ValidationOptions {
	return metaeditor.ValidationOptions{
		EnforceFormats: config.Validation.EnforceFormats,
		InferURIFields: config.Validation.InferURIFields,
	}
}

// NewModelGenerator returns the generator selected by config.Generator.Backend.
func NewModelGenerator(config *metaeditor.Config, registry metaeditor.SchemaRegistry) (metaeditor.ModelGenerator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	switch config.Generator.Backend {
	case "", "builtin":
		return internal.NewGoModelGenerator(registry, config.Generator, ValidationOptions(config)), nil
	case "external":
		gen, err := internal.NewExternalModelGenerator(registry, config.Generator)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, &metaeditor.ConfigError{Field: "generator.backend", Message: "must be 'builtin' or 'external'"}
	}
}

// NewEditorClient builds an API client. registry may be nil when UpdateProject is not used.
func NewEditorClient(config *metaeditor.Config, registry metaeditor.SchemaRegistry) (metaeditor.EditorClient, error) {
	client, err := internal.NewEditorClient(config.Editor, registry, nil)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ConnectEditorClient builds a client and pings the API once.
func ConnectEditorClient(ctx context.Context, config *metaeditor.Config, registry metaeditor.SchemaRegistry) (metaeditor.EditorClient, error) {
	client, err := NewEditorClient(config, registry)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Watcher runs until its context is cancelled.
type Watcher interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

// NewRegenerateWatcher regenerates models whenever a registered schema file changes.
// report is called after each generation attempt and may be nil.
func NewRegenerateWatcher(registry metaeditor.SchemaRegistry, generator metaeditor.ModelGenerator, debounce time.Duration, report func(name string, module *metaeditor.ModelModule, err error)) Watcher {
	return internal.NewSchemaWatcher(registry, debounce, func(ctx context.Context, names []string) error {
		var failed []string
		for _, name := range names {
			module, err := generator.Generate(ctx, name)
			if report != nil {
				report(name, module, err)
			}
			if err != nil {
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("regeneration failed for %s", strings.Join(failed, ", "))
		}
		return nil
	})
}

// OpenInventoryStore opens the DuckDB field inventory configured in config.Inventory.
func OpenInventoryStore(ctx context.Context, config *metaeditor.Config) (*internal.InventoryStore, error) {
	return internal.OpenInventoryStore(ctx, config.Inventory)
}
