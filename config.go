package metaeditor

import (
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultSchemaBaseURL is where the editor publishes its JSON Schema documents.
const DefaultSchemaBaseURL = "https://metadataeditorqa.worldbank.org/api-documentation/editor/schemas/"

// DefaultEditorURL is the editor API root.
const DefaultEditorURL = "https://metadataeditorqa.worldbank.org/index.php/api"

// Config consolidates settings for every component
type Config struct {
	Registry   RegistryConfig   `json:"registry" mapstructure:"registry"`
	Fetch      FetchConfig      `json:"fetch" mapstructure:"fetch"`
	S3         S3Config         `json:"s3" mapstructure:"s3"`
	Sources    SourcesConfig    `json:"sources" mapstructure:"sources"`
	Generator  GeneratorConfig  `json:"generator" mapstructure:"generator"`
	Validation ValidationConfig `json:"validation" mapstructure:"validation"`
	Editor     EditorConfig     `json:"editor" mapstructure:"editor"`
	Inventory  InventoryConfig  `json:"inventory" mapstructure:"inventory"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// RegistryConfig lists the schema documents known to the registry.
type RegistryConfig struct {
	SchemaDir string               `json:"schema_dir" mapstructure:"schema_dir"`
	Schemas   []SchemaSourceConfig `json:"schemas" mapstructure:"schemas"`
}

// SchemaSourceConfig maps a schema name to its source URI and local file.
// An empty Path defaults to SchemaDir joined with the last element of Source.
type SchemaSourceConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	Source string `json:"source" mapstructure:"source"`
	Path   string `json:"path" mapstructure:"path"`
}

// FetchConfig controls retrieval of remote schema documents.
type FetchConfig struct {
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent string        `json:"user_agent" mapstructure:"user_agent"`
	// FollowRefs fetches $ref targets that are missing locally.
	FollowRefs bool `json:"follow_refs" mapstructure:"follow_refs"`
}

// S3Config configures s3:// schema sources.
type S3Config struct {
	Region       string `json:"region" mapstructure:"region"`
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey    string `json:"access_key" mapstructure:"access_key"`
	SecretKey    string `json:"secret_key" mapstructure:"secret_key"`
	UsePathStyle bool   `json:"use_path_style" mapstructure:"use_path_style"`
}

// SourcesConfig optionally reads registry entries from a Postgres table.
type SourcesConfig struct {
	DatabaseURL string `json:"database_url" mapstructure:"database_url"`
	Table       string `json:"table" mapstructure:"table"`
}

// GeneratorConfig mirrors the model generator command line.
type GeneratorConfig struct {
	Backend              string `json:"backend" mapstructure:"backend"` // "builtin" or "external"
	OutputDir            string `json:"output_dir" mapstructure:"output_dir"`
	Package              string `json:"package" mapstructure:"package"`
	InputFileType        string `json:"input_file_type" mapstructure:"input_file_type"`
	ReuseModels          bool   `json:"reuse_models" mapstructure:"reuse_models"`
	UseSchemaDescription bool   `json:"use_schema_description" mapstructure:"use_schema_description"`
	TargetVersion        string `json:"target_version" mapstructure:"target_version"`
	UseDoubleQuotes      bool   `json:"use_double_quotes" mapstructure:"use_double_quotes"`
	BaseImport           string `json:"base_import" mapstructure:"base_import"`
	BaseClass            string `json:"base_class" mapstructure:"base_class"`
	OutputModelType      string `json:"output_model_type" mapstructure:"output_model_type"`
	ExternalCommand      string `json:"external_command" mapstructure:"external_command"`
	// ExternalOutputExt is the extension of files written by the external backend.
	ExternalOutputExt string `json:"external_output_ext" mapstructure:"external_output_ext"`
}

// ValidationConfig controls record construction checks.
type ValidationConfig struct {
	EnforceFormats bool `json:"enforce_formats" mapstructure:"enforce_formats"`
	InferURIFields bool `json:"infer_uri_fields" mapstructure:"infer_uri_fields"`
}

// EditorConfig configures the Metadata Editor API client.
type EditorConfig struct {
	BaseURL   string        `json:"base_url" mapstructure:"base_url"`
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	RateLimit float64       `json:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst     int           `json:"burst" mapstructure:"burst"`
	UserAgent string        `json:"user_agent" mapstructure:"user_agent"`
}

// InventoryConfig configures the DuckDB field inventory export.
type InventoryConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
	Table  string `json:"table" mapstructure:"table"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `json:"level" mapstructure:"level"`
	Development bool   `json:"development" mapstructure:"development"`
}

// DefaultSchemaFiles lists the documents published by the editor.
var DefaultSchemaFiles = map[string]string{
	"timeseries":     "timeseries-schema.json",
	"datacite":       "datacite-schema.json",
	"provenance":     "provenance-schema.json",
	"survey":         "microdata-schema.json",
	"ddi":            "ddi-schema.json",
	"datafile":       "datafile-schema.json",
	"variable":       "variable-schema.json",
	"variable-group": "variable-group-schema.json",
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	schemas := make([]SchemaSourceConfig, 0, len(DefaultSchemaFiles))
	for _, name := range sortedKeys(DefaultSchemaFiles) {
		schemas = append(schemas, SchemaSourceConfig{
			Name:   name,
			Source: DefaultSchemaBaseURL + DefaultSchemaFiles[name],
		})
	}
	return &Config{
		Registry: RegistryConfig{
			SchemaDir: "schemas",
			Schemas:   schemas,
		},
		Fetch: FetchConfig{
			Timeout:    30 * time.Second,
			UserAgent:  "metaeditor",
			FollowRefs: true,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Sources: SourcesConfig{
			Table: "schema_sources",
		},
		Generator: GeneratorConfig{
			Backend:              "builtin",
			OutputDir:            "models",
			Package:              "models",
			InputFileType:        "jsonschema",
			ReuseModels:          true,
			UseSchemaDescription: true,
			TargetVersion:        "1.22",
			UseDoubleQuotes:      true,
			BaseImport:           "github.com/lychee-technology/metaeditor",
			BaseClass:            "metaeditor.ValidateModel",
			OutputModelType:      "go-struct",
			ExternalOutputExt:    ".py",
		},
		Validation: ValidationConfig{
			EnforceFormats: true,
			InferURIFields: false,
		},
		Editor: EditorConfig{
			BaseURL:   DefaultEditorURL,
			Timeout:   30 * time.Second,
			RateLimit: 2,
			Burst:     1,
			UserAgent: "metaeditor",
		},
		Inventory: InventoryConfig{
			DBPath: "schema_inventory.duckdb",
			Table:  "schema_fields",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Registry.SchemaDir == "" {
		return &ConfigError{Field: "registry.schema_dir", Message: "must not be empty"}
	}
	seen := make(map[string]bool, len(c.Registry.Schemas))
	for i, s := range c.Registry.Schemas {
		if s.Name == "" {
			return &ConfigError{Field: "registry.schemas[" + strconv.Itoa(i) + "].name", Message: "must not be empty"}
		}
		if seen[s.Name] {
			return &ConfigError{Field: "registry.schemas[" + strconv.Itoa(i) + "].name", Message: "duplicate schema name '" + s.Name + "'"}
		}
		seen[s.Name] = true
		if s.Source == "" && s.Path == "" {
			return &ConfigError{Field: "registry.schemas[" + strconv.Itoa(i) + "]", Message: "source or path is required"}
		}
	}

	if c.Fetch.Timeout <= 0 {
		return &ConfigError{Field: "fetch.timeout", Message: "must be greater than 0"}
	}

	switch c.Generator.Backend {
	case "builtin":
	case "external":
		if c.Generator.ExternalCommand == "" {
			return &ConfigError{Field: "generator.external_command", Message: "required when backend is 'external'"}
		}
	default:
		return &ConfigError{Field: "generator.backend", Message: "must be 'builtin' or 'external'"}
	}
	if c.Generator.OutputDir == "" {
		return &ConfigError{Field: "generator.output_dir", Message: "must not be empty"}
	}
	if c.Generator.Package == "" {
		return &ConfigError{Field: "generator.package", Message: "must not be empty"}
	}
	switch c.Generator.InputFileType {
	case "jsonschema", "json", "yaml":
	default:
		return &ConfigError{Field: "generator.input_file_type", Message: "must be one of jsonschema, json, yaml"}
	}

	if c.Editor.BaseURL != "" {
		u, err := url.Parse(c.Editor.BaseURL)
		if err != nil || u.Scheme != "https" {
			return &ConfigError{Field: "editor.base_url", Message: "URL scheme should be 'https'"}
		}
	}
	if c.Editor.RateLimit < 0 {
		return &ConfigError{Field: "editor.rate_limit", Message: "must be >= 0"}
	}
	if c.Editor.Burst < 1 {
		return &ConfigError{Field: "editor.burst", Message: "must be >= 1"}
	}
	return nil
}

// SchemaSources converts the registry section into SchemaDocuments, filling in
// local paths that were left empty.
func (c *Config) SchemaSources() []SchemaDocument {
	docs := make([]SchemaDocument, 0, len(c.Registry.Schemas))
	for _, s := range c.Registry.Schemas {
		docs = append(docs, SchemaDocument{
			Name:      s.Name,
			SourceURI: s.Source,
			LocalPath: DefaultLocalPath(c.Registry.SchemaDir, s.Source, s.Path),
		})
	}
	return docs
}

// DefaultLocalPath returns localPath when set, otherwise the last element of
// source placed under dir.
func DefaultLocalPath(dir, source, localPath string) string {
	if localPath != "" {
		return localPath
	}
	base := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		base = u.Path
	}
	return filepath.Join(dir, path.Base(base))
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
