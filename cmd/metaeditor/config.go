package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lychee-technology/metaeditor"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "METAEDITOR"

// loadConfig reads metaeditor.yaml from the working directory, or path when
// set, and applies METAEDITOR_* environment overrides on top of the defaults.
// A missing default file is not an error; a missing explicit path is.
func loadConfig(path string) (*metaeditor.Config, error) {
	v := viper.New()
	setDefaults(v, metaeditor.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("metaeditor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &metaeditor.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply to it.
func setDefaults(v *viper.Viper, d *metaeditor.Config) {
	schemas := make([]map[string]any, 0, len(d.Registry.Schemas))
	for _, s := range d.Registry.Schemas {
		schemas = append(schemas, map[string]any{"name": s.Name, "source": s.Source, "path": s.Path})
	}
	v.SetDefault("registry.schema_dir", d.Registry.SchemaDir)
	v.SetDefault("registry.schemas", schemas)

	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.user_agent", d.Fetch.UserAgent)
	v.SetDefault("fetch.follow_refs", d.Fetch.FollowRefs)

	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.access_key", d.S3.AccessKey)
	v.SetDefault("s3.secret_key", d.S3.SecretKey)
	v.SetDefault("s3.use_path_style", d.S3.UsePathStyle)

	v.SetDefault("sources.database_url", d.Sources.DatabaseURL)
	v.SetDefault("sources.table", d.Sources.Table)

	v.SetDefault("generator.backend", d.Generator.Backend)
	v.SetDefault("generator.output_dir", d.Generator.OutputDir)
	v.SetDefault("generator.package", d.Generator.Package)
	v.SetDefault("generator.input_file_type", d.Generator.InputFileType)
	v.SetDefault("generator.reuse_models", d.Generator.ReuseModels)
	v.SetDefault("generator.use_schema_description", d.Generator.UseSchemaDescription)
	v.SetDefault("generator.target_version", d.Generator.TargetVersion)
	v.SetDefault("generator.use_double_quotes", d.Generator.UseDoubleQuotes)
	v.SetDefault("generator.base_import", d.Generator.BaseImport)
	v.SetDefault("generator.base_class", d.Generator.BaseClass)
	v.SetDefault("generator.output_model_type", d.Generator.OutputModelType)
	v.SetDefault("generator.external_command", d.Generator.ExternalCommand)
	v.SetDefault("generator.external_output_ext", d.Generator.ExternalOutputExt)

	v.SetDefault("validation.enforce_formats", d.Validation.EnforceFormats)
	v.SetDefault("validation.infer_uri_fields", d.Validation.InferURIFields)

	v.SetDefault("editor.base_url", d.Editor.BaseURL)
	v.SetDefault("editor.api_key", d.Editor.APIKey)
	v.SetDefault("editor.timeout", d.Editor.Timeout)
	v.SetDefault("editor.rate_limit", d.Editor.RateLimit)
	v.SetDefault("editor.burst", d.Editor.Burst)
	v.SetDefault("editor.user_agent", d.Editor.UserAgent)

	v.SetDefault("inventory.db_path", d.Inventory.DBPath)
	v.SetDefault("inventory.table", d.Inventory.Table)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
}

// newLogger builds the process logger. verbose forces a development logger at debug level.
func newLogger(cfg metaeditor.LoggingConfig, verbose bool) (*zap.Logger, error) {
	if verbose || cfg.Development {
		zc := zap.NewDevelopmentConfig()
		if !verbose && cfg.Level != "" {
			level, err := zap.ParseAtomicLevel(cfg.Level)
			if err != nil {
				return nil, &metaeditor.ConfigError{Field: "logging.level", Message: err.Error()}
			}
			zc.Level = level
		}
		return zc.Build()
	}

	zc := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, &metaeditor.ConfigError{Field: "logging.level", Message: err.Error()}
		}
		zc.Level = level
	}
	return zc.Build()
}
