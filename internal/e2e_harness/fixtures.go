package e2e_harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5"
)

// Credentials of the object store started by StartS3.
const (
	S3AccessKey = "minio"
	S3SecretKey = "minio"
)

// SchemaBucket holds the uploaded fixture schemas.
const SchemaBucket = "editor-schemas"

// Fixture schemas keyed by object key. The timeseries document references the
// datacite document by a relative path, so both must share a prefix.
var FixtureSchemas = map[string]string{
	"timeseries-schema.json": `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "Timeseries",
	"type": "object",
	"required": ["idno", "series_description"],
	"properties": {
		"idno": {"type": "string"},
		"series_description": {"$ref": "#/definitions/series_description"},
		"datacite": {"$ref": "datacite-schema.json"}
	},
	"definitions": {
		"series_description": {
			"type": "object",
			"required": ["idno", "name"],
			"properties": {
				"idno": {"type": "string"},
				"name": {"type": "string"},
				"source_url": {"type": "string"}
			}
		}
	}
}`,
	"datacite-schema.json": `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "DataCite",
	"type": "object",
	"properties": {
		"doi": {"type": "string"},
		"creators": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"nameType": {"type": "string", "enum": ["Personal", "Organizational"]}
				}
			}
		}
	}
}`,
}

// FixtureSources maps each fixture schema name to its s3:// source in bucket.
func FixtureSources(bucket string) map[string]string {
	sources := make(map[string]string, len(FixtureSchemas))
	for key := range FixtureSchemas {
		sources[strings.TrimSuffix(key, "-schema.json")] = fmt.Sprintf("s3://%s/%s", bucket, key)
	}
	return sources
}

// SeedSchemaSources writes the fixture sources into table through database/sql,
// independently of the pgx code under test, and returns the row count.
func (h *TestHarness) SeedSchemaSources(ctx context.Context, table, bucket string) (int, error) {
	if h.PGDB == nil {
		return 0, errors.New("postgres not started")
	}
	ident := pgx.Identifier{table}.Sanitize()
	if _, err := h.PGDB.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  name TEXT PRIMARY KEY,
  source_uri TEXT,
  local_path TEXT,
  registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ident)); err != nil {
		return 0, fmt.Errorf("create %s: %w", table, err)
	}
	for name, uri := range FixtureSources(bucket) {
		if _, err := h.PGDB.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (name, source_uri) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET source_uri = EXCLUDED.source_uri`, ident), name, uri); err != nil {
			return 0, fmt.Errorf("seed schema source %s: %w", name, err)
		}
	}
	var n int
	if err := h.PGDB.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", ident)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func newS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(S3AccessKey, S3SecretKey, "")),
		config.WithBaseEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true }), nil
}

// UploadSchemas puts every fixture schema into bucket, creating it if needed.
func (h *TestHarness) UploadSchemas(ctx context.Context, bucket string) error {
	if h.S3Client == nil {
		return errors.New("s3 not started")
	}
	if _, err := h.S3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		var apiErr smithy.APIError
		if !errors.As(err, &apiErr) ||
			(apiErr.ErrorCode() != "BucketAlreadyOwnedByYou" && apiErr.ErrorCode() != "BucketAlreadyExists") {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	uploader := manager.NewUploader(h.S3Client)
	for key, body := range FixtureSchemas {
		if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader([]byte(body)),
			ContentType: aws.String("application/schema+json"),
		}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
